package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/helpers"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/position"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://collector.example"

func signedToken(t *testing.T, subject string, exp time.Duration) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(exp)),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func loadConfig(t *testing.T, content string) (*config.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	m := config.NewManager()
	require.NoError(t, m.Load(path, false))
	return m, path
}

func setupAPI(t *testing.T, content string) *RestAPI {
	t.Helper()
	log.Init(true)

	conf, _ := loadConfig(t, content)
	a, err := NewRestAPI(conf, false)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(a.GetClient().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return a
}

var testRecord = position.Record{
	ID:               "0b6a4b1e-2d1c-4cc6-9d53-0d9c1f0a1b2c",
	Latitude:         -8.731599,
	Longitude:        115.170737,
	HDOP:             0.87,
	Speed:            12.5,
	SpeedUnit:        position.MilesPerHour,
	Bearing:          271.3,
	FixAcquired:      true,
	SatellitesInView: 9,
	DeviceTime:       time.Date(2018, 10, 13, 9, 36, 52, 0, time.UTC),
	Timestamp:        time.Date(2018, 10, 13, 9, 36, 53, 0, time.UTC),
}

func TestPostPositionBasicAuth(t *testing.T) {
	a := setupAPI(t, `
[recorder]
name = "van-7"
[api]
disabled = false
url = "`+baseURL+`"
[api.auth.basic]
username = "recorder"
password = "secret"
`)

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/positions/van-7",
		func(r *http.Request) (*http.Response, error) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "recorder", user)
			assert.Equal(t, "secret", pass)

			var body PositionUpload
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, testRecord.ID, body.ID)
			assert.Equal(t, "van-7", body.Recorder)
			assert.InDelta(t, testRecord.Latitude, body.Latitude, 1e-9)
			assert.Equal(t, "mph", body.SpeedUnit)
			if assert.NotNil(t, body.DeviceTime) {
				assert.Equal(t, testRecord.DeviceTime.Unix(), *body.DeviceTime)
			}

			return httpmock.NewStringResponse(http.StatusCreated, ""), nil
		})

	require.NoError(t, a.Store(context.Background(), testRecord))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPostPositionServerError(t *testing.T) {
	a := setupAPI(t, `
[api]
disabled = false
url = "`+baseURL+`"
endpoint = "v2/gps"
`)

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/v2/gps/gps",
		httpmock.NewStringResponder(http.StatusInternalServerError, "db down"))

	err := a.PostPosition(context.Background(), testRecord)
	require.Error(t, err)
	assert.ErrorIs(t, err, &helpers.ResponseError{Code: http.StatusInternalServerError})

	var respErr *helpers.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "db down", string(respErr.Body))
}

func TestApiDisabled(t *testing.T) {
	log.Init(true)

	conf, _ := loadConfig(t, "")
	_, err := NewRestAPI(conf, false)
	assert.ErrorIs(t, err, ErrApiDisabled)
}

func TestInvalidRefreshToken(t *testing.T) {
	log.Init(true)

	conf, _ := loadConfig(t, `
[api]
disabled = false
url = "`+baseURL+`"
[api.auth.bearer]
refresh_token = "not-a-jwt"
`)
	_, err := NewRestAPI(conf, false)
	assert.Error(t, err)
}

func TestBearerRefresh(t *testing.T) {
	log.Init(true)

	refresh := signedToken(t, "refresh", time.Hour)
	newRefresh := signedToken(t, "refresh-2", 2*time.Hour)
	newAccess := signedToken(t, "access-2", time.Hour)

	conf, path := loadConfig(t, `
[api]
disabled = false
url = "`+baseURL+`"
[api.auth.bearer]
refresh_token = "`+refresh+`"
`)

	a, err := NewRestAPI(conf, false)
	require.NoError(t, err)
	httpmock.ActivateNonDefault(a.GetClient().GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/login/refresh",
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer "+refresh, r.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{
				"refresh_token": newRefresh,
				"access_token":  newAccess,
			})
		})

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/positions/gps",
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer "+newAccess, r.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	require.NoError(t, a.Store(context.Background(), testRecord))

	// the access token is still valid, no second refresh
	require.NoError(t, a.Store(context.Background(), testRecord))
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+baseURL+"/login/refresh"])
	assert.Equal(t, 2, info["POST "+baseURL+"/positions/gps"])

	// the rotated pair was written back
	reloaded := config.NewManager()
	require.NoError(t, reloaded.Load(path, false))
	bearer := reloaded.Api().C().Auth.Bearer
	require.NotNil(t, bearer)
	assert.Equal(t, newRefresh, bearer.Refresh)
	assert.Equal(t, newAccess, bearer.Access)
}

func TestBearerRefreshRejected(t *testing.T) {
	log.Init(true)

	conf, _ := loadConfig(t, `
[api]
disabled = false
url = "`+baseURL+`"
[api.auth.bearer]
refresh_token = "`+signedToken(t, "refresh", time.Hour)+`"
`)

	a, err := NewRestAPI(conf, false)
	require.NoError(t, err)
	httpmock.ActivateNonDefault(a.GetClient().GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/login/refresh",
		httpmock.NewStringResponder(http.StatusUnauthorized, ""))

	err = a.Store(context.Background(), testRecord)
	require.Error(t, err)
	assert.Zero(t, httpmock.GetCallCountInfo()["POST "+baseURL+"/positions/gps"])
}
