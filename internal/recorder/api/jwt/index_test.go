package jwt

import (
	"net/http"
	"testing"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/jwt/misc"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func token(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	s, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestValidate(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, validateAt("", now), misc.ErrTokenMissing)
	assert.Error(t, validateAt("garbage", now))

	valid := token(t, gojwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	assert.NoError(t, validateAt(valid, now))

	expired := token(t, gojwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})
	assert.ErrorIs(t, validateAt(expired, now), gojwt.ErrTokenExpired)

	// expiring within the offset counts as expired
	almost := token(t, gojwt.MapClaims{"exp": now.Add(misc.ExpiryOffset / 2).Unix()})
	assert.ErrorIs(t, validateAt(almost, now), gojwt.ErrTokenExpired)

	early := token(t, gojwt.MapClaims{
		"nbf": now.Add(time.Hour).Unix(),
		"exp": now.Add(2 * time.Hour).Unix(),
	})
	assert.ErrorIs(t, validateAt(early, now), gojwt.ErrTokenNotValidYet)

	noExp := token(t, gojwt.MapClaims{"sub": "recorder"})
	assert.ErrorIs(t, validateAt(noExp, now), gojwt.ErrTokenRequiredClaimMissing)
}

func TestPopulateTokenPair(t *testing.T) {
	var tokens misc.TokenPair
	PopulateTokenPairFromBody(&tokens, []byte(`{"refresh_token":"r","access_token":"a"}`))
	assert.Equal(t, misc.TokenPair{Refresh: "r", Access: "a"}, tokens)

	// invalid json leaves the pair alone
	PopulateTokenPairFromBody(&tokens, []byte(`{`))
	assert.Equal(t, misc.TokenPair{Refresh: "r", Access: "a"}, tokens)

	tokens = misc.TokenPair{}
	PopulateTokenPairFromCookies(&tokens, "acc", "ref", []*http.Cookie{
		{Name: "session", Value: "x"},
		{Name: "ref", Value: "r2"},
		{Name: "acc", Value: "a2"},
	})
	assert.Equal(t, misc.TokenPair{Refresh: "r2", Access: "a2"}, tokens)
}
