package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/helpers"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/jwt"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/position"
	"github.com/imroc/req/v3"
	"go.uber.org/zap"
)

var ErrApiDisabled = errors.New("api upload is disabled")

// RestAPI uploads positions to the collector, it implements position.Sink
type RestAPI struct {
	client *req.Client

	jwt *jwt.JwtHandler

	cm       *config.ApiConfigManager
	recorder string
}

func NewRestAPI(conf *config.Manager, debug bool) (*RestAPI, error) {
	a := RestAPI{}
	a.cm = conf.Api()
	a.recorder = conf.Recorder().C().Name

	apiConf := a.cm.C()
	if apiConf.Disabled {
		return nil, ErrApiDisabled
	}

	a.client = req.C()
	if debug {
		a.client.EnableDebugLog()
	}

	a.client.SetBaseURL(apiConf.Url)

	if len(apiConf.RootCertificate) > 0 {
		a.client.SetRootCertsFromFile(apiConf.RootCertificate)
	}

	if apiConf.Auth.Bearer != nil {
		// the access token may be stale, the refresh token has to be usable
		if err := jwt.Validate(apiConf.Auth.Bearer.Refresh); err != nil {
			log.Error("refresh token validation failed", zap.NamedError("reason", err))
			return nil, errors.New("trying to use bearer authentication with invalid refresh token")
		}

		log.Info("using bearer authorization")

		var err error
		a.jwt, err = jwt.NewJWTHandler(a.cm, a.client)
		if err != nil {
			return nil, err
		}
	} else if apiConf.Auth.Basic != nil {
		log.Info("using basic auth mechanism", zap.String("username", apiConf.Auth.Basic.Username))
		a.client.SetCommonBasicAuth(apiConf.Auth.Basic.Username, apiConf.Auth.Basic.Password)
	} else {
		log.Warn("no api authentication scheme specified")
	}

	if apiConf.AllowInsecure {
		a.client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
		log.Warn("!WARNING WARNING WARNING! DISABLED TLS CERTIFICATE VERIFICATION! !WARNING WARNING WARNING!")
	}

	a.client.SetTimeout(RequestTimeout)
	a.client.SetCommonRetryCount(MaxRetries)
	a.client.SetCommonRetryBackoffInterval(RequestRetryMinWaitTime, RequestRetryMaxWaitTime)

	return &a, nil
}

func (a *RestAPI) GetBaseURL() string {
	return a.client.BaseURL
}

// GetClient Use this for tests to set the transport to mock
func (a *RestAPI) GetClient() *req.Client {
	return a.client
}

func (a *RestAPI) positionPath() string {
	endpoint := a.cm.C().Endpoint
	if endpoint == "" {
		endpoint = config.DefaultPositionEndpoint
	}
	return endpoint + "/" + url.PathEscape(a.recorder)
}

// PostPosition uploads one emitted record
func (a *RestAPI) PostPosition(ctx context.Context, r position.Record) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(NewPositionUpload(a.recorder, r)).
		Post(a.positionPath())

	return helpers.ErrorFromResponse(err, resp)
}

func (a *RestAPI) Store(ctx context.Context, r position.Record) error {
	return a.PostPosition(ctx, r)
}
