package jwt

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/helpers"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/jwt/misc"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/imroc/req/v3"
	"go.uber.org/zap"
)

type JwtHandler struct {
	mu    sync.Mutex
	cv    *sync.Cond
	c     *req.Client
	apiCM *config.ApiConfigManager

	// copy of the bearer settings, tokens are updated in place
	conf       config.AuthBearerSettings
	refreshing bool
}

func NewJWTHandler(cm *config.ApiConfigManager, c *req.Client) (*JwtHandler, error) {
	bearer := cm.C().Auth.Bearer
	if bearer == nil {
		return nil, misc.ErrInvalidJWTSettings
	}

	j := JwtHandler{
		c:     c,
		apiCM: cm,
		conf:  *bearer,
	}

	if j.conf.RefreshEndpoint == "" {
		j.conf.RefreshEndpoint = misc.DefaultRefreshEndpoint
	}

	// body only unless configured otherwise
	if j.conf.Sources == nil {
		j.conf.Sources = &[]config.BearerTokenSource{config.BearerSourceBody}
	}

	if j.conf.Scheme == "" {
		j.conf.Scheme = misc.DefaultSchemeName
	}

	if j.conf.CookieSettings.AccessTokenName == "" {
		j.conf.CookieSettings.AccessTokenName = misc.DefaultAuthTokenCookieName
	}
	if j.conf.CookieSettings.RefreshTokenName == "" {
		j.conf.CookieSettings.RefreshTokenName = misc.DefaultRefreshTokenCookieName
	}

	j.cv = sync.NewCond(&j.mu)
	j.init()

	return &j, nil
}

func (j *JwtHandler) init() {
	j.c.OnBeforeRequest(func(_ *req.Client, request *req.Request) error {
		// the refresh request itself must not trigger another refresh
		skipHook, ok := request.Context().Value(helpers.ReqCtxSkipOnBeforeHook).(bool)
		if ok && skipHook {
			return nil
		}

		return j.DoBearerRefreshIfNeeded(request)
	})

	// A 401 means the server rejected a token we considered valid
	j.c.AddCommonRetryCondition(func(resp *req.Response, err error) bool {
		return err != nil || (resp != nil && resp.StatusCode == http.StatusUnauthorized)
	})
	j.c.SetCommonRetryHook(func(resp *req.Response, err error) {
		if err != nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
			return
		}

		j.mu.Lock()
		j.conf.Access = ""
		j.mu.Unlock()

		if err := j.DoBearerRefreshIfNeeded(resp.Request); err != nil {
			log.Warn("bearer refresh after 401 failed", zap.Error(err))
		}
	})

	if !j.conf.CookieSourceEnabled() {
		log.Debug("disabling cookie support")
		j.c.SetCookieJar(nil)
	}

	j.c.SetCommonHeader(j.authHeader(j.conf.Access))
}

func (j *JwtHandler) authHeader(token string) (string, string) {
	return "Authorization", j.conf.Scheme + " " + token
}

// RefreshBearerTokens grabs a new token pair from the server. Refresh tokens are
// rotated, every refresh returns a new refresh token along with the access token.
func (j *JwtHandler) RefreshBearerTokens() (misc.TokenPair, error) {
	var tokens misc.TokenPair

	if err := Validate(j.conf.Refresh); err != nil {
		log.Error("refresh token not valid, wont be able to continue", zap.NamedError("reason", err))
		return tokens, misc.ErrRefreshTokenInvalid
	}

	ctx, cancel := context.WithCancel(
		context.WithValue(context.Background(), helpers.ReqCtxSkipOnBeforeHook, true),
	)
	defer cancel()

	resp, err := j.c.R().
		SetContext(ctx).
		SetHeader(j.authHeader(j.conf.Refresh)).
		// no point in retrying a rejected refresh token
		SetRetryHook(func(resp *req.Response, err error) {
			if err != nil || (resp != nil && resp.StatusCode == http.StatusUnauthorized) {
				cancel()
			}
		}).
		Post(j.conf.RefreshEndpoint)

	if err != nil || resp.IsErrorState() {
		return tokens, helpers.ErrorFromResponse(err, resp)
	}

	if j.conf.BodySourceEnabled() {
		PopulateTokenPairFromBody(&tokens, resp.Bytes())
	}

	if !tokens.FullTokenPair() && j.conf.CookieSourceEnabled() {
		PopulateTokenPairFromCookies(&tokens,
			j.conf.CookieSettings.AccessTokenName, j.conf.CookieSettings.RefreshTokenName, resp.Cookies())
	}

	if !tokens.FullTokenPair() {
		return tokens, misc.ErrTokenMissing
	}

	return tokens, nil
}

// DoBearerRefreshIfNeeded refreshes an invalid access token, concurrent requests
// wait for a running refresh and reuse its result.
func (j *JwtHandler) DoBearerRefreshIfNeeded(request *req.Request) error {
	j.mu.Lock()

	waited := false
	for j.refreshing {
		waited = true
		j.cv.Wait()
	}

	reason := Validate(j.conf.Access)
	if reason == nil {
		if waited {
			request.SetHeader(j.authHeader(j.conf.Access))
		}
		j.mu.Unlock()
		return nil
	}

	j.refreshing = true
	j.mu.Unlock()

	log.Info("bearer access token not valid, refreshing", zap.NamedError("reason", reason))
	tokens, err := j.RefreshBearerTokens()

	j.mu.Lock()
	defer func() {
		j.refreshing = false
		j.cv.Broadcast()
		j.mu.Unlock()
	}()

	if err != nil {
		log.Error("jwt refresh failed", zap.NamedError("reason", err))

		var respErr *helpers.ResponseError
		if errors.As(err, &respErr) &&
			(respErr.Code == http.StatusForbidden || respErr.Code == http.StatusUnauthorized) {
			return misc.ErrRefreshTokenInvalid
		}
		return err
	}

	j.conf.Access = tokens.Access
	j.conf.Refresh = tokens.Refresh

	// the headers of this request were already set
	header, value := j.authHeader(tokens.Access)
	request.SetHeader(header, value)
	j.c.SetCommonHeader(header, value)

	// persist the rotated pair, the old refresh token is gone now
	j.apiCM.Set(func(c *config.ApiConfig) {
		c.Auth.Bearer.Refresh = tokens.Refresh
		c.Auth.Bearer.Access = tokens.Access
	})
	if err := j.apiCM.Save(); err != nil {
		log.Error("could not persist refreshed tokens", zap.Error(err))
	}

	return nil
}
