package config

import (
	"errors"
	"net/url"
	"slices"

	jwtmisc "github.com/LeoCommon/gpsrecorder/internal/recorder/api/jwt/misc"
)

const DefaultPositionEndpoint = "positions"

// The bearer token source
type BearerTokenSource string

const (
	// Keep these names synced up with the toml AuthBearerSettings below
	BearerSourceBody    BearerTokenSource = "body"
	BearerSourceCookies BearerTokenSource = "cookies"
)

type BearerCookieSettings struct {
	RefreshTokenName string `toml:"refresh_name,omitempty" comment:"name of the refresh token cookie sent from the server"`
	AccessTokenName  string `toml:"access_name,omitempty" comment:"name of the access token cookie sent from the server"`
}

type AuthBearerSettings struct {
	Sources *[]BearerTokenSource `toml:"sources,omitempty" comment:"enabled token sources, body and/or cookies"`
	jwtmisc.TokenPair
	CookieSettings  BearerCookieSettings `toml:"cookies,omitempty"`
	RefreshEndpoint string               `toml:"refresh_endpoint,omitempty" comment:"relative url of the token refresh endpoint"`
	Scheme          string               `toml:"scheme,omitempty" comment:"Authorization: <scheme> <token>, defaults to Bearer"`
}

func (a *AuthBearerSettings) BodySourceEnabled() bool {
	return a.Sources != nil && slices.Contains(*a.Sources, BearerSourceBody)
}

func (a *AuthBearerSettings) CookieSourceEnabled() bool {
	return a.Sources != nil && slices.Contains(*a.Sources, BearerSourceCookies)
}

type AuthBasicSettings struct {
	Username string `toml:"username,omitempty"`
	Password string `toml:"password" comment:"required for basic authentication"`
}

type AuthSettings struct {
	Basic  *AuthBasicSettings  `toml:"basic,omitempty"`
	Bearer *AuthBearerSettings `toml:"bearer,omitempty"`
}

// ApiConfig configures the upload of positions to a remote collector
type ApiConfig struct {
	Url             string       `toml:"url,omitempty"`
	Endpoint        string       `toml:"endpoint,omitempty" comment:"relative url positions are posted to"`
	Auth            AuthSettings `toml:"auth,omitempty"`
	RootCertificate string       `toml:"root_certificate,omitempty"`
	AllowInsecure   bool         `toml:"allow_insecure,omitempty"`
	Disabled        bool         `toml:"disabled"`
}

type ApiConfigManager struct {
	BaseConfigManager[ApiConfig]
}

// Verify verifies the "hard" conditions that the rest of the code relies on
func (a *ApiConfigManager) Verify() error {
	if a.conf.Disabled {
		return nil
	}

	u, err := url.Parse(a.conf.Url)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.New("api enabled but url is not absolute")
	}

	if a.conf.Auth.Basic != nil && a.conf.Auth.Basic.Password == "" {
		return errors.New("empty password for auth basic")
	}

	bearer := a.conf.Auth.Bearer
	if bearer != nil {
		// we at-least need a refresh token
		if bearer.Refresh == "" {
			return errors.New("bearer auth enabled but no refresh token specified")
		}

		if bearer.Sources != nil &&
			!bearer.BodySourceEnabled() && !bearer.CookieSourceEnabled() {
			return errors.New("manually disabling all bearer token sources is forbidden")
		}
	}

	return nil
}

func NewApiConfigManager(config *ApiConfig, mgr *Manager) *ApiConfigManager {
	a := ApiConfigManager{}
	a.conf = config
	a.mgr = mgr

	return &a
}
