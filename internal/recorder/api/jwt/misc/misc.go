package misc

import (
	"errors"
	"time"
)

const (
	DefaultRefreshTokenCookieName = "refresh_token_cookie"
	DefaultAuthTokenCookieName    = "access_token_cookie"
	DefaultSchemeName             = "Bearer"
	DefaultRefreshEndpoint        = "login/refresh"

	// Refresh ahead of time, the recorder clock may lag until the first fix
	ExpiryOffset = 5 * time.Second
)

var (
	ErrInvalidJWTSettings  = errors.New("invalid JWT settings supplied")
	ErrRefreshTokenInvalid = errors.New("the refresh token is invalid")
	ErrTokenMissing        = errors.New("empty/missing token")
)

type TokenPair struct {
	Refresh string `json:"refresh_token" toml:"refresh_token,omitempty" comment:"required refresh token"`
	Access  string `json:"access_token"  toml:"access_token,omitempty" comment:"optional access token"`
}

func (p *TokenPair) FullTokenPair() bool {
	return len(p.Refresh) > 0 && len(p.Access) > 0
}
