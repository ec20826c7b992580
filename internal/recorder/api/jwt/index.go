package jwt

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api/jwt/misc"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	gojwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Validate checks the time claims of a token without verifying the signature,
// the server does that. Tokens expiring within misc.ExpiryOffset are rejected.
func Validate(tokenString string) error {
	return validateAt(tokenString, time.Now())
}

func validateAt(tokenString string, now time.Time) error {
	// happens on restarts when only the refresh token was stored
	if len(tokenString) == 0 {
		return misc.ErrTokenMissing
	}

	token, _, err := gojwt.NewParser().ParseUnverified(tokenString, gojwt.MapClaims{})
	if err != nil {
		return err
	}

	if notBefore, err := token.Claims.GetNotBefore(); err == nil && notBefore != nil {
		if notBefore.After(now) {
			return gojwt.ErrTokenNotValidYet
		}
	}

	expiration, err := token.Claims.GetExpirationTime()
	if err != nil {
		return err
	}
	if expiration == nil {
		return gojwt.ErrTokenRequiredClaimMissing
	}

	if expiration.Before(now.Add(misc.ExpiryOffset)) {
		return gojwt.ErrTokenExpired
	}

	return nil
}

func PopulateTokenPairFromBody(tokens *misc.TokenPair, body []byte) {
	if len(body) == 0 {
		return
	}

	if err := json.Unmarshal(body, tokens); err != nil {
		log.Error("got invalid json reply from server", zap.Error(err))
	}
}

// PopulateTokenPairFromCookies picks the tokens from the named cookies
func PopulateTokenPairFromCookies(tokens *misc.TokenPair, accessName string, refreshName string, cookies []*http.Cookie) {
	for _, cookie := range cookies {
		switch cookie.Name {
		case refreshName:
			tokens.Refresh = cookie.Value
		case accessName:
			tokens.Access = cookie.Value
		default:
			continue
		}

		if tokens.FullTokenPair() {
			return
		}
	}
}
