package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by Connect when the session token has already
// expired. Dialing with a dead token would just loop on 401s, so it is
// rejected up front and surfaced to the auth layer.
var ErrTokenExpired = errors.New("channel: session token expired")

// TokenSubject extracts the subject claim from a JWT without verifying the
// signature. Returns "" for opaque tokens or tokens without a subject.
func TokenSubject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// checkToken inspects the token's exp claim without verifying the
// signature; verification is the server's job, the client only wants to
// fail fast. Opaque (non-JWT) tokens pass through untouched.
func checkToken(token string, now time.Time) error {
	if token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		// Not a JWT; let the server decide.
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(now) {
		return fmt.Errorf("%w (expired %s)", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}
