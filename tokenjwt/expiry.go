// Package tokenjwt recovers scheduling metadata from JWT access tokens.
package tokenjwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Expiry extracts the exp claim from a JWT without verifying its signature.
// The manager only needs the deadline for refresh scheduling; validating the
// token is the backend's job. Returns an error when the token is not a JWT
// or carries no exp claim.
func Expiry(rawToken string) (time.Time, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, errors.Wrap(err, "[Expiry] parsing token")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[Expiry] reading exp claim")
	}
	if exp == nil {
		return time.Time{}, errors.New("[Expiry] token has no exp claim")
	}

	return exp.Time, nil
}
