package tokenjwt_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-manager/tokenjwt"
)

func signToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func TestExpiry(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signToken(t, jwtlib.MapClaims{
		"sub": "user-1",
		"exp": expiresAt.Unix(),
	})

	expiry, err := tokenjwt.Expiry(raw)
	require.NoError(t, err)
	require.True(t, expiry.Equal(expiresAt))
}

func TestExpiryWithoutExpClaim(t *testing.T) {
	raw := signToken(t, jwtlib.MapClaims{"sub": "user-1"})

	_, err := tokenjwt.Expiry(raw)
	require.Error(t, err)
}

func TestExpiryRejectsOpaqueToken(t *testing.T) {
	_, err := tokenjwt.Expiry("not-a-jwt")
	require.Error(t, err)
}
