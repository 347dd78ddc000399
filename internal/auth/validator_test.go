package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestJWTValidatorAcceptsValidToken(t *testing.T) {
	v := NewJWTValidator("secret")
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
}

func TestJWTValidatorRejects(t *testing.T) {
	v := NewJWTValidator("secret")
	cases := map[string]string{
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "1"}),
		"expired":      sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"name": "x"}),
		"non numeric":  sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "abc"}),
		"wrong alg":    sign(t, jwt.SigningMethodHS512, []byte("secret"), jwt.MapClaims{"sub": "1"}),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		_, err := v.ValidateToken(context.Background(), token)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	require.True(t, ok)
	require.Equal(t, "abc", token)

	token, ok = BearerToken("bearer   abc ")
	require.True(t, ok)
	require.Equal(t, "abc", token)

	for _, bad := range []string{"", "Bearer", "Basic abc", "Bearer "} {
		_, ok := BearerToken(bad)
		require.False(t, ok, bad)
	}
}
