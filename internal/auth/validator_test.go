package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/auth"
	"gamehub/payment-settlement/internal/auth/authtest"
)

func TestValidatorAcceptsSignedToken(t *testing.T) {
	s := authtest.NewSigner(t)
	v := s.Validator(t)

	claims, err := v.FromHeader("Bearer " + s.Token(t, "u1", auth.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.IsAdmin())

	claims, err = v.FromHeader(s.Token(t, "u2", ""))
	require.NoError(t, err)
	assert.Equal(t, "u2", claims.UserID)
	assert.False(t, claims.IsAdmin())
}

func TestValidatorRejects(t *testing.T) {
	s := authtest.NewSigner(t)
	v := s.Validator(t)
	other := authtest.NewSigner(t)

	_, err := v.FromHeader("")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, err = v.FromHeader("Bearer " + other.Token(t, "u1", ""))
	assert.Error(t, err, "foreign key")

	_, err = v.FromHeader("Bearer " + s.Expired(t, "u1"))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": "u1", "iss": authtest.Issuer, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.FromHeader("Bearer " + hs)
	assert.Error(t, err, "alg confusion")
}

func TestValidatorHeaderForms(t *testing.T) {
	s := authtest.NewSigner(t)
	v := s.Validator(t)
	tok := s.Token(t, "u3", "")

	for _, header := range []string{"bearer " + tok, "  Bearer " + tok + " ", tok} {
		claims, err := v.FromHeader(header)
		require.NoError(t, err, header)
		assert.Equal(t, "u3", claims.UserID)
	}

	_, err := v.FromHeader("Bearer ")
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}
