// Package authtest mints RS256 tokens that auth.Validator accepts.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gamehub/payment-settlement/internal/auth"
)

const Issuer = "gamehub-auth"

type Signer struct {
	key *rsa.PrivateKey
}

func NewSigner(t testing.TB) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Signer{key: key}
}

func (s *Signer) PublicPEM(t testing.TB) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func (s *Signer) Validator(t testing.TB) *auth.Validator {
	t.Helper()
	v, err := auth.NewValidatorFromPEM(s.PublicPEM(t), Issuer)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return v
}

// Token signs a token for userID with the given role, valid for an hour.
func (s *Signer) Token(t testing.TB, userID, role string) string {
	t.Helper()
	return s.sign(t, auth.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

func (s *Signer) Expired(t testing.TB, userID string) string {
	t.Helper()
	return s.sign(t, auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
}

func (s *Signer) sign(t testing.TB, claims auth.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}
