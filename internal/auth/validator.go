package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoSubject    = errors.New("token names no user")
)

// Claims mirror what the auth service signs: uid, falling back to sub.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool {
	return strings.EqualFold(c.Role, RoleAdmin)
}

// Validator checks access tokens before a caller may verify, look up or
// reconcile a deposit. Only RS256 with an expiry is accepted.
type Validator struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

func NewValidator(publicKeyPath, issuer string) (*Validator, error) {
	pem, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", publicKeyPath, err)
	}
	return NewValidatorFromPEM(pem, issuer)
}

// NewValidatorFromPEM is NewValidator for keys already in memory. An empty
// issuer skips the iss check.
func NewValidatorFromPEM(pem []byte, issuer string) (*Validator, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Validator{key: key, parser: jwt.NewParser(opts...)}, nil
}

func (v *Validator) keyFunc(*jwt.Token) (interface{}, error) {
	return v.key, nil
}

// Parse takes a bare token, as sent in the websocket query string.
func (v *Validator) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// FromHeader accepts "Bearer <token>" or the bare token.
func (v *Validator) FromHeader(header string) (*Claims, error) {
	header = strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		header = rest
	}
	return v.Parse(header)
}
