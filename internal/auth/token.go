package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenVerifier validates HS256 bearer tokens and extracts the identity from
// the subject claim.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier returns a verifier for tokens signed with secret. When
// issuer is non-empty the iss claim must match it.
func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth.NewTokenVerifier: secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify checks raw (with or without a "Bearer " prefix) and returns its
// subject.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	raw = stripBearer(raw)
	if raw == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// stripBearer removes surrounding space and a case-insensitive "Bearer" scheme.
func stripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	const scheme = "bearer"
	if len(raw) >= len(scheme) && strings.EqualFold(raw[:len(scheme)], scheme) {
		rest := raw[len(scheme):]
		if rest == "" || rest[0] == ' ' {
			return strings.TrimSpace(rest)
		}
	}
	return raw
}

// Sign issues a token for subject valid for ttl. It is the counterpart of
// Verify for tooling and tests; production tokens come from the identity
// provider.
func (v *TokenVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth.TokenVerifier.Sign: %w", err)
	}
	return signed, nil
}
