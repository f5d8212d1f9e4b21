// Package token issues and verifies the HS256 bearer tokens that carry
// a user's identity across requests.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akz4ol/toolsgateway/internal/middleware"
)

// Claims is the signed payload carried by a bearer token.
type Claims struct {
	Email    string `json:"email"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens.
type Issuer struct {
	signingKey []byte
	ttl        time.Duration
	leeway     time.Duration
}

// New builds an Issuer. leeway is the clock-skew tolerance applied on
// verification; 0 defaults to 30s.
func New(signingKey string, ttl, leeway time.Duration) *Issuer {
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &Issuer{signingKey: []byte(signingKey), ttl: ttl, leeway: leeway}
}

// Issue signs a token for userID/email/provider, valid for the issuer's TTL.
func (i *Issuer) Issue(userID, email, provider string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    email,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.signingKey, nil
	}, jwt.WithLeeway(i.leeway))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// MiddlewareVerifier adapts an Issuer to middleware.TokenVerifier,
// translating the jwt.RegisteredClaims-embedded Claims into the
// middleware package's plain-field shape.
type MiddlewareVerifier struct {
	Issuer *Issuer
}

func (v MiddlewareVerifier) Verify(raw string) (*middleware.Claims, error) {
	claims, err := v.Issuer.Verify(raw)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Provider: claims.Provider,
	}, nil
}
