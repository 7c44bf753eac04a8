// Package auth verifies the bearer JWT that gates every endpoint except
// the health checks (spec.md §7). This is single-trust-domain service
// auth, not the teacher's per-org/per-user identity system: the subject
// names the caller (a service account or operator), nothing more, per
// spec.md's explicit multi-tenant-isolation non-goal. Adapted from the
// teacher's internal/auth/jwt.go, stripped of OrgID/Role.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload expected on every authenticated request.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager signs and verifies bearer tokens with a shared secret.
type JWTManager struct {
	secret []byte
	expiry time.Duration
}

// NewJWTManager builds a JWTManager.
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), expiry: expiry}
}

// Generate creates a signed JWT naming subject as its caller.
func (m *JWTManager) Generate(subject string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token string, returning its claims.
func (m *JWTManager) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
