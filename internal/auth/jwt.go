// Package auth verifies the JWTs identity issuance mints for this system.
// Generate/Login/Register are an external collaborator's concern (see
// DESIGN.md's internal/auth entry and its "Dropped teacher dependencies"
// section) — this package only ever validates a token it did not create.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload embedded in every request.
type Claims struct {
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"` // "admin" | "member"
	jwt.RegisteredClaims
}

type JWTManager struct {
	secret []byte
}

func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secret: []byte(secret)}
}

// Verify parses and validates a token string, returning the claims.
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
