// Package auth verifies bearer tokens and the sessions behind them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the gateway cares about. Subject carries the
// user id; Email is a fallback identity for tokens minted without one.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var (
	// ErrMissingToken means no bearer token was presented.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken covers bad signatures, expiry, and malformed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// ExtractToken pulls the bearer token from the Authorization header, falling
// back to the token query parameter for clients that cannot set headers
// during a WebSocket upgrade.
func ExtractToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", ErrInvalidToken
		}
		return parts[1], nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", ErrMissingToken
}

// VerifyToken parses and validates a signed token, returning its claims.
func VerifyToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
