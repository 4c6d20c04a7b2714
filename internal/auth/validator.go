package auth

import (
	"context"
	"errors"
)

// ErrSessionInvalid means the token verified but the database has no live
// session for its subject.
var ErrSessionInvalid = errors.New("auth: no valid session")

// SessionStore answers whether a user currently holds an unexpired session.
type SessionStore interface {
	IsValidUserAndSession(ctx context.Context, userID string) (bool, error)
	IsValidUserAndSessionByEmail(ctx context.Context, email string) (bool, string, error)
}

// SessionValidator performs the two-step connection check: token signature
// and expiry first, then a live-session lookup. Both must pass.
type SessionValidator struct {
	store  SessionStore
	secret string
}

// NewSessionValidator builds a validator over the given store.
func NewSessionValidator(store SessionStore, secret string) *SessionValidator {
	return &SessionValidator{store: store, secret: secret}
}

// Validate checks a raw bearer token end to end and returns the user id it
// belongs to.
func (v *SessionValidator) Validate(ctx context.Context, tokenString string) (string, error) {
	claims, err := VerifyToken(tokenString, v.secret)
	if err != nil {
		return "", err
	}

	if sub := claims.Subject; sub != "" {
		ok, err := v.store.IsValidUserAndSession(ctx, sub)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrSessionInvalid
		}
		return sub, nil
	}

	if claims.Email != "" {
		ok, id, err := v.store.IsValidUserAndSessionByEmail(ctx, claims.Email)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrSessionInvalid
		}
		return id, nil
	}

	return "", ErrInvalidToken
}
