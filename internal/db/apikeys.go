package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/slipstream-ai/realtime-gateway/internal/encryption"
)

// GetUserAPIKey loads the sealed per-user key for a provider. A nil payload
// with a nil error means the user has not stored one.
func (s *Store) GetUserAPIKey(ctx context.Context, userID, provider string) (*encryption.EncryptedPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var p encryption.EncryptedPayload
	err := s.pool.QueryRow(ctx, `
		SELECT iv, "authTag", data
		FROM "UserApiKey"
		WHERE "userId" = $1 AND provider = $2`, userID, provider).
		Scan(&p.IV, &p.AuthTag, &p.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
