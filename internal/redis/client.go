// Package redis provides the pub/sub bus and stream-state store backing
// cross-instance fan-out.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Connect dials Redis from a URL and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Health adapts a client to a plain error Ping for readiness checks.
type Health struct {
	rdb *redis.Client
}

// NewHealth wraps a client.
func NewHealth(rdb *redis.Client) *Health {
	return &Health{rdb: rdb}
}

// Ping verifies connectivity.
func (h *Health) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}
