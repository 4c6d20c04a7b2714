package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
)

// StreamStore persists resumable stream buffers as TTL'd Redis hashes.
type StreamStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStreamStore builds a store with the given buffer TTL.
func NewStreamStore(rdb *redis.Client, ttl time.Duration) *StreamStore {
	return &StreamStore{rdb: rdb, ttl: ttl}
}

// Save writes the full stream state and refreshes its TTL. The write is
// pipelined so partially-written hashes are never visible for long.
func (s *StreamStore) Save(ctx context.Context, conversationID string, state *model.StreamState) error {
	chunks, err := json.Marshal(state.Chunks)
	if err != nil {
		return err
	}
	thinking, err := json.Marshal(state.ThinkingChunks)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(state.Metadata)
	if err != nil {
		return err
	}

	key := streamStateKey(conversationID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key,
		"chunks", chunks,
		"thinkingChunks", thinking,
		"metadata", meta,
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save stream state: %w", err)
	}
	return nil
}

// Get loads a stream state. A nil state with nil error means no buffer
// exists (never started, or expired).
func (s *StreamStore) Get(ctx context.Context, conversationID string) (*model.StreamState, error) {
	fields, err := s.rdb.HGetAll(ctx, streamStateKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get stream state: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	state := &model.StreamState{}
	if raw, ok := fields["chunks"]; ok {
		if err := json.Unmarshal([]byte(raw), &state.Chunks); err != nil {
			return nil, fmt.Errorf("decode stream chunks: %w", err)
		}
	}
	if raw, ok := fields["thinkingChunks"]; ok {
		if err := json.Unmarshal([]byte(raw), &state.ThinkingChunks); err != nil {
			return nil, fmt.Errorf("decode thinking chunks: %w", err)
		}
	}
	if raw, ok := fields["metadata"]; ok {
		if err := json.Unmarshal([]byte(raw), &state.Metadata); err != nil {
			return nil, fmt.Errorf("decode stream metadata: %w", err)
		}
	}
	return state, nil
}

// Delete removes a conversation's buffer.
func (s *StreamStore) Delete(ctx context.Context, conversationID string) error {
	return s.rdb.Del(ctx, streamStateKey(conversationID)).Err()
}
