package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStreamStoreSaveAndGet(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewStreamStore(client, time.Hour)
	ctx := context.Background()

	temp := 0.5
	state := &model.StreamState{
		Chunks:         []string{"Hel", "lo ", "world"},
		ThinkingChunks: []string{"let me think"},
		Metadata: model.StreamMetadata{
			Model:       "claude-sonnet-4-20250514",
			Provider:    model.ProviderAnthropic,
			Title:       "Greeting",
			TotalChunks: 3,
			Temperature: &temp,
		},
	}
	require.NoError(t, store.Save(ctx, "conv-1", state))

	loaded, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.Chunks, loaded.Chunks)
	assert.Equal(t, state.ThinkingChunks, loaded.ThinkingChunks)
	assert.Equal(t, state.Metadata, loaded.Metadata)
	assert.False(t, loaded.Metadata.Completed)

	// Reads are idempotent: a second get returns the identical buffer.
	again, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, loaded, again)

	// The buffer carries a TTL.
	assert.Greater(t, mr.TTL("stream:state:conv-1"), time.Duration(0))
}

func TestStreamStoreGetMissing(t *testing.T) {
	_, client := newTestClient(t)
	store := NewStreamStore(client, time.Hour)

	state, err := store.Get(context.Background(), "no-such-conv")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStreamStoreOverwriteMarksCompleted(t *testing.T) {
	_, client := newTestClient(t)
	store := NewStreamStore(client, time.Hour)
	ctx := context.Background()

	state := &model.StreamState{Chunks: []string{"a"}, Metadata: model.StreamMetadata{TotalChunks: 1}}
	require.NoError(t, store.Save(ctx, "conv-2", state))

	state.Chunks = append(state.Chunks, "b")
	state.Metadata.TotalChunks = 2
	state.Metadata.Completed = true
	require.NoError(t, store.Save(ctx, "conv-2", state))

	loaded, err := store.Get(ctx, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, loaded.Chunks)
	assert.True(t, loaded.Metadata.Completed)
}

func TestStreamStoreDelete(t *testing.T) {
	_, client := newTestClient(t)
	store := NewStreamStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "conv-3", &model.StreamState{Chunks: []string{"x"}}))
	require.NoError(t, store.Delete(ctx, "conv-3"))

	state, err := store.Get(ctx, "conv-3")
	require.NoError(t, err)
	assert.Nil(t, state)
}
