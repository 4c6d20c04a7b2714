package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
	"github.com/slipstream-ai/realtime-gateway/pkg/metrics"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	_, client := newTestClient(t)
	bus := NewBus(client, logger.NewNop(), time.Minute, false, 3)
	t.Cleanup(bus.Close)
	return bus
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan model.Event, 1)
	cleanup, err := bus.Subscribe(ctx, UserChannel("u-1"), func(ev model.Event) {
		received <- ev
	})
	require.NoError(t, err)
	defer cleanup()

	sent := model.ConversationCreated{
		Type:           model.EventConvCreated,
		ConversationID: "conv-1",
		UserID:         "u-1",
		Title:          "Greeting",
		Timestamp:      1724800000000,
	}
	require.NoError(t, bus.Publish(ctx, UserChannel("u-1"), sent))

	select {
	case ev := <-received:
		assert.Equal(t, sent, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusChannelIsolation(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan model.Event, 1)
	cleanup, err := bus.Subscribe(ctx, StreamChannel("conv-a"), func(ev model.Event) {
		received <- ev
	})
	require.NoError(t, err)
	defer cleanup()

	other := model.ChatChunk{Type: model.EventChatChunk, ConversationID: "conv-b", UserID: "u-1", Chunk: "x"}
	require.NoError(t, bus.Publish(ctx, StreamChannel("conv-b"), other))

	select {
	case ev := <-received:
		t.Fatalf("unexpected delivery: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBusCleanupIsIdempotent(t *testing.T) {
	bus := newTestBus(t)

	cleanup, err := bus.Subscribe(context.Background(), "conv:c", func(model.Event) {})
	require.NoError(t, err)

	cleanup()
	cleanup()

	assert.Zero(t, bus.SubscriberCount())
}

func TestBusCloseTearsDownSubscribers(t *testing.T) {
	bus := newTestBus(t)

	for _, ch := range []string{"a", "b", "c"} {
		_, err := bus.Subscribe(context.Background(), ch, func(model.Event) {})
		require.NoError(t, err)
	}

	bus.Close()

	assert.Zero(t, bus.SubscriberCount())
}

func TestBusBaseHeartbeatReportsFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bus := NewBus(client, logger.NewNop(), 20*time.Millisecond, true, 3)
	t.Cleanup(bus.Close)

	failures := metrics.HeartbeatFailures.WithLabelValues("redis_base")
	before := testutil.ToFloat64(failures)

	// Take the server away; the base probe must start reporting failures.
	mr.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(failures) > before
	}, 2*time.Second, 20*time.Millisecond)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "user:u-1", UserChannel("u-1"))
	assert.Equal(t, "presence:u-1", PresenceChannel("u-1"))
	assert.Equal(t, "conv:c-1", ConversationChannel("c-1"))
	assert.Equal(t, "stream:c-1", StreamChannel("c-1"))
	assert.Equal(t, "stream:state:c-1", streamStateKey("c-1"))
}
