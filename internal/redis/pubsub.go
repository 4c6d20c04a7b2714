package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
	"github.com/slipstream-ai/realtime-gateway/pkg/metrics"
)

// Bus publishes and subscribes typed events over Redis pub/sub.
//
// Each Subscribe call opens its own duplicated subscriber connection, so one
// slow consumer never blocks another. The bus tracks every open subscriber
// and Close tears down exactly that set.
type Bus struct {
	rdb *redis.Client
	log *logger.Logger

	heartbeatInterval time.Duration
	heartbeatEnabled  bool
	missedThreshold   int

	mu   sync.Mutex
	subs map[*subscription]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus builds a bus over an established client.
func NewBus(rdb *redis.Client, log *logger.Logger, heartbeatInterval time.Duration, heartbeatEnabled bool, missedThreshold int) *Bus {
	b := &Bus{
		rdb:               rdb,
		log:               log,
		heartbeatInterval: heartbeatInterval,
		heartbeatEnabled:  heartbeatEnabled,
		missedThreshold:   missedThreshold,
		subs:              make(map[*subscription]struct{}),
		stopped:           make(chan struct{}),
	}
	if heartbeatEnabled {
		go b.baseHeartbeat()
	}
	return b
}

// baseHeartbeat probes the base connection at the configured interval. The
// duplicated subscriber connections carry their own probes; this one covers
// the connection publishes and stream-state writes ride on.
func (b *Bus) baseHeartbeat() {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopped:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), b.heartbeatInterval)
			err := b.rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				metrics.HeartbeatFailures.WithLabelValues("redis_base").Inc()
				b.log.Warnw("base connection heartbeat failed", "error", err)
			}
		}
	}
}

// Publish marshals an event and publishes it on a channel.
func (b *Bus) Publish(ctx context.Context, channel string, ev model.Event) error {
	payload, err := model.MarshalEvent(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated subscriber connection on a channel and invokes
// handler for every event received. The returned cleanup function closes the
// subscriber; calling it more than once is safe.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler func(model.Event)) (func(), error) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	// Force the subscription onto the wire before we report success.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	metrics.RedisSubscribersActive.Inc()

	go b.consume(subCtx, sub, channel, handler)
	if b.heartbeatEnabled {
		go b.heartbeat(subCtx, sub, channel)
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}, nil
}

func (b *Bus) consume(ctx context.Context, sub *subscription, channel string, handler func(model.Event)) {
	defer close(sub.done)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := model.ParseEvent([]byte(msg.Payload))
			if err != nil {
				b.log.Warnw("dropping unparseable pub/sub payload", "channel", channel, "error", err)
				continue
			}
			handler(ev)
		}
	}
}

// heartbeat pings the subscriber connection at the configured interval. The
// subscription is torn down after missedThreshold consecutive failures.
func (b *Bus) heartbeat(ctx context.Context, sub *subscription, channel string) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sub.pubsub.Ping(ctx); err != nil {
				missed++
				metrics.HeartbeatFailures.WithLabelValues("redis_subscriber").Inc()
				b.log.Warnw("subscriber heartbeat failed", "channel", channel, "missed", missed, "error", err)
				if missed >= b.missedThreshold {
					b.log.Errorw("subscriber declared dead, closing", "channel", channel)
					b.remove(sub)
					return
				}
				continue
			}
			missed = 0
		}
	}
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	_, tracked := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if !tracked {
		return
	}
	sub.cancel()
	sub.pubsub.Close()
	metrics.RedisSubscribersActive.Dec()
}

// SubscriberCount reports the number of open subscriber connections.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts down every subscriber the bus still tracks and stops the base
// heartbeat.
func (b *Bus) Close() {
	b.stopOnce.Do(func() { close(b.stopped) })
	b.mu.Lock()
	open := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		open = append(open, sub)
	}
	b.mu.Unlock()
	for _, sub := range open {
		b.remove(sub)
	}
}
