// Package resolver routes inbound client events to their handlers and owns
// the AI streaming pipeline.
package resolver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/slipstream-ai/realtime-gateway/internal/credentials"
	"github.com/slipstream-ai/realtime-gateway/internal/llm"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
	"github.com/slipstream-ai/realtime-gateway/pkg/metrics"
)

// Conn is the surface a connection exposes to the resolver. Send writes an
// event straight to the socket; Subscribe attaches the connection to a
// pub/sub channel, tracked by the gateway for teardown.
type Conn interface {
	UserID() string
	Send(ev model.Event) error
	Subscribe(channel string) error
	SetActiveConversation(conversationID string, active bool)
}

// Uploader writes an asset and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Resolver dispatches client events. One resolver serves all connections on
// an instance; per-conversation writer ownership lives in activeStreams.
type Resolver struct {
	log     *logger.Logger
	bus     *redis.Bus
	streams *redis.StreamStore
	llm     *llm.Registry
	creds   *credentials.Resolver
	titles  *TitleGenerator

	uploader    Uploader
	imageGenURL string
	httpClient  *http.Client

	mu            sync.Mutex
	activeStreams map[string]struct{}
}

// Options carries the optional collaborators.
type Options struct {
	Uploader        Uploader
	ImageGenURL     string
	ImageGenTimeout time.Duration
}

// New builds a resolver.
func New(log *logger.Logger, bus *redis.Bus, streams *redis.StreamStore, registry *llm.Registry, creds *credentials.Resolver, titles *TitleGenerator, opts Options) *Resolver {
	timeout := opts.ImageGenTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Resolver{
		log:           log,
		bus:           bus,
		streams:       streams,
		llm:           registry,
		creds:         creds,
		titles:        titles,
		uploader:      opts.Uploader,
		imageGenURL:   opts.ImageGenURL,
		httpClient:    &http.Client{Timeout: timeout},
		activeStreams: make(map[string]struct{}),
	}
}

// Dispatch routes one inbound event. Handler failures are converted into
// scoped error events on the requesting connection; Dispatch itself only
// returns an error when even that delivery failed.
func (r *Resolver) Dispatch(ctx context.Context, conn Conn, ev model.Event) error {
	metrics.EventsDispatched.WithLabelValues(string(ev.EventType())).Inc()

	switch e := ev.(type) {
	case model.Ping:
		return conn.Send(model.Pong{Type: model.EventPong, UserID: conn.UserID()})
	case model.Typing:
		return r.handleTyping(ctx, conn, e)
	case model.StreamSubscribe:
		return r.handleStreamSubscribe(ctx, conn, e)
	case model.ChatRequest:
		return r.handleChat(ctx, conn, e)
	case model.ImageGenRequest:
		return r.handleImageGen(ctx, conn, e)
	case model.AssetUploadRequest:
		return r.handleAssetUpload(ctx, conn, e)
	default:
		// Server-emitted types are not valid client input.
		return conn.Send(model.ChatError{
			Type:    model.EventChatError,
			UserID:  conn.UserID(),
			Code:    "unsupported_event",
			Message: "event type cannot be sent by clients",
			Done:    true,
		})
	}
}

// tryClaimStream takes in-process writer ownership of a conversation.
func (r *Resolver) tryClaimStream(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.activeStreams[conversationID]; busy {
		return false
	}
	r.activeStreams[conversationID] = struct{}{}
	return true
}

func (r *Resolver) releaseStream(conversationID string) {
	r.mu.Lock()
	delete(r.activeStreams, conversationID)
	r.mu.Unlock()
}
