// Package llm contains the streaming adapters for the upstream chat
// providers. Every adapter implements StreamClient and converts its
// vendor's wire protocol into the shared Chunk form.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
)

// ErrMaxTokensExceeded is returned before any network call when a request
// asks for more output tokens than the target model can produce.
var ErrMaxTokensExceeded = errors.New("llm: max tokens exceeds model ceiling")

// Chunk is a single streamed fragment from a provider.
//
// Exactly one of Text, Thinking, or InlineData is populated per chunk,
// except the terminal chunk which sets Done (and may carry a StopReason).
type Chunk struct {
	Text       string
	Thinking   string
	InlineData []byte
	MIMEType   string
	Done       bool
	StopReason string
}

// ChunkHandler receives chunks in stream order. Returning an error aborts
// the stream.
type ChunkHandler func(Chunk) error

// StreamRequest is a provider-agnostic streaming completion request.
// APIKey, when set, overrides the platform default key for this call only.
type StreamRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  *float64
	TopP         *float64
	MaxTokens    int
	UserID       string
	APIKey       string
}

// StreamClient streams a completion, invoking onChunk for each fragment.
type StreamClient interface {
	Provider() model.Provider
	Stream(ctx context.Context, req StreamRequest, onChunk ChunkHandler) error
}

// Registry holds one StreamClient per provider.
type Registry struct {
	clients map[model.Provider]StreamClient
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...StreamClient) *Registry {
	r := &Registry{clients: make(map[model.Provider]StreamClient, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

// Get returns the client for a provider.
func (r *Registry) Get(p model.Provider) (StreamClient, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("llm: no client registered for provider %q", p)
	}
	return c, nil
}
