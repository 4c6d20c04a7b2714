package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/slipstream-ai/realtime-gateway/internal/encryption"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
)

// secretNames maps a provider to its entry in the platform secret blob.
var secretNames = map[model.Provider]string{
	model.ProviderOpenAI:    "OPENAI_API_KEY",
	model.ProviderAnthropic: "ANTHROPIC_API_KEY",
	model.ProviderGemini:    "GEMINI_API_KEY",
	model.ProviderGrok:      "X_AI_KEY",
}

// KeyStore loads a user's sealed provider key. Nil payload means none stored.
type KeyStore interface {
	GetUserAPIKey(ctx context.Context, userID, provider string) (*encryption.EncryptedPayload, error)
}

// ResolvedKey is the outcome of per-user key resolution.
//
// NeedsReentry is set when a stored key existed but could not be opened; the
// platform default is used for the request and the client is told to
// re-enter the credential.
type ResolvedKey struct {
	Key          string
	IsDefault    bool
	NeedsReentry bool
}

// Resolver chooses the API key for each request: the user's own key when one
// is stored and readable, the platform default otherwise.
type Resolver struct {
	store   KeyStore
	enc     *encryption.Service
	static  map[model.Provider]string
	manager *Manager
	log     *logger.Logger
}

// NewResolver builds a resolver. static holds keys configured directly via
// environment; manager, when non-nil, backfills the rest from Secrets
// Manager.
func NewResolver(store KeyStore, enc *encryption.Service, static map[model.Provider]string, manager *Manager, log *logger.Logger) *Resolver {
	return &Resolver{store: store, enc: enc, static: static, manager: manager, log: log}
}

// Resolve returns the key to use for userID against provider.
func (r *Resolver) Resolve(ctx context.Context, userID string, provider model.Provider) (ResolvedKey, error) {
	stored, err := r.store.GetUserAPIKey(ctx, userID, string(provider))
	if err != nil {
		return ResolvedKey{}, fmt.Errorf("credentials: load user key: %w", err)
	}

	if stored != nil {
		key, err := r.enc.Decrypt(stored)
		if err == nil {
			return ResolvedKey{Key: key}, nil
		}
		if !errors.Is(err, encryption.ErrKeyUnreadable) {
			return ResolvedKey{}, err
		}
		r.log.Warnw("stored provider key unreadable, falling back to platform default",
			"userId", userID, "provider", provider)
		def, derr := r.defaultKey(ctx, provider)
		if derr != nil {
			return ResolvedKey{}, derr
		}
		return ResolvedKey{Key: def, IsDefault: true, NeedsReentry: true}, nil
	}

	def, err := r.defaultKey(ctx, provider)
	if err != nil {
		return ResolvedKey{}, err
	}
	return ResolvedKey{Key: def, IsDefault: true}, nil
}

func (r *Resolver) defaultKey(ctx context.Context, provider model.Provider) (string, error) {
	if k := r.static[provider]; k != "" {
		return k, nil
	}
	if r.manager != nil {
		return r.manager.Get(ctx, secretNames[provider])
	}
	return "", fmt.Errorf("credentials: no platform key configured for provider %q", provider)
}
