package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnthropicRejectsTokensOverCeiling(t *testing.T) {
	client := NewAnthropicClient("test-key")

	cases := []struct {
		model     string
		maxTokens int
	}{
		{"claude-3-haiku-20240307", 4097},
		{"claude-3-5-sonnet-20241022", 8193},
		{"claude-opus-4-1-20250805", 32001},
		{"claude-sonnet-4-20250514", 64001},
	}
	for _, tc := range cases {
		err := client.Stream(context.Background(), StreamRequest{
			Model:     tc.model,
			Prompt:    "hi",
			MaxTokens: tc.maxTokens,
		}, func(Chunk) error {
			t.Fatal("no chunk expected")
			return nil
		})
		require.ErrorIs(t, err, ErrMaxTokensExceeded, "model %s", tc.model)
	}
}

func TestAnthropicAllowsTokensAtCeiling(t *testing.T) {
	// At the ceiling the request passes validation; the canceled context
	// stops it before any network traffic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewAnthropicClient("test-key")
	err := client.Stream(ctx, StreamRequest{
		Model:     "claude-3-haiku-20240307",
		Prompt:    "hi",
		MaxTokens: 4096,
	}, func(Chunk) error { return nil })
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMaxTokensExceeded)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewAnthropicClient("k"))
	_, err := reg.Get("anthropic")
	require.NoError(t, err)
	_, err = reg.Get("openai")
	require.Error(t, err)
}
