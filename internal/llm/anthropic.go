package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
)

// maxOutputTokens is the per-model output-token ceiling. Requests above the
// ceiling fail before any network call.
var maxOutputTokens = map[string]int{
	"claude-3-haiku-20240307":    4096,
	"claude-3-5-haiku-20241022":  8192,
	"claude-3-5-sonnet-20240620": 8192,
	"claude-3-5-sonnet-20241022": 8192,
	"claude-opus-4-20250514":     32000,
	"claude-opus-4-1-20250805":   32000,
	"claude-sonnet-4-20250514":   64000,
	"claude-3-7-sonnet-20250219": 64000,
}

// thinkingModels can emit extended thinking blocks.
var thinkingModels = map[string]bool{
	"claude-opus-4-1-20250805":   true,
	"claude-opus-4-20250514":     true,
	"claude-sonnet-4-20250514":   true,
	"claude-3-7-sonnet-20250219": true,
}

// AnthropicClient streams messages from the Anthropic API.
type AnthropicClient struct {
	defaultKey string

	once   sync.Once
	cached anthropic.Client
}

// NewAnthropicClient builds the Anthropic adapter.
func NewAnthropicClient(defaultKey string) *AnthropicClient {
	return &AnthropicClient{defaultKey: defaultKey}
}

func (c *AnthropicClient) Provider() model.Provider { return model.ProviderAnthropic }

func (c *AnthropicClient) getClient(overrideKey string) anthropic.Client {
	if overrideKey != "" {
		return anthropic.NewClient(option.WithAPIKey(overrideKey))
	}
	c.once.Do(func() {
		c.cached = anthropic.NewClient(option.WithAPIKey(c.defaultKey))
	})
	return c.cached
}

func (c *AnthropicClient) Stream(ctx context.Context, req StreamRequest, onChunk ChunkHandler) error {
	ceiling, ok := maxOutputTokens[req.Model]
	if !ok {
		ceiling = maxOutputTokens[defaultModels[model.ProviderAnthropic]]
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = ceiling
	}
	if maxTokens > ceiling {
		return fmt.Errorf("%w: %s allows at most %d output tokens, requested %d",
			ErrMaxTokensExceeded, req.Model, ceiling, maxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if thinkingModels[req.Model] && maxTokens >= 2048 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(maxTokens / 2))
	}

	client := c.getClient(req.APIKey)
	stream := client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if err := onChunk(Chunk{Text: event.Delta.Text}); err != nil {
					return err
				}
			case "thinking_delta":
				if err := onChunk(Chunk{Thinking: event.Delta.Thinking}); err != nil {
					return err
				}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				if err := onChunk(Chunk{Done: true, StopReason: string(event.Delta.StopReason)}); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
