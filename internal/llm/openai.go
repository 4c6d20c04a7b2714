package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
)

const xaiBaseURL = "https://api.x.ai/v1"

// OpenAIClient streams chat completions from an OpenAI-compatible API.
// The same adapter serves xAI, which speaks the OpenAI wire protocol at a
// different base URL.
type OpenAIClient struct {
	provider   model.Provider
	defaultKey string
	baseURL    string

	once   sync.Once
	cached *openai.Client
}

// NewOpenAIClient builds the adapter for api.openai.com.
func NewOpenAIClient(defaultKey string) *OpenAIClient {
	return &OpenAIClient{provider: model.ProviderOpenAI, defaultKey: defaultKey}
}

// NewXAIClient builds the adapter for the xAI endpoint.
func NewXAIClient(defaultKey string) *OpenAIClient {
	return &OpenAIClient{provider: model.ProviderGrok, defaultKey: defaultKey, baseURL: xaiBaseURL}
}

func (c *OpenAIClient) Provider() model.Provider { return c.provider }

// getClient returns the memoized default client, or a fresh client when a
// per-user key override is supplied. Override clients are never cached.
func (c *OpenAIClient) getClient(overrideKey string) *openai.Client {
	if overrideKey != "" {
		return c.newClient(overrideKey)
	}
	c.once.Do(func() {
		c.cached = c.newClient(c.defaultKey)
	})
	return c.cached
}

func (c *OpenAIClient) newClient(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (c *OpenAIClient) Stream(ctx context.Context, req StreamRequest, onChunk ChunkHandler) error {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		User:     req.UserID,
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		apiReq.TopP = float32(*req.TopP)
	}
	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}

	stream, err := c.getClient(req.APIKey).CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return fmt.Errorf("%s stream: %w", c.provider, err)
	}
	defer stream.Close()

	done := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s stream recv: %w", c.provider, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			if err := onChunk(Chunk{Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			done = true
			if err := onChunk(Chunk{Done: true, StopReason: string(choice.FinishReason)}); err != nil {
				return err
			}
		}
	}
	if !done {
		return onChunk(Chunk{Done: true, StopReason: "stop"})
	}
	return nil
}
