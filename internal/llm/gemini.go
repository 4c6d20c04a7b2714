package llm

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
)

// GeminiClient streams generations from the Gemini API.
type GeminiClient struct {
	defaultKey string

	once      sync.Once
	cached    *genai.Client
	cachedErr error
}

// NewGeminiClient builds the Gemini adapter.
func NewGeminiClient(defaultKey string) *GeminiClient {
	return &GeminiClient{defaultKey: defaultKey}
}

func (c *GeminiClient) Provider() model.Provider { return model.ProviderGemini }

func (c *GeminiClient) getClient(ctx context.Context, overrideKey string) (*genai.Client, error) {
	if overrideKey != "" {
		return genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  overrideKey,
			Backend: genai.BackendGeminiAPI,
		})
	}
	c.once.Do(func() {
		c.cached, c.cachedErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.defaultKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return c.cached, c.cachedErr
}

func (c *GeminiClient) Stream(ctx context.Context, req StreamRequest, onChunk ChunkHandler) error {
	client, err := c.getClient(ctx, req.APIKey)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	done := false
	for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, genai.Text(req.Prompt), cfg) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					chunk := Chunk{Text: part.Text}
					if part.Thought {
						chunk = Chunk{Thinking: part.Text}
					}
					if err := onChunk(chunk); err != nil {
						return err
					}
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					if err := onChunk(Chunk{InlineData: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}); err != nil {
						return err
					}
				}
			}
		}
		if cand.FinishReason != "" {
			done = true
			if err := onChunk(Chunk{Done: true, StopReason: string(cand.FinishReason)}); err != nil {
				return err
			}
		}
	}
	if !done {
		return onChunk(Chunk{Done: true, StopReason: "stop"})
	}
	return nil
}
