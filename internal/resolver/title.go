package resolver

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
)

const (
	titleModel     = "gpt-4.1-nano"
	titleMaxRunes  = 48
	titleTimeout   = 5 * time.Second
	titleSystemMsg = "Generate a concise title (at most six words) for a conversation that starts with the user message. Reply with the title only, no quotes."
	titleMaxTokens = 20
)

// TitleGenerator names new conversations from their first prompt. Failures
// fall back to a truncation of the prompt; a chat is never blocked on
// titling.
type TitleGenerator struct {
	client *openai.Client
	log    *logger.Logger
}

// NewTitleGenerator builds a generator. A nil client disables the model call
// and every title comes from truncation.
func NewTitleGenerator(client *openai.Client, log *logger.Logger) *TitleGenerator {
	return &TitleGenerator{client: client, log: log}
}

// Generate returns a title for a conversation opened with prompt.
func (g *TitleGenerator) Generate(ctx context.Context, prompt string) string {
	if g.client == nil {
		return truncateTitle(prompt)
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: titleModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemMsg},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: titleMaxTokens,
	})
	if err != nil || len(resp.Choices) == 0 {
		g.log.Warnw("title generation failed, truncating prompt", "error", err)
		return truncateTitle(prompt)
	}

	title := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if title == "" {
		return truncateTitle(prompt)
	}
	return title
}

func truncateTitle(prompt string) string {
	title := strings.TrimSpace(prompt)
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		return strings.TrimSpace(string(runes[:titleMaxRunes])) + "…"
	}
	return title
}
