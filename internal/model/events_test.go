package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventChatRequest(t *testing.T) {
	raw := []byte(`{
		"type": "ai_chat_request",
		"conversationId": "c-1",
		"prompt": "hello",
		"provider": "anthropic",
		"model": "claude-sonnet-4-20250514",
		"temperature": 0.7
	}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)

	req, ok := ev.(ChatRequest)
	require.True(t, ok)
	assert.Equal(t, "c-1", req.ConversationID)
	assert.Equal(t, "hello", req.Prompt)
	assert.Equal(t, ProviderAnthropic, req.Provider)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)
}

func TestParseEventUnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"no_such_event"}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	require.Error(t, err)
}

func TestMarshalEventRoundTrip(t *testing.T) {
	chunk := ChatChunk{
		Type:           EventChatChunk,
		ConversationID: "c-2",
		UserID:         "u-1",
		Provider:       ProviderOpenAI,
		Chunk:          "partial",
	}

	data, err := MarshalEvent(chunk)
	require.NoError(t, err)

	parsed, err := ParseEvent(data)
	require.NoError(t, err)
	assert.Equal(t, chunk, parsed)
}

func TestMarshalEventTagMismatch(t *testing.T) {
	// A mistagged event must not cross the boundary.
	_, err := MarshalEvent(ChatChunk{Type: EventChatResponse, ConversationID: "c-3"})
	require.Error(t, err)
}

func TestNormalizeProvider(t *testing.T) {
	assert.Equal(t, ProviderGrok, NormalizeProvider(ProviderGrok))
	assert.Equal(t, ProviderOpenAI, NormalizeProvider(""))
	assert.Equal(t, ProviderOpenAI, NormalizeProvider("mystery"))
}
