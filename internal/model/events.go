// Package model defines the data structures crossing the WebSocket and
// pub/sub boundaries.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates the event union.
type EventType string

const (
	EventPing               EventType = "ping"
	EventPong               EventType = "pong"
	EventTyping             EventType = "typing"
	EventChatRequest        EventType = "ai_chat_request"
	EventChatChunk          EventType = "ai_chat_chunk"
	EventChatResponse       EventType = "ai_chat_response"
	EventChatError          EventType = "ai_chat_error"
	EventChatInlineData     EventType = "ai_chat_inline_data"
	EventImageGenRequest    EventType = "image_gen_request"
	EventImageGenResponse   EventType = "image_gen_response"
	EventAssetUploadRequest EventType = "asset_upload_request"
	EventAssetUploadRespond EventType = "asset_upload_response"
	EventStreamSubscribe    EventType = "stream:subscribe"
	EventStreamResumed      EventType = "stream:resumed"
	EventConvCreated        EventType = "conversation:created"
	EventConvTitleUpdated   EventType = "conversation:title_updated"
	EventConvDeleted        EventType = "conversation:deleted"
	EventSettingsUpdated    EventType = "user:settings_updated"
	EventAPIKeyUpdated      EventType = "user:api_key_updated"
	EventPresenceConnected  EventType = "presence:connected"
	EventPresenceGone       EventType = "presence:disconnected"
	EventSystemBroadcast    EventType = "system:broadcast"
	EventSystemMetrics      EventType = "system:metrics"
)

// ErrUnknownEventType reports a frame whose type is not registered.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is implemented by every value that crosses the WS or pub/sub boundary.
type Event interface {
	EventType() EventType
}

// ChatRequest asks for a streamed completion on a conversation.
type ChatRequest struct {
	Type                  EventType `json:"type"`
	ConversationID        string    `json:"conversationId"`
	Prompt                string    `json:"prompt"`
	Provider              Provider  `json:"provider,omitempty"`
	Model                 string    `json:"model,omitempty"`
	SystemPrompt          string    `json:"systemPrompt,omitempty"`
	Temperature           *float64  `json:"temperature,omitempty"`
	TopP                  *float64  `json:"topP,omitempty"`
	MaxTokens             int       `json:"maxTokens,omitempty"`
	HasProviderConfigured bool      `json:"hasProviderConfigured,omitempty"`
	IsDefaultProvider     bool      `json:"isDefaultProvider,omitempty"`
}

func (e ChatRequest) EventType() EventType { return EventChatRequest }

// ChatChunk is a single streamed fragment, text or reasoning.
type ChatChunk struct {
	Type             EventType `json:"type"`
	ConversationID   string    `json:"conversationId"`
	UserID           string    `json:"userId"`
	Provider         Provider  `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	Title            string    `json:"title,omitempty"`
	SystemPrompt     string    `json:"systemPrompt,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"topP,omitempty"`
	Chunk            string    `json:"chunk,omitempty"`
	ThinkingText     string    `json:"thinkingText,omitempty"`
	IsThinking       bool      `json:"isThinking,omitempty"`
	ThinkingDuration int64     `json:"thinkingDuration,omitempty"`
	Done             bool      `json:"done"`
}

func (e ChatChunk) EventType() EventType { return EventChatChunk }

// ChatResponse is the terminal event carrying the concatenated text.
type ChatResponse struct {
	Type             EventType `json:"type"`
	ConversationID   string    `json:"conversationId"`
	UserID           string    `json:"userId"`
	Provider         Provider  `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	Title            string    `json:"title,omitempty"`
	SystemPrompt     string    `json:"systemPrompt,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"topP,omitempty"`
	Chunk            string    `json:"chunk"`
	ThinkingText     string    `json:"thinkingText,omitempty"`
	ThinkingDuration int64     `json:"thinkingDuration,omitempty"`
	ElapsedMs        int64     `json:"elapsedMs,omitempty"`
	Done             bool      `json:"done"`
}

func (e ChatResponse) EventType() EventType { return EventChatResponse }

// ChatError is scoped to the requesting connection.
type ChatError struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Provider       Provider  `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	Code           string    `json:"code,omitempty"`
	Message        string    `json:"message"`
	Done           bool      `json:"done"`
}

func (e ChatError) EventType() EventType { return EventChatError }

// ChatInlineData carries provider-generated binary content (base64).
type ChatInlineData struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Provider       Provider  `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	Data           string    `json:"data"`
}

func (e ChatInlineData) EventType() EventType { return EventChatInlineData }

// ImageGenRequest asks the image-generation collaborator for an image.
type ImageGenRequest struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Prompt         string    `json:"prompt"`
	Seed           *int64    `json:"seed,omitempty"`
}

func (e ImageGenRequest) EventType() EventType { return EventImageGenRequest }

// ImageGenResponse reports the generated image URL or a failure.
type ImageGenResponse struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Success        bool      `json:"success"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func (e ImageGenResponse) EventType() EventType { return EventImageGenResponse }

// AssetUploadRequest carries a base64 payload destined for object storage.
type AssetUploadRequest struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Filename       string    `json:"filename"`
	ContentType    string    `json:"contentType"`
	Base64         string    `json:"base64"`
}

func (e AssetUploadRequest) EventType() EventType { return EventAssetUploadRequest }

// AssetUploadResponse reports the public URL of an uploaded asset.
type AssetUploadResponse struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Success        bool      `json:"success"`
	URL            string    `json:"url,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func (e AssetUploadResponse) EventType() EventType { return EventAssetUploadRespond }

// Typing signals typing activity on a conversation.
type Typing struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId,omitempty"`
}

func (e Typing) EventType() EventType { return EventTyping }

// Ping is a client liveness probe.
type Ping struct {
	Type EventType `json:"type"`
}

func (e Ping) EventType() EventType { return EventPing }

// Pong answers a Ping.
type Pong struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId,omitempty"`
}

func (e Pong) EventType() EventType { return EventPong }

// StreamSubscribe attaches the connection to a conversation's stream channel.
type StreamSubscribe struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
}

func (e StreamSubscribe) EventType() EventType { return EventStreamSubscribe }

// StreamResumed replays the entire buffered chunk sequence on resubscribe.
type StreamResumed struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	ResumedAt      int       `json:"resumedAt"`
	Chunks         []string  `json:"chunks"`
	ThinkingChunks []string  `json:"thinkingChunks,omitempty"`
	Title          string    `json:"title,omitempty"`
	Model          string    `json:"model,omitempty"`
	Provider       Provider  `json:"provider,omitempty"`
}

func (e StreamResumed) EventType() EventType { return EventStreamResumed }

// ConversationCreated announces a freshly minted conversation.
type ConversationCreated struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Title          string    `json:"title"`
	Timestamp      int64     `json:"timestamp"`
}

func (e ConversationCreated) EventType() EventType { return EventConvCreated }

// ConversationTitleUpdated announces a title change.
type ConversationTitleUpdated struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Title          string    `json:"title"`
	Timestamp      int64     `json:"timestamp"`
}

func (e ConversationTitleUpdated) EventType() EventType { return EventConvTitleUpdated }

// ConversationDeleted announces a deleted conversation.
type ConversationDeleted struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Timestamp      int64     `json:"timestamp"`
}

func (e ConversationDeleted) EventType() EventType { return EventConvDeleted }

// UserSettingsUpdated announces a settings change.
type UserSettingsUpdated struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId"`
	Changes   map[string]any `json:"changes"`
	Timestamp int64          `json:"timestamp"`
}

func (e UserSettingsUpdated) EventType() EventType { return EventSettingsUpdated }

// UserAPIKeyUpdated announces a provider-key lifecycle change.
type UserAPIKeyUpdated struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Provider  Provider  `json:"provider"`
	Action    string    `json:"action"`
	Timestamp int64     `json:"timestamp"`
}

func (e UserAPIKeyUpdated) EventType() EventType { return EventAPIKeyUpdated }

// PresenceConnected announces a user's connection to an instance.
type PresenceConnected struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp int64     `json:"timestamp"`
}

func (e PresenceConnected) EventType() EventType { return EventPresenceConnected }

// PresenceDisconnected announces a user's disconnect.
type PresenceDisconnected struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp int64     `json:"timestamp"`
}

func (e PresenceDisconnected) EventType() EventType { return EventPresenceGone }

// SystemBroadcast is an operator message relayed to every client.
type SystemBroadcast struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
}

func (e SystemBroadcast) EventType() EventType { return EventSystemBroadcast }

// SystemMetrics is a periodic per-instance gauge snapshot.
type SystemMetrics struct {
	Type        EventType `json:"type"`
	InstanceID  string    `json:"instanceId"`
	Connections int       `json:"connections"`
	Timestamp   int64     `json:"timestamp"`
}

func (e SystemMetrics) EventType() EventType { return EventSystemMetrics }

type envelope struct {
	Type EventType `json:"type"`
}

// ParseEvent decodes a raw frame into its concrete event type.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventPing:
		ev, err = decode[Ping](data)
	case EventPong:
		ev, err = decode[Pong](data)
	case EventTyping:
		ev, err = decode[Typing](data)
	case EventChatRequest:
		ev, err = decode[ChatRequest](data)
	case EventChatChunk:
		ev, err = decode[ChatChunk](data)
	case EventChatResponse:
		ev, err = decode[ChatResponse](data)
	case EventChatError:
		ev, err = decode[ChatError](data)
	case EventChatInlineData:
		ev, err = decode[ChatInlineData](data)
	case EventImageGenRequest:
		ev, err = decode[ImageGenRequest](data)
	case EventImageGenResponse:
		ev, err = decode[ImageGenResponse](data)
	case EventAssetUploadRequest:
		ev, err = decode[AssetUploadRequest](data)
	case EventAssetUploadRespond:
		ev, err = decode[AssetUploadResponse](data)
	case EventStreamSubscribe:
		ev, err = decode[StreamSubscribe](data)
	case EventStreamResumed:
		ev, err = decode[StreamResumed](data)
	case EventConvCreated:
		ev, err = decode[ConversationCreated](data)
	case EventConvTitleUpdated:
		ev, err = decode[ConversationTitleUpdated](data)
	case EventConvDeleted:
		ev, err = decode[ConversationDeleted](data)
	case EventSettingsUpdated:
		ev, err = decode[UserSettingsUpdated](data)
	case EventAPIKeyUpdated:
		ev, err = decode[UserAPIKeyUpdated](data)
	case EventPresenceConnected:
		ev, err = decode[PresenceConnected](data)
	case EventPresenceGone:
		ev, err = decode[PresenceDisconnected](data)
	case EventSystemBroadcast:
		ev, err = decode[SystemBroadcast](data)
	case EventSystemMetrics:
		ev, err = decode[SystemMetrics](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	return ev, err
}

func decode[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	return v, nil
}

// MarshalEvent serializes an event, verifying the tag matches the type.
func MarshalEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type != e.EventType() {
		return nil, fmt.Errorf("event type mismatch: tagged %q, want %q", env.Type, e.EventType())
	}
	return data, nil
}
