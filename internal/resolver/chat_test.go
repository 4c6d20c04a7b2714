package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream-ai/realtime-gateway/internal/credentials"
	"github.com/slipstream-ai/realtime-gateway/internal/encryption"
	"github.com/slipstream-ai/realtime-gateway/internal/llm"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
)

const chatTestSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeKeyStore struct{}

func (fakeKeyStore) GetUserAPIKey(ctx context.Context, userID, provider string) (*encryption.EncryptedPayload, error) {
	return nil, nil
}

type fakeLLM struct {
	provider model.Provider
	chunks   []llm.Chunk
	err      error

	mu     sync.Mutex
	calls  int
	gotReq llm.StreamRequest
}

func (f *fakeLLM) Provider() model.Provider { return f.provider }

func (f *fakeLLM) Stream(ctx context.Context, req llm.StreamRequest, onChunk llm.ChunkHandler) error {
	f.mu.Lock()
	f.calls++
	f.gotReq = req
	f.mu.Unlock()
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type activeMark struct {
	conversationID string
	active         bool
}

type fakeConn struct {
	userID string

	mu         sync.Mutex
	events     []model.Event
	channels   []string
	active     map[string]bool
	activeHist []activeMark
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{userID: userID, active: make(map[string]bool)}
}

func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(ev model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Subscribe(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
	return nil
}

func (c *fakeConn) SetActiveConversation(conversationID string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[conversationID] = active
	c.activeHist = append(c.activeHist, activeMark{conversationID, active})
}

func (c *fakeConn) activeMarks() []activeMark {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]activeMark, len(c.activeHist))
	copy(out, c.activeHist)
	return out
}

func (c *fakeConn) sent() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Event, len(c.events))
	copy(out, c.events)
	return out
}

type chatFixture struct {
	resolver *Resolver
	streams  *redis.StreamStore
	bus      *redis.Bus
	llm      *fakeLLM
}

func newChatFixture(t *testing.T, fake *fakeLLM) *chatFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewNop()
	bus := redis.NewBus(client, log, time.Minute, false, 3)
	t.Cleanup(bus.Close)
	streams := redis.NewStreamStore(client, time.Hour)

	enc, err := encryption.New(chatTestSecret)
	require.NoError(t, err)
	creds := credentials.NewResolver(fakeKeyStore{}, enc,
		map[model.Provider]string{model.ProviderOpenAI: "sk-default"}, nil, log)

	res := New(log, bus, streams, llm.NewRegistry(fake), creds,
		NewTitleGenerator(nil, log), Options{})
	return &chatFixture{resolver: res, streams: streams, bus: bus, llm: fake}
}

func TestChatStreamsAndPersists(t *testing.T) {
	fake := &fakeLLM{
		provider: model.ProviderOpenAI,
		chunks: []llm.Chunk{
			{Text: "Hel"},
			{Text: "lo "},
			{Text: "world"},
			{Done: true, StopReason: "stop"},
		},
	}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:     model.EventChatRequest,
		Prompt:   "Say hello",
		Provider: model.ProviderOpenAI,
	})
	require.NoError(t, err)

	events := conn.sent()
	var chunks []model.ChatChunk
	var final *model.ChatResponse
	for _, ev := range events {
		switch e := ev.(type) {
		case model.ChatChunk:
			chunks = append(chunks, e)
		case model.ChatResponse:
			final = &e
		case model.ChatError:
			t.Fatalf("unexpected error event: %+v", e)
		}
	}

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Chunk)
	assert.Equal(t, "world", chunks[2].Chunk)
	require.NotNil(t, final)
	assert.Equal(t, "Hello world", final.Chunk)
	assert.True(t, final.Done)
	assert.Equal(t, "u-1", final.UserID)
	assert.Equal(t, "gpt-4.1-nano", final.Model)

	conversationID := final.ConversationID
	_, err = uuid.Parse(conversationID)
	require.NoError(t, err)

	state, err := fx.streams.Get(context.Background(), conversationID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, state.Chunks)
	assert.True(t, state.Metadata.Completed)
	assert.Equal(t, 3, state.Metadata.TotalChunks)
	assert.Equal(t, "Say hello", state.Metadata.Title)

	// Writer ownership was released when the stream finished.
	assert.False(t, conn.active[conversationID])
	assert.Contains(t, conn.channels, redis.StreamChannel(conversationID))
}

func TestChatMintsConversationForNewChatSentinel(t *testing.T) {
	fake := &fakeLLM{
		provider: model.ProviderOpenAI,
		chunks:   []llm.Chunk{{Text: "minted"}, {Done: true}},
	}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:           model.EventChatRequest,
		ConversationID: "new-chat",
		Prompt:         "start fresh",
		Provider:       model.ProviderOpenAI,
	})
	require.NoError(t, err)
	require.Equal(t, 1, fake.callCount())

	var final *model.ChatResponse
	for _, ev := range conn.sent() {
		switch e := ev.(type) {
		case model.ChatError:
			t.Fatalf("unexpected error event: %+v", e)
		case model.ChatResponse:
			final = &e
		}
	}
	require.NotNil(t, final)
	assert.NotEqual(t, "new-chat", final.ConversationID)
	_, err = uuid.Parse(final.ConversationID)
	require.NoError(t, err)

	state, err := fx.streams.Get(context.Background(), final.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "start fresh", state.Metadata.Title)
	assert.True(t, state.Metadata.Completed)
}

func TestChatRejectsConcurrentWriter(t *testing.T) {
	fake := &fakeLLM{provider: model.ProviderOpenAI, chunks: []llm.Chunk{{Text: "x"}, {Done: true}}}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	conversationID := uuid.NewString()
	require.NoError(t, fx.streams.Save(context.Background(), conversationID, &model.StreamState{
		Chunks:   []string{"partial"},
		Metadata: model.StreamMetadata{TotalChunks: 1, Completed: false},
	}))

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:           model.EventChatRequest,
		ConversationID: conversationID,
		Prompt:         "second request",
		Provider:       model.ProviderOpenAI,
	})
	require.NoError(t, err)

	events := conn.sent()
	require.Len(t, events, 1)
	chatErr, ok := events[0].(model.ChatError)
	require.True(t, ok)
	assert.Equal(t, "stream_in_progress", chatErr.Code)
	assert.Zero(t, fake.callCount())
}

func TestChatAllowsNewStreamAfterCompletion(t *testing.T) {
	fake := &fakeLLM{provider: model.ProviderOpenAI, chunks: []llm.Chunk{{Text: "again"}, {Done: true}}}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	conversationID := uuid.NewString()
	require.NoError(t, fx.streams.Save(context.Background(), conversationID, &model.StreamState{
		Chunks:   []string{"done earlier"},
		Metadata: model.StreamMetadata{TotalChunks: 1, Completed: true},
	}))

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:           model.EventChatRequest,
		ConversationID: conversationID,
		Prompt:         "follow up",
		Provider:       model.ProviderOpenAI,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callCount())

	state, err := fx.streams.Get(context.Background(), conversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"again"}, state.Chunks)
	assert.True(t, state.Metadata.Completed)
}

func TestChatProviderFailureIsScoped(t *testing.T) {
	fake := &fakeLLM{
		provider: model.ProviderOpenAI,
		chunks:   []llm.Chunk{{Text: "par"}},
		err:      context.DeadlineExceeded,
	}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:     model.EventChatRequest,
		Prompt:   "doomed",
		Provider: model.ProviderOpenAI,
	})
	require.NoError(t, err)

	events := conn.sent()
	var chatErr *model.ChatError
	for _, ev := range events {
		if e, ok := ev.(model.ChatError); ok {
			chatErr = &e
		}
	}
	require.NotNil(t, chatErr)
	assert.Equal(t, "timeout", chatErr.Code)
	assert.True(t, chatErr.Done)

	// The buffer survives, non-completed, for the conflict check.
	state, err := fx.streams.Get(context.Background(), chatErr.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, []string{"par"}, state.Chunks)
	assert.False(t, state.Metadata.Completed)
}

func TestChatThinkingChunks(t *testing.T) {
	fake := &fakeLLM{
		provider: model.ProviderOpenAI,
		chunks: []llm.Chunk{
			{Thinking: "considering"},
			{Text: "answer"},
			{Done: true},
		},
	}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:     model.EventChatRequest,
		Prompt:   "think first",
		Provider: model.ProviderOpenAI,
	})
	require.NoError(t, err)

	var thinking, text int
	var convID string
	for _, ev := range conn.sent() {
		if e, ok := ev.(model.ChatChunk); ok {
			convID = e.ConversationID
			if e.IsThinking {
				thinking++
				assert.Equal(t, "considering", e.ThinkingText)
			} else {
				text++
			}
		}
	}
	assert.Equal(t, 1, thinking)
	assert.Equal(t, 1, text)

	state, err := fx.streams.Get(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, []string{"considering"}, state.ThinkingChunks)
	assert.Equal(t, []string{"answer"}, state.Chunks)
}

func TestChatRejectsEmptyPrompt(t *testing.T) {
	fake := &fakeLLM{provider: model.ProviderOpenAI}
	fx := newChatFixture(t, fake)
	conn := newFakeConn("u-1")

	err := fx.resolver.Dispatch(context.Background(), conn, model.ChatRequest{
		Type:   model.EventChatRequest,
		Prompt: "   ",
	})
	require.NoError(t, err)

	events := conn.sent()
	require.Len(t, events, 1)
	chatErr, ok := events[0].(model.ChatError)
	require.True(t, ok)
	assert.Equal(t, "invalid_request", chatErr.Code)
	assert.Zero(t, fake.callCount())
}
