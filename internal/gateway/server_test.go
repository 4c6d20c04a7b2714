package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream-ai/realtime-gateway/internal/auth"
	"github.com/slipstream-ai/realtime-gateway/internal/credentials"
	"github.com/slipstream-ai/realtime-gateway/internal/encryption"
	"github.com/slipstream-ai/realtime-gateway/internal/llm"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/internal/resolver"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
)

const (
	gwTestJWTSecret = "gateway-test-secret"
	gwTestEncSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type fakeSessions struct {
	valid map[string]bool
}

func (f *fakeSessions) IsValidUserAndSession(ctx context.Context, userID string) (bool, error) {
	return f.valid[userID], nil
}

func (f *fakeSessions) IsValidUserAndSessionByEmail(ctx context.Context, email string) (bool, string, error) {
	return false, "", nil
}

type noKeys struct{}

func (noKeys) GetUserAPIKey(ctx context.Context, userID, provider string) (*encryption.EncryptedPayload, error) {
	return nil, nil
}

func newTestServer(t *testing.T, sessions auth.SessionStore) (*Server, *httptest.Server, *redis.Bus) {
	t.Helper()
	return newTestServerOpts(t, sessions, Options{
		HeartbeatInterval: time.Minute,
		HeartbeatEnabled:  false,
		MissedThreshold:   3,
	})
}

func newTestServerOpts(t *testing.T, sessions auth.SessionStore, opts Options) (*Server, *httptest.Server, *redis.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewNop()
	bus := redis.NewBus(client, log, time.Minute, false, 3)
	t.Cleanup(bus.Close)
	streams := redis.NewStreamStore(client, time.Hour)

	enc, err := encryption.New(gwTestEncSecret)
	require.NoError(t, err)
	creds := credentials.NewResolver(noKeys{}, enc,
		map[model.Provider]string{model.ProviderOpenAI: "sk-default"}, nil, log)

	res := resolver.New(log, bus, streams, llm.NewRegistry(), creds,
		resolver.NewTitleGenerator(nil, log), resolver.Options{})

	validator := auth.NewSessionValidator(sessions, gwTestJWTSecret)
	srv := New(log, validator, res, bus, opts)
	t.Cleanup(srv.Shutdown)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return srv, ts, bus
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(gwTestJWTSecret))
	require.NoError(t, err)
	return signed
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func readEvent(t *testing.T, ws *websocket.Conn) model.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	ev, err := model.ParseEvent(data)
	require.NoError(t, err)
	return ev
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	_, ts, _ := newTestServer(t, &fakeSessions{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsDeadSession(t *testing.T) {
	_, ts, _ := newTestServer(t, &fakeSessions{valid: map[string]bool{}})

	url := wsURL(ts) + "?token=" + signTestToken(t, "u-1")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsValidSession(t *testing.T) {
	srv, ts, _ := newTestServer(t, &fakeSessions{valid: map[string]bool{"u-1": true}})

	url := wsURL(ts) + "?token=" + signTestToken(t, "u-1")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	ev := readEvent(t, ws)
	connected, ok := ev.(model.PresenceConnected)
	require.True(t, ok)
	assert.Equal(t, "u-1", connected.UserID)

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPingPongOverSocket(t *testing.T) {
	_, ts, _ := newTestServer(t, &fakeSessions{valid: map[string]bool{"u-1": true}})

	url := wsURL(ts) + "?token=" + signTestToken(t, "u-1")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	readEvent(t, ws) // presence:connected

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	ev := readEvent(t, ws)
	pong, ok := ev.(model.Pong)
	require.True(t, ok)
	assert.Equal(t, "u-1", pong.UserID)
}

func TestUnknownEventGetsScopedError(t *testing.T) {
	_, ts, _ := newTestServer(t, &fakeSessions{valid: map[string]bool{"u-1": true}})

	url := wsURL(ts) + "?token=" + signTestToken(t, "u-1")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	readEvent(t, ws) // presence:connected

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"warp_drive"}`)))

	ev := readEvent(t, ws)
	chatErr, ok := ev.(model.ChatError)
	require.True(t, ok)
	assert.Equal(t, "unknown_event", chatErr.Code)

	// The connection survives the bad frame.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, ok = readEvent(t, ws).(model.Pong)
	require.True(t, ok)
}

func TestSilentClientIsTornDown(t *testing.T) {
	srv, ts, bus := newTestServerOpts(t, &fakeSessions{valid: map[string]bool{"u-1": true}}, Options{
		HeartbeatInterval: 30 * time.Millisecond,
		HeartbeatEnabled:  true,
		MissedThreshold:   2,
	})

	url := wsURL(ts) + "?token=" + signTestToken(t, "u-1")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Never read from the socket, so the client library never answers the
	// server's pings. The read deadline expires and the connection, along
	// with its bus subscriptions, must be released.
	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 0 && bus.SubscriberCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUserChannelFanOut(t *testing.T) {
	_, ts, bus := newTestServer(t, &fakeSessions{valid: map[string]bool{"u-1": true}})

	url := wsURL(ts) + "?token=" + signTestToken(t, "u-1")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	readEvent(t, ws) // presence:connected

	created := model.ConversationCreated{
		Type:           model.EventConvCreated,
		ConversationID: "c-7",
		UserID:         "u-1",
		Title:          "From another instance",
		Timestamp:      time.Now().UnixMilli(),
	}
	// Published as if by a different gateway instance. The user channel
	// subscription is live before presence:connected is sent, so a single
	// publish is delivered.
	require.NoError(t, bus.Publish(context.Background(), redis.UserChannel("u-1"), created))

	ev := readEvent(t, ws)
	got, ok := ev.(model.ConversationCreated)
	require.True(t, ok)
	assert.Equal(t, created, got)
}
