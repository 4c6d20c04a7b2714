// Package gateway owns the WebSocket surface: connection lifecycle,
// authentication handshake, heartbeats, and pub/sub relay.
package gateway

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
)

// State is the connection lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one authenticated WebSocket client.
//
// Writes are serialized through writeMu; gorilla permits one concurrent
// writer. Subscriptions are tracked per channel so teardown releases every
// duplicated subscriber this connection opened.
type Connection struct {
	id     string
	userID string
	ws     *websocket.Conn
	bus    *redis.Bus
	log    *logger.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	subscriptions map[string]func()
	activeConvs   map[string]struct{}
	closed        bool
}

func newConnection(id, userID string, ws *websocket.Conn, bus *redis.Bus, log *logger.Logger) *Connection {
	return &Connection{
		id:            id,
		userID:        userID,
		ws:            ws,
		bus:           bus,
		log:           log.With("connId", id, "userId", userID),
		state:         StateAuthenticated,
		subscriptions: make(map[string]func()),
		activeConvs:   make(map[string]struct{}),
	}
}

// UserID returns the authenticated user.
func (c *Connection) UserID() string { return c.userID }

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes one event frame to the socket.
func (c *Connection) Send(ev model.Event) error {
	payload, err := model.MarshalEvent(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Subscribe attaches this connection to a pub/sub channel. Subscribing to a
// channel the connection already holds is a no-op.
func (c *Connection) Subscribe(channel string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.subscriptions[channel]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cleanup, err := c.bus.Subscribe(context.Background(), channel, c.relay)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cleanup()
		return nil
	}
	if _, ok := c.subscriptions[channel]; ok {
		// Lost the race with a concurrent subscribe to the same channel.
		cleanup()
		return nil
	}
	c.subscriptions[channel] = cleanup
	return nil
}

// SetActiveConversation marks this connection as the producing writer for a
// conversation. Relay skips stream events for active conversations since the
// producer already received them directly.
func (c *Connection) SetActiveConversation(conversationID string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active {
		c.activeConvs[conversationID] = struct{}{}
	} else {
		delete(c.activeConvs, conversationID)
	}
}

func (c *Connection) isProducing(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.activeConvs[conversationID]
	return ok
}

// relay forwards a pub/sub event to the socket.
func (c *Connection) relay(ev model.Event) {
	if convID := streamConversationID(ev); convID != "" && c.isProducing(convID) {
		return
	}
	if err := c.Send(ev); err != nil {
		c.log.Debugw("relay send failed", "type", ev.EventType(), "error", err)
	}
}

// streamConversationID returns the conversation id for events the producer
// connection emits directly, empty for everything else.
func streamConversationID(ev model.Event) string {
	switch e := ev.(type) {
	case model.ChatChunk:
		return e.ConversationID
	case model.ChatResponse:
		return e.ConversationID
	case model.ChatInlineData:
		return e.ConversationID
	case model.ImageGenResponse:
		return e.ConversationID
	default:
		return ""
	}
}

// Close releases every subscription and closes the socket. Safe to call
// multiple times.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosing
	cleanups := make([]func(), 0, len(c.subscriptions))
	for _, cleanup := range c.subscriptions {
		cleanups = append(cleanups, cleanup)
	}
	c.subscriptions = make(map[string]func())
	c.mu.Unlock()

	for _, cleanup := range cleanups {
		cleanup()
	}
	c.ws.Close()
	c.setState(StateClosed)
}
