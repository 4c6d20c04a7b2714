package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slipstream-ai/realtime-gateway/internal/auth"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/internal/resolver"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
	"github.com/slipstream-ai/realtime-gateway/pkg/metrics"
)

const metricsInterval = 30 * time.Second

// Options configures the WebSocket server.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatEnabled  bool
	MissedThreshold   int
	ReadLimit         int64
}

// Server accepts WebSocket connections, runs the authentication handshake,
// and pumps events between sockets, the resolver, and the pub/sub bus.
type Server struct {
	log        *logger.Logger
	validator  *auth.SessionValidator
	resolver   *resolver.Resolver
	bus        *redis.Bus
	instanceID string
	opts       Options
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*Connection]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a server.
func New(log *logger.Logger, validator *auth.SessionValidator, res *resolver.Resolver, bus *redis.Bus, opts Options) *Server {
	if opts.ReadLimit == 0 {
		opts.ReadLimit = 1 << 20
	}
	return &Server{
		log:        log,
		validator:  validator,
		resolver:   res,
		bus:        bus,
		instanceID: uuid.NewString(),
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth is the
			// bearer token, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*Connection]struct{}),
		stop:  make(chan struct{}),
	}
}

// InstanceID identifies this gateway instance in system metrics.
func (s *Server) InstanceID() string { return s.instanceID }

// ConnectionCount returns the number of live connections on this instance.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Start wires the instance-level subscribers: operator broadcasts relayed to
// every local client, and a periodic connection-count snapshot published for
// ops tooling. Runs until ctx is done or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	cleanup, err := s.bus.Subscribe(ctx, redis.SystemBroadcasts, s.relayToAll)
	if err != nil {
		return err
	}

	go func() {
		defer cleanup()
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				snapshot := model.SystemMetrics{
					Type:        model.EventSystemMetrics,
					InstanceID:  s.instanceID,
					Connections: s.ConnectionCount(),
					Timestamp:   time.Now().UnixMilli(),
				}
				if err := s.bus.Publish(ctx, redis.SystemMetrics, snapshot); err != nil {
					s.log.Warnw("metrics snapshot publish failed", "error", err)
				}
			}
		}
	}()
	return nil
}

func (s *Server) relayToAll(ev model.Event) {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.Send(ev); err != nil {
			c.log.Debugw("broadcast send failed", "error", err)
		}
	}
}

// HandleWS is the upgrade endpoint. The bearer token is validated before
// the upgrade; an invalid token never reaches the socket layer.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		http.Error(w, `{"error":"missing or malformed token"}`, http.StatusUnauthorized)
		return
	}

	userID, err := s.validator.Validate(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionInvalid) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		s.log.Errorw("session validation failed", "error", err)
		http.Error(w, `{"error":"auth backend unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	conn := newConnection(uuid.NewString(), userID, ws, s.bus, s.log)
	s.register(conn)
	go s.serve(conn)
}

func (s *Server) register(conn *Connection) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	metrics.WSConnectionsActive.Inc()
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	_, present := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if present {
		metrics.WSConnectionsActive.Dec()
	}
}

// serve runs one connection: base subscriptions, presence announcement,
// heartbeats, then the read loop until the client goes away.
func (s *Server) serve(conn *Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		s.unregister(conn)
		gone := model.PresenceDisconnected{
			Type:      model.EventPresenceGone,
			UserID:    conn.UserID(),
			Timestamp: time.Now().UnixMilli(),
		}
		if err := s.bus.Publish(context.Background(), redis.PresenceChannel(conn.UserID()), gone); err != nil {
			conn.log.Warnw("presence disconnect publish failed", "error", err)
		}
		conn.Close()
		conn.log.Infow("connection closed")
	}()

	if err := conn.Subscribe(redis.UserChannel(conn.UserID())); err != nil {
		conn.log.Errorw("user channel subscribe failed", "error", err)
		return
	}

	connected := model.PresenceConnected{
		Type:      model.EventPresenceConnected,
		UserID:    conn.UserID(),
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.bus.Publish(ctx, redis.PresenceChannel(conn.UserID()), connected); err != nil {
		conn.log.Warnw("presence connect publish failed", "error", err)
	}
	if err := conn.Send(connected); err != nil {
		return
	}

	conn.setState(StateActive)
	conn.log.Infow("connection active")

	conn.ws.SetReadLimit(s.opts.ReadLimit)
	if s.opts.HeartbeatEnabled {
		pongWait := s.opts.HeartbeatInterval * time.Duration(s.opts.MissedThreshold)
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		conn.ws.SetPongHandler(func(string) error {
			return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go s.pingLoop(ctx, conn)
	}

	s.readLoop(ctx, conn)
}

// pingLoop probes the client at the heartbeat interval. A dead client is
// detected by the read deadline expiring, which tears down the read loop.
func (s *Server) pingLoop(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.HeartbeatInterval)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				metrics.HeartbeatFailures.WithLabelValues("ws_client").Inc()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *Connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.log.Warnw("read failed", "error", err)
			}
			return
		}

		ev, err := model.ParseEvent(data)
		if err != nil {
			code := "invalid_event"
			if errors.Is(err, model.ErrUnknownEventType) {
				code = "unknown_event"
			}
			if sendErr := conn.Send(model.ChatError{
				Type:    model.EventChatError,
				UserID:  conn.UserID(),
				Code:    code,
				Message: "could not process event",
				Done:    true,
			}); sendErr != nil {
				return
			}
			continue
		}

		switch ev.(type) {
		case model.ChatRequest, model.ImageGenRequest, model.AssetUploadRequest:
			// Long-running work must not block pings and typing events.
			go func(ev model.Event) {
				if err := s.resolver.Dispatch(ctx, conn, ev); err != nil {
					conn.log.Warnw("dispatch failed", "type", ev.EventType(), "error", err)
				}
			}(ev)
		default:
			if err := s.resolver.Dispatch(ctx, conn, ev); err != nil {
				conn.log.Warnw("dispatch failed", "type", ev.EventType(), "error", err)
			}
		}
	}
}

// Shutdown closes every connection and stops the instance subscribers.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
