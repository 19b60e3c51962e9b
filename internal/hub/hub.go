// ABOUTME: WebSocket hub built on coder/websocket with per-connection buffered writers
// ABOUTME: Frames are {"event","data"} JSON text messages; full queues drop rather than block

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/args-gateway/internal/auth"
	"github.com/2389/args-gateway/internal/protocol"
)

const (
	// sendBufferSize is the per-connection outbound queue length.
	sendBufferSize = 64

	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

// ErrConnectionNotFound is returned when sending to an unknown connection id.
var ErrConnectionNotFound = errors.New("connection not found")

// ErrQueueFull is returned when a connection's outbound queue is full and the event was dropped.
var ErrQueueFull = errors.New("send queue full")

// Client describes an accepted connection.
type Client struct {
	ID         string
	Principal  auth.Principal
	RemoteAddr string
}

// Handler receives connection lifecycle callbacks and inbound frames. Calls for one
// connection are never concurrent; calls for different connections are.
type Handler interface {
	OnConnect(ctx context.Context, c Client)
	OnMessage(ctx context.Context, connID string, env protocol.Envelope)
	OnDisconnect(connID string)
}

// Config controls accept policy and connection limits.
type Config struct {
	Verifier     auth.TokenVerifier
	RequireToken bool
	// AnyOrigin disables the same-origin check. Used in development.
	AnyOrigin      bool
	OriginPatterns []string
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub owns every live WebSocket connection.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	conns   map[string]*conn
	handler Handler
	closed  bool
	active  sync.WaitGroup
}

// New creates a Hub. SetHandler must be called before serving.
func New(cfg Config, logger *slog.Logger) *Hub {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Hub{
		cfg:    cfg,
		logger: logger.With("component", "hub"),
		conns:  make(map[string]*conn),
	}
}

// SetHandler installs the handler for connection events.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Accepting reports whether the hub accepts new connections.
func (h *Hub) Accepting() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.closed && h.handler != nil
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler, closed := h.handler, h.closed
	if !closed {
		h.active.Add(1)
	}
	h.mu.RUnlock()
	if closed || handler == nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	principal, authErr := auth.Authenticate(r, h.cfg.Verifier, h.cfg.RequireToken)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.cfg.AnyOrigin,
		OriginPatterns:     h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if authErr != nil {
		h.reject(r.Context(), ws, authErr)
		h.logger.Warn("auth failure", "reason", authErr.Error(), "remote_addr", r.RemoteAddr)
		return
	}

	ws.SetReadLimit(h.cfg.ReadLimit)
	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		cancel: cancel,
	}

	if !h.track(c) {
		cancel()
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go h.writeLoop(ctx, c)

	logger := h.logger.With("conn_id", c.id)
	logger.Info("client connected", "remote_addr", r.RemoteAddr, "principal", principal.Subject)

	handler.OnConnect(ctx, Client{ID: c.id, Principal: principal, RemoteAddr: r.RemoteAddr})
	h.readLoop(ctx, c, handler, logger)

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	cancel()

	handler.OnDisconnect(c.id)
	_ = ws.CloseNow()
	logger.Info("client disconnected")
}

// track adds c to the live set unless Close has already taken its snapshot.
func (h *Hub) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Hub) reject(ctx context.Context, ws *websocket.Conn, authErr error) {
	msg := "Authentication failed"
	if errors.Is(authErr, auth.ErrMissingToken) {
		msg = "Authentication token required"
	}
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	_ = wsjson.Write(wctx, ws, protocol.Message{
		Event: protocol.EventAuthError,
		Data:  protocol.ErrorPayload{Message: msg, Timestamp: protocol.Timestamp(time.Now())},
	})
	_ = ws.Close(websocket.StatusPolicyViolation, msg)
}

func (h *Hub) readLoop(ctx context.Context, c *conn, handler Handler, logger *slog.Logger) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Debug("read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			h.sendError(c.id, "binary frames are not supported")
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.sendError(c.id, "malformed frame")
			continue
		}
		handler.OnMessage(ctx, c.id, env)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug("write failed", "conn_id", c.id, "error", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				h.logger.Debug("ping failed", "conn_id", c.id, "error", err)
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) sendError(connID, msg string) {
	_ = h.Send(connID, protocol.EventError, protocol.ErrorPayload{
		Message:   msg,
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

func encode(event string, data any) ([]byte, error) {
	b, err := json.Marshal(protocol.Message{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", event, err)
	}
	return b, nil
}

// Send queues an event for one connection.
func (h *Hub) Send(connID, event string, data any) error {
	msg, err := encode(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	if !h.enqueue(c, msg, event) {
		return ErrQueueFull
	}
	return nil
}

// SendMany queues an event for each listed connection and returns how many accepted it.
// Unknown ids are skipped.
func (h *Hub) SendMany(connIDs []string, event string, data any) int {
	if len(connIDs) == 0 {
		return 0
	}
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.enqueue(c, msg, event) {
			delivered++
		}
	}
	return delivered
}

// Broadcast queues an event for every live connection and returns how many accepted it.
func (h *Hub) Broadcast(event string, data any) int {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.enqueue(c, msg, event) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) enqueue(c *conn, msg []byte, event string) bool {
	select {
	case c.send <- msg:
		return true
	default:
		h.logger.Debug("dropped event for slow connection", "conn_id", c.id, "event", event)
		return false
	}
}

// Close stops accepting connections, closes every live connection with StatusGoingAway and
// waits for their handlers to finish or ctx to expire.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		go func() {
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
			c.cancel()
		}()
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
