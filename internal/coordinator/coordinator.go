// ABOUTME: Coordinator wiring transport callbacks to the registry, dispatcher and router
// ABOUTME: Recovers handler panics and turns validation failures into error events

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/args-gateway/internal/collab"
	"github.com/2389/args-gateway/internal/dispatch"
	"github.com/2389/args-gateway/internal/hub"
	"github.com/2389/args-gateway/internal/matcher"
	"github.com/2389/args-gateway/internal/metrics"
	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
	"github.com/2389/args-gateway/internal/seal"
)

// Capabilities are announced to every client in the welcome event.
var Capabilities = []string{
	"session-management",
	"agent-registration",
	"task-distribution",
	"collaboration",
	"progress-tracking",
	"message-protection",
}

// Transport delivers encoded events to live connections.
type Transport interface {
	Send(connID, event string, data any) error
	SendMany(connIDs []string, event string, data any) int
	Broadcast(event string, data any) int
	Count() int
}

// Params holds the dependencies of a Coordinator. Ledger may be nil.
type Params struct {
	Registry    *registry.Registry
	Metrics     *metrics.Aggregator
	Transport   Transport
	Ledger      dispatch.Recorder
	Environment string
	ServerName  string
	// StepUnit scales the delays of simulated agent runs. Defaults to one second.
	StepUnit time.Duration
	Logger   *slog.Logger
}

// Coordinator handles connection events for the gateway.
type Coordinator struct {
	reg        *registry.Registry
	metrics    *metrics.Aggregator
	transport  Transport
	dispatcher *dispatch.Dispatcher
	router     *collab.Router
	env        string
	server     string
	stepUnit   time.Duration
	logger     *slog.Logger

	simulations sync.WaitGroup
}

// New creates a Coordinator along with its matcher, dispatcher and router.
func New(p Params) *Coordinator {
	if p.StepUnit <= 0 {
		p.StepUnit = time.Second
	}
	c := &Coordinator{
		reg:       p.Registry,
		metrics:   p.Metrics,
		transport: p.Transport,
		env:       p.Environment,
		server:    p.ServerName,
		stepUnit:  p.StepUnit,
		logger:    p.Logger.With("component", "coordinator"),
	}
	c.dispatcher = dispatch.New(dispatch.Params{
		Registry:    p.Registry,
		Matcher:     matcher.New(p.Registry, p.Logger),
		Emitter:     c,
		Metrics:     p.Metrics,
		Ledger:      p.Ledger,
		Environment: p.Environment,
		Logger:      p.Logger,
	})
	c.router = collab.New(p.Registry, c, p.Logger)
	return c
}

// Dispatcher returns the task dispatcher.
func (c *Coordinator) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// ToSession delivers an event to every connection in the session room.
func (c *Coordinator) ToSession(sessionID, event string, data any) {
	c.transport.SendMany(c.reg.Members(sessionID), event, data)
}

// ToConnection delivers an event to one connection. Connections that are gone, or that never
// existed on the transport, are ignored.
func (c *Coordinator) ToConnection(connID, event string, data any) {
	if err := c.transport.Send(connID, event, data); err != nil && !errors.Is(err, hub.ErrConnectionNotFound) {
		c.logger.Debug("send failed", "conn_id", connID, "event", event, "error", err)
	}
}

// OnConnect registers the connection and sends the welcome event.
func (c *Coordinator) OnConnect(ctx context.Context, client hub.Client) {
	c.reg.Connect(client.ID)
	c.metrics.Connected()

	c.ToConnection(client.ID, protocol.EventWelcome, protocol.Welcome{
		Protocol:     protocol.Name,
		Version:      protocol.Version,
		Environment:  c.env,
		Server:       c.server,
		ConnectionID: client.ID,
		Capabilities: Capabilities,
		Timestamp:    protocol.Timestamp(c.reg.Now()),
	})
}

// OnDisconnect removes the connection's agents and announces each removal to the sessions
// that listed the agent.
func (c *Coordinator) OnDisconnect(connID string) {
	c.metrics.Disconnected()
	c.disconnect(connID, "disconnection")
}

func (c *Coordinator) disconnect(connID, reason string) {
	_, removals := c.reg.Disconnect(connID)
	now := protocol.Timestamp(c.reg.Now())
	for _, r := range removals {
		c.ToSession(r.SessionID, protocol.EventAgentUnregistered, protocol.AgentUnregistered{
			SessionID: r.SessionID,
			AgentID:   r.AgentID,
			Reason:    reason,
			Timestamp: now,
		})
	}
}

// OnMessage handles one inbound frame. It never panics.
func (c *Coordinator) OnMessage(ctx context.Context, connID string, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.Error()
			c.logger.Error("handler panic",
				"conn_id", connID,
				"event", env.Event,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			c.sendError(connID, env.Event, "Internal server error")
		}
	}()

	if err := c.Handle(ctx, connID, env); err != nil {
		c.logger.Debug("event rejected", "conn_id", connID, "event", env.Event, "error", err)
		c.sendError(connID, env.Event, clientMessage(err))
	}
}

// clientMessage strips sentinel prefixes so clients see "Task ID required" rather than
// "validation error: Task ID required".
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{protocol.ErrValidation, registry.ErrValidation} {
		if errors.Is(err, sentinel) {
			if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
				return rest
			}
		}
	}
	return msg
}

func (c *Coordinator) sendError(connID, event, msg string) {
	c.ToConnection(connID, protocol.EventError, protocol.ErrorPayload{
		Message:   msg,
		Event:     event,
		Timestamp: protocol.Timestamp(c.reg.Now()),
	})
}

// Handle decodes env and applies it. The returned error is suitable for the sender.
func (c *Coordinator) Handle(ctx context.Context, connID string, env protocol.Envelope) error {
	in, err := protocol.Decode(env)
	if err != nil {
		return err
	}

	switch msg := in.(type) {
	case *protocol.JoinSession:
		return c.joinSession(connID, msg)
	case *protocol.RegisterAgent:
		return c.registerAgent(connID, msg)
	case *protocol.StartTask:
		c.metrics.MessageProcessed()
		_, err := c.dispatcher.StartTask(ctx, msg)
		return err
	case *protocol.AgentProgress:
		c.metrics.MessageProcessed()
		c.dispatcher.ReportProgress(ctx, msg)
		return nil
	case *protocol.CollaborationRequest:
		c.metrics.MessageProcessed()
		c.router.Route(connID, msg)
		return nil
	case *protocol.ProtectMessage:
		return c.protectMessage(connID, msg)
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, env.Event)
	}
}

func (c *Coordinator) joinSession(connID string, msg *protocol.JoinSession) error {
	state, err := c.reg.JoinSession(connID, msg.SessionID)
	if err != nil {
		return err
	}
	c.ToConnection(connID, protocol.EventSessionState, protocol.SessionStateOf(state, c.reg.Now()))
	return nil
}

func (c *Coordinator) registerAgent(connID string, msg *protocol.RegisterAgent) error {
	agent, sessions, err := c.reg.RegisterAgent(msg.AgentInfo(), connID)
	if err != nil {
		return err
	}
	view := protocol.AgentViewOf(agent)
	now := protocol.Timestamp(c.reg.Now())
	for _, sid := range sessions {
		c.ToSession(sid, protocol.EventAgentRegistered, protocol.AgentRegistered{
			SessionID: sid,
			Agent:     view,
			Timestamp: now,
		})
	}
	return nil
}

func (c *Coordinator) protectMessage(connID string, msg *protocol.ProtectMessage) error {
	payload, err := json.Marshal(map[string]any{
		"userId":  msg.UserID,
		"message": msg.Message,
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	sealed, err := seal.Seal(payload, msg.Secret)
	if err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}

	token := uuid.NewString()
	now := protocol.Timestamp(c.reg.Now())
	c.transport.Broadcast(protocol.EventEncryptedMessage, protocol.EncryptedMessage{
		EncryptedData: sealed,
		SenderID:      connID,
		Token:         token,
		Algorithm:     seal.Algorithm,
		Timestamp:     now,
	})
	c.ToConnection(connID, protocol.EventMessageProtected, protocol.MessageProtected{
		Success:   true,
		Token:     token,
		Message:   "Message encrypted and broadcast",
		Timestamp: now,
	})
	return nil
}

// Broadcast delivers an operator-supplied event to a session room, or to every connection
// when sessionID is empty. It counts as a processed message and returns the number of
// connections that accepted the event.
func (c *Coordinator) Broadcast(sessionID, event string, data any) int {
	c.metrics.MessageProcessed()
	if sessionID == "" {
		return c.transport.Broadcast(event, data)
	}
	return c.transport.SendMany(c.reg.Members(sessionID), event, data)
}

// Wait blocks until every running simulation has finished.
func (c *Coordinator) Wait() {
	c.simulations.Wait()
}
