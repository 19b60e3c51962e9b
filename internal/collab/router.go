// ABOUTME: Router storing collaboration requests and delivering them to a target or a room
// ABOUTME: Unknown targets are reported back to the requester only

package collab

import (
	"log/slog"
	"maps"

	"github.com/2389/args-gateway/internal/dispatch"
	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
)

// Router delivers collaboration requests.
type Router struct {
	reg    *registry.Registry
	emit   dispatch.Emitter
	logger *slog.Logger
}

// New creates a Router.
func New(reg *registry.Registry, emit dispatch.Emitter, logger *slog.Logger) *Router {
	return &Router{
		reg:    reg,
		emit:   emit,
		logger: logger.With("component", "collab"),
	}
}

// Route stores req as pending under its session, when the session exists, and delivers it.
// It reports whether the request reached anyone.
func (r *Router) Route(fromConn string, req *protocol.CollaborationRequest) bool {
	now := r.reg.Now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = protocol.DefaultSessionID
	}

	if s, ok := r.reg.Session(sessionID); ok {
		s.AddCollaborationRequest(registry.CollaborationRequest{
			ID:          req.RequestID,
			FromAgent:   req.FromAgent,
			TargetAgent: req.TargetAgent,
			Payload:     req.Payload,
			Timestamp:   now,
		}, now)
	}

	out := make(map[string]any, len(req.Fields)+1)
	maps.Copy(out, req.Fields)
	out["timestamp"] = protocol.Timestamp(now)

	if req.TargetAgent == "" {
		r.emit.ToSession(sessionID, protocol.EventCollaborationRequest, out)
		r.logger.Debug("collaboration request broadcast", "session_id", sessionID, "request_id", req.RequestID)
		return true
	}

	target, ok := r.reg.Agent(req.TargetAgent)
	if !ok {
		r.emit.ToConnection(fromConn, protocol.EventCollaborationError, protocol.CollaborationError{
			RequestID: req.RequestID,
			Error:     "Target agent not found",
			Timestamp: protocol.Timestamp(now),
		})
		r.logger.Info("collaboration target not found",
			"session_id", sessionID,
			"request_id", req.RequestID,
			"agent_id", req.TargetAgent,
		)
		return false
	}

	r.emit.ToConnection(target.ConnectionID, protocol.EventCollaborationRequest, out)
	r.logger.Debug("collaboration request delivered",
		"session_id", sessionID,
		"request_id", req.RequestID,
		"agent_id", target.ID,
		"conn_id", target.ConnectionID,
	)
	return true
}
