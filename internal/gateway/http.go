// ABOUTME: HTTP routes for the WebSocket endpoint, health checks, query API and demo simulation
// ABOUTME: API routes pass through the token middleware; mutating routes require an operator token

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/args-gateway/internal/auth"
	"github.com/2389/args-gateway/internal/coordinator"
	"github.com/2389/args-gateway/internal/ledger"
	"github.com/2389/args-gateway/internal/protocol"
)

// maxBodyBytes bounds JSON request bodies on the API.
const maxBodyBytes = 1 << 20

// BroadcastRequest is the JSON request body for POST /api/ws/broadcast.
type BroadcastRequest struct {
	SessionID string          `json:"sessionId,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// BroadcastResponse is the JSON response for POST /api/ws/broadcast.
type BroadcastResponse struct {
	Status     string `json:"status"`
	SessionID  string `json:"sessionId,omitempty"`
	Event      string `json:"event"`
	Recipients int    `json:"recipients"`
	Timestamp  int64  `json:"timestamp"`
}

// LedgerEntryResponse is one row of GET /api/ledger.
type LedgerEntryResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"sessionId"`
	TaskID    string         `json:"taskId"`
	AgentID   string         `json:"agentId,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// LedgerResponse is the JSON response for GET /api/ledger.
type LedgerResponse struct {
	Count   int                   `json:"count"`
	Entries []LedgerEntryResponse `json:"entries"`
}

// routes builds the HTTP mux.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health and the WebSocket upgrade authenticate on their own terms
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.Handle("GET /ws", g.hub)
	mux.HandleFunc("GET /{$}", g.handleStatusPage)

	api := func(h http.HandlerFunc) http.Handler { return h }
	operator := api
	if g.verifier != nil {
		authMiddleware := auth.HTTPMiddleware(g.verifier, g.config.Auth.RequireToken)
		api = func(h http.HandlerFunc) http.Handler { return authMiddleware(h) }
		operator = func(h http.HandlerFunc) http.Handler { return authMiddleware(requireOperator(h)) }
		g.logger.Info("HTTP auth middleware enabled")
	}

	mux.Handle("GET /api/ws/stats", api(g.handleStats))
	mux.Handle("GET /api/ws/sessions", api(g.handleSessions))
	mux.Handle("GET /api/ws/agents", api(g.handleAgents))
	mux.Handle("POST /api/ws/broadcast", operator(g.handleBroadcast))

	if g.config.Simulation.Enabled {
		mux.Handle("POST /api/demo/simulate-agent", operator(g.handleSimulateAgent))
	}
	if g.ledger != nil {
		mux.Handle("GET /api/ledger", api(g.handleLedger))
	}
	if g.promReg != nil {
		mux.Handle("GET "+g.config.Metrics.Path, promhttp.HandlerFor(g.promReg, promhttp.HandlerOpts{}))
	}

	return mux
}

// requireOperator rejects callers whose token does not carry the operator role.
func requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok || p.Role != auth.RoleOperator {
			sendJSONError(w, http.StatusForbidden, "operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth reports liveness and headline throughput.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Health())
}

// handleReady returns 200 OK while the WebSocket hub accepts connections.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.hub.Accepting() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not accepting connections"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections, %d agents)", g.hub.Count(), g.registry.AgentCount())
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Stats())
}

func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Sessions())
}

func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Agents())
}

// handleBroadcast handles POST /api/ws/broadcast.
func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		sendJSONError(w, http.StatusBadRequest, "event is required")
		return
	}
	if req.SessionID != "" {
		if _, ok := g.registry.Session(req.SessionID); !ok {
			sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
	}

	var data any = req.Data
	if len(req.Data) == 0 {
		data = map[string]any{}
	}
	n := g.coord.Broadcast(req.SessionID, req.Event, data)

	g.logger.Info("operator broadcast", "session_id", req.SessionID, "event", req.Event, "recipients", n)
	writeJSON(w, http.StatusOK, BroadcastResponse{
		Status:     "broadcast sent",
		SessionID:  req.SessionID,
		Event:      req.Event,
		Recipients: n,
		Timestamp:  protocol.Timestamp(g.registry.Now()),
	})
}

// handleSimulateAgent handles POST /api/demo/simulate-agent. An empty body uses defaults.
func (g *Gateway) handleSimulateAgent(w http.ResponseWriter, r *http.Request) {
	var req coordinator.SimulationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	// the run outlives this request
	res, err := g.coord.SimulateAgent(g.background, req)
	if err != nil {
		g.logger.Warn("simulation failed to start", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "simulation failed to start")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handleLedger handles GET /api/ledger?session_id=&task_id=&limit=.
func (g *Gateway) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		SessionID: q.Get("session_id"),
		TaskID:    q.Get("task_id"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	entries, err := g.ledger.List(r.Context(), f)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		g.logger.Error("listing ledger", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	resp := LedgerResponse{Count: len(entries), Entries: make([]LedgerEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, LedgerEntryResponse{
			ID:        e.ID,
			Kind:      string(e.Kind),
			SessionID: e.SessionID,
			TaskID:    e.TaskID,
			AgentID:   e.AgentID,
			Timestamp: protocol.Timestamp(e.Timestamp),
			Detail:    e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
