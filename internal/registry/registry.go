// ABOUTME: Registry owning agent records, sessions, and connection membership
// ABOUTME: Returns what changed so the caller can emit events; never emits itself

package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

type agentRecord struct {
	mu    sync.Mutex
	agent Agent

	// reserved counts the slots taken by task assignment and not yet released.
	reserved int
}

func (r *agentRecord) snapshot() Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.agent
	a.Capabilities = slices.Clone(r.agent.Capabilities)
	a.Metadata = maps.Clone(r.agent.Metadata)
	return a
}

// Registry is the single source of truth for agents and sessions.
type Registry struct {
	mu sync.RWMutex

	agents     map[string]*agentRecord
	agentOrder []string
	sessions   map[string]*Session
	// conns maps a connection id to the ids of the sessions it has joined.
	conns map[string]map[string]struct{}

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty Registry.
func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		agents:   make(map[string]*agentRecord),
		sessions: make(map[string]*Session),
		conns:    make(map[string]map[string]struct{}),
		now:      time.Now,
		logger:   logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time { return r.now() }

// Connect tracks a new connection with no session memberships.
func (r *Registry) Connect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = make(map[string]struct{})
	}
}

// Connections returns the ids of all tracked connections, sorted.
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.conns))
}

// JoinSession adds the connection to the session room, creating the session on first
// reference, and returns a full snapshot for the caller. Joining twice is idempotent apart
// from refreshing lastActivity.
func (r *Registry) JoinSession(connID, sessionID string) (SessionState, error) {
	if sessionID == "" {
		return SessionState{}, fmt.Errorf("%w: Session ID required", ErrValidation)
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ensureSessionLocked(sessionID, now)
	joined, ok := r.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.conns[connID] = joined
	}
	joined[sessionID] = struct{}{}

	s.mu.Lock()
	s.members[connID] = struct{}{}
	s.lastActivity = now
	state := SessionState{
		ID:                    s.id,
		Status:                s.status,
		CreatedAt:             s.createdAt,
		LastActivity:          s.lastActivity,
		Tasks:                 s.tasksLocked(),
		CollaborationRequests: len(s.requests),
		Metrics:               s.metrics,
	}
	agentIDs := slices.Clone(s.agentIDs)
	s.mu.Unlock()

	state.Agents = r.agentsLocked(agentIDs)

	r.logger.Debug("connection joined session", "conn_id", connID, "session_id", sessionID)
	return state, nil
}

// RegisterAgent upserts an agent owned by connID and adds it to every session the connection
// has joined. It returns the stored agent and the ids of those sessions, sorted. A
// re-registration never reports fewer current tasks than the slots it still has reserved.
func (r *Registry) RegisterAgent(info AgentInfo, connID string) (Agent, []string, error) {
	if info.ID == "" {
		return Agent{}, nil, fmt.Errorf("%w: Agent ID required", ErrValidation)
	}
	if info.Status == "" {
		info.Status = StatusIdle
	}
	if info.MaxConcurrentTasks <= 0 {
		info.MaxConcurrentTasks = 1
	}
	if info.CurrentTasks < 0 {
		info.CurrentTasks = 0
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[info.ID]
	if !exists {
		rec = &agentRecord{}
		r.agents[info.ID] = rec
		r.agentOrder = append(r.agentOrder, info.ID)
	}
	rec.mu.Lock()
	current := max(info.CurrentTasks, rec.reserved)
	rec.agent = Agent{
		ID:                 info.ID,
		Type:               info.Type,
		Capabilities:       slices.Clone(info.Capabilities),
		Status:             info.Status,
		MaxConcurrentTasks: info.MaxConcurrentTasks,
		CurrentTasks:       current,
		Metadata:           maps.Clone(info.Metadata),
		ConnectionID:       connID,
		RegisteredAt:       now,
	}
	rec.mu.Unlock()

	sessionIDs := slices.Sorted(maps.Keys(r.conns[connID]))
	for _, sid := range sessionIDs {
		if s, ok := r.sessions[sid]; ok {
			s.addAgent(info.ID, now)
		}
	}

	r.logger.Info("agent registered",
		"agent_id", info.ID,
		"type", info.Type,
		"conn_id", connID,
		"sessions", len(sessionIDs),
		"updated", exists,
	)
	return rec.snapshot(), sessionIDs, nil
}

// RemoveAgentsForConnection removes every agent owned by connID from the Registry and from
// every session. It returns the removed agent ids and one Removal per (session, agent) pair.
func (r *Registry) RemoveAgentsForConnection(connID string) ([]string, []Removal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeAgentsLocked(connID)
}

// Disconnect removes the connection's agents, takes it out of every session room and forgets
// the connection.
func (r *Registry) Disconnect(connID string) ([]string, []Removal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, removals := r.removeAgentsLocked(connID)
	for sid := range r.conns[connID] {
		if s, ok := r.sessions[sid]; ok {
			s.removeMember(connID)
		}
	}
	delete(r.conns, connID)
	return removed, removals
}

func (r *Registry) removeAgentsLocked(connID string) ([]string, []Removal) {
	var removed []string
	kept := r.agentOrder[:0]
	for _, id := range r.agentOrder {
		rec := r.agents[id]
		rec.mu.Lock()
		owner := rec.agent.ConnectionID
		rec.mu.Unlock()
		if owner == connID {
			removed = append(removed, id)
			delete(r.agents, id)
			continue
		}
		kept = append(kept, id)
	}
	r.agentOrder = kept
	if len(removed) == 0 {
		return nil, nil
	}

	var removals []Removal
	for _, sid := range slices.Sorted(maps.Keys(r.sessions)) {
		s := r.sessions[sid]
		for _, id := range removed {
			if s.removeAgent(id) {
				removals = append(removals, Removal{SessionID: sid, AgentID: id})
			}
		}
	}

	r.logger.Info("agents removed", "conn_id", connID, "agents", removed)
	return removed, removals
}

// EnsureSession returns the session with the given id, creating it if needed.
func (r *Registry) EnsureSession(id string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureSessionLocked(id, r.now())
}

func (r *Registry) ensureSessionLocked(id string, now time.Time) *Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := newSession(id, now)
	r.sessions[id] = s
	r.logger.Debug("session created", "session_id", id)
	return s
}

// Session returns the session with the given id.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns every session, sorted by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, id := range slices.Sorted(maps.Keys(r.sessions)) {
		out = append(out, r.sessions[id])
	}
	return out
}

// SessionCount returns the number of sessions held.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Agent returns a snapshot of the agent with the given id.
func (r *Registry) Agent(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return rec.snapshot(), true
}

// Agents returns snapshots of every registered agent in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentsLocked(r.agentOrder)
}

// AgentCount returns the number of registered agents.
func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SessionAgents returns snapshots of the session's agents in insertion order.
func (r *Registry) SessionAgents(sessionID string) ([]Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return r.agentsLocked(s.AgentIDs()), true
}

func (r *Registry) agentsLocked(ids []string) []Agent {
	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.agents[id]; ok {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Members returns the connection ids in the session room.
func (r *Registry) Members(sessionID string) []string {
	s, ok := r.Session(sessionID)
	if !ok {
		return nil
	}
	return s.Members()
}

// Reserve takes one task slot on the agent if it is still idle with spare capacity.
func (r *Registry) Reserve(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.agent.HasCapacity() {
		return false
	}
	rec.agent.CurrentTasks++
	rec.reserved++
	return true
}

// Release returns one task slot to the agent. It is a no-op for unknown agents and never
// drops currentTasks below zero.
func (r *Registry) Release(agentID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return
	}
	rec.mu.Lock()
	if rec.agent.CurrentTasks > 0 {
		rec.agent.CurrentTasks--
	}
	if rec.reserved > 0 {
		rec.reserved--
	}
	rec.mu.Unlock()
}

// AgentIndex is the agent listing with capability and type lookups.
type AgentIndex struct {
	Agents       []Agent
	Capabilities map[string][]string
	Types        map[string][]string
}

// IndexAgents returns every agent together with capability -> ids and type -> ids indexes.
func (r *Registry) IndexAgents() AgentIndex {
	agents := r.Agents()
	idx := AgentIndex{
		Agents:       agents,
		Capabilities: make(map[string][]string),
		Types:        make(map[string][]string),
	}
	for _, a := range agents {
		for _, c := range a.Capabilities {
			idx.Capabilities[c] = append(idx.Capabilities[c], a.ID)
		}
		if a.Type != "" {
			idx.Types[a.Type] = append(idx.Types[a.Type], a.ID)
		}
	}
	return idx
}

// EvictSessions removes sessions that have no connected members. Sessions idle since before
// idleCutoff go first (a zero cutoff disables this); then, while more than maxSessions remain
// (zero disables), the least recently active member-less sessions are removed.
func (r *Registry) EvictSessions(idleCutoff time.Time, maxSessions int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	type candidate struct {
		id   string
		last time.Time
	}
	var idle []candidate
	for id, s := range r.sessions {
		if s.memberCount() == 0 {
			idle = append(idle, candidate{id: id, last: s.LastActivity()})
		}
	}
	slices.SortFunc(idle, func(a, b candidate) int {
		if c := a.last.Compare(b.last); c != 0 {
			return c
		}
		if a.id < b.id {
			return -1
		}
		return 1
	})

	var evicted []string
	for _, c := range idle {
		expired := !idleCutoff.IsZero() && c.last.Before(idleCutoff)
		over := maxSessions > 0 && len(r.sessions) > maxSessions
		if !expired && !over {
			continue
		}
		r.sessions[c.id].close()
		delete(r.sessions, c.id)
		evicted = append(evicted, c.id)
	}

	if len(evicted) > 0 {
		r.logger.Info("sessions evicted", "count", len(evicted), "remaining", len(r.sessions))
	}
	return evicted
}
