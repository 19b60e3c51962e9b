// ABOUTME: Session record with its own lock guarding agents, tasks, requests, members, metrics
// ABOUTME: Agents are held by id in insertion order; records stay in the Registry

package registry

import (
	"slices"
	"sync"
	"time"
)

// Session is a named collaborative workspace. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id           string
	status       SessionStatus
	createdAt    time.Time
	lastActivity time.Time

	agentIDs  []string
	members   map[string]struct{}
	taskOrder []string
	tasks     map[string]*Task
	requests  map[string]*CollaborationRequest
	metrics   Metrics
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:           id,
		status:       SessionActive,
		createdAt:    now,
		lastActivity: now,
		members:      make(map[string]struct{}),
		tasks:        make(map[string]*Task),
		requests:     make(map[string]*CollaborationRequest),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Touch refreshes lastActivity.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent change to the session.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AddTask records a new task, counts it toward totalTasks and refreshes lastActivity.
// Resubmitting an existing task id replaces the record but keeps its position; the
// replaced record is returned so the caller can release the slots it still holds.
func (s *Session) AddTask(t Task, now time.Time) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.SessionID = s.id
	prev, replaced := s.tasks[t.ID]
	if !replaced {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = &t
	s.metrics.TotalTasks++
	s.lastActivity = now

	if !replaced {
		return Task{}, false
	}
	return prev.clone(), true
}

// Task returns a copy of the task with the given id.
func (s *Session) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// UpdateTask applies fn to the stored task under the session lock and returns the result.
// It reports false when the task does not exist.
func (s *Session) UpdateTask(id string, now time.Time, fn func(*Task)) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	fn(t)
	s.lastActivity = now
	return t.clone(), true
}

// Tasks returns copies of every task in submission order.
func (s *Session) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksLocked()
}

func (s *Session) tasksLocked() []Task {
	out := make([]Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, s.tasks[id].clone())
	}
	return out
}

// StaleAssigned returns assigned tasks whose last update (or start, if never updated) is
// before cutoff.
func (s *Session) StaleAssigned(cutoff time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.Status != TaskAssigned {
			continue
		}
		last := t.LastUpdate
		if last.IsZero() {
			last = t.StartTime
		}
		if last.Before(cutoff) {
			out = append(out, t.clone())
		}
	}
	return out
}

// StaleHeld returns terminal tasks that still hold agent slots and have not been updated
// since before cutoff.
func (s *Session) StaleHeld(cutoff time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if !t.Terminal() || len(t.Holding) == 0 {
			continue
		}
		last := t.LastUpdate
		if last.IsZero() {
			last = t.StartTime
		}
		if last.Before(cutoff) {
			out = append(out, t.clone())
		}
	}
	return out
}

// RecordCompletion counts a completed task and folds its duration into the running average.
func (s *Session) RecordCompletion(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := float64(d) / float64(time.Millisecond)
	s.metrics.CompletedTasks++
	n := float64(s.metrics.CompletedTasks)
	s.metrics.AvgExecutionTime += (ms - s.metrics.AvgExecutionTime) / n
}

// RecordError counts a task that could not be matched or that failed.
func (s *Session) RecordError() {
	s.mu.Lock()
	s.metrics.ErrorCount++
	s.mu.Unlock()
}

// Metrics returns the session counters.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// AddCollaborationRequest stores r as pending and refreshes lastActivity.
func (s *Session) AddCollaborationRequest(r CollaborationRequest, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.SessionID = s.id
	if r.Status == "" {
		r.Status = "pending"
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	s.requests[r.ID] = &r
	s.lastActivity = now
}

// CollaborationRequest returns a copy of the stored request.
func (s *Session) CollaborationRequest(id string) (CollaborationRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return CollaborationRequest{}, false
	}
	return *r, true
}

// AgentIDs returns the ids of the agents in the session in the order they joined.
func (s *Session) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.agentIDs)
}

// HasAgent reports whether the agent id is listed in the session.
func (s *Session) HasAgent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.agentIDs, id)
}

// Members returns the connection ids in the session room, sorted.
func (s *Session) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Summary returns the listing projection of the session.
func (s *Session) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	for _, t := range s.tasks {
		if !t.Terminal() {
			open++
		}
	}
	return SessionSummary{
		ID:                    s.id,
		Status:                s.status,
		AgentCount:            len(s.agentIDs),
		MemberCount:           len(s.members),
		TaskCount:             len(s.tasks),
		OpenTasks:             open,
		CollaborationRequests: len(s.requests),
		CreatedAt:             s.createdAt,
		LastActivity:          s.lastActivity,
		Metrics:               s.metrics,
	}
}

// addAgent appends id if absent. Caller must not hold s.mu.
func (s *Session) addAgent(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.agentIDs, id) {
		s.agentIDs = append(s.agentIDs, id)
	}
	s.lastActivity = now
}

// removeAgent drops id and reports whether it was present.
func (s *Session) removeAgent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.agentIDs, id)
	if i < 0 {
		return false
	}
	s.agentIDs = slices.Delete(s.agentIDs, i, i+1)
	return true
}

func (s *Session) removeMember(connID string) {
	s.mu.Lock()
	delete(s.members, connID)
	s.mu.Unlock()
}

func (s *Session) memberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *Session) close() {
	s.mu.Lock()
	s.status = SessionClosed
	s.mu.Unlock()
}
