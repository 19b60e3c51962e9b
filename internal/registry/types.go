// ABOUTME: Record types owned by the registry: agents, tasks, collaboration requests
// ABOUTME: Status enums mirror the values used on the wire

package registry

import (
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// ErrValidation indicates a missing identifier or otherwise unusable input.
var ErrValidation = errors.New("validation error")

// ErrNotFound indicates a referenced session or agent does not exist.
var ErrNotFound = errors.New("not found")

// AgentStatus is the availability an agent reports for itself.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusBusy    AgentStatus = "busy"
	StatusOffline AgentStatus = "offline"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// TaskStatus tracks a task through started -> assigned -> completed | error.
type TaskStatus string

const (
	TaskStarted   TaskStatus = "started"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// CollaborationMode selects how many matching agents receive a task.
type CollaborationMode string

const (
	ModeSequential CollaborationMode = "sequential"
	ModeParallel   CollaborationMode = "parallel"
)

// AgentInfo is what a connection supplies when registering an agent.
type AgentInfo struct {
	ID                 string
	Type               string
	Capabilities       []string
	Status             AgentStatus
	MaxConcurrentTasks int
	CurrentTasks       int
	Metadata           map[string]any
}

// Agent is a snapshot of a registered agent.
type Agent struct {
	ID                 string
	Type               string
	Capabilities       []string
	Status             AgentStatus
	MaxConcurrentTasks int
	CurrentTasks       int
	Metadata           map[string]any
	ConnectionID       string
	RegisteredAt       time.Time
}

// HasCapacity reports whether the agent is idle with a free task slot.
func (a Agent) HasCapacity() bool {
	return a.Status == StatusIdle && a.CurrentTasks < a.MaxConcurrentTasks
}

// Requirements restrict which agents may run a task.
type Requirements struct {
	Capabilities []string
	AgentTypes   []string
	Constraint   string
}

// Task is a unit of work submitted to a session.
type Task struct {
	ID           string
	SessionID    string
	Requirements Requirements
	Mode         CollaborationMode
	Status       TaskStatus
	StartTime    time.Time
	LastUpdate   time.Time
	LastProgress map[string]any
	Assignees    []string
	Definition   json.RawMessage

	// Holding lists the assignees whose reserved slot has not been released yet.
	Holding []string
}

func (t *Task) clone() Task {
	c := *t
	c.Assignees = slices.Clone(t.Assignees)
	c.Holding = slices.Clone(t.Holding)
	return c
}

// DropHolding removes agentID from Holding and returns the slots to release. An empty
// agentID cannot be attributed to one assignee, so every held slot is returned.
func (t *Task) DropHolding(agentID string) []string {
	if agentID == "" {
		held := t.Holding
		t.Holding = nil
		return held
	}
	i := slices.Index(t.Holding, agentID)
	if i < 0 {
		return nil
	}
	t.Holding = slices.Delete(t.Holding, i, i+1)
	return []string{agentID}
}

// Terminal reports whether the task has reached completed or error.
func (t Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskError
}

// CollaborationRequest is stored as pending; delivery is fire-and-forget.
type CollaborationRequest struct {
	ID          string
	SessionID   string
	FromAgent   string
	TargetAgent string
	Payload     any
	Status      string
	Timestamp   time.Time
}

// Metrics are the cumulative counters of one session.
type Metrics struct {
	TotalTasks     int
	CompletedTasks int
	ErrorCount     int
	// AvgExecutionTime is the running mean of completed task durations in milliseconds.
	AvgExecutionTime float64
}

// Removal records one agent leaving one session.
type Removal struct {
	SessionID string
	AgentID   string
}

// SessionState is a full snapshot of a session with agents and tasks in insertion order.
type SessionState struct {
	ID                    string
	Status                SessionStatus
	CreatedAt             time.Time
	LastActivity          time.Time
	Agents                []Agent
	Tasks                 []Task
	CollaborationRequests int
	Metrics               Metrics
}

// SessionSummary is the lightweight projection used by listing queries.
type SessionSummary struct {
	ID                    string
	Status                SessionStatus
	AgentCount            int
	MemberCount           int
	TaskCount             int
	OpenTasks             int
	CollaborationRequests int
	CreatedAt             time.Time
	LastActivity          time.Time
	Metrics               Metrics
}
