// ABOUTME: Conversions between registry records and their wire projections
// ABOUTME: Owning connection ids never leave the gateway

package protocol

import (
	"time"

	"github.com/2389/args-gateway/internal/registry"
)

// RegistryRequirements converts wire requirements to the registry form.
func (r Requirements) RegistryRequirements() registry.Requirements {
	return registry.Requirements{
		Capabilities: r.Capabilities,
		AgentTypes:   r.AgentTypes,
		Constraint:   r.Constraint,
	}
}

// RequirementsOf converts registry requirements to the wire form. Nil lists become empty.
func RequirementsOf(r registry.Requirements) Requirements {
	out := Requirements{
		Capabilities: r.Capabilities,
		AgentTypes:   r.AgentTypes,
		Constraint:   r.Constraint,
	}
	if out.Capabilities == nil {
		out.Capabilities = []string{}
	}
	if out.AgentTypes == nil {
		out.AgentTypes = []string{}
	}
	return out
}

// AgentInfo converts a register-agent payload to registry input.
func (r *RegisterAgent) AgentInfo() registry.AgentInfo {
	maxTasks, current := r.Limits()
	return registry.AgentInfo{
		ID:                 r.ID,
		Type:               r.Type,
		Capabilities:       r.Capabilities,
		Status:             registry.AgentStatus(r.Status),
		MaxConcurrentTasks: maxTasks,
		CurrentTasks:       current,
		Metadata:           r.Metadata,
	}
}

// AgentViewOf projects an agent for clients.
func AgentViewOf(a registry.Agent) AgentView {
	caps := a.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return AgentView{
		ID:                 a.ID,
		Type:               a.Type,
		Capabilities:       caps,
		Status:             string(a.Status),
		Metadata:           a.Metadata,
		MaxConcurrentTasks: a.MaxConcurrentTasks,
		CurrentTasks:       a.CurrentTasks,
		RegisteredAt:       Timestamp(a.RegisteredAt),
	}
}

// TaskViewOf projects a task for clients.
func TaskViewOf(t registry.Task) TaskView {
	return TaskView{
		ID:                t.ID,
		SessionID:         t.SessionID,
		Status:            string(t.Status),
		CollaborationMode: string(t.Mode),
		Requirements:      RequirementsOf(t.Requirements),
		StartTime:         Timestamp(t.StartTime),
		LastUpdate:        optionalTimestamp(t.LastUpdate),
		LastProgress:      t.LastProgress,
		Assignees:         t.Assignees,
	}
}

// MetricsOf converts session metrics.
func MetricsOf(m registry.Metrics) SessionMetrics {
	return SessionMetrics{
		TotalTasks:       m.TotalTasks,
		CompletedTasks:   m.CompletedTasks,
		ErrorCount:       m.ErrorCount,
		AvgExecutionTime: m.AvgExecutionTime,
	}
}

// SessionStateOf builds the session-state payload from a registry snapshot.
func SessionStateOf(s registry.SessionState, now time.Time) SessionState {
	agents := make([]AgentView, 0, len(s.Agents))
	for _, a := range s.Agents {
		agents = append(agents, AgentViewOf(a))
	}
	tasks := make([]TaskView, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		tasks = append(tasks, TaskViewOf(t))
	}
	return SessionState{
		SessionID:             s.ID,
		Status:                string(s.Status),
		CreatedAt:             Timestamp(s.CreatedAt),
		LastActivity:          Timestamp(s.LastActivity),
		Agents:                agents,
		Tasks:                 tasks,
		CollaborationRequests: s.CollaborationRequests,
		Metrics:               MetricsOf(s.Metrics),
		Timestamp:             Timestamp(now),
	}
}

func optionalTimestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t)
}
