// ABOUTME: Outbound payload shapes emitted by the gateway to connections and session rooms
// ABOUTME: Field names follow the camelCase JSON the ARGS clients already consume

package protocol

import "encoding/json"

// Welcome is sent to every connection right after it is accepted.
type Welcome struct {
	Protocol     string   `json:"protocol"`
	Version      string   `json:"version"`
	Environment  string   `json:"environment"`
	Server       string   `json:"server"`
	ConnectionID string   `json:"connectionId"`
	Capabilities []string `json:"capabilities"`
	Timestamp    int64    `json:"timestamp"`
}

// ErrorPayload is the body of error and auth-error events.
type ErrorPayload struct {
	Message   string `json:"message"`
	Event     string `json:"event,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AgentView is the public projection of an agent record.
type AgentView struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Capabilities       []string       `json:"capabilities"`
	Status             string         `json:"status"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	MaxConcurrentTasks int            `json:"maxConcurrentTasks"`
	CurrentTasks       int            `json:"currentTasks"`
	RegisteredAt       int64          `json:"registeredAt"`
}

// AgentRegistered is broadcast to each session the registering connection belongs to.
type AgentRegistered struct {
	SessionID string    `json:"sessionId"`
	Agent     AgentView `json:"agent"`
	Timestamp int64     `json:"timestamp"`
}

// AgentUnregistered is broadcast once per session an agent is removed from.
type AgentUnregistered struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// SessionMetrics are the cumulative per-session counters.
type SessionMetrics struct {
	TotalTasks       int     `json:"totalTasks"`
	CompletedTasks   int     `json:"completedTasks"`
	ErrorCount       int     `json:"errorCount"`
	AvgExecutionTime float64 `json:"avgExecutionTime"`
}

// TaskView is the public projection of a task record.
type TaskView struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"sessionId"`
	Status            string         `json:"status"`
	CollaborationMode string         `json:"collaborationMode"`
	Requirements      Requirements   `json:"requirements"`
	StartTime         int64          `json:"startTime"`
	LastUpdate        int64          `json:"lastUpdate,omitempty"`
	LastProgress      map[string]any `json:"lastProgress,omitempty"`
	Assignees         []string       `json:"assignees,omitempty"`
}

// SessionState is the snapshot sent to a connection that joins a session.
type SessionState struct {
	SessionID             string         `json:"sessionId"`
	Status                string         `json:"status"`
	CreatedAt             int64          `json:"createdAt"`
	LastActivity          int64          `json:"lastActivity"`
	Agents                []AgentView    `json:"agents"`
	Tasks                 []TaskView     `json:"tasks"`
	CollaborationRequests int            `json:"collaborationRequests"`
	Metrics               SessionMetrics `json:"metrics"`
	Timestamp             int64          `json:"timestamp"`
}

// TaskAssigned notifies a session room that an agent was chosen for a task.
type TaskAssigned struct {
	TaskID         string          `json:"taskId"`
	AgentID        string          `json:"agentId"`
	Mode           string          `json:"mode"`
	TaskDefinition json.RawMessage `json:"taskDefinition"`
	Timestamp      int64           `json:"timestamp"`
}

// TaskError reports a task that could not be matched or that timed out.
type TaskError struct {
	TaskID          string       `json:"taskId"`
	Error           string       `json:"error"`
	Reason          string       `json:"reason"`
	Requirements    Requirements `json:"requirements"`
	AvailableAgents int          `json:"availableAgents"`
	Timestamp       int64        `json:"timestamp"`
}

// TaskProgress re-broadcasts an agent's progress report with server enrichment.
type TaskProgress struct {
	SessionID string         `json:"sessionId"`
	Progress  map[string]any `json:"progress"`
	Timestamp int64          `json:"timestamp"`
}

// TaskCompleted follows a progress report whose status is completed.
type TaskCompleted struct {
	TaskID        string  `json:"taskId"`
	SessionID     string  `json:"sessionId"`
	AgentID       string  `json:"agentId,omitempty"`
	Result        any     `json:"result,omitempty"`
	ExecutionTime float64 `json:"executionTime"`
	Timestamp     int64   `json:"timestamp"`
}

// CollaborationError is sent only to the requester when a named target is unknown.
type CollaborationError struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// EncryptedMessage carries a sealed message to every connection.
type EncryptedMessage struct {
	EncryptedData string `json:"encryptedData"`
	SenderID      string `json:"senderId"`
	Token         string `json:"token"`
	Algorithm     string `json:"algorithm"`
	Timestamp     int64  `json:"timestamp"`
}

// MessageProtected confirms a protect-message request to its sender.
type MessageProtected struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
