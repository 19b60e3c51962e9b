// ABOUTME: Typed inbound payloads and the Decode entry point used at the transport boundary
// ABOUTME: Validates required identifiers and normalizes defaults before the core runs

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrValidation marks a payload that is malformed or missing a required field.
var ErrValidation = errors.New("validation error")

// ErrUnknownEvent is returned by Decode for event names the gateway does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is a single frame as it appears on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame. Data is marshalled as-is.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound is implemented by every decoded inbound payload.
type Inbound interface {
	EventName() string
}

type validator interface {
	Inbound
	validate() error
}

// JoinSession asks for the connection to enter a session room.
type JoinSession struct {
	SessionID string `json:"sessionId"`
}

// RegisterAgent announces an agent owned by the sending connection.
type RegisterAgent struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Capabilities []string       `json:"capabilities"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Requirements describe which agents may run a task.
type Requirements struct {
	Capabilities []string `json:"capabilities"`
	AgentTypes   []string `json:"agentTypes"`
	// Constraint is an optional boolean expression evaluated against each candidate agent.
	Constraint string `json:"constraint,omitempty"`
}

// StartTask submits a task for matching and assignment.
type StartTask struct {
	ID                string       `json:"id"`
	SessionID         string       `json:"sessionId"`
	Requirements      Requirements `json:"requirements"`
	CollaborationMode string       `json:"collaborationMode"`

	// Definition is the submitted object verbatim, echoed back in task-assigned.
	Definition json.RawMessage `json:"-"`
}

// AgentProgress reports progress on a task. Fields holds the whole payload, including
// free-form keys the gateway does not interpret.
type AgentProgress struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
	AgentID   string `json:"agentId,omitempty"`
	Status    string `json:"status"`

	Fields map[string]any `json:"-"`
}

// CollaborationRequest asks one named agent, or everyone in the session, for help.
type CollaborationRequest struct {
	SessionID   string `json:"sessionId"`
	RequestID   string `json:"requestId"`
	FromAgent   string `json:"fromAgent,omitempty"`
	TargetAgent string `json:"targetAgent,omitempty"`
	Payload     any    `json:"payload,omitempty"`

	Fields map[string]any `json:"-"`
}

// ProtectMessage asks the gateway to seal a message under a caller secret and fan it out.
type ProtectMessage struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
	Secret  string `json:"secret"`
}

func (*JoinSession) EventName() string          { return EventJoinSession }
func (*RegisterAgent) EventName() string        { return EventRegisterAgent }
func (*StartTask) EventName() string            { return EventStartTask }
func (*AgentProgress) EventName() string        { return EventAgentProgress }
func (*CollaborationRequest) EventName() string { return EventCollaborationRequest }
func (*ProtectMessage) EventName() string       { return EventProtectMessage }

// Agent statuses and collaboration modes accepted on the wire.
var (
	agentStatuses      = []string{"idle", "busy", "offline"}
	collaborationModes = []string{"sequential", "parallel"}
)

// Decode parses and validates the payload of env according to its event name.
func Decode(env Envelope) (Inbound, error) {
	var in validator
	switch env.Event {
	case EventJoinSession:
		in = &JoinSession{}
	case EventRegisterAgent:
		in = &RegisterAgent{}
	case EventStartTask:
		in = &StartTask{}
	case EventAgentProgress:
		in = &AgentProgress{}
	case EventCollaborationRequest:
		in = &CollaborationRequest{}
	case EventProtectMessage:
		in = &ProtectMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrValidation, env.Event, err)
	}

	switch p := in.(type) {
	case *StartTask:
		p.Definition = append(json.RawMessage(nil), data...)
	case *AgentProgress:
		if err := json.Unmarshal(data, &p.Fields); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", ErrValidation, env.Event, err)
		}
	case *CollaborationRequest:
		if err := json.Unmarshal(data, &p.Fields); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", ErrValidation, env.Event, err)
		}
	}

	if err := in.validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func (j *JoinSession) validate() error {
	if j.SessionID == "" {
		return fmt.Errorf("%w: Session ID required", ErrValidation)
	}
	return nil
}

func (r *RegisterAgent) validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: Agent ID required", ErrValidation)
	}
	if r.Status == "" {
		r.Status = "idle"
	}
	if !slices.Contains(agentStatuses, r.Status) {
		return fmt.Errorf("%w: unknown agent status %q", ErrValidation, r.Status)
	}
	return nil
}

// Limits returns metadata.maxConcurrentTasks and metadata.currentTasks, defaulting to 1 and 0.
func (r *RegisterAgent) Limits() (maxTasks, current int) {
	maxTasks, current = 1, 0
	if v, ok := intField(r.Metadata, "maxConcurrentTasks"); ok {
		maxTasks = v
	}
	if v, ok := intField(r.Metadata, "currentTasks"); ok {
		current = v
	}
	return maxTasks, current
}

func (t *StartTask) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: Task ID required", ErrValidation)
	}
	if t.SessionID == "" {
		t.SessionID = DefaultSessionID
	}
	if t.CollaborationMode == "" {
		t.CollaborationMode = "sequential"
	}
	if !slices.Contains(collaborationModes, t.CollaborationMode) {
		return fmt.Errorf("%w: unknown collaboration mode %q", ErrValidation, t.CollaborationMode)
	}
	return nil
}

func (p *AgentProgress) validate() error {
	if p.SessionID == "" {
		p.SessionID = DefaultSessionID
	}
	return nil
}

func (c *CollaborationRequest) validate() error {
	if c.RequestID == "" {
		return fmt.Errorf("%w: Request ID required", ErrValidation)
	}
	if c.SessionID == "" {
		c.SessionID = DefaultSessionID
	}
	return nil
}

func (m *ProtectMessage) validate() error {
	if m.Secret == "" {
		return fmt.Errorf("%w: secret required", ErrValidation)
	}
	return nil
}

// intField reads a JSON number out of a decoded map.
func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
