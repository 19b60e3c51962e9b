// ABOUTME: Event names for the ARGS protocol in both directions
// ABOUTME: Includes the protocol version and the default session used when none is given

package protocol

import "time"

// Name and Version identify the protocol announced in the welcome event.
const (
	Name    = "ARGS"
	Version = "1.0.0"
)

// DefaultSessionID is used by task, progress and collaboration events that omit sessionId.
const DefaultSessionID = "default"

// Inbound event names.
const (
	EventJoinSession          = "join-session"
	EventRegisterAgent        = "register-agent"
	EventStartTask            = "start-task"
	EventAgentProgress        = "agent-progress"
	EventCollaborationRequest = "collaboration-request"
	EventProtectMessage       = "protect-message"
)

// Outbound event names. EventCollaborationRequest is delivered outbound as well.
const (
	EventWelcome            = "args-welcome"
	EventAuthError          = "auth-error"
	EventError              = "error"
	EventAgentRegistered    = "agent-registered"
	EventAgentUnregistered  = "agent-unregistered"
	EventSessionState       = "session-state"
	EventTaskAssigned       = "task-assigned"
	EventTaskError          = "task-error"
	EventTaskProgress       = "task-progress"
	EventTaskCompleted      = "task-completed"
	EventCollaborationError = "collaboration-error"
	EventEncryptedMessage   = "encrypted-message"
	EventMessageProtected   = "message-protected"
)

// Timestamp converts t to the millisecond epoch used on the wire.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}
