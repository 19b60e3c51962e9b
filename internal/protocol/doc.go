// Package protocol defines the ARGS wire format spoken over the gateway's WebSocket.
//
// # Frames
//
// Every frame in either direction is a JSON text message:
//
//	{"event": "start-task", "data": {...}}
//
// # Inbound events
//
// Decode turns an Envelope into one of the typed payloads below and validates it, so the
// coordination core never sees a free-form map:
//
//   - join-session           JoinSession
//   - register-agent         RegisterAgent
//   - start-task             StartTask
//   - agent-progress         AgentProgress
//   - collaboration-request  CollaborationRequest
//   - protect-message        ProtectMessage
//
// A payload that is missing a required identifier fails with ErrValidation.
//
// # Outbound events
//
// Outbound payloads are plain structs wrapped in a Message. Every outbound payload carries a
// server timestamp in milliseconds since the Unix epoch.
package protocol
