// Package collab routes collaboration requests between agents.
//
// A request naming a target agent is delivered only to the connection that owns that agent,
// wherever it is registered. A missing target produces a collaboration-error for the requester
// and nothing else. A request without a target goes to the whole session room.
package collab
