// Package registry owns every agent and session record held by the gateway.
//
// # Overview
//
// The Registry is the single source of truth for agent existence. Sessions refer to agents by
// id only; removing an agent from the Registry removes it from every session that lists it.
//
//	reg := registry.New(logger)
//	reg.Connect(connID)
//	state, err := reg.JoinSession(connID, "s1")
//	agent, sessions, err := reg.RegisterAgent(info, connID)
//	agentIDs, removals := reg.Disconnect(connID)
//
// The Registry never emits events itself. Operations return what changed (the sessions an
// agent joined, the session/agent pairs removed on disconnect) and the caller decides what to
// broadcast.
//
// # Thread Safety
//
// Three kinds of locks guard the state, always taken in this order:
//
//  1. Registry.mu guards the agent, session and connection indexes.
//  2. Session.mu guards one session's agents, tasks, requests, members and metrics.
//  3. A per-agent mutex guards the agent's status and task counters.
//
// Work on different sessions proceeds independently; only index changes serialize.
package registry
