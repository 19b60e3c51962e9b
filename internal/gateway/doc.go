// Package gateway orchestrates the args-gateway server components.
//
// # Overview
//
// The gateway owns the coordination core (registry, coordinator, dispatcher) and every
// surface that exposes it: the WebSocket hub, the HTTP API, the gRPC query service, the
// Prometheus endpoint and the status page. It also runs the janitor and, when asked, the
// config file watcher.
//
// # HTTP
//
//   - GET /ws - WebSocket event stream (token via Authorization header or ?token=)
//   - GET /health - Liveness with throughput summary
//   - GET /health/ready - 200 while the hub accepts connections
//   - GET /api/ws/stats, /api/ws/sessions, /api/ws/agents - Query projections
//   - POST /api/ws/broadcast - Operator broadcast to a session or everyone
//   - POST /api/demo/simulate-agent - Demo agent run (when simulation is enabled)
//   - GET /api/ledger - Task ledger (when database.path is set)
//   - GET /metrics - Prometheus metrics (path configurable)
//   - GET / - Status page
//
// When auth.jwt_secret is set, /api routes verify tokens and POST routes require the
// operator role.
//
// # gRPC
//
// The args.v1.Query service (Stats, ListSessions, ListAgents) takes google.protobuf.Empty
// and returns google.protobuf.Struct with the same keys as the HTTP API. The standard
// grpc.health.v1 service is registered alongside it and skips authentication.
//
// # Lifecycle
//
// Run starts every server under one errgroup and blocks until its context is canceled or a
// server fails; both paths end in Shutdown, which closes WebSocket connections with a
// going-away status, drains HTTP and gRPC, stops simulations and closes the ledger.
package gateway
