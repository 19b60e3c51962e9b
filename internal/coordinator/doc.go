// Package coordinator is the event handling boundary between the transport and the core.
//
// Every inbound frame passes through Coordinator.OnMessage, which decodes and validates it
// with the protocol package and then calls the Registry, Dispatcher or Router. Validation
// failures become an error event for the sender. A panic inside any handler is recovered
// here, logged, counted, and reported to the sender as a generic error, so one bad frame
// never takes the gateway down.
//
// The Coordinator is also the Emitter the core uses to reach a session room or a single
// connection, and it owns the read-side projections served by the HTTP and gRPC query
// surfaces.
package coordinator
