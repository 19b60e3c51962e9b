// Package hub is the WebSocket transport of the gateway.
//
// Each accepted connection gets a uuid, a reader goroutine that hands decoded frames to the
// Handler in arrival order, and a writer goroutine draining a buffered queue. Sends never
// block: when a connection's queue is full the event is dropped for that connection only.
//
// Authentication happens before the Handler sees the connection. A rejected caller receives
// one auth-error frame and a policy-violation close, and is never reported to OnConnect.
//
//	h := hub.New(hub.Config{Verifier: verifier}, logger)
//	h.SetHandler(coord)
//	mux.Handle("GET /ws", h)
package hub
