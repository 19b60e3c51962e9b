// ABOUTME: Tests for the coordinator event boundary, query projections and demo simulation
// ABOUTME: Uses a recording transport in place of the WebSocket hub

package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/args-gateway/internal/hub"
	"github.com/2389/args-gateway/internal/metrics"
	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
	"github.com/2389/args-gateway/internal/seal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type delivery struct {
	conn  string
	event string
	data  any
}

type fakeTransport struct {
	mu        sync.Mutex
	conns     map[string]bool
	delivered []delivery
	broadcast []delivery
}

func newFakeTransport(conns ...string) *fakeTransport {
	f := &fakeTransport{conns: make(map[string]bool)}
	for _, c := range conns {
		f.conns[c] = true
	}
	return f
}

func (f *fakeTransport) Send(connID, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[connID] {
		return hub.ErrConnectionNotFound
	}
	f.delivered = append(f.delivered, delivery{conn: connID, event: event, data: data})
	return nil
}

func (f *fakeTransport) SendMany(connIDs []string, event string, data any) int {
	n := 0
	for _, id := range connIDs {
		if f.Send(id, event, data) == nil {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Broadcast(event string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, delivery{event: event, data: data})
	return len(f.conns)
}

func (f *fakeTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeTransport) to(connID, event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, d := range f.delivered {
		if d.conn == connID && d.event == event {
			out = append(out, d.data)
		}
	}
	return out
}

func (f *fakeTransport) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.delivered {
		if d.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	coord     *Coordinator
	reg       *registry.Registry
	agg       *metrics.Aggregator
	transport *fakeTransport
}

func newFixture(t *testing.T, conns ...string) *fixture {
	t.Helper()
	reg := registry.New(testLogger())
	agg := metrics.New()
	tr := newFakeTransport(conns...)
	c := New(Params{
		Registry:    reg,
		Metrics:     agg,
		Transport:   tr,
		Environment: "test",
		ServerName:  "args-test",
		StepUnit:    time.Millisecond,
		Logger:      testLogger(),
	})
	for _, id := range conns {
		c.OnConnect(context.Background(), hub.Client{ID: id})
	}
	return &fixture{coord: c, reg: reg, agg: agg, transport: tr}
}

func (f *fixture) send(t *testing.T, connID, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	f.coord.OnMessage(context.Background(), connID, protocol.Envelope{Event: event, Data: raw})
}

func TestOnConnect_SendsWelcome(t *testing.T) {
	f := newFixture(t, "c1")

	welcome := f.transport.to("c1", protocol.EventWelcome)
	require.Len(t, welcome, 1)
	w := welcome[0].(protocol.Welcome)
	assert.Equal(t, "ARGS", w.Protocol)
	assert.Equal(t, "test", w.Environment)
	assert.Equal(t, "c1", w.ConnectionID)
	assert.Contains(t, w.Capabilities, "task-distribution")
	assert.Equal(t, int64(1), f.agg.Snapshot().Connections)
}

func TestJoinSession_RepliesToCallerOnly(t *testing.T) {
	f := newFixture(t, "c1", "c2")
	f.send(t, "c2", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "c1", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})

	states := f.transport.to("c1", protocol.EventSessionState)
	require.Len(t, states, 1)
	state := states[0].(protocol.SessionState)
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, "active", state.Status)
	assert.Empty(t, state.Agents)
	assert.Len(t, f.transport.to("c2", protocol.EventSessionState), 1)
}

func TestJoinSession_ValidationErrorEvent(t *testing.T) {
	f := newFixture(t, "c1")
	f.send(t, "c1", protocol.EventJoinSession, map[string]any{})

	errs := f.transport.to("c1", protocol.EventError)
	require.Len(t, errs, 1)
	p := errs[0].(protocol.ErrorPayload)
	assert.Equal(t, "Session ID required", p.Message)
	assert.Equal(t, protocol.EventJoinSession, p.Event)
	assert.Equal(t, 0, f.reg.SessionCount())
}

func TestRegisterAgent_AnnouncedToJoinedSessions(t *testing.T) {
	f := newFixture(t, "agent", "observer")
	f.send(t, "agent", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "observer", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "agent", protocol.EventRegisterAgent, map[string]any{
		"id":           "a1",
		"type":         "nlp",
		"capabilities": []string{"nlp"},
	})

	got := f.transport.to("observer", protocol.EventAgentRegistered)
	require.Len(t, got, 1)
	ev := got[0].(protocol.AgentRegistered)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "a1", ev.Agent.ID)
	assert.Equal(t, "idle", ev.Agent.Status)
	assert.Equal(t, 1, ev.Agent.MaxConcurrentTasks)
}

func TestStartTask_AssignsAndCountsMessages(t *testing.T) {
	f := newFixture(t, "agent", "client")
	f.send(t, "agent", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "client", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "agent", protocol.EventRegisterAgent, map[string]any{"id": "a1", "capabilities": []string{"nlp"}})

	f.send(t, "client", protocol.EventStartTask, map[string]any{
		"id":           "t1",
		"sessionId":    "s1",
		"requirements": map[string]any{"capabilities": []string{"nlp"}},
	})
	assigned := f.transport.to("client", protocol.EventTaskAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, "a1", assigned[0].(protocol.TaskAssigned).AgentID)

	f.send(t, "agent", protocol.EventAgentProgress, map[string]any{
		"sessionId": "s1", "taskId": "t1", "agentId": "a1", "status": "completed",
	})
	assert.Len(t, f.transport.to("client", protocol.EventTaskCompleted), 1)

	snap := f.agg.Snapshot()
	assert.Equal(t, uint64(2), snap.MessagesProcessed)
	assert.Equal(t, uint64(1), snap.TasksCompleted)
}

func TestStartTask_BadConstraintIsRejected(t *testing.T) {
	f := newFixture(t, "c1")
	f.send(t, "c1", protocol.EventStartTask, map[string]any{
		"id":           "t1",
		"requirements": map[string]any{"constraint": "agent.currentTasks <"},
	})

	require.Len(t, f.transport.to("c1", protocol.EventError), 1)
	_, ok := f.reg.Session(protocol.DefaultSessionID)
	assert.False(t, ok, "no session should be created for a rejected task")
}

func TestOnMessage_UnknownEvent(t *testing.T) {
	f := newFixture(t, "c1")
	f.send(t, "c1", "launch-missiles", map[string]any{})

	errs := f.transport.to("c1", protocol.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].(protocol.ErrorPayload).Message, "unknown event")
}

type panickingTransport struct {
	*fakeTransport
}

func (p panickingTransport) SendMany(connIDs []string, event string, data any) int {
	if event == protocol.EventTaskError {
		panic("boom")
	}
	return p.fakeTransport.SendMany(connIDs, event, data)
}

func TestOnMessage_RecoversPanics(t *testing.T) {
	tr := newFakeTransport("c1")
	agg := metrics.New()
	c := New(Params{
		Registry:  registry.New(testLogger()),
		Metrics:   agg,
		Transport: panickingTransport{tr},
		Logger:    testLogger(),
	})
	c.OnConnect(context.Background(), hub.Client{ID: "c1"})

	raw := json.RawMessage(`{"id":"t1","sessionId":"s1"}`)
	require.NotPanics(t, func() {
		c.OnMessage(context.Background(), "c1", protocol.Envelope{Event: protocol.EventStartTask, Data: raw})
	})

	errs := tr.to("c1", protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Internal server error", errs[0].(protocol.ErrorPayload).Message)
	// one error for the unmatched task, one for the panic
	assert.Equal(t, uint64(2), agg.Snapshot().Errors)
}

func TestOnDisconnect_UnregistersAgents(t *testing.T) {
	f := newFixture(t, "agent", "observer")
	f.send(t, "agent", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "observer", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "agent", protocol.EventRegisterAgent, map[string]any{"id": "a1"})

	f.coord.OnDisconnect("agent")

	got := f.transport.to("observer", protocol.EventAgentUnregistered)
	require.Len(t, got, 1)
	ev := got[0].(protocol.AgentUnregistered)
	assert.Equal(t, "a1", ev.AgentID)
	assert.Equal(t, "disconnection", ev.Reason)
	assert.Equal(t, 0, f.reg.AgentCount())
	assert.Equal(t, int64(1), f.agg.Snapshot().Connections)
}

func TestProtectMessage_SealsAndBroadcasts(t *testing.T) {
	f := newFixture(t, "c1")
	f.send(t, "c1", protocol.EventProtectMessage, map[string]any{
		"userId": "u1", "message": "hello", "secret": "correct horse",
	})

	require.Len(t, f.transport.broadcast, 1)
	enc := f.transport.broadcast[0].data.(protocol.EncryptedMessage)
	assert.Equal(t, seal.Algorithm, enc.Algorithm)
	assert.Equal(t, "c1", enc.SenderID)

	plain, err := seal.Open(enc.EncryptedData, "correct horse")
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u1","message":"hello"}`, string(plain))

	confirm := f.transport.to("c1", protocol.EventMessageProtected)
	require.Len(t, confirm, 1)
	assert.Equal(t, enc.Token, confirm[0].(protocol.MessageProtected).Token)
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, "c1", "c2")
	f.send(t, "c1", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})

	assert.Equal(t, 1, f.coord.Broadcast("s1", "announcement", map[string]any{"text": "hi"}))
	assert.Equal(t, 2, f.coord.Broadcast("", "announcement", map[string]any{"text": "all"}))
	assert.Len(t, f.transport.to("c1", "announcement"), 1)
	assert.Equal(t, uint64(2), f.agg.Snapshot().MessagesProcessed)
}

func TestQueries(t *testing.T) {
	f := newFixture(t, "agent")
	f.send(t, "agent", protocol.EventJoinSession, map[string]any{"sessionId": "s1"})
	f.send(t, "agent", protocol.EventRegisterAgent, map[string]any{
		"id": "a1", "type": "nlp", "capabilities": []string{"nlp", "vision"},
	})
	f.send(t, "agent", protocol.EventStartTask, map[string]any{
		"id": "t1", "sessionId": "s1", "requirements": map[string]any{"capabilities": []string{"nlp"}},
	})

	t.Run("stats", func(t *testing.T) {
		s := f.coord.Stats()
		assert.Equal(t, 1, s.ActiveSessions)
		assert.Equal(t, 1, s.RegisteredAgents)
		assert.Equal(t, 1, s.ConnectedClients)
		assert.Equal(t, 1, s.TaskQueueSize)
		assert.Equal(t, uint64(1), s.MessagesProcessed)
	})

	t.Run("health", func(t *testing.T) {
		h := f.coord.Health()
		assert.Equal(t, "healthy", h.Status)
		assert.Equal(t, "test", h.Environment)
		assert.Equal(t, 1, h.Performance.ActiveSessions)
	})

	t.Run("sessions", func(t *testing.T) {
		s := f.coord.Sessions()
		assert.Equal(t, 1, s.Count)
		assert.Equal(t, []string{"s1"}, s.IDs)
		assert.Equal(t, 1, s.Details["s1"].TaskCount)
		assert.Equal(t, 1, s.Details["s1"].Metrics.TotalTasks)
	})

	t.Run("agents", func(t *testing.T) {
		a := f.coord.Agents()
		require.Equal(t, 1, a.Count)
		assert.True(t, a.Agents[0].Online)
		assert.Equal(t, []string{"a1"}, a.Capabilities["vision"])
		assert.Equal(t, []string{"a1"}, a.AgentTypes["nlp"])
	})
}

func TestSimulateAgent(t *testing.T) {
	f := newFixture(t, "observer")
	f.send(t, "observer", protocol.EventJoinSession, map[string]any{"sessionId": "demo-session"})

	res, err := f.coord.SimulateAgent(context.Background(), SimulationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "simulation-started", res.Status)
	assert.Equal(t, "demo-session", res.SessionID)
	assert.Equal(t, "data-analysis", res.TaskType)

	f.coord.Wait()

	assigned := f.transport.to("observer", protocol.EventTaskAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, res.AgentID, assigned[0].(protocol.TaskAssigned).AgentID)

	assert.Len(t, f.transport.to("observer", protocol.EventTaskProgress), len(simulationSteps)+1)
	completed := f.transport.to("observer", protocol.EventTaskCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, res.TaskID, completed[0].(protocol.TaskCompleted).TaskID)

	unreg := f.transport.to("observer", protocol.EventAgentUnregistered)
	require.Len(t, unreg, 1)
	assert.Equal(t, "simulation-finished", unreg[0].(protocol.AgentUnregistered).Reason)

	assert.Equal(t, 0, f.reg.AgentCount())
	assert.Equal(t, uint64(1), f.agg.Snapshot().TasksCompleted)
	assert.Equal(t, 0, f.transport.count(protocol.EventError))
}

func TestSimulateAgent_CancelledRunFailsTask(t *testing.T) {
	f := newFixture(t, "observer")
	f.send(t, "observer", protocol.EventJoinSession, map[string]any{"sessionId": "demo-session"})
	f.coord.stepUnit = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.coord.SimulateAgent(ctx, SimulationRequest{})
	require.NoError(t, err)
	cancel()
	f.coord.Wait()

	s, ok := f.reg.Session("demo-session")
	require.True(t, ok)
	task, ok := s.Task(res.TaskID)
	require.True(t, ok)
	assert.Equal(t, registry.TaskError, task.Status)
	assert.Empty(t, f.transport.to("observer", protocol.EventTaskCompleted))
}
