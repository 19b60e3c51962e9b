// ABOUTME: Tests for collaboration routing to targets, rooms, and missing agents
// ABOUTME: Verifies that an unknown target only notifies the requester

package collab

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	target string
	event  string
	data   any
}

type recordingEmitter struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingEmitter) ToSession(sessionID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{target: "session:" + sessionID, event: event, data: data})
}

func (r *recordingEmitter) ToConnection(connID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{target: "conn:" + connID, event: event, data: data})
}

func setup(t *testing.T) (*registry.Registry, *recordingEmitter, *Router) {
	t.Helper()
	reg := registry.New(testLogger())
	_, err := reg.JoinSession("c-helper", "s1")
	require.NoError(t, err)
	_, _, err = reg.RegisterAgent(registry.AgentInfo{ID: "helper"}, "c-helper")
	require.NoError(t, err)
	_, _, err = reg.RegisterAgent(registry.AgentInfo{ID: "elsewhere"}, "c-other")
	require.NoError(t, err)

	emit := &recordingEmitter{}
	return reg, emit, New(reg, emit, testLogger())
}

func TestRoute_Target(t *testing.T) {
	reg, emit, router := setup(t)

	ok := router.Route("c-asker", &protocol.CollaborationRequest{
		SessionID: "s1", RequestID: "r1", TargetAgent: "elsewhere",
		Fields: map[string]any{"requestId": "r1", "targetAgent": "elsewhere"},
	})
	assert.True(t, ok)

	require.Len(t, emit.sent, 1)
	assert.Equal(t, "conn:c-other", emit.sent[0].target, "targets are looked up across the whole registry")
	assert.Equal(t, protocol.EventCollaborationRequest, emit.sent[0].event)
	payload := emit.sent[0].data.(map[string]any)
	assert.Equal(t, "r1", payload["requestId"])
	assert.Contains(t, payload, "timestamp")

	s, _ := reg.Session("s1")
	stored, found := s.CollaborationRequest("r1")
	require.True(t, found)
	assert.Equal(t, "pending", stored.Status)
}

func TestRoute_MissingTarget(t *testing.T) {
	reg, emit, router := setup(t)

	ok := router.Route("c-asker", &protocol.CollaborationRequest{SessionID: "s1", RequestID: "r2", TargetAgent: "ghost"})
	assert.False(t, ok)

	require.Len(t, emit.sent, 1)
	assert.Equal(t, "conn:c-asker", emit.sent[0].target)
	assert.Equal(t, protocol.EventCollaborationError, emit.sent[0].event)
	assert.Equal(t, "r2", emit.sent[0].data.(protocol.CollaborationError).RequestID)

	s, _ := reg.Session("s1")
	assert.Equal(t, 1, s.Summary().CollaborationRequests)
}

func TestRoute_Broadcast(t *testing.T) {
	_, emit, router := setup(t)

	router.Route("c-asker", &protocol.CollaborationRequest{SessionID: "s1", RequestID: "r3"})

	require.Len(t, emit.sent, 1)
	assert.Equal(t, "session:s1", emit.sent[0].target)
}

func TestRoute_UnknownSessionIsNotStored(t *testing.T) {
	reg, emit, router := setup(t)

	router.Route("c-asker", &protocol.CollaborationRequest{SessionID: "nope", RequestID: "r4"})

	_, ok := reg.Session("nope")
	assert.False(t, ok, "routing never creates sessions")
	assert.Len(t, emit.sent, 1)
}
