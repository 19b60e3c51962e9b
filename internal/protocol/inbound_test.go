// ABOUTME: Tests for decoding and validating inbound ARGS frames
// ABOUTME: Covers required identifiers, defaults, and pass-through of free-form fields

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(event, data string) Envelope {
	return Envelope{Event: event, Data: json.RawMessage(data)}
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode(envelope("launch-missiles", `{}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecode_JoinSession(t *testing.T) {
	t.Run("requires session id", func(t *testing.T) {
		_, err := Decode(envelope(EventJoinSession, `{}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("null data is treated as empty object", func(t *testing.T) {
		_, err := Decode(Envelope{Event: EventJoinSession})
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("decodes session id", func(t *testing.T) {
		in, err := Decode(envelope(EventJoinSession, `{"sessionId":"s1"}`))
		require.NoError(t, err)
		assert.Equal(t, "s1", in.(*JoinSession).SessionID)
	})
}

func TestDecode_RegisterAgent(t *testing.T) {
	t.Run("requires id", func(t *testing.T) {
		_, err := Decode(envelope(EventRegisterAgent, `{"type":"nlp"}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("defaults status to idle and limits to one slot", func(t *testing.T) {
		in, err := Decode(envelope(EventRegisterAgent, `{"id":"a1","capabilities":["nlp"]}`))
		require.NoError(t, err)
		reg := in.(*RegisterAgent)
		assert.Equal(t, "idle", reg.Status)
		maxTasks, current := reg.Limits()
		assert.Equal(t, 1, maxTasks)
		assert.Equal(t, 0, current)
	})

	t.Run("reads limits from metadata", func(t *testing.T) {
		in, err := Decode(envelope(EventRegisterAgent,
			`{"id":"a1","status":"busy","metadata":{"maxConcurrentTasks":3,"currentTasks":2,"name":"x"}}`))
		require.NoError(t, err)
		maxTasks, current := in.(*RegisterAgent).Limits()
		assert.Equal(t, 3, maxTasks)
		assert.Equal(t, 2, current)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, err := Decode(envelope(EventRegisterAgent, `{"id":"a1","status":"sleepy"}`))
		require.ErrorIs(t, err, ErrValidation)
	})
}

func TestDecode_StartTask(t *testing.T) {
	t.Run("requires id", func(t *testing.T) {
		_, err := Decode(envelope(EventStartTask, `{"sessionId":"s1"}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("applies defaults and keeps the definition", func(t *testing.T) {
		raw := `{"id":"t1","requirements":{"capabilities":["nlp"]},"priority":"high"}`
		in, err := Decode(envelope(EventStartTask, raw))
		require.NoError(t, err)

		task := in.(*StartTask)
		assert.Equal(t, DefaultSessionID, task.SessionID)
		assert.Equal(t, "sequential", task.CollaborationMode)
		assert.Equal(t, []string{"nlp"}, task.Requirements.Capabilities)
		assert.JSONEq(t, raw, string(task.Definition))
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		_, err := Decode(envelope(EventStartTask, `{"id":"t1","collaborationMode":"chaotic"}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects non-object payload", func(t *testing.T) {
		_, err := Decode(envelope(EventStartTask, `["t1"]`))
		require.ErrorIs(t, err, ErrValidation)
	})
}

func TestDecode_AgentProgress(t *testing.T) {
	in, err := Decode(envelope(EventAgentProgress, `{"taskId":"t1","status":"processing","progress":40}`))
	require.NoError(t, err)

	p := in.(*AgentProgress)
	assert.Equal(t, DefaultSessionID, p.SessionID)
	assert.Equal(t, "processing", p.Status)
	assert.Equal(t, float64(40), p.Fields["progress"])
}

func TestDecode_CollaborationRequest(t *testing.T) {
	t.Run("requires request id", func(t *testing.T) {
		_, err := Decode(envelope(EventCollaborationRequest, `{"sessionId":"s1"}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("keeps all fields", func(t *testing.T) {
		in, err := Decode(envelope(EventCollaborationRequest,
			`{"sessionId":"s1","requestId":"r1","targetAgent":"a2","payload":{"q":"?"}}`))
		require.NoError(t, err)

		c := in.(*CollaborationRequest)
		assert.Equal(t, "a2", c.TargetAgent)
		assert.Equal(t, "r1", c.Fields["requestId"])
		assert.NotNil(t, c.Payload)
	})
}

func TestDecode_ProtectMessage(t *testing.T) {
	_, err := Decode(envelope(EventProtectMessage, `{"message":"hi"}`))
	require.ErrorIs(t, err, ErrValidation)

	in, err := Decode(envelope(EventProtectMessage, `{"message":"hi","secret":"s","userId":"u"}`))
	require.NoError(t, err)
	assert.Equal(t, "u", in.(*ProtectMessage).UserID)
}
