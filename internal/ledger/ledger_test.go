// ABOUTME: Tests for the SQLite task ledger
// ABOUTME: Uses a temp-dir database per test

package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndList(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, Entry{Kind: KindTaskStarted, SessionID: "s1", TaskID: "t1", Timestamp: base}))
	require.NoError(t, l.Record(ctx, Entry{Kind: KindTaskAssigned, SessionID: "s1", TaskID: "t1", AgentID: "a1", Timestamp: base.Add(time.Second)}))
	require.NoError(t, l.Record(ctx, Entry{
		Kind:      KindTaskCompleted,
		SessionID: "s1",
		TaskID:    "t1",
		AgentID:   "a1",
		Timestamp: base.Add(2 * time.Second),
		Detail:    map[string]any{"executionTime": 2000.0},
	}))
	require.NoError(t, l.Record(ctx, Entry{Kind: KindTaskUnmatched, SessionID: "s2", TaskID: "t9", Timestamp: base}))

	entries, err := l.List(ctx, Filter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, KindTaskCompleted, entries[0].Kind, "newest first")
	assert.Equal(t, "a1", entries[0].AgentID)
	assert.Equal(t, 2000.0, entries[0].Detail["executionTime"])
	assert.True(t, entries[0].Timestamp.Equal(base.Add(2*time.Second)))
	assert.Equal(t, KindTaskStarted, entries[2].Kind)
	assert.NotEmpty(t, entries[2].ID)
}

func TestListFilters(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	for _, task := range []string{"t1", "t2", "t2"} {
		require.NoError(t, l.Record(ctx, Entry{Kind: KindTaskStarted, SessionID: "s1", TaskID: task}))
	}

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byTask, err := l.List(ctx, Filter{TaskID: "t2"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	limited, err := l.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := l.List(ctx, Filter{SessionID: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestOpenInMemory(t *testing.T) {
	l, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Record(context.Background(), Entry{Kind: KindTaskStarted, SessionID: "s", TaskID: "t"}))
	entries, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 1000, normalizeLimit(5000))
	assert.Equal(t, 25, normalizeLimit(25))
}
