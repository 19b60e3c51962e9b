// ABOUTME: Tests for janitor sweeps against the real registry and dispatcher
// ABOUTME: Drives time with a fake clock instead of waiting on the schedule

package janitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/args-gateway/internal/dispatch"
	"github.com/2389/args-gateway/internal/matcher"
	"github.com/2389/args-gateway/internal/metrics"
	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type nopEmitter struct{}

func (nopEmitter) ToSession(string, string, any)    {}
func (nopEmitter) ToConnection(string, string, any) {}

func setup(t *testing.T) (*registry.Registry, *dispatch.Dispatcher, *metrics.Aggregator, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg := registry.New(testLogger(), registry.WithClock(clk.Now))
	agg := metrics.New()
	d := dispatch.New(dispatch.Params{
		Registry: reg,
		Matcher:  matcher.New(reg, testLogger()),
		Emitter:  nopEmitter{},
		Metrics:  agg,
		Logger:   testLogger(),
	})
	return reg, d, agg, clk
}

func TestSweep_ExpiresStaleAssignments(t *testing.T) {
	reg, d, agg, clk := setup(t)

	reg.Connect("agent")
	_, err := reg.JoinSession("agent", "s1")
	require.NoError(t, err)
	_, _, err = reg.RegisterAgent(registry.AgentInfo{ID: "a1"}, "agent")
	require.NoError(t, err)

	assigned, err := d.StartTask(context.Background(), &protocol.StartTask{ID: "t1", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, assigned)

	j := New(Config{AssignmentTimeout: time.Minute}, d, reg, testLogger())

	res := j.Sweep(context.Background())
	assert.Equal(t, 0, res.Expired, "fresh assignment should survive")

	clk.Advance(2 * time.Minute)
	res = j.Sweep(context.Background())
	assert.Equal(t, 1, res.Expired)

	a, ok := reg.Agent("a1")
	require.True(t, ok)
	assert.Equal(t, 0, a.CurrentTasks, "expiry releases the slot")
	assert.Equal(t, uint64(1), agg.Snapshot().Errors)
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	reg, d, _, clk := setup(t)

	reg.Connect("c1")
	_, err := reg.JoinSession("c1", "kept")
	require.NoError(t, err)
	reg.EnsureSession("orphan")

	j := New(Config{IdleTTL: 10 * time.Minute}, d, reg, testLogger())

	assert.Empty(t, j.Sweep(context.Background()).Evicted)

	clk.Advance(11 * time.Minute)
	res := j.Sweep(context.Background())
	assert.Equal(t, []string{"orphan"}, res.Evicted)

	_, ok := reg.Session("kept")
	assert.True(t, ok, "sessions with members are never evicted")
}

func TestSweep_EnforcesMaxSessions(t *testing.T) {
	reg, d, _, clk := setup(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		reg.EnsureSession(id)
		clk.Advance(time.Second)
	}

	j := New(Config{MaxSessions: 2}, d, reg, testLogger())
	res := j.Sweep(context.Background())
	assert.Equal(t, []string{"s1"}, res.Evicted, "least recently active goes first")
	assert.Equal(t, 2, reg.SessionCount())
}

func TestSweep_DisabledDoesNothing(t *testing.T) {
	reg, d, _, clk := setup(t)
	reg.EnsureSession("s1")
	clk.Advance(24 * time.Hour)

	j := New(Config{}, d, reg, testLogger())
	res := j.Sweep(context.Background())
	assert.Zero(t, res.Expired)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, 1, reg.SessionCount())
}

func TestRun(t *testing.T) {
	reg, d, _, _ := setup(t)

	t.Run("rejects non-positive interval", func(t *testing.T) {
		j := New(Config{}, d, reg, testLogger())
		assert.Error(t, j.Run(context.Background()))
	})

	t.Run("stops with context", func(t *testing.T) {
		j := New(Config{Interval: time.Second}, d, reg, testLogger())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- j.Run(ctx) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})
}
