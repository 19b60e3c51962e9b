// ABOUTME: Atomic server counters for connections, messages, completions and errors
// ABOUTME: Snapshot derives uptime, throughput and error rate with floors against division by zero

package metrics

import (
	"sync/atomic"
	"time"
)

// Aggregator holds server-wide counters. The zero value is not usable; call New.
type Aggregator struct {
	start time.Time
	now   func() time.Time

	connections    atomic.Int64
	messages       atomic.Uint64
	tasksCompleted atomic.Uint64
	errors         atomic.Uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator whose uptime starts now.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.start = a.now()
	return a
}

// Connected counts a new connection.
func (a *Aggregator) Connected() { a.connections.Add(1) }

// Disconnected removes a connection from the count, never going below zero.
func (a *Aggregator) Disconnected() {
	for {
		cur := a.connections.Load()
		if cur <= 0 {
			return
		}
		if a.connections.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// MessageProcessed counts one handled start-task, agent-progress, collaboration-request or
// broadcast.
func (a *Aggregator) MessageProcessed() { a.messages.Add(1) }

// TaskCompleted counts a task reported as completed.
func (a *Aggregator) TaskCompleted() { a.tasksCompleted.Add(1) }

// Error counts a failed task or handler error.
func (a *Aggregator) Error() { a.errors.Add(1) }

// Snapshot is a point-in-time view of the counters with derived rates.
type Snapshot struct {
	Uptime            time.Duration
	Connections       int64
	MessagesProcessed uint64
	TasksCompleted    uint64
	Errors            uint64
	MessagesPerSecond float64
	ErrorRate         float64
}

// Snapshot reads every counter and computes the derived rates.
func (a *Aggregator) Snapshot() Snapshot {
	uptime := a.now().Sub(a.start)
	s := Snapshot{
		Uptime:            uptime,
		Connections:       a.connections.Load(),
		MessagesProcessed: a.messages.Load(),
		TasksCompleted:    a.tasksCompleted.Load(),
		Errors:            a.errors.Load(),
	}
	s.MessagesPerSecond = float64(s.MessagesProcessed) / max(uptime.Seconds(), 1)
	s.ErrorRate = float64(s.Errors) / float64(max(s.MessagesProcessed, 1)) * 100
	return s
}
