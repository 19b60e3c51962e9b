// ABOUTME: Dispatcher assigning tasks to matching agents and tracking their progress
// ABOUTME: Emits task-assigned, task-error, task-progress and task-completed through an Emitter

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/2389/args-gateway/internal/ledger"
	"github.com/2389/args-gateway/internal/matcher"
	"github.com/2389/args-gateway/internal/metrics"
	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
)

// Emitter delivers outbound events.
type Emitter interface {
	ToSession(sessionID, event string, data any)
	ToConnection(connID, event string, data any)
}

// Recorder stores task lifecycle entries. Failures are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Params holds the dependencies of a Dispatcher. Ledger may be nil.
type Params struct {
	Registry    *registry.Registry
	Matcher     *matcher.Matcher
	Emitter     Emitter
	Metrics     *metrics.Aggregator
	Ledger      Recorder
	Environment string
	Logger      *slog.Logger
}

// Dispatcher coordinates task assignment.
type Dispatcher struct {
	reg     *registry.Registry
	match   *matcher.Matcher
	emit    Emitter
	metrics *metrics.Aggregator
	ledger  Recorder
	env     string
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(p Params) *Dispatcher {
	return &Dispatcher{
		reg:     p.Registry,
		match:   p.Matcher,
		emit:    p.Emitter,
		metrics: p.Metrics,
		ledger:  p.Ledger,
		env:     p.Environment,
		logger:  p.Logger.With("component", "dispatch"),
	}
}

// StartTask records def in its session and assigns it. It returns the ids of the agents the
// task was assigned to; an empty result with a nil error means task-error was emitted.
func (d *Dispatcher) StartTask(ctx context.Context, def *protocol.StartTask) ([]string, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: Task ID required", registry.ErrValidation)
	}
	if err := matcher.ValidateConstraint(def.Requirements.Constraint); err != nil {
		return nil, err
	}

	sessionID := def.SessionID
	if sessionID == "" {
		sessionID = protocol.DefaultSessionID
	}
	mode := registry.CollaborationMode(def.CollaborationMode)
	if mode == "" {
		mode = registry.ModeSequential
	}
	req := def.Requirements.RegistryRequirements()
	now := d.reg.Now()

	s := d.reg.EnsureSession(sessionID)
	prev, replaced := s.AddTask(registry.Task{
		ID:           def.ID,
		Requirements: req,
		Mode:         mode,
		Status:       registry.TaskStarted,
		StartTime:    now,
		Definition:   def.Definition,
	}, now)
	if replaced && len(prev.Holding) > 0 {
		d.release(prev.Holding)
		d.logger.Debug("released slots of resubmitted task", "session_id", sessionID, "task_id", def.ID, "agents", prev.Holding)
	}
	d.record(ctx, ledger.Entry{Kind: ledger.KindTaskStarted, SessionID: sessionID, TaskID: def.ID, Timestamp: now})

	candidates, err := d.match.FindSuitableAgents(sessionID, req)
	if err != nil {
		return nil, err
	}

	var assigned []string
	for _, a := range candidates {
		if !d.reg.Reserve(a.ID) {
			continue
		}
		assigned = append(assigned, a.ID)
		if mode != registry.ModeParallel {
			break
		}
	}

	if len(assigned) == 0 {
		d.failUnmatched(ctx, s, def.ID, req)
		return nil, nil
	}

	s.UpdateTask(def.ID, now, func(t *registry.Task) {
		t.Status = registry.TaskAssigned
		t.Assignees = assigned
		t.Holding = slices.Clone(assigned)
	})

	for _, agentID := range assigned {
		d.emit.ToSession(sessionID, protocol.EventTaskAssigned, protocol.TaskAssigned{
			TaskID:         def.ID,
			AgentID:        agentID,
			Mode:           string(mode),
			TaskDefinition: def.Definition,
			Timestamp:      protocol.Timestamp(now),
		})
		d.record(ctx, ledger.Entry{Kind: ledger.KindTaskAssigned, SessionID: sessionID, TaskID: def.ID, AgentID: agentID, Timestamp: now})
	}

	d.logger.Info("task assigned",
		"session_id", sessionID,
		"task_id", def.ID,
		"mode", mode,
		"agents", assigned,
	)
	return assigned, nil
}

func (d *Dispatcher) failUnmatched(ctx context.Context, s *registry.Session, taskID string, req registry.Requirements) {
	now := d.reg.Now()
	s.UpdateTask(taskID, now, func(t *registry.Task) {
		t.Status = registry.TaskError
	})
	s.RecordError()
	d.metrics.Error()

	available := len(s.AgentIDs())
	d.emit.ToSession(s.ID(), protocol.EventTaskError, protocol.TaskError{
		TaskID:          taskID,
		Error:           "No suitable agents available",
		Reason:          "no_suitable_agents",
		Requirements:    protocol.RequirementsOf(req),
		AvailableAgents: available,
		Timestamp:       protocol.Timestamp(now),
	})
	d.record(ctx, ledger.Entry{
		Kind:      ledger.KindTaskUnmatched,
		SessionID: s.ID(),
		TaskID:    taskID,
		Timestamp: now,
		Detail:    map[string]any{"availableAgents": available},
	})

	d.logger.Warn("no suitable agents for task",
		"session_id", s.ID(),
		"task_id", taskID,
		"available_agents", available,
	)
}

// ReportProgress applies an agent-progress report and re-broadcasts it to the session room.
func (d *Dispatcher) ReportProgress(ctx context.Context, p *protocol.AgentProgress) {
	now := d.reg.Now()
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = protocol.DefaultSessionID
	}

	var (
		transition registry.TaskStatus
		task       registry.Task
		freed      []string
	)
	if s, ok := d.reg.Session(sessionID); ok && p.TaskID != "" {
		var found bool
		task, found = s.UpdateTask(p.TaskID, now, func(t *registry.Task) {
			t.LastProgress = p.Fields
			t.LastUpdate = now
			switch p.Status {
			case "completed", "error", "failed":
				freed = t.DropHolding(p.AgentID)
			}
			if t.Terminal() {
				return
			}
			switch p.Status {
			case "completed":
				t.Status = registry.TaskCompleted
				transition = registry.TaskCompleted
			case "error", "failed":
				t.Status = registry.TaskError
				transition = registry.TaskError
			}
		})

		if found {
			d.release(freed)
			switch transition {
			case registry.TaskCompleted:
				s.RecordCompletion(now.Sub(task.StartTime))
				d.metrics.TaskCompleted()
			case registry.TaskError:
				s.RecordError()
			}
		}
	}

	progress := make(map[string]any, len(p.Fields)+2)
	maps.Copy(progress, p.Fields)
	progress["serverTimestamp"] = protocol.Timestamp(now)
	progress["environment"] = d.env
	d.emit.ToSession(sessionID, protocol.EventTaskProgress, protocol.TaskProgress{
		SessionID: sessionID,
		Progress:  progress,
		Timestamp: protocol.Timestamp(now),
	})

	switch transition {
	case registry.TaskCompleted:
		execMs := float64(now.Sub(task.StartTime)) / float64(time.Millisecond)
		d.emit.ToSession(sessionID, protocol.EventTaskCompleted, protocol.TaskCompleted{
			TaskID:        task.ID,
			SessionID:     sessionID,
			AgentID:       p.AgentID,
			Result:        p.Fields["result"],
			ExecutionTime: execMs,
			Timestamp:     protocol.Timestamp(now),
		})
		d.record(ctx, ledger.Entry{
			Kind:      ledger.KindTaskCompleted,
			SessionID: sessionID,
			TaskID:    task.ID,
			AgentID:   p.AgentID,
			Timestamp: now,
			Detail:    map[string]any{"executionTime": execMs},
		})
		d.logger.Info("task completed", "session_id", sessionID, "task_id", task.ID, "agent_id", p.AgentID, "execution_ms", execMs)
	case registry.TaskError:
		d.record(ctx, ledger.Entry{
			Kind:      ledger.KindTaskFailed,
			SessionID: sessionID,
			TaskID:    task.ID,
			AgentID:   p.AgentID,
			Timestamp: now,
			Detail:    map[string]any{"status": p.Status},
		})
		d.logger.Info("task failed", "session_id", sessionID, "task_id", task.ID, "agent_id", p.AgentID)
	}
}

// ExpireStale fails every task that has been assigned for longer than timeout without a
// progress report. It returns the number of tasks expired. Slots still held on finished tasks
// by assignees that never reported are released after the same timeout. A non-positive
// timeout disables it.
func (d *Dispatcher) ExpireStale(ctx context.Context, timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	now := d.reg.Now()
	cutoff := now.Add(-timeout)

	expired := 0
	for _, s := range d.reg.Sessions() {
		for _, stale := range s.StaleAssigned(cutoff) {
			var (
				moved bool
				held  []string
			)
			task, _ := s.UpdateTask(stale.ID, now, func(t *registry.Task) {
				if t.Status != registry.TaskAssigned {
					return
				}
				t.Status = registry.TaskError
				held = t.Holding
				t.Holding = nil
				moved = true
			})
			if !moved {
				continue
			}
			expired++
			d.release(held)
			s.RecordError()
			d.metrics.Error()

			d.emit.ToSession(s.ID(), protocol.EventTaskError, protocol.TaskError{
				TaskID:          task.ID,
				Error:           "Task timed out",
				Reason:          "timeout",
				Requirements:    protocol.RequirementsOf(task.Requirements),
				AvailableAgents: len(s.AgentIDs()),
				Timestamp:       protocol.Timestamp(now),
			})
			d.record(ctx, ledger.Entry{
				Kind:      ledger.KindTaskExpired,
				SessionID: s.ID(),
				TaskID:    task.ID,
				Timestamp: now,
				Detail:    map[string]any{"timeout": timeout.String(), "assignees": task.Assignees},
			})
			d.logger.Warn("task expired", "session_id", s.ID(), "task_id", task.ID, "timeout", timeout)
		}

		for _, done := range s.StaleHeld(cutoff) {
			var held []string
			s.UpdateTask(done.ID, now, func(t *registry.Task) {
				held = t.Holding
				t.Holding = nil
			})
			d.release(held)
			d.logger.Info("released slots of silent assignees", "session_id", s.ID(), "task_id", done.ID, "agents", held)
		}
	}
	return expired
}

func (d *Dispatcher) release(agentIDs []string) {
	for _, id := range agentIDs {
		d.reg.Release(id)
	}
}

func (d *Dispatcher) record(ctx context.Context, e ledger.Entry) {
	if d.ledger == nil {
		return
	}
	if err := d.ledger.Record(ctx, e); err != nil {
		d.logger.Error("failed to record ledger entry", "kind", e.Kind, "task_id", e.TaskID, "error", err)
	}
}
