// ABOUTME: Demo agent simulation driving a pinned task through the normal dispatch path
// ABOUTME: Six timed progress steps followed by completion, then the demo agent leaves

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/args-gateway/internal/protocol"
	"github.com/2389/args-gateway/internal/registry"
)

// SimulationRequest is the body of POST /api/demo/simulate-agent.
type SimulationRequest struct {
	SessionID string `json:"sessionId"`
	AgentType string `json:"agentType"`
	TaskType  string `json:"taskType"`
}

// SimulationResult is returned once the simulated run has started.
type SimulationResult struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	TaskID    string `json:"taskId"`
	AgentType string `json:"agentType"`
	TaskType  string `json:"taskType"`
	Timestamp int64  `json:"timestamp"`
}

type simulationStep struct {
	name  string
	units int
}

var simulationSteps = []simulationStep{
	{"initialization", 2},
	{"data-loading", 3},
	{"preprocessing", 4},
	{"analysis", 5},
	{"results-generation", 2},
	{"cleanup", 1},
}

// SimulateAgent registers a demo agent on a virtual connection, submits a task pinned to it
// and drives the task to completion in the background. ctx bounds the background run.
func (c *Coordinator) SimulateAgent(ctx context.Context, req SimulationRequest) (SimulationResult, error) {
	if req.SessionID == "" {
		req.SessionID = "demo-session"
	}
	if req.AgentType == "" {
		req.AgentType = "data-processor"
	}
	if req.TaskType == "" {
		req.TaskType = "data-analysis"
	}

	suffix := uuid.NewString()[:8]
	connID := "sim-" + suffix
	agentID := "demo-agent-" + suffix
	taskID := "demo-task-" + suffix

	capabilities := []string{"data-analysis", "machine-learning", "visualization"}
	if !slices.Contains(capabilities, req.TaskType) {
		capabilities = append(capabilities, req.TaskType)
	}

	c.reg.Connect(connID)
	if _, err := c.reg.JoinSession(connID, req.SessionID); err != nil {
		c.reg.Disconnect(connID)
		return SimulationResult{}, err
	}
	if err := c.registerAgent(connID, &protocol.RegisterAgent{
		ID:           agentID,
		Type:         req.AgentType,
		Capabilities: capabilities,
		Status:       string(registry.StatusIdle),
		Metadata: map[string]any{
			"name":               fmt.Sprintf("Demo %s agent", req.AgentType),
			"description":        fmt.Sprintf("Simulated %s for demonstration", req.AgentType),
			"maxConcurrentTasks": 3,
			"simulated":          true,
		},
	}); err != nil {
		c.reg.Disconnect(connID)
		return SimulationResult{}, err
	}

	task := &protocol.StartTask{
		ID:                taskID,
		SessionID:         req.SessionID,
		CollaborationMode: string(registry.ModeSequential),
		Requirements: protocol.Requirements{
			Capabilities: []string{req.TaskType},
			Constraint:   "agent.id == " + strconv.Quote(agentID),
		},
	}
	def, err := json.Marshal(task)
	if err != nil {
		c.reg.Disconnect(connID)
		return SimulationResult{}, fmt.Errorf("encoding task: %w", err)
	}
	task.Definition = def

	c.metrics.MessageProcessed()
	assigned, err := c.dispatcher.StartTask(ctx, task)
	if err != nil || len(assigned) == 0 {
		c.disconnect(connID, "simulation-finished")
		if err == nil {
			err = fmt.Errorf("demo agent %s was not assigned", agentID)
		}
		return SimulationResult{}, err
	}

	c.simulations.Add(1)
	go func() {
		defer c.simulations.Done()
		defer c.disconnect(connID, "simulation-finished")
		c.runSimulation(ctx, req, agentID, taskID)
	}()

	c.logger.Info("simulation started", "session_id", req.SessionID, "agent_id", agentID, "task_id", taskID)
	return SimulationResult{
		Status:    "simulation-started",
		SessionID: req.SessionID,
		AgentID:   agentID,
		TaskID:    taskID,
		AgentType: req.AgentType,
		TaskType:  req.TaskType,
		Timestamp: protocol.Timestamp(c.reg.Now()),
	}, nil
}

func (c *Coordinator) runSimulation(ctx context.Context, req SimulationRequest, agentID, taskID string) {
	total := 0
	for _, s := range simulationSteps {
		total += s.units
	}

	elapsed := 0
	for i, step := range simulationSteps {
		c.report(ctx, req.SessionID, agentID, taskID, "processing", map[string]any{
			"step":                   step.name,
			"progress":               elapsed * 100 / total,
			"message":                "Executing " + strings.ReplaceAll(step.name, "-", " ") + "...",
			"estimatedTimeRemaining": (time.Duration(total-elapsed) * c.stepUnit).Milliseconds(),
			"metadata": map[string]any{
				"executionTime": (time.Duration(elapsed) * c.stepUnit).Milliseconds(),
				"memoryUsage":   50 + i*10,
				"cpuUsage":      30 + i*15,
			},
		})

		select {
		case <-ctx.Done():
			c.report(context.WithoutCancel(ctx), req.SessionID, agentID, taskID, "error", map[string]any{
				"message": "simulation cancelled",
			})
			return
		case <-time.After(time.Duration(step.units) * c.stepUnit):
		}
		elapsed += step.units
	}

	c.report(ctx, req.SessionID, agentID, taskID, "completed", map[string]any{
		"progress": 100,
		"result": map[string]any{
			"status": "success",
			"output": req.TaskType + " completed successfully",
			"results": map[string]any{
				"processed_items": 1000,
				"accuracy":        0.95,
				"confidence":      0.87,
			},
		},
	})
	c.logger.Info("simulation finished", "session_id", req.SessionID, "agent_id", agentID, "task_id", taskID)
}

func (c *Coordinator) report(ctx context.Context, sessionID, agentID, taskID, status string, fields map[string]any) {
	fields["sessionId"] = sessionID
	fields["agentId"] = agentID
	fields["taskId"] = taskID
	fields["status"] = status

	c.metrics.MessageProcessed()
	c.dispatcher.ReportProgress(ctx, &protocol.AgentProgress{
		SessionID: sessionID,
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    status,
		Fields:    fields,
	})
}
