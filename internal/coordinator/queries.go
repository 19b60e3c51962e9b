// ABOUTME: Read-side projections for health, stats, sessions and agents
// ABOUTME: Shared by the HTTP API and the gRPC query service; JSON keys follow the public API

package coordinator

import (
	"github.com/2389/args-gateway/internal/protocol"
)

// Performance is the throughput summary embedded in Health.
type Performance struct {
	ActiveSessions    int     `json:"active_sessions"`
	RegisteredAgents  int     `json:"registered_agents"`
	MessagesPerSecond float64 `json:"messages_per_second"`
	ErrorRate         float64 `json:"error_rate"`
}

// Health is the body of GET /health.
type Health struct {
	Status      string      `json:"status"`
	Protocol    string      `json:"protocol"`
	Version     string      `json:"version"`
	Environment string      `json:"environment"`
	Uptime      float64     `json:"uptime"`
	Performance Performance `json:"performance"`
	Timestamp   int64       `json:"timestamp"`
}

// Stats is the body of GET /api/ws/stats.
type Stats struct {
	Uptime                float64 `json:"uptime"`
	ActiveSessions        int     `json:"active_sessions"`
	RegisteredAgents      int     `json:"registered_agents"`
	ConnectedClients      int     `json:"connected_clients"`
	MessagesProcessed     uint64  `json:"messages_processed"`
	TasksCompleted        uint64  `json:"tasks_completed"`
	ErrorCount            uint64  `json:"error_count"`
	MessagesPerSecond     float64 `json:"messages_per_second"`
	ErrorRate             float64 `json:"error_rate"`
	TaskQueueSize         int     `json:"task_queue_size"`
	CollaborationRequests int     `json:"collaboration_requests"`
	Timestamp             int64   `json:"timestamp"`
}

// SessionDetail describes one session in the sessions listing.
type SessionDetail struct {
	Status                string                  `json:"status"`
	AgentCount            int                     `json:"agentCount"`
	MemberCount           int                     `json:"memberCount"`
	TaskCount             int                     `json:"taskCount"`
	CollaborationRequests int                     `json:"collaborationRequests"`
	CreatedAt             int64                   `json:"createdAt"`
	LastActivity          int64                   `json:"lastActivity"`
	Metrics               protocol.SessionMetrics `json:"metrics"`
}

// Sessions is the body of GET /api/ws/sessions.
type Sessions struct {
	Count   int                      `json:"count"`
	IDs     []string                 `json:"ids"`
	Details map[string]SessionDetail `json:"details"`
}

// AgentListing is an agent as listed by the agents query.
type AgentListing struct {
	protocol.AgentView
	Online bool `json:"online"`
}

// Agents is the body of GET /api/ws/agents.
type Agents struct {
	Count        int                 `json:"count"`
	Agents       []AgentListing      `json:"agents"`
	Capabilities map[string][]string `json:"capabilities"`
	AgentTypes   map[string][]string `json:"agent_types"`
}

// Health reports liveness and headline throughput.
func (c *Coordinator) Health() Health {
	snap := c.metrics.Snapshot()
	return Health{
		Status:      "healthy",
		Protocol:    protocol.Name,
		Version:     protocol.Version,
		Environment: c.env,
		Uptime:      snap.Uptime.Seconds(),
		Performance: Performance{
			ActiveSessions:    c.reg.SessionCount(),
			RegisteredAgents:  c.reg.AgentCount(),
			MessagesPerSecond: snap.MessagesPerSecond,
			ErrorRate:         snap.ErrorRate,
		},
		Timestamp: protocol.Timestamp(c.reg.Now()),
	}
}

// Stats reports server counters together with registry totals.
func (c *Coordinator) Stats() Stats {
	snap := c.metrics.Snapshot()
	open, requests := 0, 0
	sessions := c.reg.Sessions()
	for _, s := range sessions {
		sum := s.Summary()
		open += sum.OpenTasks
		requests += sum.CollaborationRequests
	}
	return Stats{
		Uptime:                snap.Uptime.Seconds(),
		ActiveSessions:        len(sessions),
		RegisteredAgents:      c.reg.AgentCount(),
		ConnectedClients:      c.transport.Count(),
		MessagesProcessed:     snap.MessagesProcessed,
		TasksCompleted:        snap.TasksCompleted,
		ErrorCount:            snap.Errors,
		MessagesPerSecond:     snap.MessagesPerSecond,
		ErrorRate:             snap.ErrorRate,
		TaskQueueSize:         open,
		CollaborationRequests: requests,
		Timestamp:             protocol.Timestamp(c.reg.Now()),
	}
}

// Sessions lists every session sorted by id.
func (c *Coordinator) Sessions() Sessions {
	sessions := c.reg.Sessions()
	out := Sessions{
		Count:   len(sessions),
		IDs:     make([]string, 0, len(sessions)),
		Details: make(map[string]SessionDetail, len(sessions)),
	}
	for _, s := range sessions {
		sum := s.Summary()
		out.IDs = append(out.IDs, sum.ID)
		out.Details[sum.ID] = SessionDetail{
			Status:                string(sum.Status),
			AgentCount:            sum.AgentCount,
			MemberCount:           sum.MemberCount,
			TaskCount:             sum.TaskCount,
			CollaborationRequests: sum.CollaborationRequests,
			CreatedAt:             protocol.Timestamp(sum.CreatedAt),
			LastActivity:          protocol.Timestamp(sum.LastActivity),
			Metrics:               protocol.MetricsOf(sum.Metrics),
		}
	}
	return out
}

// Agents lists every registered agent with capability and type indexes.
func (c *Coordinator) Agents() Agents {
	idx := c.reg.IndexAgents()
	out := Agents{
		Count:        len(idx.Agents),
		Agents:       make([]AgentListing, 0, len(idx.Agents)),
		Capabilities: idx.Capabilities,
		AgentTypes:   idx.Types,
	}
	for _, a := range idx.Agents {
		out.Agents = append(out.Agents, AgentListing{AgentView: protocol.AgentViewOf(a), Online: true})
	}
	return out
}
