// ABOUTME: Prometheus collector reading the Aggregator and registry sizes at scrape time
// ABOUTME: Metric names are prefixed args_ and served from the gateway's metrics path

package metrics

import "github.com/prometheus/client_golang/prometheus"

// StateSource reports the current size of the registry.
type StateSource interface {
	SessionCount() int
	AgentCount() int
}

// Collector implements prometheus.Collector over an Aggregator.
type Collector struct {
	agg   *Aggregator
	state StateSource

	connections       *prometheus.Desc
	messages          *prometheus.Desc
	tasksCompleted    *prometheus.Desc
	errors            *prometheus.Desc
	uptime            *prometheus.Desc
	messagesPerSecond *prometheus.Desc
	errorRate         *prometheus.Desc
	sessions          *prometheus.Desc
	agents            *prometheus.Desc
}

// NewCollector creates a collector. state may be nil.
func NewCollector(agg *Aggregator, state StateSource) *Collector {
	return &Collector{
		agg:               agg,
		state:             state,
		connections:       prometheus.NewDesc("args_connections", "Currently connected clients.", nil, nil),
		messages:          prometheus.NewDesc("args_messages_processed_total", "Processed task, progress, collaboration and broadcast messages.", nil, nil),
		tasksCompleted:    prometheus.NewDesc("args_tasks_completed_total", "Tasks reported as completed.", nil, nil),
		errors:            prometheus.NewDesc("args_errors_total", "Task and handler errors.", nil, nil),
		uptime:            prometheus.NewDesc("args_uptime_seconds", "Seconds since the gateway started.", nil, nil),
		messagesPerSecond: prometheus.NewDesc("args_messages_per_second", "Processed messages divided by uptime.", nil, nil),
		errorRate:         prometheus.NewDesc("args_error_rate_percent", "Errors per processed message, as a percentage.", nil, nil),
		sessions:          prometheus.NewDesc("args_sessions", "Sessions held in memory.", nil, nil),
		agents:            prometheus.NewDesc("args_agents", "Registered agents.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.messages
	ch <- c.tasksCompleted
	ch <- c.errors
	ch <- c.uptime
	ch <- c.messagesPerSecond
	ch <- c.errorRate
	if c.state != nil {
		ch <- c.sessions
		ch <- c.agents
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Connections))
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.MessagesProcessed))
	ch <- prometheus.MustNewConstMetric(c.tasksCompleted, prometheus.CounterValue, float64(s.TasksCompleted))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
	ch <- prometheus.MustNewConstMetric(c.messagesPerSecond, prometheus.GaugeValue, s.MessagesPerSecond)
	ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, s.ErrorRate)
	if c.state != nil {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(c.state.SessionCount()))
		ch <- prometheus.MustNewConstMetric(c.agents, prometheus.GaugeValue, float64(c.state.AgentCount()))
	}
}
