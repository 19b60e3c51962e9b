// Package metrics aggregates server-wide counters and derives rates on demand.
//
// Counters are atomics so every connection goroutine can record events without locking.
// Snapshot computes uptime, messages per second and error rate at read time:
//
//	messagesPerSecond = messages / max(uptimeSeconds, 1)
//	errorRate         = errors / max(messages, 1) * 100
//
// Collector exposes the same values to Prometheus.
package metrics
