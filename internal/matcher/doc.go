// Package matcher selects the agents eligible to run a task.
//
// Filters apply in a fixed order: agent type allow-list (when non-empty), required
// capabilities, idle status, spare capacity, and finally an optional constraint expression
// compiled with expr-lang. Candidates keep the session's insertion order; there is no ranking.
//
// Constraints see a single variable, agent, with the fields id, type, capabilities, status,
// currentTasks, maxConcurrentTasks and metadata:
//
//	agent.metadata.region == "eu" && "gpu" in agent.capabilities
package matcher
