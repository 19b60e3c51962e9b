// Package janitor runs the periodic maintenance sweeps of the gateway.
//
// Each sweep fails tasks that have been assigned without progress for longer than the
// assignment timeout and evicts sessions that have no connected members once they are idle
// past the TTL or the session count exceeds its bound. Sweeps are scheduled with
// robfig/cron and never overlap.
package janitor
