// Package dispatch turns submitted tasks into assignments and folds progress reports back into
// session state.
//
// StartTask records the task, asks the matcher for candidates and reserves a slot on each
// chosen agent before announcing task-assigned to the session room. A task with no candidate
// gets one task-error and is not retried.
//
// ReportProgress always re-broadcasts the report. When the task is known and the report moves
// it to completed or error, the dispatcher updates the session counters, releases the
// assignees' slots and, for completions, follows up with task-completed.
//
// ExpireStale fails tasks that have stayed assigned without progress for longer than the
// configured timeout.
package dispatch
