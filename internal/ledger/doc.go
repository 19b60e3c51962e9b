// Package ledger keeps an append-only audit trail of task lifecycle events in SQLite.
//
// The ledger is not session persistence: the gateway never reads it back to rebuild state.
// It answers "what happened to task X" after the fact, through GET /api/ledger.
//
// Entry ids are ULIDs, so lexical order is creation order.
package ledger
