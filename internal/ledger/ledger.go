// ABOUTME: SQLite-backed task ledger using modernc.org/sqlite with ULID entry ids
// ABOUTME: Schema is created on open; entries are listed newest first with optional filters

package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Kind names a lifecycle transition.
type Kind string

const (
	KindTaskStarted   Kind = "task.started"
	KindTaskAssigned  Kind = "task.assigned"
	KindTaskUnmatched Kind = "task.unmatched"
	KindTaskCompleted Kind = "task.completed"
	KindTaskFailed    Kind = "task.failed"
	KindTaskExpired   Kind = "task.expired"
)

// Entry is one ledger row.
type Entry struct {
	ID        string
	Kind      Kind
	SessionID string
	TaskID    string
	AgentID   string
	Timestamp time.Time
	Detail    map[string]any
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	SessionID string
	TaskID    string
	Limit     int // default 100, max 1000
}

// Ledger is a SQLite task ledger. It is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens or creates the ledger at path. ":memory:" keeps it in process memory.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{
		db:      db,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS task_ledger (
			entry_id    TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			task_id     TEXT NOT NULL,
			agent_id    TEXT NOT NULL DEFAULT '',
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_task_ledger_session ON task_ledger(session_id);
		CREATE INDEX IF NOT EXISTS idx_task_ledger_task ON task_ledger(task_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

func (l *Ledger) newID(t time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), l.entropy).String()
}

// Record appends e, filling ID and Timestamp when unset.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = l.newID(e.Timestamp)
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling ledger detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO task_ledger (entry_id, kind, session_id, task_id, agent_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Kind),
		e.SessionID,
		e.TaskID,
		e.AgentID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}

	l.logger.Debug("recorded ledger entry", "kind", e.Kind, "session_id", e.SessionID, "task_id", e.TaskID)
	return nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// List returns entries matching f, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT entry_id, kind, session_id, task_id, agent_id, ts, detail_json
		FROM task_ledger
		WHERE (? = '' OR session_id = ?)
		  AND (? = '' OR task_id = ?)
		ORDER BY entry_id DESC
		LIMIT ?
	`, f.SessionID, f.SessionID, f.TaskID, f.TaskID, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind, ts string
		var detailJSON *string
		if err := rows.Scan(&e.ID, &kind, &e.SessionID, &e.TaskID, &e.AgentID, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger entries: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
