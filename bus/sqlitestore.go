package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/core"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed-width so stored times sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS compile_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	compile_id  TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	stage       TEXT    NOT NULL DEFAULT '',
	node_id     TEXT    NOT NULL DEFAULT '',
	node_type   TEXT    NOT NULL DEFAULT '',
	time        TEXT    NOT NULL,
	elapsed     INTEGER NOT NULL DEFAULT 0,
	payload     TEXT    NOT NULL DEFAULT '{}',
	trace_id    TEXT    NOT NULL DEFAULT '',
	span_id     TEXT    NOT NULL DEFAULT '',
	UNIQUE (workflow_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_compile_events_time ON compile_events (time);
CREATE INDEX IF NOT EXISTS idx_compile_events_compile ON compile_events (compile_id);
`

const eventColumns = `workflow_id, seq, compile_id, kind, stage, node_id, node_type, time, elapsed, payload, trace_id, span_id`

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes compiles whose newest event is older than this
	// duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per workflow (0 = no
	// count pruning). A compile with any event beyond the limit is deleted
	// whole.
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteEventStore persists compile events to a SQLite database, in WAL
// mode, with an optional background pruner.
type SQLiteEventStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlitestore: dsn is required")
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}

	// Create schema.
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteEventStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	// Start background pruner if any retention is configured.
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// Append stores an event in the database.
func (s *SQLiteEventStore) Append(ctx context.Context, event compiler.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compile_events (workflow_id, seq, compile_id, kind, stage, node_id, node_type, time, elapsed, payload, trace_id, span_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.WorkflowID,
		event.Seq,
		event.CompileID,
		string(event.Kind),
		string(event.Stage),
		event.NodeID,
		string(event.NodeType),
		event.Time.UTC().Format(sqliteTimeLayout),
		int64(event.Elapsed),
		string(payloadJSON),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns events for a workflow, optionally filtered by afterSeq and limit.
func (s *SQLiteEventStore) List(ctx context.Context, workflowID string, afterSeq uint64, limit int) ([]compiler.Event, error) {
	var rows *sql.Rows
	var err error

	query := `SELECT ` + eventColumns + `
	           FROM compile_events WHERE workflow_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{workflowID, afterSeq}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err = s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest Seq for a workflow (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, workflowID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM compile_events WHERE workflow_id = ?`, workflowID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- seq is always non-negative (auto-increment)
}

// LatestCompile returns the events of the compile that emitted the
// workflow's newest event.
func (s *SQLiteEventStore) LatestCompile(ctx context.Context, workflowID string) ([]compiler.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM compile_events
		 WHERE workflow_id = ? AND compile_id = (
			SELECT compile_id FROM compile_events WHERE workflow_id = ? ORDER BY seq DESC LIMIT 1
		 )
		 ORDER BY seq ASC`, workflowID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: latest compile: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteEventStore) Close() error {
	select {
	case <-s.stop:
		// Already closed.
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(sqliteTimeLayout)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM compile_events WHERE compile_id IN (
				SELECT compile_id FROM compile_events GROUP BY compile_id HAVING MAX(time) < ?
			)`, cutoff,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		// Keep at most RetentionCount events per workflow, dropping the
		// oldest compiles whole.
		rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workflow_id FROM compile_events`)
		if err != nil {
			return fmt.Errorf("sqlitestore: prune list workflows: %w", err)
		}
		var workflowIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("sqlitestore: prune scan workflow id: %w", err)
			}
			workflowIDs = append(workflowIDs, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("sqlitestore: prune rows err: %w", err)
		}

		for _, workflowID := range workflowIDs {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM compile_events WHERE workflow_id = ? AND compile_id IN (
					SELECT compile_id FROM compile_events WHERE workflow_id = ? AND id NOT IN (
						SELECT id FROM compile_events WHERE workflow_id = ? ORDER BY seq DESC LIMIT ?
					)
				)`, workflowID, workflowID, workflowID, s.cfg.RetentionCount,
			); err != nil {
				return fmt.Errorf("sqlitestore: prune by count for %s: %w", workflowID, err)
			}
		}
	}

	return nil
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEvents(rows *sql.Rows) ([]compiler.Event, error) {
	var events []compiler.Event
	for rows.Next() {
		var (
			e           compiler.Event
			kind        string
			stage       string
			nodeType    string
			timeStr     string
			elapsedNano int64
			payloadJSON string
		)
		err := rows.Scan(
			&e.WorkflowID,
			&e.Seq,
			&e.CompileID,
			&kind,
			&stage,
			&e.NodeID,
			&nodeType,
			&timeStr,
			&elapsedNano,
			&payloadJSON,
			&e.TraceID,
			&e.SpanID,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}

		e.Kind = compiler.EventKind(kind)
		e.Stage = compiler.Stage(stage)
		e.NodeType = core.NodeType(nodeType)
		e.Elapsed = time.Duration(elapsedNano)

		t, err := time.Parse(sqliteTimeLayout, timeStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", timeStr, err)
		}
		e.Time = t

		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		} else {
			e.Payload = map[string]any{}
		}

		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ EventStore = (*SQLiteEventStore)(nil)
