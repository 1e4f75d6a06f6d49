package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const workflowSQLiteSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	name TEXT,
	source BLOB NOT NULL,
	compiled BLOB,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteConfig configures the SQLite workflow store.
type SQLiteConfig struct {
	DSN string
}

// SQLiteStore persists workflow records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed workflow store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("workflow store sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("workflow sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(workflowSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow sqlite store create schema: %w", err)
	}
	if err := migrateWorkflowSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, source, compiled, created_at, updated_at
FROM workflows
ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("workflow sqlite store list: %w", err)
	}
	defer rows.Close()

	var records []WorkflowRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow sqlite store list rows: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (WorkflowRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, source, compiled, created_at, updated_at
FROM workflows
WHERE id = ?`, id)

	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkflowRecord{}, false, nil
		}
		return WorkflowRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec WorkflowRecord) error {
	stamp(&rec, time.Now().UTC())
	source, err := marshalSource(rec.Source)
	if err != nil {
		return fmt.Errorf("workflow sqlite store marshal source: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflows (id, name, source, compiled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Name,
		source,
		nullIfEmpty(rec.Compiled),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrWorkflowExists
		}
		return fmt.Errorf("workflow sqlite store create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec WorkflowRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	source, err := marshalSource(rec.Source)
	if err != nil {
		return fmt.Errorf("workflow sqlite store marshal source: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE workflows
SET name = ?, source = ?, compiled = ?, updated_at = ?
WHERE id = ?`,
		rec.Name,
		source,
		nullIfEmpty(rec.Compiled),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("workflow sqlite store update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("workflow sqlite store delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow sqlite store delete affected rows: %w", err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(scanner rowScanner) (WorkflowRecord, error) {
	var (
		id        string
		name      sql.NullString
		sourceRaw []byte
		compRaw   []byte
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &name, &sourceRaw, &compRaw, &createdAt, &updatedAt); err != nil {
		return WorkflowRecord{}, err
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store parse created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store parse updated_at: %w", err)
	}
	source, err := unmarshalSource(sourceRaw)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store unmarshal source: %w", err)
	}

	return WorkflowRecord{
		ID:        id,
		Name:      name.String,
		Source:    source,
		Compiled:  cloneRaw(compRaw),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: workflows.id")
}

func nullIfEmpty(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// migrateWorkflowSQLiteSchema adds columns missing from databases created
// before the compiled IR was persisted alongside the source.
func migrateWorkflowSQLiteSchema(db *sql.DB) error {
	columns, err := sqliteTableColumns(db, "workflows")
	if err != nil {
		return err
	}
	if !columns["id"] {
		return errors.New("workflow sqlite store workflows table missing id column")
	}
	for _, col := range []struct{ name, ddl string }{
		{"name", `ALTER TABLE workflows ADD COLUMN name TEXT`},
		{"compiled", `ALTER TABLE workflows ADD COLUMN compiled BLOB`},
	} {
		if columns[col.name] {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("workflow sqlite store add workflows.%s: %w", col.name, err)
		}
	}
	return nil
}

func sqliteTableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return nil, fmt.Errorf("workflow sqlite store inspect schema for %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("workflow sqlite store scan schema for %s: %w", table, err)
		}
		columns[strings.ToLower(strings.TrimSpace(name))] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow sqlite store schema rows for %s: %w", table, err)
	}
	return columns, nil
}

var _ Store = (*SQLiteStore)(nil)
