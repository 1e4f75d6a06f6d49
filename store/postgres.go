package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workflowPostgresSchema = `
CREATE TABLE IF NOT EXISTS flowcanvas_workflows (
    seq        BIGSERIAL PRIMARY KEY,
    id         TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    source     JSONB NOT NULL,
    compiled   JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore persists workflow records in PostgreSQL via pgx.
type PostgresStore struct {
	db    *pgxpool.Pool
	owned bool
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership of it.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects to dsn and creates the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("workflow store postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("workflow postgres store connect: %w", err)
	}
	s := &PostgresStore{db: pool, owned: true}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// CreateSchema creates the workflows table if it does not exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, workflowPostgresSchema); err != nil {
		return fmt.Errorf("workflow postgres store create schema: %w", err)
	}
	return nil
}

// DropSchema drops the workflows table.
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS flowcanvas_workflows`)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]WorkflowRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, source, compiled, created_at, updated_at
FROM flowcanvas_workflows
ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("workflow postgres store list: %w", err)
	}
	defer rows.Close()

	var records []WorkflowRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow postgres store list rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (WorkflowRecord, bool, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, name, source, compiled, created_at, updated_at
FROM flowcanvas_workflows
WHERE id = $1`, id)

	rec, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkflowRecord{}, false, nil
		}
		return WorkflowRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec WorkflowRecord) error {
	stamp(&rec, time.Now().UTC())
	source, err := marshalSource(rec.Source)
	if err != nil {
		return fmt.Errorf("workflow postgres store marshal source: %w", err)
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO flowcanvas_workflows (id, name, source, compiled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Name, source, nullIfEmpty(rec.Compiled), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrWorkflowExists
		}
		return fmt.Errorf("workflow postgres store create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec WorkflowRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	source, err := marshalSource(rec.Source)
	if err != nil {
		return fmt.Errorf("workflow postgres store marshal source: %w", err)
	}

	ct, err := s.db.Exec(ctx, `
UPDATE flowcanvas_workflows
SET name = $1, source = $2, compiled = $3, updated_at = $4
WHERE id = $5`,
		rec.Name, source, nullIfEmpty(rec.Compiled), rec.UpdatedAt.UTC(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("workflow postgres store update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM flowcanvas_workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("workflow postgres store delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s != nil && s.owned && s.db != nil {
		s.db.Close()
	}
	return nil
}

func scanPostgresRecord(row pgx.Row) (WorkflowRecord, error) {
	var (
		rec       WorkflowRecord
		sourceRaw []byte
		compRaw   []byte
	)
	if err := row.Scan(&rec.ID, &rec.Name, &sourceRaw, &compRaw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return WorkflowRecord{}, err
	}
	source, err := unmarshalSource(sourceRaw)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow postgres store unmarshal source: %w", err)
	}
	rec.Source = source
	rec.Compiled = cloneRaw(compRaw)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

var _ Store = (*PostgresStore)(nil)
