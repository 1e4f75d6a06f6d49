package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petal-labs/flowcanvas/config"
	"github.com/petal-labs/flowcanvas/core"
)

func sampleGraph() core.Graph {
	start := core.NewData(core.NodeTypeStart)
	end := core.NewData(core.NodeTypeEnd)
	return core.Graph{
		ID:   "wf-1",
		Name: "sample",
		Nodes: []core.Node{
			{ID: "s", Type: core.NodeTypeStart, Data: start},
			{ID: "e", Type: core.NodeTypeEnd, Data: end},
		},
		Edges: []core.Edge{{ID: "s-e", Source: "s", Target: "e"}},
	}
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{DSN: filepath.Join(t.TempDir(), "workflows.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv(config.EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", config.EnvPostgresDSN)
	}
	ctx := context.Background()
	s, err := OpenPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgresStore() error = %v", err)
	}
	if err := s.DropSchema(ctx); err != nil {
		t.Fatalf("DropSchema() error = %v", err)
	}
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.DropSchema(ctx)
		_ = s.Close()
	})
	return s
}

func stores(t *testing.T) map[string]func(*testing.T) Store {
	return map[string]func(*testing.T) Store{
		"memory":   func(*testing.T) Store { return NewMemoryStore() },
		"sqlite":   func(t *testing.T) Store { return newSQLiteStore(t) },
		"postgres": func(t *testing.T) Store { return newPostgresStore(t) },
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			now := time.Now().UTC().Truncate(time.Microsecond)
			rec := WorkflowRecord{
				ID:        "wf-1",
				Name:      "test workflow",
				Source:    sampleGraph(),
				CreatedAt: now,
				UpdatedAt: now,
			}

			if err := s.Create(ctx, rec); err != nil {
				t.Fatalf("Create: unexpected error: %v", err)
			}
			if err := s.Create(ctx, rec); !errors.Is(err, ErrWorkflowExists) {
				t.Fatalf("Create duplicate: got %v, want ErrWorkflowExists", err)
			}

			got, ok, err := s.Get(ctx, "wf-1")
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if got.Name != "test workflow" || len(got.Source.Nodes) != 2 || len(got.Source.Edges) != 1 {
				t.Fatalf("Get: got %+v", got)
			}
			if got.Source.Nodes[0].Data == nil || got.Source.Nodes[0].Type != core.NodeTypeStart {
				t.Fatalf("Get: source node not decoded: %+v", got.Source.Nodes[0])
			}
			if !got.CreatedAt.Equal(now) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
			}
			if got.Compiled != nil {
				t.Errorf("Compiled = %s, want nil before compile", got.Compiled)
			}

			_, ok, err = s.Get(ctx, "missing")
			if err != nil || ok {
				t.Fatalf("Get missing: ok=%v err=%v", ok, err)
			}

			rec.Name = "updated"
			rec.Compiled = json.RawMessage(`{"id":"wf-1","nodes":[],"edges":[]}`)
			rec.UpdatedAt = now.Add(time.Second)
			if err := s.Update(ctx, rec); err != nil {
				t.Fatalf("Update: unexpected error: %v", err)
			}
			got, _, _ = s.Get(ctx, "wf-1")
			if got.Name != "updated" {
				t.Errorf("Update: name = %q", got.Name)
			}
			var ir map[string]any
			if err := json.Unmarshal(got.Compiled, &ir); err != nil || ir["id"] != "wf-1" {
				t.Errorf("Update: compiled = %s (%v)", got.Compiled, err)
			}

			if err := s.Update(ctx, WorkflowRecord{ID: "missing"}); !errors.Is(err, ErrWorkflowNotFound) {
				t.Fatalf("Update missing: got %v, want ErrWorkflowNotFound", err)
			}

			if err := s.Delete(ctx, "wf-1"); err != nil {
				t.Fatalf("Delete: unexpected error: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "wf-1"); ok {
				t.Fatal("Delete: record still exists")
			}
			if err := s.Delete(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
				t.Fatalf("Delete missing: got %v, want ErrWorkflowNotFound", err)
			}
		})
	}
}

func TestStore_ListOrder(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for _, id := range []string{"c", "a", "b"} {
				if err := s.Create(ctx, WorkflowRecord{ID: id}); err != nil {
					t.Fatalf("Create(%s): %v", id, err)
				}
			}
			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{"c", "a", "b"}
			if len(list) != len(want) {
				t.Fatalf("got %d items, want %d", len(list), len(want))
			}
			for i, rec := range list {
				if rec.ID != want[i] {
					t.Errorf("list[%d].ID = %q, want %q", i, rec.ID, want[i])
				}
				if rec.CreatedAt.IsZero() || !rec.UpdatedAt.Equal(rec.CreatedAt) {
					t.Errorf("list[%d] timestamps not stamped: %+v", i, rec)
				}
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := WorkflowRecord{ID: "wf", Source: sampleGraph()}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Source.Nodes[0].ID = "mutated"

	got, _, _ := s.Get(ctx, "wf")
	if got.Source.Nodes[0].ID != "s" {
		t.Fatalf("stored record shares caller memory: %q", got.Source.Nodes[0].ID)
	}
	got.Source.Nodes[0].ID = "mutated"
	again, _, _ := s.Get(ctx, "wf")
	if again.Source.Nodes[0].ID != "s" {
		t.Fatalf("Get returned shared memory: %q", again.Source.Nodes[0].ID)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workflows.db")

	s, err := NewSQLiteStore(SQLiteConfig{DSN: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, WorkflowRecord{ID: "wf", Source: sampleGraph()}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = NewSQLiteStore(SQLiteConfig{DSN: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, ok, err := s.Get(ctx, "wf")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got.Source.Name != "sample" {
		t.Errorf("Source.Name = %q", got.Source.Name)
	}
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{name: "default", cfg: config.StoreConfig{}},
		{name: "memory", cfg: config.StoreConfig{Driver: config.StoreMemory}},
		{name: "sqlite", cfg: config.StoreConfig{Driver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "w.db")}},
		{name: "postgres without dsn", cfg: config.StoreConfig{Driver: config.StorePostgres}, wantErr: true},
		{name: "unknown", cfg: config.StoreConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				_ = s.Close()
			}
		})
	}
}
