package store

import (
	"context"
	"fmt"

	"github.com/petal-labs/flowcanvas/config"
)

// Closer is a Store holding resources that must be released.
type Closer interface {
	Store
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Closer, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return nopCloser{NewMemoryStore()}, nil
	case config.StoreSQLite:
		s, err := NewSQLiteStore(SQLiteConfig{DSN: cfg.SQLitePath})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		s, err := OpenPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type nopCloser struct {
	*MemoryStore
}

func (nopCloser) Close() error { return nil }
