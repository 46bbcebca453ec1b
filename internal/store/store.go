// Package store persists normalized entities and the per-station staleness
// cache. Two backends are available: SQLite on disk and an in-memory map.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Backend is a hydro.Store that can be health-checked and closed.
type Backend interface {
	hydro.Store

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a station has no cache entry.
var ErrNotFound = hydro.ErrNotFound

var (
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*MemoryStore)(nil)
)

// Open returns the backend named kind. path is only used by sqlite.
func Open(kind, path string, logger *zap.SugaredLogger) (Backend, error) {
	switch kind {
	case BackendSQLite, "":
		s, err := NewSQLiteStore(path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
