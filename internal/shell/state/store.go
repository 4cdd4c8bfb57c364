package state

import (
	"context"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists cached state between runs.
type Store interface {
	// Load reads the cached state once at pipeline start. A fresh
	// database yields an empty cache, not an error.
	Load(ctx context.Context) (*domain.CachedState, error)

	// Save persists the cached state once at pipeline end.
	Save(ctx context.Context, cached *domain.CachedState) error

	// RecordRun appends the outcome of a finished run.
	RecordRun(ctx context.Context, run domain.RunRecord) error

	// LastRun returns the most recent run record, if any.
	LastRun(ctx context.Context) (*domain.RunRecord, error)

	Close() error
}
