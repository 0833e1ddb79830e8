package store

import (
	"context"
	"time"

	"github.com/sells-group/biswatch/internal/crawl"
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/resilience"
)

// RunSnapshot is everything a finished run needs persisted. SaveRunState
// writes it in a single transaction so a crash can never leave the state
// table ahead of the cursor or the failed-page queue.
type RunSnapshot struct {
	State  map[string]model.StateEntry
	Cursor crawl.Cursor
	Failed []resilience.QueueEntry
	Report model.RunReport
}

// Store defines the persistence interface for the harvest pipeline.
type Store interface {
	// Startup snapshot
	LoadState(ctx context.Context) (map[string]model.StateEntry, error)
	LoadCursor(ctx context.Context) (crawl.Cursor, error)
	LoadFailedPages(ctx context.Context) ([]resilience.QueueEntry, error)

	// End of run
	SaveRunState(ctx context.Context, snap RunSnapshot) error

	// Runs
	GetRun(ctx context.Context, runID string) (*model.RunReport, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunReport, error)
	LastRun(ctx context.Context) (*model.RunReport, error)

	// Maintenance
	StateCount(ctx context.Context) (int, error)
	PruneState(ctx context.Context, lastSeenBefore time.Time) (int, error)
	ResetCursor(ctx context.Context) error
	ResetFailedPages(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
