package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/store"
)

// StatusSnapshot holds a point-in-time view of tracker health. It backs
// both the status command and the serve-mode /api/status endpoint.
type StatusSnapshot struct {
	NextPage         int              `json:"next_page"`
	BaselineComplete bool             `json:"baseline_complete"`
	StateSize        int              `json:"state_size"`
	FailedQueueDepth int              `json:"failed_queue_depth"`
	FailedPages      []int            `json:"failed_pages,omitempty"`
	LastRun          *model.RunReport `json:"last_run,omitempty"`
	CollectedAt      time.Time        `json:"collected_at"`
}

// Collector gathers status snapshots from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a status collector backed by st.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect reads the cursor, queue, state size and latest run in one pass.
func (c *Collector) Collect(ctx context.Context) (*StatusSnapshot, error) {
	snap := &StatusSnapshot{CollectedAt: time.Now().UTC()}

	cur, err := c.store.LoadCursor(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load cursor")
	}
	snap.NextPage = cur.NextPage
	snap.BaselineComplete = cur.BaselineComplete

	failed, err := c.store.LoadFailedPages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load failed pages")
	}
	snap.FailedQueueDepth = len(failed)
	for _, entry := range failed {
		snap.FailedPages = append(snap.FailedPages, entry.Page)
	}

	count, err := c.store.StateCount(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count state")
	}
	snap.StateSize = count

	last, err := c.store.LastRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last run")
	}
	snap.LastRun = last

	return snap, nil
}
