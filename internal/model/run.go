package model

import "time"

// StopReason records why a run stopped visiting pages.
type StopReason string

const (
	StopExhausted StopReason = "exhausted"   // worklist fully processed
	StopEndOfData StopReason = "end_of_data" // consecutive-empty run detected the listing's end
	StopBudget    StopReason = "budget"      // wall-clock budget reached
	StopBreaker   StopReason = "breaker"     // circuit breaker aborted the run
	StopCanceled  StopReason = "canceled"    // caller canceled the context
)

// CrawlStats summarizes the page-visitation half of a run.
type CrawlStats struct {
	PagesAttempted   int        `json:"pages_attempted"`
	PagesSucceeded   int        `json:"pages_succeeded"`
	EmptyPages       []int      `json:"empty_pages,omitempty"`
	ErrorPages       []int      `json:"error_pages,omitempty"`
	AbandonedPages   []int      `json:"abandoned_pages,omitempty"`
	Retries          int        `json:"retries"`
	Cooldowns        int        `json:"cooldowns"`
	RecordsExtracted int        `json:"records_extracted"`
	Stopped          StopReason `json:"stopped"`
}

// RunReport is the persisted summary of one complete run: crawl outcome,
// delta outcome, and the tracker positions left behind for the next run.
type RunReport struct {
	ID               string     `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	ElapsedMS        int64      `json:"elapsed_ms"`
	Crawl            CrawlStats `json:"crawl"`
	RecordsKept      int        `json:"records_kept"`
	Baseline         bool       `json:"baseline"` // true while change reporting is suppressed
	NewCount         int        `json:"new"`
	UpdatedCount     int        `json:"updated"`
	BaselineComplete bool       `json:"baseline_complete"`
	NextPage         int        `json:"next_page"`
	StateSize        int        `json:"state_size"`
	FailedQueueDepth int        `json:"failed_queue_depth"`
	PrunedEntries    int        `json:"pruned_entries,omitempty"`
	DryRun           bool       `json:"dry_run,omitempty"`
}

// Elapsed returns the run duration.
func (r RunReport) Elapsed() time.Duration {
	return time.Duration(r.ElapsedMS) * time.Millisecond
}
