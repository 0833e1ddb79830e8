package resilience

import (
	"sort"
)

// QueueEntry is one page awaiting a cross-run retry, with the number of
// failed fetch cycles it has accumulated so far.
type QueueEntry struct {
	Page     int `json:"page"`
	Attempts int `json:"attempts"`
}

// FailedPageQueue tracks pages whose in-run retries were exhausted so later
// runs can try them again before doing anything else. Attempts count whole
// failed fetch cycles, not individual retries, and only ever grow; a page
// reaching MaxAttempts is abandoned and drops out of the queue.
//
// The queue is an in-memory working copy: the orchestrator loads it at run
// start, mutates it during the run, and persists Entries() at run end.
type FailedPageQueue struct {
	maxAttempts int
	pageCeiling int

	pending map[int]int // page -> attempts
	popped  map[int]int // popped this run; remembered so attempts stay monotonic
}

// PushResult describes what happened to a page pushed into the queue.
type PushResult int

const (
	// PushQueued means the page was retained for a future run.
	PushQueued PushResult = iota
	// PushAbandoned means the page hit the attempt ceiling and was dropped.
	PushAbandoned
	// PushIgnored means the page lies outside [1, pageCeiling].
	PushIgnored
)

// NewFailedPageQueue builds a queue from persisted entries. Entries outside
// [1, pageCeiling] or already at the attempt ceiling are discarded on load,
// which keeps the queue sane after a config change shrinks either limit.
func NewFailedPageQueue(maxAttempts, pageCeiling int, entries []QueueEntry) *FailedPageQueue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	q := &FailedPageQueue{
		maxAttempts: maxAttempts,
		pageCeiling: pageCeiling,
		pending:     make(map[int]int, len(entries)),
		popped:      make(map[int]int),
	}
	for _, e := range entries {
		if e.Page < 1 || (pageCeiling > 0 && e.Page > pageCeiling) {
			continue
		}
		if e.Attempts >= maxAttempts {
			continue
		}
		if prev, ok := q.pending[e.Page]; !ok || e.Attempts > prev {
			q.pending[e.Page] = e.Attempts
		}
	}
	return q
}

// PopBatch removes and returns up to limit pages, lowest attempts first,
// ties broken by ascending page number. Popped pages are remembered: if one
// fails again this run, Push resumes from its prior attempt count.
func (q *FailedPageQueue) PopBatch(limit int) []int {
	if limit <= 0 || len(q.pending) == 0 {
		return nil
	}

	type cand struct{ page, attempts int }
	cands := make([]cand, 0, len(q.pending))
	for p, a := range q.pending {
		cands = append(cands, cand{p, a})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].attempts != cands[j].attempts {
			return cands[i].attempts < cands[j].attempts
		}
		return cands[i].page < cands[j].page
	})

	if limit > len(cands) {
		limit = len(cands)
	}
	pages := make([]int, 0, limit)
	for _, c := range cands[:limit] {
		pages = append(pages, c.page)
		q.popped[c.page] = c.attempts
		delete(q.pending, c.page)
	}
	return pages
}

// Push records one more failed fetch cycle for page. The new attempt count
// builds on whatever the queue already knows about the page, including
// entries popped earlier this run.
func (q *FailedPageQueue) Push(page int) PushResult {
	if page < 1 || (q.pageCeiling > 0 && page > q.pageCeiling) {
		return PushIgnored
	}

	base := q.pending[page]
	if a, ok := q.popped[page]; ok && a > base {
		base = a
	}

	next := base + 1
	delete(q.popped, page)
	if next >= q.maxAttempts {
		delete(q.pending, page)
		return PushAbandoned
	}
	q.pending[page] = next
	return PushQueued
}

// Len returns the number of pages currently queued for future runs.
func (q *FailedPageQueue) Len() int {
	return len(q.pending)
}

// Entries returns the queue contents for persistence, sorted by page.
// Pages popped this run and not re-pushed (they succeeded or were
// abandoned) are gone.
func (q *FailedPageQueue) Entries() []QueueEntry {
	entries := make([]QueueEntry, 0, len(q.pending))
	for p, a := range q.pending {
		entries = append(entries, QueueEntry{Page: p, Attempts: a})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Page < entries[j].Page })
	return entries
}
