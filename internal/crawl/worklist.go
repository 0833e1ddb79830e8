package crawl

// Worklist is the ordered plan for one run: deferred failed pages first,
// then the front of the listing (while still building the baseline), then
// the sequential window. Pages may appear in more than one segment; the
// runner fetches each page at most once and reuses the outcome when a later
// segment reaches it.
type Worklist struct {
	Failed []int // popped from the failed-page queue, priority order
	Front  []int // [1..front_refresh] during baseline building
	// Sequential window, inclusive. SeqEnd < SeqStart means no window.
	SeqStart int
	SeqEnd   int
}

// BuildWorklist assembles the plan for one run from the normalized cursor,
// the popped failed-page batch, and the crawl config.
func BuildWorklist(cur Cursor, failed []int, cfg Config) Worklist {
	wl := Worklist{Failed: failed}

	if cur.BaselineComplete {
		// Steady state: rescan the head of the listing where churn shows up.
		wl.SeqStart = 1
		wl.SeqEnd = min(cfg.DeltaWindow, cfg.PageCeiling)
		return wl
	}

	// Building: refresh the front so early pages stay current during a long
	// baseline walk, then continue the walk from the frontier.
	front := min(cfg.FrontRefresh, cfg.PageCeiling)
	for p := 1; p <= front; p++ {
		wl.Front = append(wl.Front, p)
	}
	wl.SeqStart = cur.NextPage
	wl.SeqEnd = min(cur.NextPage+cfg.PagesPerRun-1, cfg.PageCeiling)
	return wl
}

// Pages returns the distinct pages in worklist order, for logging.
func (w Worklist) Pages() []int {
	seen := make(map[int]bool)
	var pages []int
	add := func(p int) {
		if !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}
	for _, p := range w.Failed {
		add(p)
	}
	for _, p := range w.Front {
		add(p)
	}
	for p := w.SeqStart; p <= w.SeqEnd; p++ {
		add(p)
	}
	return pages
}
