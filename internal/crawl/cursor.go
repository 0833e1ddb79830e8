package crawl

// Cursor tracks the harvest's position in the listing across runs. It is
// loaded at run start, advanced by the orchestrator, and persisted with the
// rest of the run state.
//
// While BaselineComplete is false the watcher is still walking the listing
// for the first time and NextPage is the frontier of that walk. Once the
// baseline is complete NextPage is kept at 1: steady-state runs always
// rescan the head of the listing, where this portal surfaces new and
// changed cases.
type Cursor struct {
	NextPage         int  `json:"next_page"`
	BaselineComplete bool `json:"baseline_complete"`
}

// Normalize clamps the cursor into [1, ceiling], healing hand-edited or
// stale persisted values.
func (c Cursor) Normalize(ceiling int) Cursor {
	if c.NextPage < 1 {
		c.NextPage = 1
	}
	if ceiling > 0 && c.NextPage > ceiling {
		c.NextPage = ceiling
	}
	if c.BaselineComplete {
		c.NextPage = 1
	}
	return c
}
