// Package delta compares a harvested batch against the tracked state and
// produces the changes worth reporting plus the next state.
package delta

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/biswatch/internal/model"
)

// Engine computes state transitions. It is pure: callers pass the prior
// state in and persist the returned state themselves.
type Engine struct {
	significant []string
	log         *zap.Logger
}

// NewEngine creates an Engine comparing the given significant fields.
// nil means model.SignificantFields.
func NewEngine(significant []string) *Engine {
	if len(significant) == 0 {
		significant = model.SignificantFields
	}
	return &Engine{
		significant: significant,
		log:         zap.L().With(zap.String("component", "delta")),
	}
}

// Result is the outcome of merging one harvested batch.
type Result struct {
	// Changes lists new and updated records, in batch order. Empty on a
	// baseline-seeding merge.
	Changes []model.Change
	// State is the next tracked state to persist.
	State map[string]model.StateEntry
	// Baseline is true when the prior state was empty: the batch seeded
	// the knowledge base and change reporting was suppressed.
	Baseline bool
}

// Merge folds batch into prior and reports the differences.
//
// The state is additive: entries absent from the batch survive untouched,
// because a partial harvest (budget stop, breaker abort, steady-state head
// rescan) says nothing about records it never saw. Nothing here ever
// deletes an entry; retention is the store's pruning policy.
//
// The very first merge into an empty state is baseline seeding: everything
// is recorded silently so a fresh deployment does not announce thousands
// of pre-existing cases as news.
func (e *Engine) Merge(prior map[string]model.StateEntry, batch []model.Record, now time.Time) Result {
	next := make(map[string]model.StateEntry, len(prior)+len(batch))
	for id, entry := range prior {
		next[id] = entry
	}

	baseline := len(prior) == 0

	var changes []model.Change
	for _, rec := range dedupe(batch) {
		old, known := next[rec.ID]
		if !known {
			next[rec.ID] = model.StateEntry{Record: rec, FirstSeen: now, LastSeen: now}
			if !baseline {
				changes = append(changes, model.Change{Kind: model.ChangeNew, Record: rec})
			}
			continue
		}

		diffs := e.diff(old.Record, rec)
		next[rec.ID] = model.StateEntry{
			Record:    rec,
			FirstSeen: old.FirstSeen, // observation history survives updates
			LastSeen:  now,
		}
		if len(diffs) > 0 && !baseline {
			changes = append(changes, model.Change{Kind: model.ChangeUpdated, Record: rec, Diffs: diffs})
		}
	}

	e.log.Debug("batch merged",
		zap.Int("batch", len(batch)),
		zap.Int("changes", len(changes)),
		zap.Int("state", len(next)),
		zap.Bool("baseline", baseline),
	)
	return Result{Changes: changes, State: next, Baseline: baseline}
}

// diff returns the significant field transitions between two observations
// of the same record.
func (e *Engine) diff(old, cur model.Record) []model.FieldDiff {
	var diffs []model.FieldDiff
	for _, f := range e.significant {
		before, after := old.Field(f), cur.Field(f)
		if before != after {
			diffs = append(diffs, model.FieldDiff{Field: f, Before: before, After: after})
		}
	}
	return diffs
}

// dedupe collapses repeated identities within one batch, keeping the last
// observation (a case can shift pages between fetches mid-run) and the
// first observation's position in the order.
func dedupe(batch []model.Record) []model.Record {
	index := make(map[string]int, len(batch))
	out := make([]model.Record, 0, len(batch))
	for _, rec := range batch {
		if i, seen := index[rec.ID]; seen {
			out[i] = rec
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}
