// Package report renders the tracked state and per-run changes into the
// artifacts consumers read: a Latvian markdown changelog, CSV snapshots,
// and an XLSX workbook.
package report

import (
	"sort"
	"time"

	"github.com/sells-group/biswatch/internal/model"
)

// snapshotColumns is the ordered export schema shared by CSV and XLSX.
var snapshotColumns = []string{
	model.FieldCaseNumber,
	model.FieldAuthority,
	model.FieldAddress,
	model.FieldObject,
	model.FieldPhase,
	model.FieldConstructionType,
	model.FieldIntentionType,
	model.FieldUsageCode,
	model.FieldPublished,
	model.FieldDetailsURL,
	"first_seen",
	"last_seen",
}

func snapshotRow(e model.StateEntry) []string {
	return []string{
		e.Record.Field(model.FieldCaseNumber),
		e.Record.Field(model.FieldAuthority),
		e.Record.Field(model.FieldAddress),
		e.Record.Field(model.FieldObject),
		e.Record.Field(model.FieldPhase),
		e.Record.Field(model.FieldConstructionType),
		e.Record.Field(model.FieldIntentionType),
		e.Record.Field(model.FieldUsageCode),
		e.Record.Field(model.FieldPublished),
		e.Record.Field(model.FieldDetailsURL),
		e.FirstSeen.UTC().Format(time.RFC3339),
		e.LastSeen.UTC().Format(time.RFC3339),
	}
}

// sortedEntries orders the state deterministically so consecutive exports
// diff cleanly: authority, then case number, then identity.
func sortedEntries(state map[string]model.StateEntry) []model.StateEntry {
	entries := make([]model.StateEntry, 0, len(state))
	for _, e := range state {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Record, entries[j].Record
		if x, y := a.Field(model.FieldAuthority), b.Field(model.FieldAuthority); x != y {
			return x < y
		}
		if x, y := a.Field(model.FieldCaseNumber), b.Field(model.FieldCaseNumber); x != y {
			return x < y
		}
		return a.ID < b.ID
	})
	return entries
}
