package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biswatch/internal/model"
)

var (
	t0 = time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 7, 2, 6, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 7, 3, 6, 0, 0, 0, time.UTC)
)

func rec(id string, fields map[string]string) model.Record {
	return model.Record{ID: id, Fields: fields}
}

func TestMerge_BaselineIsSilent(t *testing.T) {
	e := NewEngine(nil)
	batch := []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Iecere"}),
		rec("nr:B", map[string]string{model.FieldPhase: "Būvdarbi"}),
	}

	res := e.Merge(nil, batch, t0)

	assert.True(t, res.Baseline)
	assert.Empty(t, res.Changes, "seeding an empty state reports nothing")
	assert.Len(t, res.State, 2)
	assert.Equal(t, t0, res.State["nr:A"].FirstSeen)
	assert.Equal(t, t0, res.State["nr:A"].LastSeen)
}

func TestMerge_NewRecordAfterBaseline(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{rec("nr:A", nil)}, t0).State

	res := e.Merge(prior, []model.Record{rec("nr:A", nil), rec("nr:B", nil)}, t1)

	assert.False(t, res.Baseline)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, model.ChangeNew, res.Changes[0].Kind)
	assert.Equal(t, "nr:B", res.Changes[0].Record.ID)
	assert.Equal(t, t1, res.State["nr:B"].FirstSeen)
}

func TestMerge_SignificantFieldChange(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Iecere", model.FieldAddress: "Jomas iela 35"}),
	}, t0).State

	res := e.Merge(prior, []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Būvdarbi", model.FieldAddress: "Jomas iela 35"}),
	}, t1)

	require.Len(t, res.Changes, 1)
	ch := res.Changes[0]
	assert.Equal(t, model.ChangeUpdated, ch.Kind)
	require.Len(t, ch.Diffs, 1)
	assert.Equal(t, model.FieldDiff{Field: model.FieldPhase, Before: "Iecere", After: "Būvdarbi"}, ch.Diffs[0])

	// Observation history: first_seen survives, last_seen moves.
	assert.Equal(t, t0, res.State["nr:A"].FirstSeen)
	assert.Equal(t, t1, res.State["nr:A"].LastSeen)
}

func TestMerge_InsignificantChangeIsSilent(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Iecere", model.FieldDetailsURL: "https://x/1"}),
	}, t0).State

	res := e.Merge(prior, []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Iecere", model.FieldDetailsURL: "https://x/2"}),
	}, t1)

	assert.Empty(t, res.Changes, "details_url churn is not reportable")
	// The stored record still refreshes to the latest observation.
	assert.Equal(t, "https://x/2", res.State["nr:A"].Record.Field(model.FieldDetailsURL))
	assert.Equal(t, t1, res.State["nr:A"].LastSeen)
}

func TestMerge_AbsenceNeverDeletes(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{rec("nr:A", nil), rec("nr:B", nil)}, t0).State

	// A partial harvest that only saw A must leave B untouched.
	res := e.Merge(prior, []model.Record{rec("nr:A", nil)}, t1)

	assert.Len(t, res.State, 2)
	assert.Equal(t, t0, res.State["nr:B"].LastSeen, "unseen entries keep their timestamps")
	assert.Equal(t, t1, res.State["nr:A"].LastSeen)
	assert.Empty(t, res.Changes)
}

func TestMerge_EmptyBatchAfterBaselineIsNotBaseline(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{rec("nr:A", nil)}, t0).State

	res := e.Merge(prior, nil, t1)

	assert.False(t, res.Baseline, "baseline depends on prior state, not batch size")
	assert.Len(t, res.State, 1)
	assert.Empty(t, res.Changes)
}

func TestMerge_DuplicateIdentityLastWins(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Iecere"}),
	}, t0).State

	// The same case observed twice in one run (it moved between pages):
	// one change, reflecting the final observation.
	res := e.Merge(prior, []model.Record{
		rec("nr:A", map[string]string{model.FieldPhase: "Iecere"}),
		rec("nr:A", map[string]string{model.FieldPhase: "Būvdarbi"}),
	}, t1)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, "Būvdarbi", res.Changes[0].Record.Field(model.FieldPhase))
	assert.Equal(t, "Būvdarbi", res.State["nr:A"].Record.Field(model.FieldPhase))
}

func TestMerge_ReappearanceIsSilentWithoutDiffs(t *testing.T) {
	e := NewEngine(nil)
	prior := e.Merge(nil, []model.Record{rec("nr:A", map[string]string{model.FieldObject: "Noliktava"})}, t0).State

	// Absent for a run, then back unchanged: just a last_seen bump.
	mid := e.Merge(prior, nil, t1).State
	res := e.Merge(mid, []model.Record{rec("nr:A", map[string]string{model.FieldObject: "Noliktava"})}, t2)

	assert.Empty(t, res.Changes)
	assert.Equal(t, t0, res.State["nr:A"].FirstSeen)
	assert.Equal(t, t2, res.State["nr:A"].LastSeen)
}

func TestMerge_CustomSignificantFields(t *testing.T) {
	e := NewEngine([]string{model.FieldAuthority})
	prior := e.Merge(nil, []model.Record{
		rec("nr:A", map[string]string{model.FieldAuthority: "Rīga", model.FieldPhase: "Iecere"}),
	}, t0).State

	res := e.Merge(prior, []model.Record{
		rec("nr:A", map[string]string{model.FieldAuthority: "Rīga", model.FieldPhase: "Būvdarbi"}),
	}, t1)

	assert.Empty(t, res.Changes, "phase is not significant under the custom set")
}
