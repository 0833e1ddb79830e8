package model

// ChangeKind classifies a detected change.
type ChangeKind string

const (
	ChangeNew     ChangeKind = "new"
	ChangeUpdated ChangeKind = "updated"
)

// FieldDiff records a single significant field transition.
type FieldDiff struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Change is one reportable difference between the tracked state and a
// freshly harvested batch.
type Change struct {
	Kind   ChangeKind  `json:"kind"`
	Record Record      `json:"record"`
	Diffs  []FieldDiff `json:"diffs,omitempty"` // populated for updates only
}
