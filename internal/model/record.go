// Package model defines the core data types shared across the watcher:
// listing records, tracked state entries, changes, and run reports.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Canonical field names for a planned-construction record. Extraction maps
// the portal's Latvian column headers onto these keys; everything downstream
// (filtering, diffing, reports) works in terms of them.
const (
	FieldCaseNumber       = "bis_number"
	FieldAuthority        = "authority"
	FieldAddress          = "address"
	FieldObject           = "object"
	FieldPhase            = "phase"
	FieldConstructionType = "construction_type"
	FieldIntentionType    = "intention_type"
	FieldUsageCode        = "usage_code"
	FieldPublished        = "published"
	FieldDetailsURL       = "details_url"
)

// SignificantFields are the fields whose changes are worth reporting.
// Cosmetic drift in anything else updates the stored record silently.
var SignificantFields = []string{
	FieldPhase,
	FieldConstructionType,
	FieldIntentionType,
	FieldUsageCode,
	FieldAddress,
	FieldObject,
}

// Record is one row harvested from the listing.
type Record struct {
	ID          string            `json:"id"`
	Fields      map[string]string `json:"fields"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// Field returns the named field value, or "" when absent.
func (r Record) Field(name string) string {
	return r.Fields[name]
}

// StateEntry is a record as tracked in the knowledge base, with the
// observation timestamps that survive across runs.
type StateEntry struct {
	Record    Record    `json:"record"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Identity derives the stable identity for a set of extracted fields.
//
// Records carrying a case number are keyed on it directly ("nr:..."), so the
// identity survives edits to every other field. Records without one fall back
// to a hash over fields that do not change when a case advances through its
// lifecycle ("h:..."); phase and type fields are deliberately excluded so a
// phase transition reads as an update, not a new record.
func Identity(fields map[string]string) string {
	if nr := CanonicalValue(fields[FieldCaseNumber]); nr != "" {
		return "nr:" + nr
	}
	key := strings.Join([]string{
		CanonicalValue(fields[FieldAuthority]),
		CanonicalValue(fields[FieldAddress]),
		CanonicalValue(fields[FieldObject]),
		CanonicalValue(fields[FieldPublished]),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return "h:" + hex.EncodeToString(sum[:8])
}

// CanonicalValue normalizes a field value for identity purposes: Unicode
// NFC (the portal mixes composed and decomposed Latvian diacritics), outer
// whitespace trimmed, inner runs collapsed to single spaces.
func CanonicalValue(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
