// Package crawl implements the harvest orchestrator: page classification,
// the cursor over the listing, worklist assembly, and the run loop that
// drives fetching under retry, circuit-breaker, and budget control.
package crawl

import (
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/resilience"
)

// OutcomeKind is the classification of one page visit.
type OutcomeKind string

const (
	// OutcomeOK means the page yielded at least one record.
	OutcomeOK OutcomeKind = "ok"
	// OutcomeEmpty means the page fetched cleanly but held no records.
	// Near the frontier this is evidence of end-of-data, never an error.
	OutcomeEmpty OutcomeKind = "empty"
	// OutcomeError means transport failed or the content was a recognized
	// backend failure page.
	OutcomeError OutcomeKind = "error"
)

// PageOutcome is the classified result of visiting one page.
type PageOutcome struct {
	Page    int
	Kind    OutcomeKind
	Records []model.Record
	Err     error // set for OutcomeError
}

// Extractor turns raw page content into records. Implementations live in
// internal/extract.
type Extractor interface {
	Extract(content []byte) ([]model.Record, error)
}

// ErrorPageDetector inspects fetched content and returns the matched
// failure marker, or "" when the content looks like a real listing page.
// Implementations live next to the extractor, which knows the portal.
type ErrorPageDetector func(content []byte) string

// Classify folds a fetch attempt into one of the three page outcomes.
//
// The error-page check runs before extraction: a backend failure page
// parses to zero records, and letting it reach the extractor would forge
// an Empty outcome and bleed into end-of-data detection.
func Classify(page int, content []byte, fetchErr error, ex Extractor, detect ErrorPageDetector) PageOutcome {
	if fetchErr != nil {
		return PageOutcome{Page: page, Kind: OutcomeError, Err: fetchErr}
	}

	if detect != nil {
		if marker := detect(content); marker != "" {
			return PageOutcome{
				Page: page,
				Kind: OutcomeError,
				Err:  &resilience.BackendUnavailableError{Marker: marker},
			}
		}
	}

	records, err := ex.Extract(content)
	if err != nil {
		// Unparseable content is treated like a failed fetch so the page
		// gets retried and deferred rather than read as end-of-data.
		return PageOutcome{Page: page, Kind: OutcomeError, Err: &resilience.TransientError{Err: err}}
	}
	if len(records) == 0 {
		return PageOutcome{Page: page, Kind: OutcomeEmpty}
	}
	return PageOutcome{Page: page, Kind: OutcomeOK, Records: records}
}
