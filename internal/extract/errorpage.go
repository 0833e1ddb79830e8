package extract

import "strings"

// DefaultErrorMarkers are phrases the portal's failure pages carry. The
// portal serves these with HTTP 200, so they must be caught by content,
// not status.
var DefaultErrorMarkers = []string{
	"radās kļūda",
	"notikusi kļūda",
	"sistēmas kļūda",
	"pakalpojums nav pieejams",
	"serviss nav pieejams",
	"tehniskie darbi",
	"mēģiniet vēlāk",
	"internal server error",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
}

// NewErrorPageDetector builds a detector that reports the first marker
// found in the page, or "" for a clean page. Matching is case-insensitive.
// An empty marker list means the defaults.
func NewErrorPageDetector(markers []string) func(body []byte) string {
	if len(markers) == 0 {
		markers = DefaultErrorMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return func(body []byte) string {
		lower := strings.ToLower(string(body))
		for i, m := range lowered {
			if strings.Contains(lower, m) {
				return markers[i]
			}
		}
		return ""
	}
}

// DetectErrorPage checks a page against the default markers.
var DetectErrorPage = NewErrorPageDetector(nil)
