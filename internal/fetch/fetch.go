// Package fetch retrieves listing pages from the BIS portal. Two
// implementations exist: a plain HTTP client for the fast path and a
// headless-browser client for when the portal insists on running its
// front-end. Both are single-attempt; retry policy lives with the caller.
package fetch

import (
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultUserAgent    = "biswatch/1.0 (+https://github.com/sells-group/biswatch)"
	defaultTimeout      = 30 * time.Second
	defaultRatePerSec   = 1.0
	defaultBurst        = 2
	defaultMaxBodyBytes = 2 << 20 // 2 MiB; listing pages are ~200 KiB
)

// Options configures a fetcher.
type Options struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	RatePerSec   float64
	Burst        int
	MaxBodyBytes int64
}

func (o *Options) defaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = defaultRatePerSec
	}
	if o.Burst <= 0 {
		o.Burst = defaultBurst
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
}

// PageURL builds the URL for the given 1-based listing page. Page 1 is the
// bare listing URL; deeper pages carry a page query parameter. Existing
// query parameters on the base URL (filters etc.) are preserved.
func PageURL(base string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: parse base url %s", base)
	}
	q := u.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
