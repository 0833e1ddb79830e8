package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/biswatch/internal/resilience"
)

// HTTPFetcher retrieves listing pages over plain HTTP with a session
// cookie jar and a client-side rate limiter.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

// NewHTTPFetcher creates an HTTPFetcher for the configured listing URL.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	opts.defaults()
	if _, err := PageURL(opts.BaseURL, 1); err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: cookie jar")
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		opts:    opts,
		log:     zap.L().With(zap.String("component", "fetch")),
	}, nil
}

// Fetch retrieves one listing page. Non-2xx statuses that read as
// server-side hiccups (408, 429, 5xx) come back as transient errors;
// anything else (403 blocks, stray 404s) is a hard failure this attempt
// and gets another chance from the failed-page queue on a later run.
func (f *HTTPFetcher) Fetch(ctx context.Context, page int) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limiter wait")
	}

	pageURL, err := PageURL(f.opts.BaseURL, page)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: create request for page %d", page)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "lv,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: page %d", page)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := eris.Errorf("fetch: status %d for page %d", resp.StatusCode, page)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, &resilience.TransientError{Err: statusErr, StatusCode: resp.StatusCode}
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read body for page %d", page)
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, eris.Errorf("fetch: page %d body exceeds %d bytes", page, f.opts.MaxBodyBytes)
	}

	f.log.Debug("page fetched",
		zap.Int("page", page),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

// Recycle drops the session: fresh cookie jar, idle connections closed.
// The portal's error pages tend to stick to a poisoned session.
func (f *HTTPFetcher) Recycle(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return eris.Wrap(err, "fetch: recycle cookie jar")
	}
	f.client.Jar = jar
	f.client.CloseIdleConnections()
	f.log.Debug("http session recycled")
	return nil
}
