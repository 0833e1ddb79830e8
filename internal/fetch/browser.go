package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/biswatch/internal/resilience"
)

// cookieButtonLabels are the consent-banner button texts the portal has
// shipped over time. Clicking any of them dismisses the banner.
var cookieButtonLabels = []string{"Apstiprināt", "Piekrītu", "Akceptēt"}

// BrowserFetcher retrieves listing pages through headless Chrome. The
// portal renders the listing client-side when it decides the visitor is a
// browser, so this path trades speed for reliability.
type BrowserFetcher struct {
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger

	mu       sync.Mutex
	lnch     *launcher.Launcher
	browser  *rod.Browser
	bannerOK bool
}

// NewBrowserFetcher creates a BrowserFetcher. Chrome is launched lazily on
// the first Fetch so constructing one is cheap.
func NewBrowserFetcher(opts Options) (*BrowserFetcher, error) {
	opts.defaults()
	if _, err := PageURL(opts.BaseURL, 1); err != nil {
		return nil, err
	}
	return &BrowserFetcher{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		log:     zap.L().With(zap.String("component", "fetch")),
	}, nil
}

func (f *BrowserFetcher) ensureBrowser() (*rod.Browser, error) {
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	u, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "fetch: launch chrome")
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, eris.Wrap(err, "fetch: connect chrome")
	}

	f.lnch = l
	f.browser = b
	f.bannerOK = false
	f.log.Info("headless browser launched")
	return b, nil
}

// Fetch navigates to the listing page and returns its rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, page int) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limiter wait")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.ensureBrowser()
	if err != nil {
		return nil, &resilience.TransientError{Err: err}
	}

	pageURL, err := PageURL(f.opts.BaseURL, page)
	if err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	pg, err := stealth.Page(b)
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "fetch: create tab")}
	}
	defer pg.Close() //nolint:errcheck
	pg = pg.Context(navCtx)

	if err := pg.Navigate(pageURL); err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrapf(err, "fetch: navigate page %d", page)}
	}
	if err := pg.WaitLoad(); err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrapf(err, "fetch: load page %d", page)}
	}

	if !f.bannerOK {
		f.acceptCookieBanner(pg)
		f.bannerOK = true
	}

	// Let the client-side app settle before snapshotting.
	if err := pg.WaitDOMStable(300*time.Millisecond, 0); err != nil {
		f.log.Debug("dom-stable wait gave up", zap.Int("page", page), zap.Error(err))
	}

	html, err := pg.HTML()
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrapf(err, "fetch: snapshot page %d", page)}
	}

	f.log.Debug("page rendered",
		zap.Int("page", page),
		zap.Int("bytes", len(html)),
	)
	return []byte(html), nil
}

// acceptCookieBanner clicks the consent button if one is present. Best
// effort: a missing banner is the normal case after the first page.
func (f *BrowserFetcher) acceptCookieBanner(pg *rod.Page) {
	for _, label := range cookieButtonLabels {
		el, err := pg.Timeout(2 * time.Second).ElementR("button, a", label)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			f.log.Debug("cookie banner click failed", zap.String("label", label), zap.Error(err))
			continue
		}
		f.log.Debug("cookie banner accepted", zap.String("label", label))
		return
	}
}

// Recycle kills Chrome so the next Fetch starts from a clean profile.
func (f *BrowserFetcher) Recycle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownLocked()
	f.log.Info("browser session recycled")
	return nil
}

// Close shuts the browser down for good.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownLocked()
	return nil
}

func (f *BrowserFetcher) shutdownLocked() {
	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			f.log.Warn("browser close", zap.Error(err))
		}
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Kill()
		f.lnch = nil
	}
	f.bannerOK = false
}
