package crawl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/resilience"
)

// Fetcher is the runner's view of the fetch layer. Fetch returns the raw
// content of one listing page; Recycle rotates the underlying resource
// (fresh session, fresh browser) and is invoked after a first failure and
// after each cooldown.
type Fetcher interface {
	Fetch(ctx context.Context, page int) ([]byte, error)
	Recycle(ctx context.Context) error
}

// Config holds the crawl tuning knobs.
type Config struct {
	// PageCeiling is the highest page the watcher will ever visit.
	PageCeiling int
	// PagesPerRun bounds the sequential window while building the baseline.
	PagesPerRun int
	// DeltaWindow is the head rescan width in steady state.
	DeltaWindow int
	// FrontRefresh is how many leading pages are refreshed each run while
	// the baseline walk is still in progress. Negative disables the refresh.
	FrontRefresh int
	// EmptyTolerance is the number of consecutive empty pages that proves
	// the listing has ended.
	EmptyTolerance int
	// RunBudget is the wall-clock allowance for one run, enforced between
	// page visits and before sleeps, never by interrupting a fetch.
	RunBudget time.Duration

	// Cooldown is the pause after the circuit breaker trips; MaxCooldowns
	// bounds how many pauses a run may spend before aborting instead.
	Cooldown     time.Duration
	MaxCooldowns int

	// FailedBatchSize caps how many deferred pages a run retries first.
	FailedBatchSize int
	// FailedMaxAttempts is the failed-cycle count at which a page is
	// abandoned.
	FailedMaxAttempts int

	Retry   resilience.RetryConfig
	Breaker resilience.BreakerConfig
}

// DefaultConfig returns the crawl settings tuned for the BIS portal.
func DefaultConfig() Config {
	return Config{
		PageCeiling:       400,
		PagesPerRun:       40,
		DeltaWindow:       25,
		FrontRefresh:      3,
		EmptyTolerance:    2,
		RunBudget:         15 * time.Minute,
		Cooldown:          2 * time.Minute,
		MaxCooldowns:      2,
		FailedBatchSize:   10,
		FailedMaxAttempts: 5,
		Retry:             resilience.DefaultRetryConfig(),
		Breaker:           resilience.DefaultBreakerConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageCeiling <= 0 {
		c.PageCeiling = d.PageCeiling
	}
	if c.PagesPerRun <= 0 {
		c.PagesPerRun = d.PagesPerRun
	}
	if c.DeltaWindow <= 0 {
		c.DeltaWindow = d.DeltaWindow
	}
	if c.FrontRefresh == 0 {
		c.FrontRefresh = d.FrontRefresh
	}
	if c.EmptyTolerance <= 0 {
		c.EmptyTolerance = d.EmptyTolerance
	}
	if c.RunBudget <= 0 {
		c.RunBudget = d.RunBudget
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxCooldowns < 0 {
		c.MaxCooldowns = d.MaxCooldowns
	}
	if c.FailedBatchSize <= 0 {
		c.FailedBatchSize = d.FailedBatchSize
	}
	if c.FailedMaxAttempts <= 0 {
		c.FailedMaxAttempts = d.FailedMaxAttempts
	}
	if c.Retry.MaxRetries == 0 && c.Retry.BaseDelay == 0 {
		c.Retry = d.Retry
	}
	if c.Breaker == (resilience.BreakerConfig{}) {
		c.Breaker = d.Breaker
	}
	return c
}

// Input is the durable state a run starts from.
type Input struct {
	Cursor      Cursor
	FailedPages []resilience.QueueEntry
}

// Result is everything a run hands back for persistence: the harvested
// batch, the advanced cursor, the surviving failed-page queue, and stats.
// A run never fails outright; every stop condition ends in a Result.
type Result struct {
	Records     []model.Record
	Cursor      Cursor
	FailedPages []resilience.QueueEntry
	Stats       model.CrawlStats
}

// Runner drives one harvest run over the listing.
type Runner struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	detect    ErrorPageDetector
	log       *zap.Logger

	// injected in tests
	nowFunc   func() time.Time
	sleepFunc func(context.Context, time.Duration) bool
}

// NewRunner creates a Runner with defaults applied.
func NewRunner(cfg Config, f Fetcher, ex Extractor, detect ErrorPageDetector) *Runner {
	return &Runner{
		cfg:       cfg.withDefaults(),
		fetcher:   f,
		extractor: ex,
		detect:    detect,
		log:       zap.L().With(zap.String("component", "crawl")),
		nowFunc:   time.Now,
		sleepFunc: func(ctx context.Context, d time.Duration) bool {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
				return true
			}
		},
	}
}

// runState is the mutable state threaded through one run.
type runState struct {
	deadline time.Time
	queue    *resilience.FailedPageQueue
	breaker  *resilience.Breaker
	outcomes map[int]PageOutcome
	records  []model.Record
	stats    model.CrawlStats

	highestSeq int
	endOfData  bool
}

// Run executes one harvest run. It never interrupts an in-flight fetch:
// the budget, the breaker, and cancellation all take effect between page
// visits, so the Result is always a consistent snapshot to persist.
func (r *Runner) Run(ctx context.Context, in Input) Result {
	start := r.nowFunc()
	cur := in.Cursor.Normalize(r.cfg.PageCeiling)

	st := &runState{
		deadline: start.Add(r.cfg.RunBudget),
		queue:    resilience.NewFailedPageQueue(r.cfg.FailedMaxAttempts, r.cfg.PageCeiling, in.FailedPages),
		breaker:  resilience.NewBreaker(r.cfg.Breaker),
		outcomes: make(map[int]PageOutcome),
	}

	wl := BuildWorklist(cur, st.queue.PopBatch(r.cfg.FailedBatchSize), r.cfg)
	r.log.Info("run starting",
		zap.Bool("baseline_complete", cur.BaselineComplete),
		zap.Ints("failed_batch", wl.Failed),
		zap.Int("seq_start", wl.SeqStart),
		zap.Int("seq_end", wl.SeqEnd),
	)

	stop := r.visitList(ctx, st, wl.Failed)
	if stop == "" {
		stop = r.visitList(ctx, st, wl.Front)
	}
	if stop == "" {
		stop = r.visitSequential(ctx, st, cur, wl)
	}
	if stop == "" {
		stop = model.StopExhausted
		if st.endOfData {
			stop = model.StopEndOfData
		}
	}
	return r.finalize(st, cur, wl, stop)
}

func (r *Runner) visitList(ctx context.Context, st *runState, pages []int) model.StopReason {
	for _, p := range pages {
		if stop := r.visit(ctx, st, p); stop != "" {
			return stop
		}
	}
	return ""
}

// visitSequential walks the sequential window in order. Pages already
// visited this run contribute their cached outcome, so a failed-pass or
// front-pass result still counts at its window position, both for frontier
// advancement and for end-of-data detection.
func (r *Runner) visitSequential(ctx context.Context, st *runState, cur Cursor, wl Worklist) model.StopReason {
	consecEmpty := 0
	for p := wl.SeqStart; p <= wl.SeqEnd; p++ {
		if stop := r.visit(ctx, st, p); stop != "" {
			return stop
		}
		st.highestSeq = p

		if cur.BaselineComplete {
			continue // end-of-data hunting only matters while building
		}
		if st.outcomes[p].Kind == OutcomeEmpty {
			consecEmpty++
			if consecEmpty >= r.cfg.EmptyTolerance {
				st.endOfData = true
				r.log.Info("end of data detected",
					zap.Int("page", p),
					zap.Int("consecutive_empty", consecEmpty),
				)
				return ""
			}
		} else {
			consecEmpty = 0
		}
	}
	return ""
}

// visit fetches and classifies one page unless it was already handled this
// run. It returns a non-empty StopReason when the run must end.
func (r *Runner) visit(ctx context.Context, st *runState, page int) model.StopReason {
	if _, done := st.outcomes[page]; done {
		return ""
	}
	if ctx.Err() != nil {
		return model.StopCanceled
	}
	if r.nowFunc().After(st.deadline) {
		return model.StopBudget
	}

	out := r.fetchPage(ctx, st, page)
	st.outcomes[page] = out
	st.stats.PagesAttempted++

	switch out.Kind {
	case OutcomeOK:
		st.stats.PagesSucceeded++
		st.stats.RecordsExtracted += len(out.Records)
		st.records = append(st.records, out.Records...)
		st.breaker.Observe(false)
		r.log.Debug("page ok", zap.Int("page", page), zap.Int("records", len(out.Records)))
	case OutcomeEmpty:
		st.stats.EmptyPages = append(st.stats.EmptyPages, page)
		st.breaker.Observe(false)
		r.log.Debug("page empty", zap.Int("page", page))
	case OutcomeError:
		st.stats.ErrorPages = append(st.stats.ErrorPages, page)
		weight := 1
		if resilience.IsBackendUnavailable(out.Err) {
			weight = 2
		}
		st.breaker.ObserveN(true, weight)

		switch st.queue.Push(page) {
		case resilience.PushAbandoned:
			st.stats.AbandonedPages = append(st.stats.AbandonedPages, page)
			r.log.Warn("page abandoned", zap.Int("page", page), zap.Error(out.Err))
		default:
			r.log.Warn("page deferred", zap.Int("page", page), zap.Error(out.Err))
		}
	}

	if st.breaker.Tripped() {
		return r.cooldown(ctx, st)
	}
	return ""
}

// fetchPage runs the in-run retry ladder for one page and returns its
// classified outcome.
func (r *Runner) fetchPage(ctx context.Context, st *runState, page int) PageOutcome {
	retryCfg := r.cfg.Retry
	retryCfg.Deadline = st.deadline
	retryCfg.OnFirstFailure = func(err error) {
		r.log.Debug("recycling fetch resource", zap.Int("page", page), zap.Error(err))
		if rerr := r.fetcher.Recycle(ctx); rerr != nil {
			r.log.Warn("fetch resource recycle failed", zap.Error(rerr))
		}
	}
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		st.stats.Retries++
		r.log.Warn("retrying page",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	out, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (PageOutcome, error) {
		content, fetchErr := r.fetcher.Fetch(ctx, page)
		o := Classify(page, content, fetchErr, r.extractor, r.detect)
		if o.Kind == OutcomeError {
			return o, o.Err
		}
		return o, nil
	})
	if err != nil {
		return PageOutcome{Page: page, Kind: OutcomeError, Err: err}
	}
	return out
}

// cooldown pauses the run after a breaker trip, or aborts it when the
// cooldown budget or remaining wall clock cannot cover another pause.
func (r *Runner) cooldown(ctx context.Context, st *runState) model.StopReason {
	errs, observed := st.breaker.Counters()
	if st.stats.Cooldowns >= r.cfg.MaxCooldowns {
		r.log.Warn("breaker tripped with cooldown budget spent, aborting",
			zap.Int("window_errors", errs),
			zap.Int("window_observed", observed),
		)
		return model.StopBreaker
	}
	if remaining := st.deadline.Sub(r.nowFunc()); remaining < r.cfg.Cooldown {
		r.log.Warn("breaker tripped with no time to cool down, aborting",
			zap.Duration("remaining", remaining),
		)
		return model.StopBreaker
	}

	st.stats.Cooldowns++
	r.log.Warn("breaker tripped, cooling down",
		zap.Duration("cooldown", r.cfg.Cooldown),
		zap.Int("window_errors", errs),
	)
	if !r.sleepFunc(ctx, r.cfg.Cooldown) {
		return model.StopCanceled
	}
	if err := r.fetcher.Recycle(ctx); err != nil {
		r.log.Warn("fetch resource recycle failed", zap.Error(err))
	}
	st.breaker.Reset()
	return ""
}

func (r *Runner) finalize(st *runState, cur Cursor, wl Worklist, stop model.StopReason) Result {
	next := cur
	if !cur.BaselineComplete {
		switch {
		case st.endOfData:
			next.BaselineComplete = true
			next.NextPage = 1
		case st.highestSeq >= r.cfg.PageCeiling:
			// Walked off the configured edge of the listing.
			next.BaselineComplete = true
			next.NextPage = 1
		case st.highestSeq >= wl.SeqStart:
			next.NextPage = st.highestSeq + 1
		}
		// A run that made no sequential progress leaves the cursor alone.
	}

	st.stats.Stopped = stop
	r.log.Info("run finished",
		zap.String("stopped", string(stop)),
		zap.Int("pages_attempted", st.stats.PagesAttempted),
		zap.Int("records_extracted", st.stats.RecordsExtracted),
		zap.Int("retries", st.stats.Retries),
		zap.Int("cooldowns", st.stats.Cooldowns),
		zap.Int("next_page", next.NextPage),
		zap.Bool("baseline_complete", next.BaselineComplete),
	)

	return Result{
		Records:     st.records,
		Cursor:      next,
		FailedPages: st.queue.Entries(),
		Stats:       st.stats,
	}
}
