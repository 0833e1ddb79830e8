package main

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/biswatch/internal/config"
	"github.com/sells-group/biswatch/internal/crawl"
	"github.com/sells-group/biswatch/internal/delta"
	"github.com/sells-group/biswatch/internal/extract"
	"github.com/sells-group/biswatch/internal/fetch"
	"github.com/sells-group/biswatch/internal/filter"
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/notify"
	"github.com/sells-group/biswatch/internal/report"
	"github.com/sells-group/biswatch/internal/resilience"
	"github.com/sells-group/biswatch/internal/store"
)

var (
	runBudgetSecs int
	runPages      int
	runFetcher    string
	runStoreURL   string
	runDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one harvest run against the listing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runBudgetSecs > 0 {
			cfg.Crawl.RunBudgetSecs = runBudgetSecs
		}
		if runPages > 0 {
			cfg.Crawl.PagesPerRun = runPages
		}
		if runFetcher != "" {
			cfg.Source.Fetcher = runFetcher
		}
		if runStoreURL != "" {
			cfg.Store.DatabaseURL = runStoreURL
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := executeRun(ctx, cfg, st, runDryRun)
		if err != nil {
			return err
		}

		zap.L().Info("run complete",
			zap.String("run_id", rep.ID),
			zap.String("stopped", string(rep.Crawl.Stopped)),
			zap.Int("records_kept", rep.RecordsKept),
			zap.Int("new", rep.NewCount),
			zap.Int("updated", rep.UpdatedCount),
			zap.Int("state_size", rep.StateSize),
		)

		return writeRunReport(os.Stdout, rep)
	},
}

func init() {
	runCmd.Flags().IntVar(&runBudgetSecs, "budget", 0, "wall-clock budget in seconds (default from config)")
	runCmd.Flags().IntVar(&runPages, "pages", 0, "sequential pages this run may visit (default from config)")
	runCmd.Flags().StringVar(&runFetcher, "fetcher", "", "page fetcher: http or browser (default from config)")
	runCmd.Flags().StringVar(&runStoreURL, "store", "", "database path or URL (default from config)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "crawl and diff without persisting anything")
	rootCmd.AddCommand(runCmd)
}

// executeRun performs one complete harvest cycle: prune stale entries, load
// the trackers, crawl, filter, merge, persist, then emit artifacts and
// notifications. A dry run stops after the merge and persists nothing.
func executeRun(ctx context.Context, cfg *config.Config, st store.Store, dryRun bool) (model.RunReport, error) {
	started := time.Now().UTC()
	runID := uuid.NewString()
	log := zap.L().With(zap.String("component", "run"), zap.String("run_id", runID))

	var pruned int
	if days := cfg.State.PruneAfterDays; days > 0 && !dryRun {
		cutoff := started.AddDate(0, 0, -days)
		n, err := st.PruneState(ctx, cutoff)
		if err != nil {
			return model.RunReport{}, eris.Wrap(err, "prune state")
		}
		pruned = n
		if n > 0 {
			log.Info("pruned stale entries", zap.Int("entries", n), zap.Time("cutoff", cutoff))
		}
	}

	prior, err := st.LoadState(ctx)
	if err != nil {
		return model.RunReport{}, eris.Wrap(err, "load state")
	}
	cursor, err := st.LoadCursor(ctx)
	if err != nil {
		return model.RunReport{}, eris.Wrap(err, "load cursor")
	}
	failed, err := st.LoadFailedPages(ctx)
	if err != nil {
		return model.RunReport{}, eris.Wrap(err, "load failed pages")
	}

	fetcher, err := newFetcher(cfg.Source)
	if err != nil {
		return model.RunReport{}, eris.Wrap(err, "init fetcher")
	}
	if c, ok := fetcher.(io.Closer); ok {
		defer c.Close() //nolint:errcheck
	}

	extractor := extract.New(extract.Options{BaseHost: baseHostOf(cfg.Source.BaseURL)})
	runner := crawl.NewRunner(crawlConfig(cfg), fetcher, extractor, extract.DetectErrorPage)

	res := runner.Run(ctx, crawl.Input{Cursor: cursor, FailedPages: failed})

	records := res.Records
	if cfg.Filter.Enabled {
		rules, err := loadFilterRules(cfg.Filter)
		if err != nil {
			return model.RunReport{}, eris.Wrap(err, "load filter rules")
		}
		records = filter.New(rules).Apply(records)
	}

	merged := delta.NewEngine(model.SignificantFields).Merge(prior, records, started)

	rep := model.RunReport{
		ID:               runID,
		StartedAt:        started,
		ElapsedMS:        time.Since(started).Milliseconds(),
		Crawl:            res.Stats,
		RecordsKept:      len(records),
		Baseline:         merged.Baseline,
		NewCount:         countChanges(merged.Changes, model.ChangeNew),
		UpdatedCount:     countChanges(merged.Changes, model.ChangeUpdated),
		BaselineComplete: res.Cursor.BaselineComplete,
		NextPage:         res.Cursor.NextPage,
		StateSize:        len(merged.State),
		FailedQueueDepth: len(res.FailedPages),
		PrunedEntries:    pruned,
		DryRun:           dryRun,
	}

	if dryRun {
		log.Info("dry run, skipping persistence",
			zap.Int("would_be_new", rep.NewCount),
			zap.Int("would_be_updated", rep.UpdatedCount),
		)
		return rep, nil
	}

	if err := st.SaveRunState(ctx, store.RunSnapshot{
		State:  merged.State,
		Cursor: res.Cursor,
		Failed: res.FailedPages,
		Report: rep,
	}); err != nil {
		return model.RunReport{}, eris.Wrap(err, "save run state")
	}

	// Artifacts and notifications ride on a persisted run; their failures
	// must not fail it.
	if err := writeArtifacts(cfg.Report, merged, started); err != nil {
		log.Warn("write report artifacts", zap.Error(err))
	}

	notifier := notify.New(cfg.Notify)
	if events := notifier.Evaluate(rep, merged.Changes, cursor.BaselineComplete); len(events) > 0 {
		sent := notifier.Send(ctx, events)
		log.Info("notifications evaluated", zap.Int("events", len(events)), zap.Int("delivered", sent))
	}

	return rep, nil
}

// newFetcher builds the configured page fetcher.
func newFetcher(src config.SourceConfig) (crawl.Fetcher, error) {
	opts := fetch.Options{
		BaseURL:      src.BaseURL,
		UserAgent:    src.UserAgent,
		Timeout:      time.Duration(src.TimeoutSecs) * time.Second,
		RatePerSec:   src.RatePerSec,
		Burst:        src.Burst,
		MaxBodyBytes: src.MaxBodyBytes,
	}
	switch src.Fetcher {
	case "browser":
		return fetch.NewBrowserFetcher(opts)
	default:
		return fetch.NewHTTPFetcher(opts)
	}
}

// crawlConfig maps the loaded configuration onto crawl settings.
func crawlConfig(cfg *config.Config) crawl.Config {
	return crawl.Config{
		PageCeiling:       cfg.Crawl.PageCeiling,
		PagesPerRun:       cfg.Crawl.PagesPerRun,
		DeltaWindow:       cfg.Crawl.DeltaWindow,
		FrontRefresh:      cfg.Crawl.FrontRefresh,
		EmptyTolerance:    cfg.Crawl.EmptyTolerance,
		RunBudget:         time.Duration(cfg.Crawl.RunBudgetSecs) * time.Second,
		Cooldown:          time.Duration(cfg.Breaker.CooldownSecs) * time.Second,
		MaxCooldowns:      cfg.Breaker.MaxCooldowns,
		FailedBatchSize:   cfg.Failed.BatchSize,
		FailedMaxAttempts: cfg.Failed.MaxAttempts,
		Retry: resilience.FromRetryConfig(
			cfg.Retry.MaxRetries,
			cfg.Retry.BaseDelayMS,
			cfg.Retry.MaxDelaySecs*1000,
			cfg.Retry.JitterFraction,
		),
		Breaker: resilience.FromBreakerConfig(cfg.Breaker.Window, cfg.Breaker.ErrorRatio),
	}
}

// loadFilterRules returns the built-in tracking rules unless a rules file
// is configured, in which case the file replaces them wholesale.
func loadFilterRules(cfg config.FilterConfig) (filter.Rules, error) {
	if cfg.RulesPath == "" {
		return filter.DefaultRules(), nil
	}
	return filter.LoadRules(cfg.RulesPath)
}

// baseHostOf reduces a listing URL to scheme://host for absolutizing
// relative links. Unparseable input falls back to the extractor default.
func baseHostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func countChanges(changes []model.Change, kind model.ChangeKind) int {
	n := 0
	for _, c := range changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// writeArtifacts renders the changelog and snapshot exports for a run.
func writeArtifacts(cfg config.ReportConfig, merged delta.Result, ts time.Time) error {
	if len(merged.Changes) > 0 && cfg.ChangelogPath != "" {
		if err := report.WriteChangelog(cfg.ChangelogPath, merged.Changes, ts); err != nil {
			return err
		}
	}
	if cfg.Dir == "" {
		return nil
	}
	if err := report.WriteSnapshots(cfg.Dir, merged.State, ts); err != nil {
		return err
	}
	if cfg.XLSX {
		path := filepath.Join(cfg.Dir, "snapshot-"+ts.Format("2006-01-02")+".xlsx")
		return report.ExportXLSX(merged.State, path)
	}
	return nil
}

// writeRunReport prints the run report as indented JSON.
func writeRunReport(w io.Writer, rep model.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
