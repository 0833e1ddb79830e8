package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/biswatch/internal/config"
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/monitoring"
	"github.com/sells-group/biswatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the harvest scheduler and status API as a long-lived service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		return newService(cfg, st).serve(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// service holds serve-mode state: the shared store, the metrics registry,
// and the flag that keeps scheduled and API-triggered runs from
// overlapping on the same cursor.
type service struct {
	cfg     *config.Config
	store   store.Store
	metrics *monitoring.Metrics
	status  *monitoring.Collector

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func newService(cfg *config.Config, st store.Store) *service {
	return &service{
		cfg:     cfg,
		store:   st,
		metrics: monitoring.NewMetrics(),
		status:  monitoring.NewCollector(st),
	}
}

// serve starts the HTTP API and, when a cron expression is configured,
// the run scheduler. It blocks until ctx is canceled, then drains any
// in-flight run before shutting the server down.
func (s *service) serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sched *cron.Cron
	if s.cfg.Schedule.Cron != "" {
		var err error
		sched, err = s.scheduleRuns(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("scheduler started", zap.String("cron", s.cfg.Schedule.Cron))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		if sched != nil {
			// Stop returns once any mid-flight scheduled run has finished.
			<-sched.Stop().Done()
		}
		s.wg.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// scheduleRuns registers the configured cron expression and starts the
// scheduler. Due runs that fall while a previous run is still executing
// are skipped, not queued.
func (s *service) scheduleRuns(ctx context.Context) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := c.AddFunc(s.cfg.Schedule.Cron, func() {
		if !s.tryBegin() {
			zap.L().Warn("skipping scheduled run, previous run still in progress")
			return
		}
		defer s.end()
		s.runOnce(ctx, "schedule")
	})
	if err != nil {
		return nil, eris.Wrapf(err, "invalid cron expression %q", s.cfg.Schedule.Cron)
	}

	c.Start()
	return c, nil
}

// router assembles the HTTP API. Runs triggered through POST /api/run
// execute on runCtx rather than the request context, so an accepted
// crawl survives the client disconnecting.
func (s *service) router(runCtx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleRuns)
		r.Post("/run", s.handleTrigger(runCtx))
	})
	return r
}

func (s *service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *service) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.status.Collect(r.Context())
	if err != nil {
		zap.L().Error("status collection failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *service) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "runs unavailable"})
		return
	}
	if runs == nil {
		runs = []model.RunReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleTrigger starts a run in the background and answers immediately.
// A second trigger while one is executing gets 409, not a queue slot.
func (s *service) handleTrigger(runCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.tryBegin() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.end()
			s.runOnce(runCtx, "api")
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// runOnce executes one harvest and feeds the outcome into the metrics.
// source labels the log lines with what started the run.
func (s *service) runOnce(ctx context.Context, source string) {
	log := zap.L().With(zap.String("component", "serve"), zap.String("source", source))

	rep, err := executeRun(ctx, s.cfg, s.store, false)
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return
	}

	s.metrics.ObserveRun(rep)
	log.Info("run finished",
		zap.String("run_id", rep.ID),
		zap.String("stopped", string(rep.Crawl.Stopped)),
		zap.Int("new", rep.NewCount),
		zap.Int("updated", rep.UpdatedCount),
	)
}

func (s *service) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *service) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
