package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "biswatch.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://bis.gov.lv/bisp/lv/planned_constructions", cfg.Source.BaseURL)
	assert.Equal(t, "http", cfg.Source.Fetcher)
	assert.Equal(t, 30, cfg.Source.TimeoutSecs)
	assert.InDelta(t, 1.0, cfg.Source.RatePerSec, 0.001)
	assert.Equal(t, 400, cfg.Crawl.PageCeiling)
	assert.Equal(t, 40, cfg.Crawl.PagesPerRun)
	assert.Equal(t, 25, cfg.Crawl.DeltaWindow)
	assert.Equal(t, 3, cfg.Crawl.FrontRefresh)
	assert.Equal(t, 2, cfg.Crawl.EmptyTolerance)
	assert.Equal(t, 900, cfg.Crawl.RunBudgetSecs)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1500, cfg.Retry.BaseDelayMS)
	assert.Equal(t, 8, cfg.Breaker.Window)
	assert.InDelta(t, 0.5, cfg.Breaker.ErrorRatio, 0.001)
	assert.Equal(t, 120, cfg.Breaker.CooldownSecs)
	assert.Equal(t, 2, cfg.Breaker.MaxCooldowns)
	assert.Equal(t, 10, cfg.Failed.BatchSize)
	assert.Equal(t, 5, cfg.Failed.MaxAttempts)
	assert.Equal(t, 0, cfg.State.PruneAfterDays)
	assert.True(t, cfg.Filter.Enabled)
	assert.Equal(t, "reports", cfg.Report.Dir)
	assert.Equal(t, "CHANGELOG.md", cfg.Report.ChangelogPath)
	assert.Equal(t, "0 7 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/biswatch
source:
  fetcher: browser
crawl:
  pages_per_run: 60
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/biswatch", cfg.Store.DatabaseURL)
	assert.Equal(t, "browser", cfg.Source.Fetcher)
	assert.Equal(t, 60, cfg.Crawl.PagesPerRun)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 400, cfg.Crawl.PageCeiling)
	assert.Equal(t, 25, cfg.Crawl.DeltaWindow)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("BISWATCH_STORE_DRIVER", "postgres")
	t.Setenv("BISWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("BISWATCH_SERVER_PORT", "3000")
	t.Setenv("BISWATCH_CRAWL_DELTA_WINDOW", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Crawl.DeltaWindow)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults mirrors the Load defaults for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "biswatch.db"
	cfg.Source.BaseURL = "https://bis.gov.lv/bisp/lv/planned_constructions"
	cfg.Source.Fetcher = "http"
	cfg.Crawl.PageCeiling = 400
	cfg.Crawl.PagesPerRun = 40
	cfg.Crawl.DeltaWindow = 25
	cfg.Breaker.ErrorRatio = 0.5
	cfg.Failed.MaxAttempts = 5
	cfg.Schedule.Cron = "0 7 * * *"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Source.BaseURL = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "source.base_url is required")
}

func TestValidateRun_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required for postgres")
}

func TestValidateRun_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateRun_UnknownFetcher(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.Fetcher = "curl"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "source.fetcher must be http or browser")
}

func TestValidateRun_CrawlBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Crawl.PagesPerRun = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.pages_per_run must be between 1 and 500")

	cfg.Crawl.PagesPerRun = 501
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.pages_per_run must be between 1 and 500")

	cfg.Crawl.PagesPerRun = 40
	cfg.Crawl.PageCeiling = 10
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.page_ceiling must be >= crawl.delta_window")
}

func TestValidateRun_BreakerRatio(t *testing.T) {
	cfg := validDefaults()
	cfg.Breaker.ErrorRatio = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "breaker.error_ratio must be in (0, 1]")

	cfg.Breaker.ErrorRatio = 1.5
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Breaker.ErrorRatio = 1.0
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_MissingCron(t *testing.T) {
	cfg := validDefaults()
	cfg.Schedule.Cron = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.cron is required")
}

func TestValidateStatus_SkipsSourceChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.BaseURL = ""
	cfg.Source.Fetcher = ""

	assert.NoError(t, cfg.Validate("status"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("bogus")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
