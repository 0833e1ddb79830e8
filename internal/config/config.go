package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Crawl    CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker" mapstructure:"breaker"`
	Failed   FailedConfig   `yaml:"failed" mapstructure:"failed"`
	State    StateConfig    `yaml:"state" mapstructure:"state"`
	Filter   FilterConfig   `yaml:"filter" mapstructure:"filter"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures how listing pages are fetched.
type SourceConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Fetcher      string  `yaml:"fetcher" mapstructure:"fetcher"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// CrawlConfig configures pagination and scheduling of page visits.
type CrawlConfig struct {
	PageCeiling    int `yaml:"page_ceiling" mapstructure:"page_ceiling"`
	PagesPerRun    int `yaml:"pages_per_run" mapstructure:"pages_per_run"`
	DeltaWindow    int `yaml:"delta_window" mapstructure:"delta_window"`
	FrontRefresh   int `yaml:"front_refresh" mapstructure:"front_refresh"`
	EmptyTolerance int `yaml:"empty_tolerance" mapstructure:"empty_tolerance"`
	RunBudgetSecs  int `yaml:"run_budget_secs" mapstructure:"run_budget_secs"`
}

// RetryConfig configures per-page retry behavior.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMS    int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelaySecs   int     `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BreakerConfig configures the sliding-window circuit breaker.
type BreakerConfig struct {
	Window       int     `yaml:"window" mapstructure:"window"`
	ErrorRatio   float64 `yaml:"error_ratio" mapstructure:"error_ratio"`
	CooldownSecs int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MaxCooldowns int     `yaml:"max_cooldowns" mapstructure:"max_cooldowns"`
}

// FailedConfig configures the durable failed-page queue.
type FailedConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// StateConfig configures retention of tracked entries.
type StateConfig struct {
	PruneAfterDays int `yaml:"prune_after_days" mapstructure:"prune_after_days"`
}

// FilterConfig configures record filtering. An empty RulesPath uses the
// built-in rules.
type FilterConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ReportConfig configures run artifacts.
type ReportConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	ChangelogPath string `yaml:"changelog_path" mapstructure:"changelog_path"`
	XLSX          bool   `yaml:"xlsx" mapstructure:"xlsx"`
}

// NotifyConfig configures webhook notifications. An empty URL disables
// delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ScheduleConfig configures the serve-mode cron schedule.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BISWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "biswatch.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("source.base_url", "https://bis.gov.lv/bisp/lv/planned_constructions")
	v.SetDefault("source.fetcher", "http")
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.rate_per_sec", 1.0)
	v.SetDefault("source.burst", 2)
	v.SetDefault("source.max_body_bytes", 2<<20)
	v.SetDefault("crawl.page_ceiling", 400)
	v.SetDefault("crawl.pages_per_run", 40)
	v.SetDefault("crawl.delta_window", 25)
	v.SetDefault("crawl.front_refresh", 3)
	v.SetDefault("crawl.empty_tolerance", 2)
	v.SetDefault("crawl.run_budget_secs", 900)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 1500)
	v.SetDefault("retry.max_delay_secs", 30)
	v.SetDefault("retry.jitter_fraction", 0.5)
	v.SetDefault("breaker.window", 8)
	v.SetDefault("breaker.error_ratio", 0.5)
	v.SetDefault("breaker.cooldown_secs", 120)
	v.SetDefault("breaker.max_cooldowns", 2)
	v.SetDefault("failed.batch_size", 10)
	v.SetDefault("failed.max_attempts", 5)
	v.SetDefault("state.prune_after_days", 0)
	v.SetDefault("filter.enabled", true)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.changelog_path", "CHANGELOG.md")
	v.SetDefault("report.xlsx", false)
	v.SetDefault("schedule.cron", "0 7 * * *")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. Problems
// are accumulated so one pass reports everything that needs fixing.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "run", "serve", "status", "export", "reset":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if mode == "run" || mode == "serve" {
		if c.Source.BaseURL == "" {
			problems = append(problems, "source.base_url is required")
		} else if _, err := url.Parse(c.Source.BaseURL); err != nil {
			problems = append(problems, "source.base_url must be a valid URL")
		}
		if c.Source.Fetcher != "http" && c.Source.Fetcher != "browser" {
			problems = append(problems, "source.fetcher must be http or browser")
		}
		if c.Crawl.PagesPerRun < 1 || c.Crawl.PagesPerRun > 500 {
			problems = append(problems, "crawl.pages_per_run must be between 1 and 500")
		}
		if c.Crawl.DeltaWindow < 1 {
			problems = append(problems, "crawl.delta_window must be >= 1")
		}
		if c.Crawl.PageCeiling < c.Crawl.DeltaWindow {
			problems = append(problems, "crawl.page_ceiling must be >= crawl.delta_window")
		}
		if c.Breaker.ErrorRatio <= 0 || c.Breaker.ErrorRatio > 1 {
			problems = append(problems, "breaker.error_ratio must be in (0, 1]")
		}
		if c.Failed.MaxAttempts < 1 {
			problems = append(problems, "failed.max_attempts must be >= 1")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Schedule.Cron == "" {
			problems = append(problems, "schedule.cron is required")
		}
	}

	if len(problems) > 0 {
		return eris.New(fmt.Sprintf("config: invalid for %s: %s", mode, strings.Join(problems, "; ")))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
