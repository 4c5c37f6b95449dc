// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/landrecord-scraper/internal/captcha"
	navigator "github.com/JakeFAU/landrecord-scraper/internal/navigator/chromedp"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/storage/gcs"
	"github.com/JakeFAU/landrecord-scraper/internal/storage/local"
	"github.com/JakeFAU/landrecord-scraper/internal/telemetry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Scraper   ScraperConfig    `mapstructure:"scraper"`
	Form      FormConfig       `mapstructure:"form"`
	Captcha   CaptchaConfig    `mapstructure:"captcha"`
	Reference ReferenceConfig  `mapstructure:"reference"`
	Storage   StorageConfig    `mapstructure:"storage"`
	DB        DBConfig         `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig sizes the session pool and sets retry and rate budgets.
type ScraperConfig struct {
	Contexts           int           `mapstructure:"contexts"`
	TabsPerContext     int           `mapstructure:"tabs_per_context"`
	CaptchaRPM         int           `mapstructure:"captcha_rpm"`
	CaptchaWindow      time.Duration `mapstructure:"captcha_window"`
	CaptchaMinInterval time.Duration `mapstructure:"captcha_min_interval"`
	MinCaptchaLength   int           `mapstructure:"min_captcha_length"`
	MaxCaptchaAttempts int           `mapstructure:"max_captcha_attempts"`
	MaxReuseRetries    int           `mapstructure:"max_reuse_retries"`
	MaxSetupRetries    int           `mapstructure:"max_setup_retries"`
	MaxUnitAttempts    int           `mapstructure:"max_unit_attempts"`
	MaxSurveyAttempts  int           `mapstructure:"max_survey_attempts"`
	RetryBackoffBase   time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax    time.Duration `mapstructure:"retry_backoff_max"`
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	ProgressInterval   time.Duration `mapstructure:"progress_interval"`
	MaxUnits           int           `mapstructure:"max_units"`
	OutputPrefix       string        `mapstructure:"output_prefix"`
	RetainRuns         int           `mapstructure:"retain_runs"`
}

// FormConfig points at the land-record form and the browser driving it.
type FormConfig struct {
	URL        string           `mapstructure:"url"`
	RecordType string           `mapstructure:"record_type"`
	Browser    navigator.Config `mapstructure:"browser"`
}

// CaptchaConfig configures the solver and its answer cache.
type CaptchaConfig struct {
	captcha.Config `mapstructure:",squash"`
	CacheSize      int `mapstructure:"cache_size"`
}

// ReferenceConfig locates the district/taluka/village catalog.
type ReferenceConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the blob backend for artifacts and reports.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// DBConfig selects the run store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// ArtifactTable, when set with the postgres driver, indexes saved artifacts.
	ArtifactTable string `mapstructure:"artifact_table"`
}

// PubSubConfig holds run-completion notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := LoadEnvFiles(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("captcha.api_keys", "SCRAPER_CAPTCHA_API_KEYS", "GEMINI_API_KEYS", "GEMINI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind captcha keys: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := scraper.DefaultConfig()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("scraper.contexts", d.NumContexts)
	v.SetDefault("scraper.tabs_per_context", d.TabsPerContext)
	v.SetDefault("scraper.captcha_rpm", d.CaptchaRPM)
	v.SetDefault("scraper.captcha_window", d.CaptchaWindow)
	v.SetDefault("scraper.captcha_min_interval", d.CaptchaMinInterval)
	v.SetDefault("scraper.min_captcha_length", d.MinCaptchaLength)
	v.SetDefault("scraper.max_captcha_attempts", d.MaxCaptchaAttempts)
	v.SetDefault("scraper.max_reuse_retries", d.MaxReuseRetries)
	v.SetDefault("scraper.max_setup_retries", d.MaxSetupRetries)
	v.SetDefault("scraper.max_unit_attempts", d.MaxUnitAttempts)
	v.SetDefault("scraper.max_survey_attempts", d.MaxSurveyAttempts)
	v.SetDefault("scraper.retry_backoff_base", d.RetryBackoffBase)
	v.SetDefault("scraper.retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("scraper.step_timeout", d.StepTimeout)
	v.SetDefault("scraper.navigation_timeout", d.NavigationTimeout)
	v.SetDefault("scraper.progress_interval", d.ProgressInterval)
	v.SetDefault("scraper.max_units", 0)
	v.SetDefault("scraper.output_prefix", d.OutputPrefix)
	v.SetDefault("scraper.retain_runs", d.RetainRuns)
	v.SetDefault("form.url", d.FormURL)
	v.SetDefault("form.record_type", d.RecordType)
	v.SetDefault("form.browser.headless", true)
	v.SetDefault("form.browser.no_sandbox", false)
	v.SetDefault("form.browser.stable_delay", "750ms")
	v.SetDefault("captcha.api_keys", []string{})
	v.SetDefault("captcha.model", "gemini-2.0-flash")
	v.SetDefault("captcha.timeout", "20s")
	v.SetDefault("captcha.cache_size", 1024)
	v.SetDefault("reference.path", "data/reference.json")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "output")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic", "run.completed")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "landscraper")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scraper.Contexts <= 0 || c.Scraper.TabsPerContext <= 0 {
		return fmt.Errorf("scraper.contexts and scraper.tabs_per_context must be > 0")
	}
	if c.Scraper.CaptchaRPM <= 0 {
		return fmt.Errorf("scraper.captcha_rpm must be > 0")
	}
	if c.Scraper.MaxCaptchaAttempts <= 0 {
		return fmt.Errorf("scraper.max_captcha_attempts must be > 0")
	}
	if c.Scraper.MinCaptchaLength < 1 {
		return fmt.Errorf("scraper.min_captcha_length must be >= 1")
	}
	if c.Scraper.RetainRuns < 1 {
		return fmt.Errorf("scraper.retain_runs must be >= 1")
	}
	if c.Scraper.MaxUnits < 0 {
		return fmt.Errorf("scraper.max_units must be >= 0")
	}
	if c.Scraper.StepTimeout <= 0 || c.Scraper.NavigationTimeout <= 0 {
		return fmt.Errorf("scraper.step_timeout and scraper.navigation_timeout must be > 0")
	}
	if strings.TrimSpace(c.Form.URL) == "" {
		return fmt.Errorf("form.url is required")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the %s driver", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	return nil
}

// RunConfig produces the immutable run configuration.
func (c Config) RunConfig() scraper.Config {
	s := c.Scraper
	return scraper.Config{
		NumContexts:        s.Contexts,
		TabsPerContext:     s.TabsPerContext,
		CaptchaRPM:         s.CaptchaRPM,
		CaptchaWindow:      s.CaptchaWindow,
		CaptchaMinInterval: s.CaptchaMinInterval,
		MinCaptchaLength:   s.MinCaptchaLength,
		MaxCaptchaAttempts: s.MaxCaptchaAttempts,
		MaxReuseRetries:    s.MaxReuseRetries,
		MaxSetupRetries:    s.MaxSetupRetries,
		MaxUnitAttempts:    s.MaxUnitAttempts,
		MaxSurveyAttempts:  s.MaxSurveyAttempts,
		RetryBackoffBase:   s.RetryBackoffBase,
		RetryBackoffMax:    s.RetryBackoffMax,
		StepTimeout:        s.StepTimeout,
		NavigationTimeout:  s.NavigationTimeout,
		ProgressInterval:   s.ProgressInterval,
		FormURL:            c.Form.URL,
		RecordType:         c.Form.RecordType,
		OutputPrefix:       s.OutputPrefix,
		MaxUnits:           s.MaxUnits,
		RetainRuns:         s.RetainRuns,
		Topic:              c.PubSub.Topic,
	}
}
