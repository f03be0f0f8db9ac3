package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// VerifyConfig configures discrepancy detection and listings.
type VerifyConfig struct {
	// LowConfidenceThreshold flags OCR fields read below this confidence (0-100).
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
	// FieldsFile optionally overrides the built-in tracked field lists.
	FieldsFile string `yaml:"fields_file" mapstructure:"fields_file"`
	// PageSize caps workflow listings.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// ScorerConfig holds the data-quality scoring weights.
type ScorerConfig struct {
	HighDeduction   int     `yaml:"high_deduction" mapstructure:"high_deduction"`
	MediumDeduction int     `yaml:"medium_deduction" mapstructure:"medium_deduction"`
	LowDeduction    int     `yaml:"low_deduction" mapstructure:"low_deduction"`
	DeductionWeight float64 `yaml:"deduction_weight" mapstructure:"deduction_weight"`
}

// WorkflowConfig configures the review state machine.
type WorkflowConfig struct {
	// ReopenTarget is the state a rejected certificate may return to:
	// "pending_review", "draft" or "any".
	ReopenTarget string `yaml:"reopen_target" mapstructure:"reopen_target"`
}

// OCRConfig configures the OCR collaborator used by the scan command.
type OCRConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Endpoint          string  `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	PdfToTextPath     string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	DefaultConfidence float64 `yaml:"default_confidence" mapstructure:"default_confidence"`
}

// MonitoringConfig configures review backlog alerting.
type MonitoringConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	BacklogThreshold  int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	MinAvgQuality     float64 `yaml:"min_avg_quality" mapstructure:"min_avg_quality"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// BatchConfig configures batch rescoring.
type BatchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("verify.low_confidence_threshold", 60.0)
	v.SetDefault("verify.fields_file", "")
	v.SetDefault("verify.page_size", 100)
	v.SetDefault("scorer.high_deduction", 15)
	v.SetDefault("scorer.medium_deduction", 7)
	v.SetDefault("scorer.low_deduction", 2)
	v.SetDefault("scorer.deduction_weight", 0.7)
	v.SetDefault("workflow.reopen_target", "any")
	v.SetDefault("ocr.provider", "http")
	v.SetDefault("ocr.endpoint", "")
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.rate_per_sec", 2.0)
	v.SetDefault("ocr.timeout_secs", 60)
	v.SetDefault("ocr.max_attempts", 3)
	v.SetDefault("ocr.breaker_threshold", 5)
	v.SetDefault("ocr.breaker_reset_secs", 30)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.default_confidence", 70.0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.backlog_threshold", 200)
	v.SetDefault("monitoring.min_avg_quality", 60.0)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("batch.max_concurrency", 5)

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

// Validate checks the settings a command mode depends on. Modes: "serve",
// "cli" (store-backed commands) and "scan" (cli plus an OCR provider).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "cli", "scan":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Verify.LowConfidenceThreshold < 0 || c.Verify.LowConfidenceThreshold > 100 {
		errs = append(errs, "verify.low_confidence_threshold must be between 0 and 100")
	}
	if c.Verify.PageSize <= 0 {
		errs = append(errs, "verify.page_size must be > 0")
	}
	switch c.Workflow.ReopenTarget {
	case "pending_review", "draft", "any":
	default:
		errs = append(errs, "workflow.reopen_target must be pending_review, draft or any")
	}
	if c.Batch.MaxConcurrency < 1 || c.Batch.MaxConcurrency > 50 {
		errs = append(errs, "batch.max_concurrency must be between 1 and 50")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode == "scan" && c.OCR.Provider == "http" && c.OCR.Endpoint == "" {
		errs = append(errs, "ocr.endpoint is required for the http provider")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
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
