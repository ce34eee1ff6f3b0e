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
	Dataset   DatasetConfig   `yaml:"dataset" mapstructure:"dataset"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	Pricebook PricebookConfig `yaml:"pricebook" mapstructure:"pricebook"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Eval      EvalConfig      `yaml:"eval" mapstructure:"eval"`
	ErrorLog  ErrorLogConfig  `yaml:"error_log" mapstructure:"error_log"`
	RunStore  RunStoreConfig  `yaml:"run_store" mapstructure:"run_store"`
	Tracker   TrackerConfig   `yaml:"tracker" mapstructure:"tracker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DatasetConfig locates the evaluation dataset file.
type DatasetConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TaxonomyConfig locates the deviation-class taxonomy file.
type TaxonomyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PricebookConfig configures pricebook retrieval.
type PricebookConfig struct {
	DatabaseURL string  `yaml:"database_url" mapstructure:"database_url"`
	ScoreFloor  float64 `yaml:"score_floor" mapstructure:"score_floor"`
	TopK        int     `yaml:"top_k" mapstructure:"top_k"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EvalConfig configures evaluation behavior.
type EvalConfig struct {
	MaxConcurrency          int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	OccurrenceToleranceSecs int     `yaml:"occurrence_tolerance_secs" mapstructure:"occurrence_tolerance_secs"`
	SilenceThresholdSecs    float64 `yaml:"silence_threshold_secs" mapstructure:"silence_threshold_secs"`
}

// ErrorLogConfig locates the false-positive/false-negative log.
type ErrorLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RunStoreConfig locates the local run database.
type RunStoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TrackerConfig holds the experiment-log upload settings. Uploads are
// skipped when Token is empty.
type TrackerConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	DatabaseID string `yaml:"database_id" mapstructure:"database_id"`
}

// ServerConfig configures the run-viewer server.
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
	v.SetEnvPrefix("DISCREPANCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("dataset.path", "dataset.json")
	v.SetDefault("taxonomy.path", "taxonomy.json")
	v.SetDefault("pricebook.score_floor", 0.3)
	v.SetDefault("pricebook.top_k", 5)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("eval.max_concurrency", 10)
	v.SetDefault("eval.occurrence_tolerance_secs", 30)
	v.SetDefault("eval.silence_threshold_secs", 8.0)
	v.SetDefault("error_log.path", "errors.jsonl")
	v.SetDefault("run_store.path", "runs.db")
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
