package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	Vector     VectorConfig     `yaml:"vector" mapstructure:"vector"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	CacheTTL          string  `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// SimilarityConfig configures the external similarity-matching endpoint.
type SimilarityConfig struct {
	URL                    string  `yaml:"url" mapstructure:"url"`
	Threshold              float64 `yaml:"threshold" mapstructure:"threshold"`
	TopN                   int     `yaml:"top_n" mapstructure:"top_n"`
	TimeoutSecs            int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CAFile                 string  `yaml:"ca_file" mapstructure:"ca_file"`
	InsecureSkipVerifyHost string  `yaml:"insecure_skip_verify_host" mapstructure:"insecure_skip_verify_host"`
	BreakerThreshold       int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCoolDownSecs    int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// VectorConfig configures the semantic search service.
type VectorConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Key       string  `yaml:"key" mapstructure:"key"`
	TopK      int     `yaml:"top_k" mapstructure:"top_k"`
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// TaxonomyConfig locates the taxonomy file and tunes matching.
type TaxonomyConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	MinKeywordLen int    `yaml:"min_keyword_len" mapstructure:"min_keyword_len"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// WorkflowConfig configures the classification graph.
type WorkflowConfig struct {
	MaxAttempts          int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RunTimeoutSecs       int    `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	ClassifyTimeoutSecs  int    `yaml:"classify_timeout_secs" mapstructure:"classify_timeout_secs"`
	RetrievalTimeoutSecs int    `yaml:"retrieval_timeout_secs" mapstructure:"retrieval_timeout_secs"`
	PromptPath           string `yaml:"prompt_path" mapstructure:"prompt_path"`
}

// RetryConfig is the retry policy for the LLM and vector search calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Option adjusts how Load resolves settings.
type Option func(v *viper.Viper) error

// WithFlag binds a command-line flag to a config key. A flag the user set
// wins over the environment, the config file and the default.
func WithFlag(key string, f *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if f == nil {
			return eris.Errorf("config: no flag bound to %s", key)
		}
		return eris.Wrapf(v.BindPFlag(key, f), "config: bind flag %s", f.Name)
	}
}

// Load reads configuration from flags, environment and file.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SENSITIVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sensitivity.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.5)
	v.SetDefault("anthropic.requests_per_second", 2)
	v.SetDefault("anthropic.burst", 2)
	v.SetDefault("similarity.threshold", 0.6)
	v.SetDefault("similarity.top_n", 2)
	v.SetDefault("similarity.timeout_secs", 10)
	v.SetDefault("similarity.breaker_threshold", 5)
	v.SetDefault("similarity.breaker_cooldown_secs", 30)
	v.SetDefault("vector.top_k", 3)
	v.SetDefault("vector.threshold", 0.7)
	v.SetDefault("taxonomy.path", "taxonomy.ndjson")
	v.SetDefault("taxonomy.min_keyword_len", 0)
	v.SetDefault("taxonomy.concurrency", 8)
	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.run_timeout_secs", 300)
	v.SetDefault("workflow.classify_timeout_secs", 120)
	v.SetDefault("workflow.retrieval_timeout_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the workflow cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Workflow.MaxAttempts < 1:
		return eris.New("config: workflow.max_attempts must be at least 1")
	case c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1:
		return eris.New("config: similarity.threshold must be within [0, 1]")
	case c.Vector.Threshold < 0 || c.Vector.Threshold > 1:
		return eris.New("config: vector.threshold must be within [0, 1]")
	case c.Taxonomy.MinKeywordLen < 0:
		return eris.New("config: taxonomy.min_keyword_len must not be negative")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
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
