// Package config loads process-level settings for the review assistant
// binaries. Library packages take functional options instead.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hupe1980/reviewrag/internal/util"
	"github.com/hupe1980/reviewrag/logging"
)

// EnvPrefix prefixes every environment override, e.g. REVIEWRAG_RETRIEVAL_K.
const EnvPrefix = "REVIEWRAG"

// Config is the complete process configuration.
type Config struct {
	Model     ModelConfig     `mapstructure:"model"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Session   SessionConfig   `mapstructure:"session"`
	History   HistoryConfig   `mapstructure:"history"`
	Data      DataConfig      `mapstructure:"data"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ModelConfig selects the language model.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	BaseURL     string  `mapstructure:"base_url"`
	// MaxConcurrent bounds asks in flight against the provider (0 = unlimited).
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// EmbeddingConfig selects the embedder used by the index.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// IndexConfig selects the similarity index backend.
type IndexConfig struct {
	Backend string       `mapstructure:"backend"`
	Milvus  MilvusConfig `mapstructure:"milvus"`
}

// MilvusConfig addresses a Milvus collection.
type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	Collection string `mapstructure:"collection"`
}

// RetrievalConfig bounds retrieval.
type RetrievalConfig struct {
	K        int     `mapstructure:"k"`
	MinScore float64 `mapstructure:"min_score"`
}

// SessionConfig controls transcript lifetime. A zero TTL never expires.
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Capacity        int           `mapstructure:"capacity"`
}

// HistoryConfig limits the history handed to the model.
type HistoryConfig struct {
	TokenBudget int `mapstructure:"token_budget"`
}

// DataConfig points at the review dataset.
type DataConfig struct {
	Path         string `mapstructure:"path"`
	TitleColumn  string `mapstructure:"title_column"`
	ReviewColumn string `mapstructure:"review_column"`
	SkipInvalid  bool   `mapstructure:"skip_invalid"`
}

// LogConfig configures logging. A non-empty File switches to rotating zap output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Options configures Load.
type Options struct {
	// ConfigFile is an optional YAML file. Missing files are an error only
	// when set explicitly.
	ConfigFile string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored.
	EnvFiles []string
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "")
	v.SetDefault("model.temperature", 0.5)
	v.SetDefault("model.max_tokens", 1024)
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.max_concurrent", 0)

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimensions", 256)

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.milvus.address", "localhost:19530")
	v.SetDefault("index.milvus.collection", "reviewrag_reviews")

	v.SetDefault("retrieval.k", 3)
	v.SetDefault("retrieval.min_score", 0.0)

	v.SetDefault("session.ttl", time.Duration(0))
	v.SetDefault("session.cleanup_interval", 5*time.Minute)
	v.SetDefault("session.capacity", 0)

	v.SetDefault("history.token_budget", 0)

	v.SetDefault("data.path", "")
	v.SetDefault("data.title_column", "product_title")
	v.SetDefault("data.review_column", "review")
	v.SetDefault("data.skip_invalid", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "reviewrag")
	v.SetDefault("telemetry.insecure", true)
}

// Load reads defaults, the optional config file and REVIEWRAG_* variables,
// in increasing order of precedence, and validates the result.
func Load(optFns ...func(o *Options)) (*Config, error) {
	opts := Options{EnvFiles: []string{".env"}}
	for _, fn := range optFns {
		fn(&opts)
	}

	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	modelProviders     = []string{"openai", "anthropic", "ollama", "mock"}
	embeddingProviders = []string{"hashing", "openai", "ollama"}
	indexBackends      = []string{"memory", "milvus"}
	logFormats         = []string{"json", "text"}
)

// Validate reports the first invalid setting as a *util.ValidationError.
func (c *Config) Validate() error {
	if !oneOf(c.Model.Provider, modelProviders) {
		return invalid("model.provider", c.Model.Provider, "must be one of "+strings.Join(modelProviders, "|"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return invalid("model.temperature", c.Model.Temperature, "must be within [0, 2]")
	}
	if c.Model.MaxTokens < 0 {
		return invalid("model.max_tokens", c.Model.MaxTokens, "must not be negative")
	}
	if c.Model.MaxConcurrent < 0 {
		return invalid("model.max_concurrent", c.Model.MaxConcurrent, "must not be negative")
	}
	if !oneOf(c.Embedding.Provider, embeddingProviders) {
		return invalid("embedding.provider", c.Embedding.Provider, "must be one of "+strings.Join(embeddingProviders, "|"))
	}
	if c.Embedding.Dimensions < 0 {
		return invalid("embedding.dimensions", c.Embedding.Dimensions, "must not be negative")
	}
	if !oneOf(c.Index.Backend, indexBackends) {
		return invalid("index.backend", c.Index.Backend, "must be one of "+strings.Join(indexBackends, "|"))
	}
	if c.Index.Backend == "milvus" && c.Index.Milvus.Address == "" {
		return invalid("index.milvus.address", "", "is required for the milvus backend")
	}
	if c.Retrieval.K < 1 {
		return invalid("retrieval.k", c.Retrieval.K, "must be at least 1")
	}
	if c.Session.TTL < 0 {
		return invalid("session.ttl", c.Session.TTL, "must not be negative")
	}
	if c.Session.Capacity < 0 {
		return invalid("session.capacity", c.Session.Capacity, "must not be negative")
	}
	if c.History.TokenBudget < 0 {
		return invalid("history.token_budget", c.History.TokenBudget, "must not be negative")
	}
	if c.Data.TitleColumn == "" || c.Data.ReviewColumn == "" {
		return invalid("data", nil, "title and review columns must be set")
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return invalid("log.level", c.Log.Level, "must be debug|info|warn|error")
	}
	if !oneOf(c.Log.Format, logFormats) {
		return invalid("log.format", c.Log.Format, "must be json|text")
	}
	return nil
}

func invalid(field string, value any, msg string) error {
	return &util.ValidationError{Field: field, Value: value, Message: msg}
}

func oneOf(s string, allowed []string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
