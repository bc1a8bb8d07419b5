// Package config holds the central configuration struct embedding all
// component configs. Files may be JSON or YAML; environment variables
// override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kolscope/kolscope/internal/ai"
	"github.com/kolscope/kolscope/internal/analyzer"
	"github.com/kolscope/kolscope/internal/blobstore"
	"github.com/kolscope/kolscope/internal/cache"
	"github.com/kolscope/kolscope/internal/normalize"
	"github.com/kolscope/kolscope/internal/observability"
	"github.com/kolscope/kolscope/internal/ratelimit"
	"github.com/kolscope/kolscope/internal/reportcache"
)

// StoreConfig selects and configures the blob store backend.
type StoreConfig struct {
	// Backend is one of "s3", "postgres", "memory".
	Backend     string             `json:"backend" yaml:"backend"`
	S3          blobstore.S3Config `json:"s3" yaml:"s3"`
	PostgresDSN string             `json:"postgres_dsn" yaml:"postgres_dsn"`
}

// L1Config configures the optional local cache in front of the blob store.
type L1Config struct {
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Redis   *cache.RedisCacheConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// ServerConfig holds HTTP daemon settings.
type ServerConfig struct {
	HTTPAddr  string `json:"http_addr" yaml:"http_addr"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // text, json
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Server    ServerConfig         `json:"server" yaml:"server"`
	Store     StoreConfig          `json:"store" yaml:"store"`
	Cache     reportcache.Config   `json:"cache" yaml:"cache"`
	L1        L1Config             `json:"l1" yaml:"l1"`
	RateLimit ratelimit.Config     `json:"rate_limit" yaml:"rate_limit"`
	Normalize normalize.Config     `json:"normalize" yaml:"normalize"`
	AI        ai.Config            `json:"ai" yaml:"ai"`
	Analyzer  analyzer.Config      `json:"analyzer" yaml:"analyzer"`
	Telemetry observability.Config `json:"telemetry" yaml:"telemetry"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:  ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Cache:     reportcache.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Normalize: normalize.DefaultConfig(),
		AI:        ai.DefaultConfig(),
		Analyzer:  analyzer.DefaultConfig(),
		Telemetry: observability.Config{
			Enabled:     false,
			ServiceName: "kolscope",
			SampleRate:  1.0,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, selected by
// extension. Missing fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %q: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config %q: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("KOLSCOPE_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("KOLSCOPE_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("KOLSCOPE_LOG_FORMAT"); v != "" {
		cfg.Server.LogFormat = v
	}
	if v := os.Getenv("KOLSCOPE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("KOLSCOPE_S3_BUCKET"); v != "" {
		cfg.Store.S3.Bucket = v
	}
	if v := os.Getenv("KOLSCOPE_S3_REGION"); v != "" {
		cfg.Store.S3.Region = v
	}
	if v := os.Getenv("KOLSCOPE_S3_ENDPOINT"); v != "" {
		cfg.Store.S3.Endpoint = v
	}
	if v := os.Getenv("KOLSCOPE_S3_ACCESS_KEY_ID"); v != "" {
		cfg.Store.S3.AccessKeyID = v
	}
	if v := os.Getenv("KOLSCOPE_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.Store.S3.SecretAccessKey = v
	}
	if v := os.Getenv("KOLSCOPE_PG_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("KOLSCOPE_REDIS_ADDR"); v != "" {
		cfg.L1.Enabled = true
		if cfg.L1.Redis == nil {
			cfg.L1.Redis = &cache.RedisCacheConfig{}
		}
		cfg.L1.Redis.Addr = v
	}
	if v := os.Getenv("KOLSCOPE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("KOLSCOPE_RATE_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxRequests = n
		}
	}
	if v := os.Getenv("KOLSCOPE_RATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = d
		}
	}
	if v := os.Getenv("KOLSCOPE_NORMALIZE_MODE"); v != "" {
		cfg.Normalize.Mode = normalize.Mode(v)
	}
	if v := os.Getenv("KOLSCOPE_AI_API_KEY"); v != "" {
		cfg.AI.Enabled = true
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("KOLSCOPE_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("KOLSCOPE_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("KOLSCOPE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}
}
