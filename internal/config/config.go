// Package config provides configuration loading and structs for the docchat server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the config file.
const (
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
	EnvJWTSecret    = "DOCCHAT_JWT_SECRET"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Vector     VectorConfig     `yaml:"vector"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Index      IndexConfig      `yaml:"index"`
	Retry      RetryConfig      `yaml:"retry"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// StorageConfig holds the path of the registration and status database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Backend       string `yaml:"backend"` // memory, sqlite, redis
	Path          string `yaml:"path"`    // snapshot file for memory, database file for sqlite
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // hash, gemini
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// GenerationConfig holds generative model settings.
type GenerationConfig struct {
	Provider    string  `yaml:"provider"` // extractive, gemini
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
	RateTier    string  `yaml:"rate_tier"`
}

// ChunkingConfig holds chunk size and overlap, both in characters (Unicode code points).
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds retrieval and context assembly settings.
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
	HistoryTurns    int `yaml:"history_turns"`
}

// IndexConfig holds the namespace reuse policy: "exists" or "sealed".
type IndexConfig struct {
	ReusePolicy string `yaml:"reuse_policy"`
}

// RetryConfig bounds retries of calls to external providers.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
}

// FetchConfig bounds document downloads. AllowedSchemes are the location schemes registration
// and fetching accept; local commands add "file".
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxBytes       int64         `yaml:"max_bytes"`
	AllowedSchemes []string      `yaml:"allowed_schemes"`
}

// TelemetryConfig configures trace export. An empty OTLPEndpoint disables tracing.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Load reads and parses the config file at path, reads an optional .env file next to it,
// applies environment overrides and defaults, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	fileEnv := map[string]string{}
	envPath := filepath.Join(configDir, ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if fileEnv, err = godotenv.Read(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	ApplyEnv(&cfg, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fileEnv[key]
	})
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Vector.Path = expandPath(cfg.Vector.Path, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets and the OTLP endpoint with values returned by getenv when non-empty.
// The process environment takes precedence over the .env file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if key := getenv(EnvGoogleAPIKey); key != "" {
		cfg.Embedding.APIKey = key
		cfg.Generation.APIKey = key
	}
	if secret := getenv(EnvJWTSecret); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if endpoint := getenv(EnvOTLPEndpoint); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size must be positive"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, chunking.size)"))
	}
	switch c.Vector.Backend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown vector.backend %q (supported: memory, sqlite, redis)", c.Vector.Backend))
	}
	switch c.Embedding.Provider {
	case "hash", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q (supported: hash, gemini)", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case "extractive", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown generation.provider %q (supported: extractive, gemini)", c.Generation.Provider))
	}
	switch c.Index.ReusePolicy {
	case "exists", "sealed":
	default:
		errs = append(errs, fmt.Errorf("unknown index.reuse_policy %q (supported: exists, sealed)", c.Index.ReusePolicy))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be in [0, 1]"))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive"))
	}
	for _, scheme := range c.Fetch.AllowedSchemes {
		switch scheme {
		case "http", "https", "file":
		default:
			errs = append(errs, fmt.Errorf("unknown fetch.allowed_schemes entry %q (supported: http, https, file)", scheme))
		}
	}
	return errors.Join(errs...)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
