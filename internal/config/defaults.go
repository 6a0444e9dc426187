package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.JWTIssuer == "" {
		cfg.Server.JWTIssuer = "docchat"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/docchat/data/docchat.db"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "sqlite"
	}
	if cfg.Vector.Path == "" && cfg.Vector.Backend != "redis" {
		cfg.Vector.Path = "/usr/local/var/docchat/data/vectors.db"
	}
	if cfg.Vector.RedisAddr == "" {
		cfg.Vector.RedisAddr = "localhost:6379"
	}
	if cfg.Vector.RedisPrefix == "" {
		cfg.Vector.RedisPrefix = "docchat"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-004"
	}
	if cfg.Embedding.Dimensions == 0 {
		// text-embedding-004 returns 768-dimensional vectors
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "extractive"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gemini-2.0-flash"
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.2
	}
	if cfg.Generation.RateTier == "" {
		cfg.Generation.RateTier = "free"
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = 8000
	}
	if cfg.Retrieval.HistoryTurns == 0 {
		cfg.Retrieval.HistoryTurns = 10
	}
	if cfg.Index.ReusePolicy == "" {
		cfg.Index.ReusePolicy = "exists"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 5 * time.Second
	}
	if cfg.Retry.AttemptTimeout == 0 {
		cfg.Retry.AttemptTimeout = 30 * time.Second
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 60 * time.Second
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "docchat"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if cfg.Fetch.MaxBytes == 0 {
		cfg.Fetch.MaxBytes = 50 << 20
	}
	if len(cfg.Fetch.AllowedSchemes) == 0 {
		cfg.Fetch.AllowedSchemes = []string{"http", "https"}
	}
}
