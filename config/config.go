package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the visearch service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	RecordStore   RecordStoreConfig   `yaml:"record_store"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Image         ImageConfig         `yaml:"image"`
	Search        SearchConfig        `yaml:"search"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Recalculation RecalculationConfig `yaml:"recalculation"`
	Cache         CacheConfig         `yaml:"cache"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds the HTTP facade configuration.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for the service API key
}

// RecordStoreConfig holds the video server API client configuration.
type RecordStoreConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// QdrantConfig holds the vector database configuration.
type QdrantConfig struct {
	Addr       string `yaml:"addr"` // gRPC address, host:port
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"` // "clip" or "mock"
	Model            string `yaml:"model"`    // e.g. "ViT-B-32"
	Device           string `yaml:"device"`   // "cpu" or "cuda"
	ServerURL        string `yaml:"server_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	RequireAllImages bool   `yaml:"require_all_images"` // strict mode: only mark evidence embedded when every image succeeded
}

// ImageConfig holds image download and validation configuration.
type ImageConfig struct {
	DownloadTimeoutSeconds int      `yaml:"download_timeout_seconds"`
	MaxBytes               int64    `yaml:"max_bytes"`
	SupportedPatterns      []string `yaml:"supported_patterns"` // glob patterns matched against the URL path base
}

// SearchConfig holds similarity search configuration.
type SearchConfig struct {
	DefaultThreshold float32 `yaml:"default_threshold"`
	MaxResults       int     `yaml:"max_results"`
}

// SchedulerConfig holds batch task scheduling configuration.
type SchedulerConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EvidenceIntervalSeconds int  `yaml:"evidence_interval_seconds"`
	EvidenceBatchSize       int  `yaml:"evidence_batch_size"`
	SearchIntervalSeconds   int  `yaml:"search_interval_seconds"`
	SearchBatchSize         int  `yaml:"search_batch_size"`
	StatsIntervalSeconds    int  `yaml:"stats_interval_seconds"`
}

// RecalculationConfig holds the stale-search recalculation configuration.
type RecalculationConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	HoursOld        int  `yaml:"hours_old"`
	BatchSize       int  `yaml:"batch_size"`
}

// CacheConfig holds the search-result cache configuration.
type CacheConfig struct {
	Backend    string `yaml:"backend"` // "remote" (video server) or "bolt" (local file)
	Path       string `yaml:"path"`    // bolt file path
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8001",
			APIKeyEnv: "VISEARCH_API_KEY",
		},
		RecordStore: RecordStoreConfig{
			BaseURL:        "http://localhost:8000",
			APIKeyEnv:      "VIDEO_SERVER_API_KEY",
			TimeoutSeconds: 60,
		},
		Qdrant: QdrantConfig{
			Addr:       "localhost:6334",
			APIKeyEnv:  "QDRANT_API_KEY",
			Collection: "evidence_embeddings",
			VectorSize: 512, // CLIP ViT-B-32 dimension
		},
		Embedding: EmbeddingConfig{
			Provider:         "clip",
			Model:            "ViT-B-32",
			Device:           "cpu",
			ServerURL:        "http://localhost:8080",
			TimeoutSeconds:   60,
			RequireAllImages: false,
		},
		Image: ImageConfig{
			DownloadTimeoutSeconds: 30,
			MaxBytes:               10 * 1024 * 1024,
			SupportedPatterns:      []string{"*.jpg", "*.jpeg", "*.png", "*.webp"},
		},
		Search: SearchConfig{
			DefaultThreshold: 0.75,
			MaxResults:       100,
		},
		Scheduler: SchedulerConfig{
			Enabled:                 true,
			EvidenceIntervalSeconds: 600,
			EvidenceBatchSize:       50,
			SearchIntervalSeconds:   30,
			SearchBatchSize:         10,
			StatsIntervalSeconds:    3600,
		},
		Recalculation: RecalculationConfig{
			Enabled:         true,
			IntervalSeconds: 3600,
			HoursOld:        2,
			BatchSize:       20,
		},
		Cache: CacheConfig{
			Backend:    "remote",
			Path:       ".visearch/results.db",
			TTLSeconds: 3600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for visearch.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "visearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".visearch", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search.default_threshold must be between 0 and 1, got %v", c.Search.DefaultThreshold)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Qdrant.VectorSize <= 0 {
		return fmt.Errorf("qdrant.vector_size must be positive, got %d", c.Qdrant.VectorSize)
	}
	switch c.Embedding.Device {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("embedding.device must be cpu or cuda, got %q", c.Embedding.Device)
	}
	switch c.Cache.Backend {
	case "remote", "bolt":
	default:
		return fmt.Errorf("cache.backend must be remote or bolt, got %q", c.Cache.Backend)
	}
	return nil
}

// ServerAPIKey resolves the facade API key from the environment.
// Empty means the facade runs without auth.
func (c *Config) ServerAPIKey() string {
	return os.Getenv(c.Server.APIKeyEnv)
}

// RecordStoreAPIKey resolves the video server API key from the environment.
func (c *Config) RecordStoreAPIKey() string {
	return os.Getenv(c.RecordStore.APIKeyEnv)
}

// QdrantAPIKey resolves the Qdrant API key from the environment.
func (c *Config) QdrantAPIKey() string {
	return os.Getenv(c.Qdrant.APIKeyEnv)
}
