package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the storefront service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig holds record store configuration.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig holds vector index configuration.
type IndexConfig struct {
	// Dir is the directory holding the snapshot artifacts.
	Dir string `yaml:"dir"`
	// DefaultK is the result count used when a search request omits k.
	DefaultK int `yaml:"default_k"`
	// CompactionThreshold is the tombstoned fraction that triggers a
	// rebuild of the index from live entries.
	CompactionThreshold float64 `yaml:"compaction_threshold"`
	// SnapshotTimeoutSec bounds each snapshot write.
	SnapshotTimeoutSec int `yaml:"snapshot_timeout_sec"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`     // "openai", "ollama", "mock"
	Model             string  `yaml:"model"`        // e.g., "text-embedding-3-small"
	APIKeyEnv         string  `yaml:"api_key_env"`  // Environment variable for API key
	BaseURL           string  `yaml:"base_url"`     // Override endpoint (ollama/compatible)
	Dimension         int     `yaml:"dimension"`    // Used by the mock provider
	BatchSize         int     `yaml:"batch_size"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// AuthConfig holds token issuance configuration.
type AuthConfig struct {
	// SecretEnv names the environment variable holding the signing secret.
	SecretEnv   string `yaml:"secret_env"`
	TokenTTLMin int    `yaml:"token_ttl_min"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Path: "data/storefront.db",
		},
		Index: IndexConfig{
			Dir:                 "data/index",
			DefaultK:            5,
			CompactionThreshold: 0.25,
			SnapshotTimeoutSec:  30,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         1536,
			BatchSize:         100,
			TimeoutSec:        60,
			RequestsPerSecond: 0,
		},
		Auth: AuthConfig{
			SecretEnv:   "STOREFRONT_SECRET",
			TokenTTLMin: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, returning defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for
// storefront.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "storefront.yaml")
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

// SnapshotTimeout returns the configured snapshot timeout as a duration.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Index.SnapshotTimeoutSec) * time.Second
}

// EmbeddingTimeout returns the configured embedding timeout as a duration.
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSec) * time.Second
}

// TokenTTL returns the configured token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMin) * time.Minute
}
