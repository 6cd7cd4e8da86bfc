// Package config provides configuration loading and structs for the ragindex server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvStorageDir        = "RAGINDEX_STORAGE_DIR"
	EnvEmbeddingURL      = "RAGINDEX_EMBEDDING_URL"
	EnvEmbeddingProvider = "RAGINDEX_EMBEDDING_PROVIDER"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds directory watch settings. Files appearing in a watched
// directory are indexed as a dataset each.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and locates the persistent backing.
type StorageConfig struct {
	// Backend is "sqlite" or "file".
	Backend           string `yaml:"backend"`
	DatabasePath      string `yaml:"database_path"`
	IndexPath         string `yaml:"index_path"`
	PersistDebounceMS int    `yaml:"persist_debounce_ms"`
}

// PersistDebounce returns the debounce window for background saves.
func (s *StorageConfig) PersistDebounce() time.Duration {
	return time.Duration(s.PersistDebounceMS) * time.Millisecond
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is "hash", "ollama", or "onnx".
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	ModelVersion      string  `yaml:"model_version"`
	BaseURL           string  `yaml:"base_url"`
	ModelPath         string  `yaml:"model_path"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Concurrency       int     `yaml:"concurrency"`
}

// Timeout returns the per-call embedding timeout.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// VersionLabel identifies the model that produced stored vectors.
func (e *EmbeddingConfig) VersionLabel() string {
	if e.ModelVersion != "" {
		return e.ModelVersion
	}
	if e.Model != "" {
		return e.Provider + ":" + e.Model
	}
	return e.Provider
}

// SearchConfig holds retrieval and context assembly settings.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	DefaultSearchIn  string  `yaml:"default_search_in"`
	MaxContextChars  int     `yaml:"max_context_chars"`
	SystemPreamble   string  `yaml:"system_preamble"`
}

// Load reads and parses the config file at path, applies environment overrides and
// defaults, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config built from environment overrides and defaults only.
// Used when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyEnv copies environment overrides into cfg. The storage directory only
// fills paths that the file left empty.
func ApplyEnv(cfg *Config) {
	if dir := os.Getenv(EnvStorageDir); dir != "" {
		if cfg.Storage.DatabasePath == "" {
			cfg.Storage.DatabasePath = filepath.Join(dir, "rag_index.db")
		}
		if cfg.Storage.IndexPath == "" {
			cfg.Storage.IndexPath = filepath.Join(dir, "rag_index.json")
		}
	}
	if u := os.Getenv(EnvEmbeddingURL); u != "" {
		cfg.Embedding.BaseURL = u
	}
	if p := os.Getenv(EnvEmbeddingProvider); p != "" {
		cfg.Embedding.Provider = strings.ToLower(p)
	}
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
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
