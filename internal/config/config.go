// Package config provides configuration loading and structs for the miru server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool             `yaml:"debug"`
	Server      ServerConfig     `yaml:"server"`
	Embedding   EmbeddingConfig  `yaml:"embedding"`
	Index       IndexConfig      `yaml:"index"`
	Search      SearchConfig     `yaml:"search"`
	Annotations AnnotationConfig `yaml:"annotations"`
	Watch       WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "clip" (default) or "mock"
	ImageModelPath string `yaml:"image_model_path"`
	TextModelPath  string `yaml:"text_model_path"`
	Dimensions     int    `yaml:"dimensions"`
	MaxTokens      int    `yaml:"max_tokens"`
	CacheSize      int    `yaml:"cache_size"` // query embedding LRU capacity
}

// IndexConfig holds indexing settings.
type IndexConfig struct {
	BatchSize    int      `yaml:"batch_size"`
	DirName      string   `yaml:"dir_name"` // sidecar directory inside each indexed folder
	Extensions   []string `yaml:"extensions"`
	AllowedRoots []string `yaml:"allowed_roots"` // when set, indexable folders must live under one of these
}

// SearchConfig holds result limit settings.
type SearchConfig struct {
	MinResults     int `yaml:"min_results"`
	MaxResults     int `yaml:"max_results"`
	DefaultResults int `yaml:"default_results"`
}

// AnnotationConfig holds comment settings.
type AnnotationConfig struct {
	MaxCommentLength int `yaml:"max_comment_length"`
}

// WatchConfig holds folder watch settings for the server's watch mode.
type WatchConfig struct {
	Folders        []string `yaml:"folders"`
	DebounceMillis int      `yaml:"debounce_millis"`
}

// Load reads the config file at path, applies defaults, and applies MIRU_*
// environment overrides (a .env file in the working directory is loaded
// first, if present). An empty path yields defaults plus environment only.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	if path != "" {
		configDir := filepath.Dir(path)
		cfg.Embedding.ImageModelPath = expandPath(cfg.Embedding.ImageModelPath, configDir)
		cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	}
	return &cfg, nil
}

// applyEnv overrides config values from MIRU_* environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "MIRU_HOST")
	setInt(&cfg.Server.Port, "MIRU_PORT")
	setBool(&cfg.Debug, "MIRU_DEBUG")
	setString(&cfg.Embedding.Provider, "MIRU_EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.ImageModelPath, "MIRU_IMAGE_MODEL")
	setString(&cfg.Embedding.TextModelPath, "MIRU_TEXT_MODEL")
	setInt(&cfg.Embedding.Dimensions, "MIRU_DIMENSIONS")
	setInt(&cfg.Embedding.CacheSize, "MIRU_CACHE_SIZE")
	setInt(&cfg.Index.BatchSize, "MIRU_BATCH_SIZE")
	setString(&cfg.Index.DirName, "MIRU_INDEX_DIR")
	setInt(&cfg.Search.MinResults, "MIRU_MIN_RESULTS")
	setInt(&cfg.Search.MaxResults, "MIRU_MAX_RESULTS")
	setInt(&cfg.Search.DefaultResults, "MIRU_DEFAULT_RESULTS")
	setInt(&cfg.Annotations.MaxCommentLength, "MIRU_MAX_COMMENT_LENGTH")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
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
