// Package config loads, validates, and saves the campusbot configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for campusbot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Index      IndexConfig      `json:"index"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Generation GenerationConfig `json:"generation"`
	Ingest     IngestConfig     `json:"ingest"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Channels   ChannelsConfig   `json:"channels"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// IndexConfig configures the local vector index.
type IndexConfig struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"` // must match the embedding model's output
	Metric     string `json:"metric"`    // "dot_product" | "cosine" | "euclidean"
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// GenerationConfig configures the answer-generation model client.
type GenerationConfig struct {
	APIBase        string  `json:"apiBase,omitempty"`
	APIKey         string  `json:"apiKey,omitempty"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
	Persona        string  `json:"persona,omitempty"` // leading paragraph of the system prompt
}

// IngestConfig configures the offline ingestion pipeline.
type IngestConfig struct {
	SourcesFile         string `json:"sourcesFile"`
	ChunkSize           int    `json:"chunkSize"`    // characters per chunk
	ChunkOverlap        int    `json:"chunkOverlap"` // overlapping characters between chunks
	Workers             int    `json:"workers"`      // bounded worker pool size
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds"`
	FetchRetries        int    `json:"fetchRetries"` // extra attempts after the first fetch failure
	EmbedBatchSize      int    `json:"embedBatchSize"`
}

type RetrievalConfig struct {
	TopK int `json:"topK"`
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli"`
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"` // user IDs; empty = allow all
}

// MetricsConfig configures the Prometheus-format metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.campusbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".campusbot"
	}
	return filepath.Join(home, ".campusbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Index.Path = ExpandPath(cfg.Index.Path)
	cfg.Ingest.SourcesFile = ExpandPath(cfg.Ingest.SourcesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Bad chunking parameters
// are fatal here: the ingestion pipeline refuses to start with them.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Index.Collection == "" {
		errs = append(errs, "index.collection must not be empty")
	}
	if cfg.Index.Dimension < 1 {
		errs = append(errs, "index.dimension must be >= 1")
	}
	switch cfg.Index.Metric {
	case "dot_product", "cosine", "euclidean":
		// valid
	default:
		errs = append(errs, "index.metric must be one of: dot_product, cosine, euclidean")
	}

	if cfg.Embedding.Model == "" {
		errs = append(errs, "embedding.model must not be empty")
	}
	if cfg.Embedding.TimeoutSeconds < 1 {
		errs = append(errs, "embedding.timeoutSeconds must be >= 1")
	}
	if cfg.Generation.Model == "" {
		errs = append(errs, "generation.model must not be empty")
	}
	if cfg.Generation.TimeoutSeconds < 1 {
		errs = append(errs, "generation.timeoutSeconds must be >= 1")
	}

	if cfg.Ingest.ChunkSize < 1 {
		errs = append(errs, "ingest.chunkSize must be >= 1")
	}
	if cfg.Ingest.ChunkOverlap < 0 {
		errs = append(errs, "ingest.chunkOverlap must be >= 0")
	}
	if cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		errs = append(errs, "ingest.chunkOverlap must be smaller than ingest.chunkSize")
	}
	if cfg.Ingest.Workers < 1 || cfg.Ingest.Workers > 32 {
		errs = append(errs, "ingest.workers must be between 1 and 32")
	}
	if cfg.Ingest.FetchTimeoutSeconds < 1 {
		errs = append(errs, "ingest.fetchTimeoutSeconds must be >= 1")
	}
	if cfg.Ingest.FetchRetries < 0 || cfg.Ingest.FetchRetries > 5 {
		errs = append(errs, "ingest.fetchRetries must be between 0 and 5")
	}
	if cfg.Ingest.EmbedBatchSize < 1 {
		errs = append(errs, "ingest.embedBatchSize must be >= 1")
	}

	if cfg.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval.topK must be >= 1")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
