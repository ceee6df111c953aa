// Package config loads Tessera configuration.
//
// Precedence, lowest to highest: hardcoded defaults, user config
// (~/.config/tessera/config.yaml), project config (.tessera.yaml in the
// working directory), then TESSERA_* environment variables. The merged
// result is validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that round-trips through YAML as a
// human-readable string ("1s", "250ms").
type Duration time.Duration

// UnmarshalYAML parses duration strings and bare integers (nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete Tessera configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Graph     GraphConfig     `yaml:"graph"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Services  ServicesConfig  `yaml:"services"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig locates the on-disk state.
type PathsConfig struct {
	// DataDir holds the database, cache directory, and lock file.
	DataDir string `yaml:"data_dir"`
	// DBPath overrides the database file location (default: <data_dir>/tessera.db).
	DBPath string `yaml:"db_path"`
	// CacheDir overrides the graph cache location (default: <data_dir>/cache).
	CacheDir string `yaml:"cache_dir"`
	// ProfilePath is the interest profile YAML file (default: <data_dir>/profile.yaml).
	ProfilePath string `yaml:"profile_path"`
}

// FetcherConfig tunes the polite HTTP fetcher.
type FetcherConfig struct {
	// MinDelay is the minimum gap between any two requests.
	MinDelay Duration `yaml:"min_delay"`
	// MaxPerMinute caps requests started within any rolling 60s window.
	MaxPerMinute int `yaml:"max_per_minute"`
	// Timeout is the per-request timeout.
	Timeout Duration `yaml:"timeout"`
	// UserAgent identifies the crawler to remote hosts.
	UserAgent string `yaml:"user_agent"`
}

// CrawlerConfig tunes the crawl engine.
type CrawlerConfig struct {
	// MaxDepth is the default BFS depth bound.
	MaxDepth int `yaml:"max_depth"`
	// MaxArticles is the default article-count bound per session.
	MaxArticles int `yaml:"max_articles"`
	// FanOut caps followed links per article. 0 means unlimited.
	FanOut int `yaml:"fan_out"`
	// AdaptiveInterests lets the analyzer grow the interest list from
	// crawled articles. Off by default.
	AdaptiveInterests bool `yaml:"adaptive_interests"`
}

// GraphConfig tunes the graph builder and its cache.
type GraphConfig struct {
	// MinRelevance is the default edge score floor for graph builds.
	MinRelevance float64 `yaml:"min_relevance"`
	// CacheTTL bounds the age of cached graph views.
	CacheTTL Duration `yaml:"cache_ttl"`
}

// RetrievalConfig tunes semantic retrieval.
type RetrievalConfig struct {
	// TopK is the default result count.
	TopK int `yaml:"top_k"`
	// MinSimilarity is the default cosine similarity floor.
	MinSimilarity float64 `yaml:"min_similarity"`
	// ANN enables the in-memory HNSW accelerator for large corpora.
	// The default is an exact scan.
	ANN bool `yaml:"ann"`
}

// ServicesConfig points at the external embedding and chat services.
type ServicesConfig struct {
	EmbeddingURL   string `yaml:"embedding_url"`
	ChatURL        string `yaml:"chat_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	// EmbeddingDim is the vector dimension the embedding service produces.
	EmbeddingDim int `yaml:"embedding_dim"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// defaultDataDir returns ~/.tessera, falling back to the temp directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tessera")
	}
	return filepath.Join(home, ".tessera")
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Paths: PathsConfig{
			DataDir: dataDir,
		},
		Fetcher: FetcherConfig{
			MinDelay:     Duration(time.Second),
			MaxPerMinute: 30,
			Timeout:      Duration(30 * time.Second),
			UserAgent:    "TesseraBot/1.0 (personal knowledge graph builder; polite crawler)",
		},
		Crawler: CrawlerConfig{
			MaxDepth:    2,
			MaxArticles: 50,
			FanOut:      0,
		},
		Graph: GraphConfig{
			MinRelevance: 0.3,
			CacheTTL:     Duration(time.Hour),
		},
		Retrieval: RetrievalConfig{
			TopK:          10,
			MinSimilarity: 0.3,
			ANN:           false,
		},
		Services: ServicesConfig{
			EmbeddingURL:   "http://localhost:8001",
			ChatURL:        "http://localhost:8002",
			EmbeddingModel: "nomic-embed-text",
			EmbeddingDim:   768,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DBPath resolves the database file location.
func (c *Config) DBPath() string {
	if c.Paths.DBPath != "" {
		return c.Paths.DBPath
	}
	return filepath.Join(c.Paths.DataDir, "tessera.db")
}

// CacheDir resolves the graph cache directory.
func (c *Config) CacheDir() string {
	if c.Paths.CacheDir != "" {
		return c.Paths.CacheDir
	}
	return filepath.Join(c.Paths.DataDir, "cache")
}

// ProfilePath resolves the interest profile file location.
func (c *Config) ProfilePath() string {
	if c.Paths.ProfilePath != "" {
		return c.Paths.ProfilePath
	}
	return filepath.Join(c.Paths.DataDir, "profile.yaml")
}

// LockPath resolves the process lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "tessera.lock")
}

// userConfigPath returns ~/.config/tessera/config.yaml, honoring
// XDG_CONFIG_HOME.
func userConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tessera", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "tessera", "config.yaml")
	}
	return filepath.Join(home, ".config", "tessera", "config.yaml")
}

// Load loads configuration for the given working directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := userConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	projectPath := filepath.Join(dir, ".tessera.yaml")
	if fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges values from a YAML file over the current config.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Paths.DBPath != "" {
		c.Paths.DBPath = other.Paths.DBPath
	}
	if other.Paths.CacheDir != "" {
		c.Paths.CacheDir = other.Paths.CacheDir
	}
	if other.Paths.ProfilePath != "" {
		c.Paths.ProfilePath = other.Paths.ProfilePath
	}

	if other.Fetcher.MinDelay != 0 {
		c.Fetcher.MinDelay = other.Fetcher.MinDelay
	}
	if other.Fetcher.MaxPerMinute != 0 {
		c.Fetcher.MaxPerMinute = other.Fetcher.MaxPerMinute
	}
	if other.Fetcher.Timeout != 0 {
		c.Fetcher.Timeout = other.Fetcher.Timeout
	}
	if other.Fetcher.UserAgent != "" {
		c.Fetcher.UserAgent = other.Fetcher.UserAgent
	}

	if other.Crawler.MaxDepth != 0 {
		c.Crawler.MaxDepth = other.Crawler.MaxDepth
	}
	if other.Crawler.MaxArticles != 0 {
		c.Crawler.MaxArticles = other.Crawler.MaxArticles
	}
	if other.Crawler.FanOut != 0 {
		c.Crawler.FanOut = other.Crawler.FanOut
	}
	if other.Crawler.AdaptiveInterests {
		c.Crawler.AdaptiveInterests = true
	}

	if other.Graph.MinRelevance != 0 {
		c.Graph.MinRelevance = other.Graph.MinRelevance
	}
	if other.Graph.CacheTTL != 0 {
		c.Graph.CacheTTL = other.Graph.CacheTTL
	}

	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.MinSimilarity != 0 {
		c.Retrieval.MinSimilarity = other.Retrieval.MinSimilarity
	}
	if other.Retrieval.ANN {
		c.Retrieval.ANN = true
	}

	if other.Services.EmbeddingURL != "" {
		c.Services.EmbeddingURL = other.Services.EmbeddingURL
	}
	if other.Services.ChatURL != "" {
		c.Services.ChatURL = other.Services.ChatURL
	}
	if other.Services.EmbeddingModel != "" {
		c.Services.EmbeddingModel = other.Services.EmbeddingModel
	}
	if other.Services.EmbeddingDim != 0 {
		c.Services.EmbeddingDim = other.Services.EmbeddingDim
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
}

// applyEnvOverrides applies TESSERA_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TESSERA_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("TESSERA_DB_PATH"); v != "" {
		c.Paths.DBPath = v
	}
	if v := os.Getenv("TESSERA_CACHE_DIR"); v != "" {
		c.Paths.CacheDir = v
	}
	if v := os.Getenv("TESSERA_PROFILE_PATH"); v != "" {
		c.Paths.ProfilePath = v
	}
	if v := os.Getenv("TESSERA_EMBEDDING_URL"); v != "" {
		c.Services.EmbeddingURL = v
	}
	if v := os.Getenv("TESSERA_CHAT_URL"); v != "" {
		c.Services.ChatURL = v
	}
	if v := os.Getenv("TESSERA_EMBEDDING_MODEL"); v != "" {
		c.Services.EmbeddingModel = v
	}
	if v := os.Getenv("TESSERA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TESSERA_MIN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Fetcher.MinDelay = Duration(d)
		}
	}
	if v := os.Getenv("TESSERA_MAX_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Fetcher.MaxPerMinute = n
		}
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" && c.Paths.DBPath == "" {
		return fmt.Errorf("paths.data_dir or paths.db_path must be set")
	}
	if c.Fetcher.MinDelay < 0 {
		return fmt.Errorf("fetcher.min_delay must be non-negative, got %s", time.Duration(c.Fetcher.MinDelay))
	}
	if c.Fetcher.MaxPerMinute <= 0 {
		return fmt.Errorf("fetcher.max_per_minute must be positive, got %d", c.Fetcher.MaxPerMinute)
	}
	if c.Graph.MinRelevance < 0 || c.Graph.MinRelevance > 1 {
		return fmt.Errorf("graph.min_relevance must be in [0,1], got %f", c.Graph.MinRelevance)
	}
	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity must be in [-1,1], got %f", c.Retrieval.MinSimilarity)
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must be non-negative, got %d", c.Retrieval.TopK)
	}
	if c.Services.EmbeddingDim <= 0 {
		return fmt.Errorf("services.embedding_dim must be positive, got %d", c.Services.EmbeddingDim)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
