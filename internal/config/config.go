// Package config loads sah-index configuration from defaults, the user
// config file, the project config file and SAH_INDEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// ProjectConfigName is the per-project configuration file name.
const ProjectConfigName = ".sah-index.yaml"

// Config is the complete sah-index configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Election   ElectionConfig   `yaml:"election" json:"election"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// IndexConfig configures chunking and the leader's indexing loop.
type IndexConfig struct {
	// MinChunkBytes drops syntactic units shorter than this.
	MinChunkBytes int `yaml:"min_chunk_bytes" json:"min_chunk_bytes"`
	// MaxChunkBytes splits units larger than this into their nested units.
	MaxChunkBytes int `yaml:"max_chunk_bytes" json:"max_chunk_bytes"`
	// Workers bounds parallel file processing during a pass.
	Workers int `yaml:"workers" json:"workers"`
	// RescanInterval is the period of the steady-state full rescan.
	RescanInterval time.Duration `yaml:"rescan_interval" json:"rescan_interval"`
	// WatchDebounce coalesces bursts of file-system events.
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
	// DisableWatch turns off fsnotify; only periodic rescans keep the index fresh.
	DisableWatch bool `yaml:"disable_watch" json:"disable_watch"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
	// Exclude holds extra gitignore-style patterns, appended to the defaults.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ElectionConfig configures the leader lease.
type ElectionConfig struct {
	LeaseTTL time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	// HeartbeatInterval of zero means LeaseTTL/3.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider is "static" (offline hash embeddings) or "ollama".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Host is the Ollama API endpoint.
	Host    string        `yaml:"host" json:"host"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CacheSize is the number of query embeddings kept in the LRU.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig holds query defaults used by the CLI and MCP tools.
type SearchConfig struct {
	TopK               int     `yaml:"top_k" json:"top_k"`
	MinScore           float64 `yaml:"min_score" json:"min_score"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold" json:"duplicate_threshold"`
	DuplicateMinBytes  int     `yaml:"duplicate_min_bytes" json:"duplicate_min_bytes"`
	// ExactPairLimit is the largest corpus compared exhaustively; larger
	// corpora use approximate nearest-neighbour candidates.
	ExactPairLimit int `yaml:"exact_pair_limit" json:"exact_pair_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// defaultExcludePatterns are always excluded from indexing.
var defaultExcludePatterns = []string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			MinChunkBytes:  10,
			MaxChunkBytes:  4000,
			Workers:        runtime.NumCPU(),
			RescanInterval: 5 * time.Minute,
			WatchDebounce:  300 * time.Millisecond,
			MaxFileSize:    1 << 20,
			Exclude:        append([]string(nil), defaultExcludePatterns...),
		},
		Election: ElectionConfig{
			LeaseTTL:       15 * time.Second,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			Model:     "nomic-embed-text",
			Host:      "http://localhost:11434",
			Timeout:   30 * time.Second,
			CacheSize: 1000,
		},
		Search: SearchConfig{
			TopK:               10,
			MinScore:           0.3,
			DuplicateThreshold: 0.95,
			DuplicateMinBytes:  100,
			ExactPairLimit:     5000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/sah-index/config.yaml or ~/.config/sah-index/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sah-index", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sah-index", "config.yaml")
	}
	return filepath.Join(home, ".config", "sah-index", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first: defaults, user config, project config
// (.sah-index.yaml), SAH_INDEX_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if path := filepath.Join(dir, ProjectConfigName); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ierrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Index
	if other.Index.MinChunkBytes != 0 {
		c.Index.MinChunkBytes = other.Index.MinChunkBytes
	}
	if other.Index.MaxChunkBytes != 0 {
		c.Index.MaxChunkBytes = other.Index.MaxChunkBytes
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.RescanInterval != 0 {
		c.Index.RescanInterval = other.Index.RescanInterval
	}
	if other.Index.WatchDebounce != 0 {
		c.Index.WatchDebounce = other.Index.WatchDebounce
	}
	if other.Index.DisableWatch {
		c.Index.DisableWatch = true
	}
	if other.Index.MaxFileSize != 0 {
		c.Index.MaxFileSize = other.Index.MaxFileSize
	}
	if len(other.Index.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Index.Exclude = append(c.Index.Exclude, other.Index.Exclude...)
	}

	// Election
	if other.Election.LeaseTTL != 0 {
		c.Election.LeaseTTL = other.Election.LeaseTTL
	}
	if other.Election.HeartbeatInterval != 0 {
		c.Election.HeartbeatInterval = other.Election.HeartbeatInterval
	}
	if other.Election.InitialBackoff != 0 {
		c.Election.InitialBackoff = other.Election.InitialBackoff
	}
	if other.Election.MaxBackoff != 0 {
		c.Election.MaxBackoff = other.Election.MaxBackoff
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Host != "" {
		c.Embeddings.Host = other.Embeddings.Host
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Search
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.MinScore != 0 {
		c.Search.MinScore = other.Search.MinScore
	}
	if other.Search.DuplicateThreshold != 0 {
		c.Search.DuplicateThreshold = other.Search.DuplicateThreshold
	}
	if other.Search.DuplicateMinBytes != 0 {
		c.Search.DuplicateMinBytes = other.Search.DuplicateMinBytes
	}
	if other.Search.ExactPairLimit != 0 {
		c.Search.ExactPairLimit = other.Search.ExactPairLimit
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// applyEnvOverrides applies SAH_INDEX_* environment variable overrides.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SAH_INDEX_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("SAH_INDEX_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("SAH_INDEX_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("SAH_INDEX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SAH_INDEX_LEASE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Election.LeaseTTL = d
		}
	}
	if v := os.Getenv("SAH_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}
	// Explicit zero is allowed here, unlike in YAML.
	if v := os.Getenv("SAH_INDEX_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Search.MinScore = f
		}
	}
	if v := os.Getenv("SAH_INDEX_DISABLE_WATCH"); v != "" {
		c.Index.DisableWatch = strings.EqualFold(v, "true") || v == "1"
	}
}

// EffectiveHeartbeat returns the configured heartbeat, or LeaseTTL/3 when unset.
func (e ElectionConfig) EffectiveHeartbeat() time.Duration {
	if e.HeartbeatInterval > 0 {
		return e.HeartbeatInterval
	}
	return e.LeaseTTL / 3
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return ierrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if c.Index.MinChunkBytes < 1 {
		return invalid("index.min_chunk_bytes must be positive, got %d", c.Index.MinChunkBytes)
	}
	if c.Index.MaxChunkBytes < c.Index.MinChunkBytes {
		return invalid("index.max_chunk_bytes (%d) must be >= min_chunk_bytes (%d)",
			c.Index.MaxChunkBytes, c.Index.MinChunkBytes)
	}
	if c.Index.Workers < 1 {
		return invalid("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.RescanInterval < 0 || c.Index.WatchDebounce < 0 {
		return invalid("index intervals must be non-negative")
	}

	if c.Election.LeaseTTL <= 0 {
		return invalid("election.lease_ttl must be positive, got %s", c.Election.LeaseTTL)
	}
	if c.Election.EffectiveHeartbeat() >= c.Election.LeaseTTL {
		return invalid("election.heartbeat_interval (%s) must be below lease_ttl (%s)",
			c.Election.EffectiveHeartbeat(), c.Election.LeaseTTL)
	}
	if c.Election.InitialBackoff <= 0 || c.Election.MaxBackoff < c.Election.InitialBackoff {
		return invalid("election backoff must satisfy 0 < initial_backoff <= max_backoff")
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return invalid("embeddings.provider must be 'static' or 'ollama', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.CacheSize < 1 {
		return invalid("embeddings.cache_size must be positive, got %d", c.Embeddings.CacheSize)
	}

	if c.Search.TopK < 1 {
		return invalid("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return invalid("search.min_score must be between 0 and 1, got %f", c.Search.MinScore)
	}
	if c.Search.DuplicateThreshold < 0 || c.Search.DuplicateThreshold > 1 {
		return invalid("search.duplicate_threshold must be between 0 and 1, got %f", c.Search.DuplicateThreshold)
	}
	if c.Search.ExactPairLimit < 2 {
		return invalid("search.exact_pair_limit must be at least 2, got %d", c.Search.ExactPairLimit)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// project config file. Returns the absolute startDir if neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) ||
			fileExists(filepath.Join(currentDir, ProjectConfigName)) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
