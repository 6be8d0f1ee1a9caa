package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeProjectConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, 10, cfg.Index.MinChunkBytes)
	assert.Equal(t, 4000, cfg.Index.MaxChunkBytes)
	assert.Equal(t, runtime.NumCPU(), cfg.Index.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Index.RescanInterval)
	assert.Contains(t, cfg.Index.Exclude, "go.sum")

	assert.Equal(t, 15*time.Second, cfg.Election.LeaseTTL)
	assert.Equal(t, 5*time.Second, cfg.Election.EffectiveHeartbeat())

	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 1000, cfg.Embeddings.CacheSize)

	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 5000, cfg.Search.ExactPairLimit)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	// When: loading configuration from an empty directory
	cfg, err := Load(t.TempDir())

	// Then: defaults are returned without error
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_ProjectFile_OverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeProjectConfig(t, dir, `
version: 1
index:
  min_chunk_bytes: 32
  rescan_interval: 90s
  exclude:
    - "*.generated.go"
election:
  lease_ttl: 6s
  heartbeat_interval: 1s
search:
  top_k: 25
  min_score: 0.5
`)

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Index.MinChunkBytes)
	assert.Equal(t, 90*time.Second, cfg.Index.RescanInterval)
	assert.Contains(t, cfg.Index.Exclude, "*.generated.go")
	assert.Contains(t, cfg.Index.Exclude, "go.sum", "defaults are kept when merging excludes")
	assert.Equal(t, 6*time.Second, cfg.Election.LeaseTTL)
	assert.Equal(t, time.Second, cfg.Election.EffectiveHeartbeat())
	assert.Equal(t, 25, cfg.Search.TopK)
	assert.Equal(t, 0.5, cfg.Search.MinScore)
}

func TestLoad_UserConfigUnderProjectConfig(t *testing.T) {
	// Given: user config sets provider and level, project config overrides level
	xdg := isolate(t)
	userDir := filepath.Join(xdg, "sah-index")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(`
embeddings:
  provider: ollama
  host: http://gpu-box:11434
log:
  level: debug
`), 0o644))

	dir := t.TempDir()
	writeProjectConfig(t, dir, "log:\n  level: warn\n")

	// When: loading
	cfg, err := Load(dir)

	// Then: project wins where both set a value
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "http://gpu-box:11434", cfg.Embeddings.Host)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeProjectConfig(t, dir, "search:\n  min_score: 0.7\n")

	t.Setenv("SAH_INDEX_MIN_SCORE", "0")
	t.Setenv("SAH_INDEX_LEASE_TTL", "30s")
	t.Setenv("SAH_INDEX_WORKERS", "3")
	t.Setenv("SAH_INDEX_LOG_LEVEL", "error")
	t.Setenv("SAH_INDEX_DISABLE_WATCH", "1")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Search.MinScore)
	assert.Equal(t, 30*time.Second, cfg.Election.LeaseTTL)
	assert.Equal(t, 3, cfg.Index.Workers)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Index.DisableWatch)
}

func TestLoad_InvalidEnvValuesIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("SAH_INDEX_MIN_SCORE", "1.5")
	t.Setenv("SAH_INDEX_WORKERS", "many")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Search.MinScore)
	assert.Equal(t, runtime.NumCPU(), cfg.Index.Workers)
}

func TestLoad_InvalidYaml_ReturnsConfigError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeProjectConfig(t, dir, "search:\n  top_k: [invalid yaml syntax\n")

	cfg, err := Load(dir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min chunk", func(c *Config) { c.Index.MinChunkBytes = 0 }},
		{"max below min", func(c *Config) { c.Index.MaxChunkBytes = 5 }},
		{"heartbeat not below ttl", func(c *Config) { c.Election.HeartbeatInterval = c.Election.LeaseTTL }},
		{"backoff inverted", func(c *Config) { c.Election.MaxBackoff = time.Millisecond }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "mlx" }},
		{"min score above one", func(c *Config) { c.Search.MinScore = 1.1 }},
		{"zero top k", func(c *Config) { c.Search.TopK = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, ierrors.New(ierrors.ErrCodeConfigInvalid, "", nil))
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	// Given: a nested directory under a repo with .git
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// When: searching from the nested dir
	got, err := FindProjectRoot(nested)

	// Then: the repo root is returned
	require.NoError(t, err)
	assert.Equal(t, root, got)
}
