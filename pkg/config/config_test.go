package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
processing:
  numWorkers: 3
tiling:
  nTiles: 4
  overlap: 16
axes:
  image: XYCZ
network:
  backend: smooth
  memoryBudget: 4096
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processing.NumWorkers)
	assert.Equal(t, 8, cfg.Processing.MaxRetries)
	assert.Equal(t, 4, cfg.Tiling.Tiles)
	assert.Equal(t, 16, cfg.Tiling.Overlap)
	assert.Equal(t, 8, cfg.Tiling.BlockMultiple)
	assert.Equal(t, "XYCZ", cfg.Axes.Image)
	assert.Equal(t, "smooth", cfg.Network.Backend)
	assert.Equal(t, uint64(4096), cfg.Network.MemoryBudget)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[tiling]
nTiles = 2
blockMultiple = 4

[normalization]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Tiling.Tiles)
	assert.Equal(t, 4, cfg.Tiling.BlockMultiple)
	assert.False(t, cfg.Normalization.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiling:\n  nTiles: 0\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tiling: [\n"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		path := filepath.Join(t.TempDir(), "nested", name)
		cfg := DefaultConfig()
		cfg.Tiling.Tiles = 12
		cfg.Axes.Remove = "Z"
		require.NoError(t, SaveConfig(cfg, path))

		loaded, err := LoadConfig(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
