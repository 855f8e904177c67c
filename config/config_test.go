package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9090"
  mode: release
tiling:
  tile_size: 640
  grid_count: 4
viewer:
  min_zoom: 0.5
  max_zoom: 3
inference:
  input_size: 640
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 640, cfg.Tiling.TileSize)
	assert.Equal(t, 4, cfg.Tiling.GridCount)
	assert.Equal(t, 0.5, cfg.Viewer.MinZoom)
	assert.Equal(t, 3.0, cfg.Viewer.MaxZoom)

	// untouched sections keep their defaults
	assert.Equal(t, "datasets/data/png", cfg.Dataset.BaseDir)
	assert.Equal(t, []string{"train", "val", "test"}, cfg.Dataset.Splits)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "#00FF00", cfg.Inference.OverlayColor)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
tiling:
  tile_size: 640
`)
	t.Setenv("BUILDINGKIT_TILING_TILE_SIZE", "1024")
	t.Setenv("BUILDINGKIT_REDIS_ADDR", "cache:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Tiling.TileSize)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidGeometry(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero tile size", "tiling:\n  tile_size: 0\n"},
		{"negative grid", "tiling:\n  grid_count: -1\n"},
		{"inverted zoom", "viewer:\n  min_zoom: 2\n  max_zoom: 1\n"},
		{"odd input size", "inference:\n  input_size: 500\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Tiling.TileSize)
	assert.Equal(t, 3, cfg.Tiling.GridCount)
	assert.Equal(t, 0.2, cfg.Viewer.MinZoom)
	assert.Equal(t, 2.0, cfg.Viewer.MaxZoom)
}
