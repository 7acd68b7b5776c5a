package ecs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vague-archive/engine-sub000/ecs"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers = 8
parallel_block_size = 128

gpu_component_groupings = [
    ["render::Sprite", "render::Tint"],
    ["render::Glyph"],
]
gpu_single_buffer_components = ["render::Glyph"]
`), 0o644))

	cfg, err := ecs.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 128, cfg.ParallelBlockSize)
	assert.Equal(t, [][]string{
		{"render::Sprite", "render::Tint"},
		{"render::Glyph"},
	}, cfg.GpuComponentGroupings)
	assert.Equal(t, []string{"render::Glyph"}, cfg.GpuSingleBufferComponents)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := ecs.LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestZeroConfigIsUsable(t *testing.T) {
	fu := newEngine(t, ecs.Config{})
	fu.Update(1.0 / 60)
}
