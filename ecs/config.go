package ecs

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config carries the engine's tunables. The zero value is usable: worker
// count defaults to GOMAXPROCS and the parallel block size to 256 entities.
//
// GPU groupings and single-buffer components are declared by component
// string id and resolved against the registry once modules have loaded;
// unknown ids are logged and ignored.
type Config struct {
	Workers           int `toml:"workers"`
	ParallelBlockSize int `toml:"parallel_block_size"`

	GpuComponentGroupings     [][]string `toml:"gpu_component_groupings"`
	GpuSingleBufferComponents []string   `toml:"gpu_single_buffer_components"`
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.ParallelBlockSize <= 0 {
		c.ParallelBlockSize = 256
	}
	return c
}
