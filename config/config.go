// Package config loads the YAML tuning file of a segvis session.
//
//	max_in_flight: 4
//	retry_limit: 3
//	gpu_memory_bytes: 536870912
//	cpu_cache_bytes: 67108864
//	io_bytes_per_sec: 0
//	fragments: 1
//	wire_compression: zstd
//
// Missing or zero fields take their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/geometry"
)

// DefaultGPUMemoryBytes is the default GPU budget shared by all layers.
const DefaultGPUMemoryBytes = 512 << 20

// Config holds tuning limits.
type Config struct {
	// MaxInFlight bounds concurrent chunk fetches across all sources.
	MaxInFlight int `yaml:"max_in_flight"`
	// RetryLimit is the number of failed fetches after which a chunk is
	// permanently failed.
	RetryLimit int `yaml:"retry_limit"`
	// GPUMemoryBytes bounds GPU buffers across all residencies.
	GPUMemoryBytes int64 `yaml:"gpu_memory_bytes"`
	// CPUCacheBytes bounds decoded chunks cached by each source.
	CPUCacheBytes int64 `yaml:"cpu_cache_bytes"`
	// IOBytesPerSec caps fetched bytes per second. 0 is unlimited.
	IOBytesPerSec int64 `yaml:"io_bytes_per_sec"`
	// Fragments is the number of chunks per object when a source does not
	// say otherwise.
	Fragments uint32 `yaml:"fragments"`
	// WireCompression is "none", "lz4" or "zstd".
	WireCompression string `yaml:"wire_compression"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		MaxInFlight:     chunk.DefaultMaxInFlight,
		RetryLimit:      chunk.DefaultRetryLimit,
		GPUMemoryBytes:  DefaultGPUMemoryBytes,
		CPUCacheBytes:   chunk.DefaultCacheBytes,
		Fragments:       1,
		WireCompression: geometry.CompressionNone.String(),
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML, rejecting unknown fields.
func Parse(raw []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.MaxInFlight == 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = d.RetryLimit
	}
	if c.GPUMemoryBytes == 0 {
		c.GPUMemoryBytes = d.GPUMemoryBytes
	}
	if c.CPUCacheBytes == 0 {
		c.CPUCacheBytes = d.CPUCacheBytes
	}
	if c.Fragments == 0 {
		c.Fragments = d.Fragments
	}
	if c.WireCompression == "" {
		c.WireCompression = d.WireCompression
	}
	return c
}

// Validate reports negative limits and unknown compressions.
func (c Config) Validate() error {
	switch {
	case c.MaxInFlight < 0:
		return fmt.Errorf("config: max_in_flight %d is negative", c.MaxInFlight)
	case c.RetryLimit < 0:
		return fmt.Errorf("config: retry_limit %d is negative", c.RetryLimit)
	case c.GPUMemoryBytes < 0:
		return fmt.Errorf("config: gpu_memory_bytes %d is negative", c.GPUMemoryBytes)
	case c.CPUCacheBytes < 0:
		return fmt.Errorf("config: cpu_cache_bytes %d is negative", c.CPUCacheBytes)
	case c.IOBytesPerSec < 0:
		return fmt.Errorf("config: io_bytes_per_sec %d is negative", c.IOBytesPerSec)
	}
	if _, err := c.Compression(); err != nil {
		return fmt.Errorf("config: wire_compression: %w", err)
	}
	return nil
}

// Compression parses WireCompression.
func (c Config) Compression() (geometry.Compression, error) {
	return geometry.ParseCompression(c.WireCompression)
}
