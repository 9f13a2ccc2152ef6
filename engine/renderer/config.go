package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

const (
	DefaultSlotCount    uint32 = 2
	DefaultSyncInterval uint32 = 1
	DefaultFenceTimeout        = 2 * time.Second
)

// Duration is a time.Duration read from strings like "2s" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the [renderer] table of the application config.
type Config struct {
	SlotCount        uint32     `toml:"slot_count"`
	SyncInterval     uint32     `toml:"sync_interval"`
	EnableValidation bool       `toml:"enable_validation"`
	FenceTimeout     Duration   `toml:"fence_timeout"`
	ClearColor       [4]float32 `toml:"clear_color"`
	VertexShader     string     `toml:"vertex_shader"`
	PixelShader      string     `toml:"pixel_shader"`
	Mesh             string     `toml:"mesh"`
}

func DefaultConfig() Config {
	return Config{
		SlotCount:    DefaultSlotCount,
		SyncInterval: DefaultSyncInterval,
		FenceTimeout: Duration{DefaultFenceTimeout},
		ClearColor:   [4]float32{0.2, 0.2, 0.2, 1.0},
		VertexShader: "shaders/vert.spv",
		PixelShader:  "shaders/frag.spv",
		Mesh:         "meshes/triangle.toml",
	}
}

func (c Config) Validate() error {
	if c.SlotCount < 2 {
		return fmt.Errorf("slot_count must be at least 2, got %d: %w", c.SlotCount, core.ErrInitialization)
	}
	if c.SyncInterval > 4 {
		return fmt.Errorf("sync_interval must be in [0, 4], got %d: %w", c.SyncInterval, core.ErrInitialization)
	}
	if c.FenceTimeout.Duration < 0 {
		return fmt.Errorf("fence_timeout cannot be negative: %w", core.ErrInitialization)
	}
	return nil
}

func (c Config) clearColor() metadata.Color {
	return metadata.Color{R: c.ClearColor[0], G: c.ClearColor[1], B: c.ClearColor[2], A: c.ClearColor[3]}
}
