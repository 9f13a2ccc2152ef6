package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer"
)

type Backend string

const (
	BackendVulkan   Backend = "vulkan"
	BackendSoftware Backend = "software"
)

type WindowConfig struct {
	// Window starting position x axis, if applicable.
	X uint32 `toml:"x"`
	// Window starting position y axis, if applicable.
	Y uint32 `toml:"y"`
	// Window starting width.
	Width uint32 `toml:"width"`
	// Window starting height.
	Height uint32 `toml:"height"`
}

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name     string  `toml:"name"`
	LogLevel string  `toml:"log_level"`
	Backend  Backend `toml:"backend"`
	// AssetsDir holds the shaders and meshes, relative to the working directory.
	AssetsDir string `toml:"assets_dir"`
	// MaxFrames stops the run loop after that many frames. 0 runs until quit.
	MaxFrames uint64 `toml:"max_frames"`
	// CapturePath receives a PNG of the last presented frame on shutdown.
	// Only the software backend can capture.
	CapturePath string `toml:"capture_path"`

	Window   WindowConfig    `toml:"window"`
	Renderer renderer.Config `toml:"renderer"`
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Name:      "framepace",
		LogLevel:  "info",
		Backend:   BackendVulkan,
		AssetsDir: "assets",
		Window: WindowConfig{
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: renderer.DefaultConfig(),
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*ApplicationConfig, error) {
	config := DefaultApplicationConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			core.LogWarn("config file '%s' not found, using defaults", path)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config '%s': %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *ApplicationConfig) Validate() error {
	switch c.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return fmt.Errorf("unknown backend %q: %w", c.Backend, core.ErrInitialization)
	}
	if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, core.ErrInitialization)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("window size %dx%d is empty: %w", c.Window.Width, c.Window.Height, core.ErrInitialization)
	}
	if c.CapturePath != "" && c.Backend != BackendSoftware {
		return fmt.Errorf("capture_path needs the software backend: %w", core.ErrInitialization)
	}
	return c.Renderer.Validate()
}
