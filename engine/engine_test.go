package engine

import (
	"encoding/binary"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framepace/engine/assets/loaders"
	"github.com/spaghettifunk/framepace/engine/core"
)

const triangleMesh = `
name = "triangle"
indices = [0, 1, 2]

[[vertices]]
position = [0.5, -0.5, 0.0]
color = [1.0, 0.0, 0.0, 1.0]

[[vertices]]
position = [-0.5, -0.5, 0.0]
color = [0.0, 1.0, 0.0, 1.0]

[[vertices]]
position = [0.0, 0.5, 0.0]
color = [0.0, 0.0, 1.0, 1.0]
`

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func spirv(word uint32) []byte {
	out := binary.LittleEndian.AppendUint32(nil, loaders.SPIRVMagic)
	return binary.LittleEndian.AppendUint32(out, word)
}

func headlessConfig(t *testing.T) *ApplicationConfig {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shaders", "vert.spv"), spirv(1))
	writeFile(t, filepath.Join(dir, "shaders", "frag.spv"), spirv(2))
	writeFile(t, filepath.Join(dir, "meshes", "triangle.toml"), []byte(triangleMesh))

	config := DefaultApplicationConfig()
	config.Backend = BackendSoftware
	config.AssetsDir = dir
	config.Window.Width = 64
	config.Window.Height = 48
	config.Renderer.FenceTimeout.Duration = 5 * time.Second
	return config
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultApplicationConfig(), config)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framepace.toml")
	writeFile(t, path, []byte(`
name = "headless"
backend = "software"
max_frames = 10

[window]
width = 320
height = 240

[renderer]
slot_count = 3
fence_timeout = "500ms"
`))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "headless", config.Name)
	assert.Equal(t, BackendSoftware, config.Backend)
	assert.Equal(t, uint64(10), config.MaxFrames)
	assert.Equal(t, uint32(320), config.Window.Width)
	assert.Equal(t, uint32(240), config.Window.Height)
	// Keys missing from the file keep their defaults.
	assert.Equal(t, uint32(100), config.Window.X)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, uint32(3), config.Renderer.SlotCount)
	assert.Equal(t, 500*time.Millisecond, config.Renderer.FenceTimeout.Duration)
	assert.Equal(t, uint32(1), config.Renderer.SyncInterval)
	assert.Equal(t, "shaders/vert.spv", config.Renderer.VertexShader)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"unknown backend":    `backend = "metal"`,
		"bad log level":      `log_level = "loud"`,
		"capture on vulkan":  `capture_path = "frame.png"`,
		"single slot":        "[renderer]\nslot_count = 1",
		"sync interval":      "[renderer]\nsync_interval = 5",
		"empty window":       "[window]\nwidth = 0",
		"malformed duration": "[renderer]\nfence_timeout = \"soon\"",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "framepace.toml")
			writeFile(t, path, []byte(content))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestHeadlessRunCapturesLastFrame(t *testing.T) {
	config := headlessConfig(t)
	config.MaxFrames = 6
	config.CapturePath = filepath.Join(t.TempDir(), "frame.png")

	var updates int
	var resized [2]uint32
	game := &Game{
		ApplicationConfig: config,
		FnUpdate: func(deltaTime float64) error {
			updates++
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			resized = [2]uint32{width, height}
			return nil
		},
	}

	e, err := New(game)
	require.NoError(t, err)
	require.NotNil(t, game.Renderer)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, [2]uint32{64, 48}, resized)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(6), e.FrameCount())
	assert.Equal(t, 6, updates)
	assert.Equal(t, uint64(6), game.Renderer.FrameNumber())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShuttingDown, e.Stage())

	f, err := os.Open(config.CapturePath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
	// The corner lies outside the triangle and shows the clear colour.
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, color.RGBA{R: 51, G: 51, B: 51, A: 255},
		color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)})
}

func TestStopEndsTheRunLoop(t *testing.T) {
	game := &Game{ApplicationConfig: headlessConfig(t)}
	e, err := New(game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	e.Stop()
	require.NoError(t, e.Run())
	assert.Zero(t, e.FrameCount())
	require.NoError(t, e.Shutdown())
}

func TestResizeEventsSuspendAndResize(t *testing.T) {
	config := headlessConfig(t)
	config.MaxFrames = 1
	game := &Game{ApplicationConfig: config}
	e, err := New(game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer func() { require.NoError(t, e.Shutdown()) }()

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{}})
	assert.True(t, e.isSuspended)

	e.onResized(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{WindowWidth: 32, WindowHeight: 32},
	})
	assert.False(t, e.isSuspended)
	assert.True(t, e.isRunning)
	w, h := game.Renderer.Size()
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(32), h)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(1), e.FrameCount())
}

func TestRunBeforeInitializeFails(t *testing.T) {
	e, err := New(&Game{ApplicationConfig: headlessConfig(t)})
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(), core.ErrInitialization)
}

func TestAssetKeyNormalizesPaths(t *testing.T) {
	assert.Equal(t, "shaders/vert.spv", assetKey("./shaders//vert.spv"))
	assert.Equal(t, "", assetKey(""))
}

func TestShutdownAfterMissingAssetsDir(t *testing.T) {
	config := headlessConfig(t)
	config.AssetsDir = filepath.Join(t.TempDir(), "missing")
	e, err := New(&Game{ApplicationConfig: config})
	require.NoError(t, err)
	require.Error(t, e.Initialize())

	done := make(chan error, 1)
	go func() { done <- e.Shutdown() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked after a failed Initialize")
	}
}
