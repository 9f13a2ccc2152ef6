package renderer

import (
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
	"github.com/spaghettifunk/framepace/engine/renderer/software"
)

var testShaders = ShaderSet{
	Vertex: []byte{0x03, 0x02, 0x23, 0x07, 0x01},
	Pixel:  []byte{0x03, 0x02, 0x23, 0x07, 0x02},
}

var grey = color.RGBA{R: 51, G: 51, B: 51, A: 255}

type hazardLog struct {
	mutex    sync.Mutex
	messages []metadata.ValidationMessage
}

func (h *hazardLog) handle(msg metadata.ValidationMessage) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *hazardLog) errorCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	n := 0
	for _, m := range h.messages {
		if m.Severity == metadata.SeverityError {
			n++
		}
	}
	return n
}

type testSetup struct {
	config Config
	delay  time.Duration
	width  uint32
	height uint32
	mesh   *metadata.Mesh
}

func newTestRenderer(t *testing.T, setup testSetup) (*Renderer, *hazardLog) {
	t.Helper()
	log := &hazardLog{}
	factory := func(options metadata.DeviceOptions) (metadata.Device, error) {
		options.OnValidation = log.handle
		return software.New(software.Options{
			DeviceOptions:  options,
			ExecutionDelay: setup.delay,
		}), nil
	}
	if setup.config.SlotCount == 0 {
		setup.config = DefaultConfig()
	}
	setup.config.EnableValidation = true
	r := New(setup.config, factory)
	require.NoError(t, r.Initialize(setup.width, setup.height, testShaders, setup.mesh))
	t.Cleanup(func() {
		if r.Device() != nil {
			_ = r.Device().WaitIdle()
		}
		_ = r.Shutdown()
	})
	return r, log
}

func surfaceOf(t *testing.T, r *Renderer) *software.Surface {
	t.Helper()
	s, ok := r.Surface().(*software.Surface)
	require.True(t, ok)
	return s
}

func assertRGBA(t *testing.T, want, got color.RGBA, msg string) {
	t.Helper()
	assert.InDelta(t, want.R, got.R, 1, msg)
	assert.InDelta(t, want.G, got.G, 1, msg)
	assert.InDelta(t, want.B, got.B, 1, msg)
	assert.InDelta(t, want.A, got.A, 1, msg)
}

func TestRecordingNeverStartsOnABusySlot(t *testing.T) {
	config := DefaultConfig()
	config.SlotCount = 3
	r, log := newTestRenderer(t, testSetup{
		config: config,
		delay:  5 * time.Millisecond,
		width:  4,
		height: 4,
		mesh:   metadata.TriangleMesh(),
	})

	for i := 0; i < 30; i++ {
		require.NoError(t, r.Render(), "frame %d", i)
		// Render leaves the next slot ready for recording.
		assert.True(t, r.Fence().IsSlotReady(r.FrameIndex()), "frame %d", i)
	}

	stalls, _ := r.Metrics().Stalls()
	assert.Greater(t, stalls, uint64(0), "the emulated GPU should have been behind the CPU")
	assert.Zero(t, log.errorCount())
}

func TestBeginRefusesSlotInFlight(t *testing.T) {
	r, _ := newTestRenderer(t, testSetup{
		delay:  50 * time.Millisecond,
		width:  2,
		height: 2,
		mesh:   metadata.TriangleMesh(),
	})

	used := r.FrameIndex()
	require.NoError(t, r.Render())
	require.False(t, r.Fence().IsSlotReady(used))

	err := r.recorder.Begin(r.slots.Slot(used), r.pipeline)
	assert.ErrorIs(t, err, core.ErrSlotInFlight)
	assert.Equal(t, RecorderStateIdle, r.recorder.State())
}

func TestDrainThenDestroyRaisesNoHazard(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{
		delay:  10 * time.Millisecond,
		width:  4,
		height: 4,
		mesh:   metadata.TriangleMesh(),
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Render())
	}
	require.True(t, r.Fence().InFlight())

	require.NoError(t, r.Shutdown())
	assert.Zero(t, log.errorCount())
	assert.Nil(t, r.Device())
}

func TestDestroyWithoutDrainIsCaught(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{
		delay:  50 * time.Millisecond,
		width:  2,
		height: 2,
		mesh:   metadata.TriangleMesh(),
	})

	require.NoError(t, r.Render())
	err := r.resources.Vertex.Destroy()
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
	assert.Greater(t, log.errorCount(), 0)
}

func TestClearOnlyFramePresentsClearColour(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{width: 5, height: 3})

	require.NoError(t, r.Render())
	require.NoError(t, r.Device().WaitIdle())

	frame, ok := surfaceOf(t, r).LastFrame()
	require.True(t, ok)
	b := frame.Image.Bounds()
	assert.Equal(t, 5, b.Dx())
	assert.Equal(t, 3, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			assert.Equal(t, grey, frame.Image.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.Zero(t, r.recorder.Draws())
	assert.Zero(t, log.errorCount())
}

func TestTriangleColoursOnTinySurface(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{width: 2, height: 2, mesh: metadata.TriangleMesh()})

	require.NoError(t, r.Render())
	require.NoError(t, r.Device().WaitIdle())

	frame, ok := surfaceOf(t, r).LastFrame()
	require.True(t, ok)
	img := frame.Image
	assertRGBA(t, grey, img.RGBAAt(0, 0), "top left")
	assertRGBA(t, grey, img.RGBAAt(1, 0), "top right")
	assertRGBA(t, color.RGBA{R: 159, G: 32, B: 64, A: 255}, img.RGBAAt(1, 1), "red dominated")
	assertRGBA(t, color.RGBA{R: 32, G: 159, B: 64, A: 255}, img.RGBAAt(0, 1), "green dominated")
	assert.Equal(t, uint32(1), r.recorder.Draws())
	assert.Zero(t, log.errorCount())
}

func TestTriangleApexIsBlueDominated(t *testing.T) {
	r, _ := newTestRenderer(t, testSetup{width: 8, height: 8, mesh: metadata.TriangleMesh()})

	require.NoError(t, r.Render())
	require.NoError(t, r.Device().WaitIdle())

	frame, ok := surfaceOf(t, r).LastFrame()
	require.True(t, ok)
	apex := frame.Image.RGBAAt(4, 1)
	assert.Greater(t, apex.B, apex.R)
	assert.Greater(t, apex.B, apex.G)
}

func TestResizeDrainsFirst(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{
		delay:  20 * time.Millisecond,
		width:  4,
		height: 4,
		mesh:   metadata.TriangleMesh(),
	})
	surface := surfaceOf(t, r)

	require.NoError(t, r.Render())
	require.NoError(t, r.Render())
	require.True(t, r.Fence().InFlight())

	// The backend refuses to resize under pending work.
	assert.ErrorIs(t, surface.ResizeBuffers(8, 6), core.ErrResizeInFlight)
	refused := log.errorCount()
	require.Greater(t, refused, 0)

	require.NoError(t, r.Resize(8, 6))
	assert.False(t, r.Fence().InFlight())
	assert.Equal(t, refused, log.errorCount())

	w, h := r.Size()
	assert.Equal(t, uint32(8), w)
	assert.Equal(t, uint32(6), h)
	assert.Equal(t, uint32(0), r.FrameIndex())

	require.NoError(t, r.Render())
	require.NoError(t, r.Device().WaitIdle())
	frame, ok := surface.LastFrame()
	require.True(t, ok)
	assert.Equal(t, 8, frame.Image.Bounds().Dx())
	assert.Equal(t, 6, frame.Image.Bounds().Dy())
	assert.Equal(t, refused, log.errorCount())
}

func TestResizeRefusesZeroSize(t *testing.T) {
	r, _ := newTestRenderer(t, testSetup{width: 4, height: 4})

	assert.ErrorIs(t, r.Resize(0, 4), core.ErrGraphicsDevice)
	w, h := r.Size()
	assert.Equal(t, uint32(4), w)
	assert.Equal(t, uint32(4), h)
}

func TestFenceValuesFollowFrames(t *testing.T) {
	for _, slots := range []uint32{2, 3} {
		config := DefaultConfig()
		config.SlotCount = slots
		r, log := newTestRenderer(t, testSetup{
			config: config,
			delay:  2 * time.Millisecond,
			width:  2,
			height: 2,
			mesh:   metadata.TriangleMesh(),
		})

		frames := int(slots) + 1
		for k := 1; k <= frames; k++ {
			slot := r.FrameIndex()
			assert.Equal(t, uint32((k-1)%int(slots)), slot)
			require.NoError(t, r.Render())
			assert.Equal(t, uint64(k), r.Fence().Pending(slot))
			assert.Equal(t, uint64(k), r.Fence().LastSignaled())
		}
		require.NoError(t, r.Device().WaitIdle())

		surface := surfaceOf(t, r)
		assert.Equal(t, uint64(frames), surface.PresentCount())
		for i, f := range surface.PresentedFrames() {
			assert.Equal(t, uint64(i+1), f.Sequence)
			assert.Equal(t, uint32(i%int(slots)), f.BufferIndex)
			assert.Equal(t, DefaultSyncInterval, f.SyncInterval)
		}
		assert.Equal(t, uint64(frames), r.FrameNumber())
		assert.Zero(t, log.errorCount())
	}
}

func TestSlowGPUTimesOut(t *testing.T) {
	config := DefaultConfig()
	config.FenceTimeout = Duration{10 * time.Millisecond}
	r, _ := newTestRenderer(t, testSetup{
		config: config,
		delay:  200 * time.Millisecond,
		width:  2,
		height: 2,
	})

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = r.Render()
	}
	assert.ErrorIs(t, err, core.ErrSyncTimeout)
}

func TestShutdownCanBeRetriedAfterDrainTimeout(t *testing.T) {
	config := DefaultConfig()
	config.FenceTimeout = Duration{10 * time.Millisecond}
	r, _ := newTestRenderer(t, testSetup{
		config: config,
		delay:  100 * time.Millisecond,
		width:  2,
		height: 2,
	})

	require.NoError(t, r.Render())
	assert.ErrorIs(t, r.Shutdown(), core.ErrSyncTimeout)
	// Everything is still owned while the frame executes.
	assert.NotNil(t, r.Device())
	assert.NotNil(t, r.Fence())

	assert.Eventually(t, func() bool { return r.Shutdown() == nil }, 5*time.Second, 20*time.Millisecond)
	assert.Nil(t, r.Device())
	assert.Nil(t, r.Fence())
}

func TestUpdateUniformModulatesColour(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{
		delay:  5 * time.Millisecond,
		width:  2,
		height: 2,
		mesh:   metadata.TriangleMesh(),
	})
	require.NoError(t, r.Render())

	half := make([]float32, UniformFloatCount)
	for i := range half {
		half[i] = 0.5
	}
	require.NoError(t, r.UpdateUniform(half))
	assert.False(t, r.Fence().InFlight())

	require.NoError(t, r.Render())
	require.NoError(t, r.Device().WaitIdle())
	frame, ok := surfaceOf(t, r).LastFrame()
	require.True(t, ok)
	assertRGBA(t, color.RGBA{R: 80, G: 16, B: 32, A: 128}, frame.Image.RGBAAt(1, 1), "modulated")
	assert.Zero(t, log.errorCount())

	assert.ErrorIs(t, r.UpdateUniform(make([]float32, 65)), core.ErrGraphicsDevice)
}

func TestReloadPipeline(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{
		delay:  5 * time.Millisecond,
		width:  2,
		height: 2,
		mesh:   metadata.TriangleMesh(),
	})
	require.NoError(t, r.Render())
	old := r.pipeline

	assert.ErrorIs(t, r.ReloadPipeline(ShaderSet{}), core.ErrGraphicsDevice)
	assert.Same(t, old, r.pipeline)

	require.NoError(t, r.ReloadPipeline(testShaders))
	assert.NotSame(t, old, r.pipeline)
	require.NoError(t, r.Render())
	assert.Zero(t, log.errorCount())
}

func TestReloadMesh(t *testing.T) {
	r, log := newTestRenderer(t, testSetup{
		delay:  5 * time.Millisecond,
		width:  3,
		height: 3,
		mesh:   metadata.TriangleMesh(),
	})
	require.NoError(t, r.Render())

	bad := metadata.TriangleMesh()
	bad.Indices = []uint32{0, 1, 7}
	assert.ErrorIs(t, r.ReloadMesh(bad), core.ErrGraphicsDevice)

	white := [4]float32{1, 1, 1, 1}
	quad := &metadata.Mesh{
		Name: "quad",
		Vertices: []metadata.Vertex{
			{Position: [3]float32{-1, -1, 0}, Color: white},
			{Position: [3]float32{1, -1, 0}, Color: white},
			{Position: [3]float32{1, 1, 0}, Color: white},
			{Position: [3]float32{-1, 1, 0}, Color: white},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
	require.NoError(t, r.ReloadMesh(quad))
	assert.Equal(t, uint32(6), r.resources.IndexCount)

	require.NoError(t, r.Render())
	require.NoError(t, r.Device().WaitIdle())
	frame, ok := surfaceOf(t, r).LastFrame()
	require.True(t, ok)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, frame.Image.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.Zero(t, log.errorCount())
}

func TestRenderBeforeInitialize(t *testing.T) {
	r := New(DefaultConfig(), nil)
	assert.ErrorIs(t, r.Render(), core.ErrGraphicsDevice)
	assert.NoError(t, r.Shutdown())
	assert.ErrorIs(t, r.Initialize(2, 2, testShaders, nil), core.ErrInitialization)
}

func TestInitializeFailures(t *testing.T) {
	factory := func(options metadata.DeviceOptions) (metadata.Device, error) {
		return software.New(software.Options{DeviceOptions: options}), nil
	}

	config := DefaultConfig()
	config.SlotCount = 1
	assert.ErrorIs(t, New(config, factory).Initialize(2, 2, testShaders, nil), core.ErrInitialization)

	assert.ErrorIs(t, New(DefaultConfig(), factory).Initialize(0, 2, testShaders, nil), core.ErrInitialization)
	assert.ErrorIs(t, New(DefaultConfig(), factory).Initialize(2, 2, ShaderSet{}, nil), core.ErrGraphicsDevice)
}

func TestConfigFromTOML(t *testing.T) {
	config := DefaultConfig()
	doc := `
slot_count = 3
sync_interval = 0
fence_timeout = "250ms"
clear_color = [0.0, 0.5, 1.0, 1.0]
`
	require.NoError(t, toml.Unmarshal([]byte(doc), &config))
	assert.Equal(t, uint32(3), config.SlotCount)
	assert.Equal(t, uint32(0), config.SyncInterval)
	assert.Equal(t, 250*time.Millisecond, config.FenceTimeout.Duration)
	assert.Equal(t, metadata.Color{R: 0, G: 0.5, B: 1, A: 1}, config.clearColor())
	assert.Equal(t, "shaders/vert.spv", config.VertexShader)
	assert.NoError(t, config.Validate())

	config.SyncInterval = 5
	assert.ErrorIs(t, config.Validate(), core.ErrInitialization)

	assert.Error(t, toml.Unmarshal([]byte(`fence_timeout = "soon"`), &config))
}
