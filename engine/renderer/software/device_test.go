package software

import (
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

var testShader = []byte{0x03, 0x02, 0x23, 0x07}

type hazardLog struct {
	mutex    sync.Mutex
	messages []metadata.ValidationMessage
}

func (h *hazardLog) handle(msg metadata.ValidationMessage) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *hazardLog) errors() []metadata.ValidationMessage {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var out []metadata.ValidationMessage
	for _, m := range h.messages {
		if m.Severity == metadata.SeverityError {
			out = append(out, m)
		}
	}
	return out
}

func newTestDevice(t *testing.T, delay time.Duration) (*Device, *hazardLog) {
	t.Helper()
	log := &hazardLog{}
	d := New(Options{
		DeviceOptions: metadata.DeviceOptions{
			EnableValidation: true,
			OnValidation:     log.handle,
		},
		ExecutionDelay: delay,
	})
	t.Cleanup(func() {
		_ = d.WaitIdle()
		_ = d.Destroy()
	})
	return d, log
}

type testFrame struct {
	surface   *Surface
	allocator metadata.CommandAllocator
	list      metadata.CommandList
	pipeline  metadata.Pipeline
	vertex    metadata.Buffer
	index     metadata.Buffer
	uniform   metadata.Buffer
}

func newTestFrame(t *testing.T, d *Device, width, height uint32) *testFrame {
	t.Helper()
	s, err := d.CreateSurface(metadata.SurfaceDescription{
		Width:       width,
		Height:      height,
		BufferCount: 2,
		Format:      metadata.FormatR8G8B8A8Unorm,
	})
	require.NoError(t, err)

	alloc, err := d.CreateCommandAllocator()
	require.NoError(t, err)
	list, err := d.CreateCommandList(alloc)
	require.NoError(t, err)
	require.NoError(t, list.Close())

	p, err := d.CreatePipeline(metadata.PipelineDescription{
		Label:        "test-pipeline",
		VertexShader: testShader,
		PixelShader:  testShader,
		InputLayout:  metadata.VertexLayout,
		TargetFormat: metadata.FormatR8G8B8A8Unorm,
	})
	require.NoError(t, err)

	mesh := metadata.TriangleMesh()
	vb := createFilled(t, d, metadata.BufferUsageVertex, metadata.VertexBytes(mesh.Vertices))
	ib := createFilled(t, d, metadata.BufferUsageIndex, metadata.IndexBytes(mesh.Indices))
	ub := createFilled(t, d, metadata.BufferUsageUniform, metadata.Float32Bytes(mesh.Uniform))

	return &testFrame{
		surface:   s.(*Surface),
		allocator: alloc,
		list:      list,
		pipeline:  p,
		vertex:    vb,
		index:     ib,
		uniform:   ub,
	}
}

func createFilled(t *testing.T, d *Device, usage metadata.BufferUsage, data []byte) metadata.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(metadata.BufferDescription{Usage: usage, Size: uint64(len(data))})
	require.NoError(t, err)
	require.NoError(t, b.Write(0, data))
	return b
}

// record fills the list with one frame; draw=false records the clear only.
func (f *testFrame) record(t *testing.T, draw bool) {
	t.Helper()
	w, h := f.surface.Size()
	index, err := f.surface.CurrentBackBufferIndex()
	require.NoError(t, err)
	target := f.surface.BackBuffer(index)

	require.NoError(t, f.allocator.Reset())
	require.NoError(t, f.list.Reset(f.allocator, f.pipeline))
	f.list.SetViewport(metadata.Viewport{Width: float32(w), Height: float32(h), MinDepth: 0.1, MaxDepth: 1000})
	f.list.SetScissor(metadata.Rect{Right: int32(w), Bottom: int32(h)})
	f.list.SetUniformBuffer(f.uniform)
	f.list.ResourceBarrier(target, metadata.ResourceStatePresent, metadata.ResourceStateRenderTarget)
	f.list.SetRenderTarget(target)
	f.list.ClearRenderTarget(target, metadata.Color{R: 0.2, G: 0.2, B: 0.2, A: 1})
	if draw {
		f.list.SetVertexBuffer(f.vertex, metadata.VertexStride)
		f.list.SetIndexBuffer(f.index, metadata.IndexFormatUint32)
		f.list.DrawIndexed(3, 1, 0, 0, 0)
	}
	f.list.ResourceBarrier(target, metadata.ResourceStateRenderTarget, metadata.ResourceStatePresent)
	require.NoError(t, f.list.Close())
}

func assertPixel(t *testing.T, s *Surface, index uint32, x, y int, want color.RGBA) {
	t.Helper()
	got, ok := s.Pixel(index, x, y)
	require.True(t, ok)
	assert.InDelta(t, want.R, got.R, 1, "red at %d,%d", x, y)
	assert.InDelta(t, want.G, got.G, 1, "green at %d,%d", x, y)
	assert.InDelta(t, want.B, got.B, 1, "blue at %d,%d", x, y)
	assert.Equal(t, want.A, got.A, "alpha at %d,%d", x, y)
}

func TestClearOnlyFrame(t *testing.T) {
	d, log := newTestDevice(t, 0)
	f := newTestFrame(t, d, 4, 3)

	f.record(t, false)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, f.surface.Present(1))
	require.NoError(t, d.WaitIdle())

	grey := color.RGBA{R: 51, G: 51, B: 51, A: 255}
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assertPixel(t, f.surface, 0, x, y, grey)
		}
	}
	assert.Empty(t, log.errors())
	assert.Equal(t, uint64(1), f.surface.PresentCount())

	last, ok := f.surface.LastFrame()
	require.True(t, ok)
	assert.Equal(t, uint32(0), last.BufferIndex)
	assert.Equal(t, uint32(1), last.SyncInterval)
	assert.Equal(t, grey, last.Image.RGBAAt(2, 1))
}

func TestTriangleOnTinySurface(t *testing.T) {
	d, log := newTestDevice(t, 0)
	f := newTestFrame(t, d, 2, 2)

	f.record(t, true)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, d.WaitIdle())

	grey := color.RGBA{R: 51, G: 51, B: 51, A: 255}
	assertPixel(t, f.surface, 0, 0, 0, grey)
	assertPixel(t, f.surface, 0, 1, 0, grey)
	// Bottom right sits nearest the red vertex, bottom left nearest the green one.
	assertPixel(t, f.surface, 0, 1, 1, color.RGBA{R: 159, G: 32, B: 64, A: 255})
	assertPixel(t, f.surface, 0, 0, 1, color.RGBA{R: 32, G: 159, B: 64, A: 255})
	assert.Empty(t, log.errors())
}

func TestTriangleApexIsBlue(t *testing.T) {
	d, _ := newTestDevice(t, 0)
	f := newTestFrame(t, d, 8, 8)

	f.record(t, true)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, d.WaitIdle())

	apex, ok := f.surface.Pixel(0, 4, 1)
	require.True(t, ok)
	assert.Greater(t, apex.B, apex.R)
	assert.Greater(t, apex.B, apex.G)

	corner, ok := f.surface.Pixel(0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, color.RGBA{R: 51, G: 51, B: 51, A: 255}, corner)
}

func TestUniformModulatesColour(t *testing.T) {
	d, _ := newTestDevice(t, 0)
	f := newTestFrame(t, d, 2, 2)

	half := make([]float32, 64)
	for i := range half {
		half[i] = 0.5
	}
	require.NoError(t, f.uniform.Write(0, metadata.Float32Bytes(half)))

	f.record(t, true)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, d.WaitIdle())

	assertPixel(t, f.surface, 0, 1, 1, color.RGBA{R: 80, G: 16, B: 32, A: 128})
}

func TestAllocatorResetWhileInFlight(t *testing.T) {
	d, log := newTestDevice(t, 50*time.Millisecond)
	f := newTestFrame(t, d, 2, 2)

	f.record(t, false)
	require.NoError(t, d.Queue().Submit(f.list))

	err := f.allocator.Reset()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
	assert.NotEmpty(t, log.errors())

	require.NoError(t, d.WaitIdle())
	assert.NoError(t, f.allocator.Reset())
}

func TestResizeRefusedWhileInFlight(t *testing.T) {
	d, log := newTestDevice(t, 50*time.Millisecond)
	f := newTestFrame(t, d, 2, 2)

	f.record(t, false)
	require.NoError(t, d.Queue().Submit(f.list))

	err := f.surface.ResizeBuffers(8, 4)
	assert.ErrorIs(t, err, core.ErrResizeInFlight)
	assert.NotEmpty(t, log.errors())
	w, h := f.surface.Size()
	assert.Equal(t, uint32(2), w)
	assert.Equal(t, uint32(2), h)

	require.NoError(t, d.WaitIdle())
	require.NoError(t, f.surface.ResizeBuffers(8, 4))
	w, h = f.surface.BackBuffer(1).Size()
	assert.Equal(t, uint32(8), w)
	assert.Equal(t, uint32(4), h)
	index, err := f.surface.CurrentBackBufferIndex()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), index)
}

func TestDestroyAfterDrainIsClean(t *testing.T) {
	d, log := newTestDevice(t, 10*time.Millisecond)
	f := newTestFrame(t, d, 2, 2)

	f.record(t, true)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, f.surface.Present(0))

	// Destroying a buffer the pending draw reads is refused.
	assert.ErrorIs(t, f.vertex.Destroy(), core.ErrGraphicsDevice)
	require.NotEmpty(t, log.errors())
	before := len(log.errors())

	require.NoError(t, d.WaitIdle())
	assert.NoError(t, f.vertex.Destroy())
	assert.NoError(t, f.index.Destroy())
	assert.NoError(t, f.uniform.Destroy())
	assert.NoError(t, f.pipeline.Destroy())
	assert.NoError(t, f.list.Destroy())
	assert.NoError(t, f.allocator.Destroy())
	assert.NoError(t, f.surface.Destroy())
	assert.Len(t, log.errors(), before)
}

func TestTimelineSignalAndTimeout(t *testing.T) {
	d, _ := newTestDevice(t, 20*time.Millisecond)
	f := newTestFrame(t, d, 2, 2)
	tl, err := d.CreateTimeline(0)
	require.NoError(t, err)

	f.record(t, false)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, d.Queue().Signal(tl, 1))
	assert.Equal(t, uint64(0), tl.CompletedValue())

	require.NoError(t, tl.Wait(1, time.Second))
	assert.Equal(t, uint64(1), tl.CompletedValue())

	// Nothing will ever signal 2.
	err = tl.Wait(2, 20*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrSyncTimeout)
}

func TestBarrierStateMismatchIsReported(t *testing.T) {
	d, log := newTestDevice(t, 0)
	f := newTestFrame(t, d, 2, 2)
	target := f.surface.BackBuffer(0)

	require.NoError(t, f.allocator.Reset())
	require.NoError(t, f.list.Reset(f.allocator, f.pipeline))
	// Back buffers start in PRESENT; claiming RENDER_TARGET is a hazard.
	f.list.ResourceBarrier(target, metadata.ResourceStateRenderTarget, metadata.ResourceStatePresent)
	require.NoError(t, f.list.Close())
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, d.WaitIdle())

	assert.NotEmpty(t, log.errors())
}

func TestRecordingErrorsSurfaceAtClose(t *testing.T) {
	d, _ := newTestDevice(t, 0)
	f := newTestFrame(t, d, 2, 2)

	require.NoError(t, f.list.Reset(f.allocator, nil))
	f.list.SetVertexBuffer(f.vertex, metadata.VertexStride)
	f.list.DrawIndexed(3, 1, 0, 0, 0)
	assert.ErrorIs(t, f.list.Close(), core.ErrGraphicsDevice)
	assert.ErrorIs(t, d.Queue().Submit(f.list), core.ErrGraphicsDevice)
}

func TestSurfaceRejectsBadDescriptions(t *testing.T) {
	d, _ := newTestDevice(t, 0)

	_, err := d.CreateSurface(metadata.SurfaceDescription{Width: 4, Height: 4, BufferCount: 1, Format: metadata.FormatR8G8B8A8Unorm})
	assert.ErrorIs(t, err, core.ErrInitialization)
	_, err = d.CreateSurface(metadata.SurfaceDescription{Width: 0, Height: 4, BufferCount: 2, Format: metadata.FormatR8G8B8A8Unorm})
	assert.ErrorIs(t, err, core.ErrInitialization)
	_, err = d.CreateBuffer(metadata.BufferDescription{Usage: metadata.BufferUsageUniform, Size: 100})
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
}

func TestSnapshotStretchesLastFrame(t *testing.T) {
	d, _ := newTestDevice(t, 0)
	f := newTestFrame(t, d, 2, 2)

	_, ok := f.surface.Snapshot(4, 4)
	assert.False(t, ok)

	f.record(t, false)
	require.NoError(t, d.Queue().Submit(f.list))
	require.NoError(t, f.surface.Present(1))
	require.NoError(t, d.WaitIdle())

	img, ok := f.surface.Snapshot(6, 4)
	require.True(t, ok)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	assert.Equal(t, color.RGBA{R: 51, G: 51, B: 51, A: 255}, img.RGBAAt(3, 2))
}
