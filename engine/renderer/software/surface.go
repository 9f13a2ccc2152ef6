package software

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/framepace/engine/containers"
	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

const (
	minBufferCount  = 2
	maxBufferCount  = 16
	maxSyncInterval = 4
)

// renderTarget is one back buffer. state and image belong to the executor.
type renderTarget struct {
	surface *Surface
	label   string
	index   uint32
	image   *image.RGBA
	state   metadata.ResourceState
}

func (rt *renderTarget) Label() string {
	return rt.label
}

func (rt *renderTarget) Size() (uint32, uint32) {
	b := rt.image.Bounds()
	return uint32(b.Dx()), uint32(b.Dy())
}

// PresentedFrame is a copy of a back buffer taken when the present executed.
type PresentedFrame struct {
	Sequence     uint64
	BufferIndex  uint32
	SyncInterval uint32
	Image        *image.RGBA
}

type presentRequest struct {
	surface      *Surface
	target       *renderTarget
	syncInterval uint32
	sequence     uint64
}

// Surface is a flip model swap chain kept in memory.
type Surface struct {
	device *Device
	label  string

	width   uint32
	height  uint32
	buffers []*renderTarget
	current uint32

	// sequence counts Present calls on the CPU.
	sequence uint64

	historyMutex sync.Mutex
	history      *containers.RingQueue[PresentedFrame]
	presented    uint64

	destroyed bool
}

func newSurface(d *Device, desc metadata.SurfaceDescription) (*Surface, error) {
	if desc.BufferCount < minBufferCount || desc.BufferCount > maxBufferCount {
		return nil, fmt.Errorf("surface buffer count %d outside [%d, %d]: %w",
			desc.BufferCount, minBufferCount, maxBufferCount, core.ErrInitialization)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("surface size %dx%d: %w", desc.Width, desc.Height, core.ErrInitialization)
	}
	if desc.Format != metadata.FormatR8G8B8A8Unorm {
		return nil, fmt.Errorf("surface format %d not supported: %w", desc.Format, core.ErrInitialization)
	}
	s := &Surface{
		device:  d,
		label:   core.NewObjectLabel("swapchain"),
		history: containers.NewRingQueue[PresentedFrame](d.options.PresentHistory),
	}
	s.createBuffers(desc.BufferCount, desc.Width, desc.Height)
	return s, nil
}

func (s *Surface) createBuffers(count, width, height uint32) {
	s.buffers = make([]*renderTarget, count)
	for i := uint32(0); i < count; i++ {
		s.buffers[i] = &renderTarget{
			surface: s,
			label:   fmt.Sprintf("%s-buffer%d", s.label, i),
			index:   i,
			image:   image.NewRGBA(image.Rect(0, 0, int(width), int(height))),
			state:   metadata.ResourceStatePresent,
		}
	}
	s.width = width
	s.height = height
	s.current = 0
}

func (s *Surface) BufferCount() uint32 {
	return uint32(len(s.buffers))
}

func (s *Surface) CurrentBackBufferIndex() (uint32, error) {
	if s.destroyed {
		return 0, fmt.Errorf("%s destroyed: %w", s.label, core.ErrPresent)
	}
	return s.current, nil
}

func (s *Surface) BackBuffer(index uint32) metadata.RenderTarget {
	if index >= uint32(len(s.buffers)) {
		return nil
	}
	return s.buffers[index]
}

// Present queues the current back buffer and flips to the next one.
func (s *Surface) Present(syncInterval uint32) error {
	if s.destroyed {
		return fmt.Errorf("%s destroyed: %w", s.label, core.ErrPresent)
	}
	if syncInterval > maxSyncInterval {
		return fmt.Errorf("%s: sync interval %d above %d: %w", s.label, syncInterval, maxSyncInterval, core.ErrPresent)
	}
	target := s.buffers[s.current]
	s.sequence++
	err := s.device.queue.push(workItem{
		kind:  workPresent,
		label: s.label,
		present: presentRequest{
			surface:      s,
			target:       target,
			syncInterval: syncInterval,
			sequence:     s.sequence,
		},
		refs: []interface{}{target},
	})
	if err != nil {
		return fmt.Errorf("%s: %v: %w", s.label, err, core.ErrPresent)
	}
	s.current = (s.current + 1) % uint32(len(s.buffers))
	return nil
}

// executePresent runs on the executor.
func (s *Surface) executePresent(req presentRequest) {
	if req.target.state != metadata.ResourceStatePresent {
		s.device.report(metadata.SeverityError, req.target.label,
			"presented in state %s, expected %s", req.target.state, metadata.ResourceStatePresent)
	}
	img := image.NewRGBA(req.target.image.Bounds())
	copy(img.Pix, req.target.image.Pix)

	s.historyMutex.Lock()
	s.history.Push(PresentedFrame{
		Sequence:     req.sequence,
		BufferIndex:  req.target.index,
		SyncInterval: req.syncInterval,
		Image:        img,
	})
	s.presented++
	s.historyMutex.Unlock()
}

// ResizeBuffers refuses to run while any work is pending on the queue.
func (s *Surface) ResizeBuffers(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%s: cannot resize to %dx%d: %w", s.label, width, height, core.ErrGraphicsDevice)
	}
	if pending := s.device.queue.pendingCount(); pending > 0 {
		s.device.report(metadata.SeverityError, s.label, "buffers resized with %d pending work items", pending)
		return fmt.Errorf("%s: %d work items pending: %w", s.label, pending, core.ErrResizeInFlight)
	}
	s.device.gpuMutex.Lock()
	s.createBuffers(uint32(len(s.buffers)), width, height)
	s.device.gpuMutex.Unlock()
	core.LogDebug("%s resized to %dx%d.", s.label, width, height)
	return nil
}

func (s *Surface) Size() (uint32, uint32) {
	return s.width, s.height
}

func (s *Surface) Destroy() error {
	for _, b := range s.buffers {
		if err := s.device.destroyInUse(b, b.label); err != nil {
			return err
		}
	}
	s.destroyed = true
	return nil
}

// PresentCount is the number of presents the executor completed.
func (s *Surface) PresentCount() uint64 {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	return s.presented
}

// PresentedFrames returns the retained history, oldest first.
func (s *Surface) PresentedFrames() []PresentedFrame {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	frames := make([]PresentedFrame, 0, s.history.Len())
	for i := 0; i < s.history.Len(); i++ {
		f, _ := s.history.Dequeue()
		frames = append(frames, f)
		_ = s.history.Enqueue(f)
	}
	return frames
}

func (s *Surface) LastFrame() (PresentedFrame, bool) {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	f, err := s.history.Last()
	return f, err == nil
}

// Snapshot stretches the last presented frame to width x height, the way a
// stretch scaling swap chain fills a window of a different size.
func (s *Surface) Snapshot(width, height uint32) (*image.RGBA, bool) {
	f, ok := s.LastFrame()
	if !ok {
		return nil, false
	}
	if width == 0 || height == 0 {
		width, height = s.Size()
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), draw.Src, nil)
	return dst, true
}
