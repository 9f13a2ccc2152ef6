package software

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type Options struct {
	metadata.DeviceOptions
	// ExecutionDelay is added before every command list executes, keeping the
	// emulated GPU behind the CPU.
	ExecutionDelay time.Duration
	// ExecutionJitter adds a random [0, jitter) on top of ExecutionDelay.
	ExecutionJitter time.Duration
	// PresentHistory is how many presented frames each surface keeps. Defaults to 8.
	PresentHistory int
}

// Device is a CPU emulation of a GPU with a single asynchronous queue. It runs
// the fixed function pipeline framepace needs: clears, image state transitions and
// indexed triangle lists with per-vertex colour modulated by a uniform vec4.
type Device struct {
	options Options
	queue   *queue

	// refs counts pending (submitted, not executed) work per object.
	refsMutex sync.Mutex
	refs      map[interface{}]int

	// gpuMutex is held by the executor while it touches GPU memory.
	gpuMutex sync.Mutex

	nextAddress uint64
	destroyed   bool
}

func New(options Options) *Device {
	if options.PresentHistory <= 0 {
		options.PresentHistory = 8
	}
	d := &Device{
		options:     options,
		refs:        make(map[interface{}]int),
		nextAddress: 0x10000,
	}
	d.queue = newQueue(d)
	core.LogInfo("Software device created (validation=%t, delay=%s, jitter=%s).",
		options.EnableValidation, options.ExecutionDelay, options.ExecutionJitter)
	return d
}

func (d *Device) Name() string {
	return "software"
}

func (d *Device) Queue() metadata.Queue {
	return d.queue
}

func (d *Device) CreateTimeline(initialValue uint64) (metadata.Timeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return newTimeline(d, initialValue), nil
}

func (d *Device) CreateCommandAllocator() (metadata.CommandAllocator, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return &commandAllocator{device: d, label: core.NewObjectLabel("allocator")}, nil
}

func (d *Device) CreateCommandList(allocator metadata.CommandAllocator) (metadata.CommandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	a, ok := allocator.(*commandAllocator)
	if !ok || a == nil {
		return nil, fmt.Errorf("command list needs a software allocator: %w", core.ErrGraphicsDevice)
	}
	// Created lists start in the recording state, like D3D12 ones do.
	return &commandList{
		device:    d,
		label:     core.NewObjectLabel("cmdlist"),
		allocator: a,
		recording: true,
	}, nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDescription) (metadata.Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size: %w", desc.Label, core.ErrGraphicsDevice)
	}
	if desc.Usage == metadata.BufferUsageUniform && desc.Size%metadata.UniformBufferAlignment != 0 {
		return nil, fmt.Errorf("uniform buffer %q size %d is not %d byte aligned: %w",
			desc.Label, desc.Size, metadata.UniformBufferAlignment, core.ErrGraphicsDevice)
	}
	label := desc.Label
	if label == "" {
		label = core.NewObjectLabel(desc.Usage.String())
	}
	b := &buffer{
		device:  d,
		label:   label,
		usage:   desc.Usage,
		data:    make([]byte, desc.Size),
		address: d.allocateAddress(desc.Size),
	}
	return b, nil
}

func (d *Device) CreatePipeline(desc metadata.PipelineDescription) (metadata.Pipeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	p, err := newPipeline(d, desc)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Device) CreateSurface(desc metadata.SurfaceDescription) (metadata.Surface, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	s, err := newSurface(d, desc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WaitIdle blocks until the queue has executed everything submitted so far.
func (d *Device) WaitIdle() error {
	d.queue.waitIdle()
	return nil
}

func (d *Device) Destroy() error {
	if d.destroyed {
		return nil
	}
	if pending := d.queue.pendingCount(); pending > 0 {
		d.report(metadata.SeverityError, "device", "device destroyed with %d pending work items", pending)
	}
	d.queue.stop()
	d.destroyed = true
	core.LogInfo("Software device destroyed.")
	return nil
}

func (d *Device) checkAlive() error {
	if d.destroyed {
		return fmt.Errorf("software device already destroyed: %w", core.ErrGraphicsDevice)
	}
	return nil
}

func (d *Device) allocateAddress(size uint64) uint64 {
	addr := d.nextAddress
	d.nextAddress += (size + 0xFFFF) &^ 0xFFFF
	return addr
}

func (d *Device) acquire(objects []interface{}) {
	d.refsMutex.Lock()
	defer d.refsMutex.Unlock()
	for _, o := range objects {
		d.refs[o]++
	}
}

func (d *Device) release(objects []interface{}) {
	d.refsMutex.Lock()
	defer d.refsMutex.Unlock()
	for _, o := range objects {
		if d.refs[o] <= 1 {
			delete(d.refs, o)
		} else {
			d.refs[o]--
		}
	}
}

// inUse reports whether pending GPU work references obj.
func (d *Device) inUse(obj interface{}) bool {
	d.refsMutex.Lock()
	defer d.refsMutex.Unlock()
	return d.refs[obj] > 0
}
