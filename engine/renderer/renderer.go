package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// ShaderSet is the pair of compiled shader blobs the pipeline is built from.
type ShaderSet struct {
	Vertex []byte
	Pixel  []byte
}

// Renderer is the frame pipeline: it records, submits and presents one frame per
// Render call while keeping up to SlotCount frames in flight.
type Renderer struct {
	config  Config
	metrics *core.FrameMetrics

	context   *DeviceContext
	device    metadata.Device
	surface   *PresentationSurface
	slots     *FrameSlots
	fence     *FrameFence
	resources *StaticResources
	recorder  *CommandRecorder
	pipeline  metadata.Pipeline

	frameIndex  uint32
	frameNumber uint64
	initialized bool
}

func New(config Config, factory DeviceFactory) *Renderer {
	return &Renderer{
		config:  config,
		metrics: core.NewFrameMetrics(),
		context: NewDeviceContext(factory),
	}
}

// Initialize creates the device, the surface, the slot arena, the pipeline, the
// static buffers and the fence. A nil mesh renders clear-only frames.
func (r *Renderer) Initialize(width, height uint32, shaders ShaderSet, mesh *metadata.Mesh) error {
	if r.initialized {
		return fmt.Errorf("renderer already initialized: %w", core.ErrInitialization)
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	device, _, err := r.context.Initialize(metadata.DeviceOptions{EnableValidation: r.config.EnableValidation})
	if err != nil {
		return err
	}
	r.device = device

	if err := r.initialize(width, height, shaders, mesh); err != nil {
		_ = r.release()
		return err
	}

	// Nothing was submitted yet, but the uploads must be visible before the first frame.
	if err := r.device.WaitIdle(); err != nil {
		_ = r.release()
		return deviceError("wait idle", err)
	}

	index, err := r.surface.AcquireCurrentIndex()
	if err != nil {
		_ = r.release()
		return err
	}
	r.frameIndex = index
	r.initialized = true
	core.LogInfo("Renderer initialized: %dx%d, %d slots, sync interval %d.",
		width, height, r.config.SlotCount, r.config.SyncInterval)
	return nil
}

func (r *Renderer) initialize(width, height uint32, shaders ShaderSet, mesh *metadata.Mesh) error {
	var err error
	if r.surface, err = CreatePresentationSurface(r.device, width, height, r.config.SlotCount); err != nil {
		return err
	}
	if r.slots, err = NewFrameSlots(r.device, r.surface); err != nil {
		return err
	}
	if r.pipeline, err = r.createPipeline(shaders); err != nil {
		return err
	}
	r.resources = NewStaticResources(r.device)
	if mesh != nil {
		if err := r.resources.UploadMesh(mesh); err != nil {
			return err
		}
	}
	if r.fence, err = NewFrameFence(r.device, r.config.SlotCount, r.config.FenceTimeout.Duration, r.metrics); err != nil {
		return err
	}
	r.recorder = NewCommandRecorder(r.context, r.fence)
	return nil
}

func (r *Renderer) createPipeline(shaders ShaderSet) (metadata.Pipeline, error) {
	pipeline, err := r.device.CreatePipeline(metadata.PipelineDescription{
		Label:        "frame-pipeline",
		VertexShader: shaders.Vertex,
		PixelShader:  shaders.Pixel,
		InputLayout:  metadata.VertexLayout,
		TargetFormat: metadata.FormatR8G8B8A8Unorm,
	})
	if err != nil {
		core.LogError("failed to create the pipeline: %s", err)
		return nil, deviceError("create pipeline", err)
	}
	return pipeline, nil
}

// Render records, submits and presents one frame, then moves to the next back
// buffer and waits only if that slot is still in flight.
func (r *Renderer) Render() error {
	if !r.initialized {
		return fmt.Errorf("render before initialize: %w", core.ErrGraphicsDevice)
	}
	start := time.Now()

	slot := r.slots.Slot(r.frameIndex)
	if err := r.fence.WaitForSlot(slot.Index); err != nil {
		return err
	}
	if err := r.recorder.Begin(slot, r.pipeline); err != nil {
		return err
	}

	width, height := r.surface.Size()
	err := r.recorder.RecordFrame(FrameParameters{
		Viewport: metadata.Viewport{
			Width:    float32(width),
			Height:   float32(height),
			MinDepth: 0.1,
			MaxDepth: 1000.0,
		},
		Scissor:    metadata.Rect{Right: int32(width), Bottom: int32(height)},
		ClearColor: r.config.clearColor(),
		Resources:  r.resources,
	})
	if err != nil {
		return err
	}
	if err := r.recorder.Close(); err != nil {
		return err
	}
	if err := r.recorder.Submit(); err != nil {
		return err
	}
	if err := r.surface.Present(r.config.SyncInterval); err != nil {
		return err
	}
	if _, err := r.fence.SignalAfterSubmit(slot.Index); err != nil {
		return err
	}
	r.recorder.Finish()
	r.frameNumber++

	next, err := r.surface.AcquireCurrentIndex()
	if err != nil {
		return err
	}
	r.frameIndex = next
	if err := r.fence.WaitForSlot(next); err != nil {
		return err
	}
	r.metrics.Update(time.Since(start))
	return nil
}

// Resize drains the GPU, then recreates the back buffers at the new size.
func (r *Renderer) Resize(width, height uint32) error {
	if !r.initialized {
		return fmt.Errorf("resize before initialize: %w", core.ErrGraphicsDevice)
	}
	if w, h := r.surface.Size(); w == width && h == height {
		return nil
	}
	if err := r.surface.Resize(r.fence, width, height); err != nil {
		return err
	}
	r.slots.RebindTargets(r.surface)
	r.recorder.ResetTracking()

	index, err := r.surface.AcquireCurrentIndex()
	if err != nil {
		return err
	}
	r.frameIndex = index
	core.LogInfo("Renderer resized to %dx%d.", width, height)
	return nil
}

// ReloadPipeline rebuilds the pipeline from new shader blobs. The old pipeline is
// kept when the new one fails to build.
func (r *Renderer) ReloadPipeline(shaders ShaderSet) error {
	if !r.initialized {
		return fmt.Errorf("reload before initialize: %w", core.ErrGraphicsDevice)
	}
	pipeline, err := r.createPipeline(shaders)
	if err != nil {
		return err
	}
	if err := r.fence.DrainAll(); err != nil {
		_ = pipeline.Destroy()
		return err
	}
	if err := r.pipeline.Destroy(); err != nil {
		core.LogWarn("failed to destroy the previous pipeline: %s", err)
	}
	r.pipeline = pipeline
	core.LogInfo("Pipeline reloaded.")
	return nil
}

// ReloadMesh drains the GPU and uploads new static buffers.
func (r *Renderer) ReloadMesh(mesh *metadata.Mesh) error {
	if !r.initialized {
		return fmt.Errorf("reload before initialize: %w", core.ErrGraphicsDevice)
	}
	if err := ValidateMesh(mesh); err != nil {
		return err
	}
	if err := r.fence.DrainAll(); err != nil {
		return err
	}
	if err := r.resources.UploadMesh(mesh); err != nil {
		return err
	}
	core.LogInfo("Mesh '%s' reloaded: %d vertices, %d indices.", mesh.Name, len(mesh.Vertices), len(mesh.Indices))
	return nil
}

// UpdateUniform rewrites the uniform block after draining the GPU.
func (r *Renderer) UpdateUniform(values []float32) error {
	if !r.initialized {
		return fmt.Errorf("update before initialize: %w", core.ErrGraphicsDevice)
	}
	return r.resources.UpdateUniform(r.fence, values)
}

// Shutdown drains all in-flight work before releasing anything.
func (r *Renderer) Shutdown() error {
	if !r.initialized {
		return nil
	}
	if err := r.fence.DrainAll(); err != nil {
		// Nothing is released while the GPU may still read it; Shutdown may be retried.
		return err
	}
	r.initialized = false
	if err := r.release(); err != nil {
		core.LogError("failed to release renderer resources: %s", err)
		return err
	}
	stalls, stallTime := r.metrics.Stalls()
	core.LogInfo("Renderer shut down after %d frames (%d fence stalls, %s).", r.frameNumber, stalls, stallTime)
	return nil
}

func (r *Renderer) release() error {
	var errs []error
	if r.resources != nil {
		errs = append(errs, r.resources.Destroy())
		r.resources = nil
	}
	if r.pipeline != nil {
		errs = append(errs, r.pipeline.Destroy())
		r.pipeline = nil
	}
	if r.slots != nil {
		errs = append(errs, r.slots.Destroy())
		r.slots = nil
	}
	if r.fence != nil {
		errs = append(errs, r.fence.Destroy())
		r.fence = nil
	}
	if r.surface != nil {
		errs = append(errs, r.surface.Destroy())
		r.surface = nil
	}
	errs = append(errs, r.context.Destroy())
	r.device = nil
	r.recorder = nil
	return errors.Join(errs...)
}

func (r *Renderer) Device() metadata.Device {
	return r.device
}

// Surface is the backend surface, nil before Initialize.
func (r *Renderer) Surface() metadata.Surface {
	if r.surface == nil {
		return nil
	}
	return r.surface.Surface()
}

func (r *Renderer) Fence() *FrameFence {
	return r.fence
}

func (r *Renderer) Metrics() *core.FrameMetrics {
	return r.metrics
}

// FrameIndex is the slot the next Render call records into.
func (r *Renderer) FrameIndex() uint32 {
	return r.frameIndex
}

func (r *Renderer) FrameNumber() uint64 {
	return r.frameNumber
}

func (r *Renderer) Size() (uint32, uint32) {
	if r.surface == nil {
		return 0, 0
	}
	return r.surface.Size()
}
