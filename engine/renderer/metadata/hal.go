package metadata

import "time"

// Device is the GPU as seen by the frame pipeline. Implementations live in
// engine/renderer/software and engine/renderer/vulkan.
type Device interface {
	Name() string
	// Queue returns the single command submission queue.
	Queue() Queue
	CreateTimeline(initialValue uint64) (Timeline, error)
	CreateCommandAllocator() (CommandAllocator, error)
	CreateCommandList(allocator CommandAllocator) (CommandList, error)
	CreateBuffer(desc BufferDescription) (Buffer, error)
	CreatePipeline(desc PipelineDescription) (Pipeline, error)
	CreateSurface(desc SurfaceDescription) (Surface, error)
	// WaitIdle blocks until every submitted command completed.
	WaitIdle() error
	Destroy() error
}

// Queue executes work asynchronously in submission order.
type Queue interface {
	// Submit enqueues closed command lists and returns without waiting.
	Submit(lists ...CommandList) error
	// Signal enqueues a timeline update that happens once all prior work completed.
	Signal(timeline Timeline, value uint64) error
}

// Timeline is a monotonically increasing counter advanced by the GPU.
type Timeline interface {
	CompletedValue() uint64
	// Wait blocks until CompletedValue() >= value. A zero timeout waits forever;
	// otherwise core.ErrSyncTimeout is returned once the timeout elapses.
	Wait(value uint64, timeout time.Duration) error
	Destroy() error
}

// CommandAllocator owns the memory behind command lists. It may only be reset
// once the GPU finished every list recorded from it.
type CommandAllocator interface {
	Reset() error
	Destroy() error
}

// CommandList records commands. Recording methods do not return errors; the first
// failure is reported by Close.
type CommandList interface {
	Label() string
	Reset(allocator CommandAllocator, pipeline Pipeline) error
	SetViewport(viewport Viewport)
	SetScissor(rect Rect)
	SetUniformBuffer(buffer Buffer)
	ResourceBarrier(target RenderTarget, before, after ResourceState)
	SetRenderTarget(target RenderTarget)
	ClearRenderTarget(target RenderTarget, color Color)
	SetVertexBuffer(buffer Buffer, stride uint32)
	SetIndexBuffer(buffer Buffer, format IndexFormat)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)
	Close() error
	Destroy() error
}

// Surface is a ring of presentable back buffers.
type Surface interface {
	BufferCount() uint32
	// CurrentBackBufferIndex is the buffer the next frame renders into. It only
	// changes through Present.
	CurrentBackBufferIndex() (uint32, error)
	BackBuffer(index uint32) RenderTarget
	Present(syncInterval uint32) error
	// ResizeBuffers recreates the back buffers. The caller must drain the queue first.
	ResizeBuffers(width, height uint32) error
	Size() (uint32, uint32)
	Destroy() error
}

type RenderTarget interface {
	Label() string
	Size() (uint32, uint32)
}

// Buffer is host visible GPU memory.
type Buffer interface {
	Label() string
	Usage() BufferUsage
	Size() uint64
	// Address identifies the buffer's range in a device-wide, 64KiB aligned
	// address space. Ranges never overlap. It is not a dereferenceable GPU
	// virtual address and is meant for logs and diagnostics.
	Address() uint64
	Write(offset uint64, data []byte) error
	Destroy() error
}

// Pipeline is the opaque root signature + pipeline state built from shader blobs.
type Pipeline interface {
	Label() string
	Destroy() error
}

type DeviceOptions struct {
	// EnableValidation turns on the backend validation layer.
	EnableValidation bool
	// OnValidation receives every validation report. Nil routes reports to the log.
	OnValidation ValidationHandler
}
