package renderer

import (
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type RecorderState uint8

const (
	RecorderStateIdle RecorderState = iota
	RecorderStateRecording
	RecorderStateClosed
	RecorderStateSubmitted
)

func (s RecorderState) String() string {
	switch s {
	case RecorderStateIdle:
		return "idle"
	case RecorderStateRecording:
		return "recording"
	case RecorderStateClosed:
		return "closed"
	case RecorderStateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("RecorderState(%d)", uint8(s))
	}
}

// FrameParameters is what one frame records besides the slot itself.
type FrameParameters struct {
	Viewport   metadata.Viewport
	Scissor    metadata.Rect
	ClearColor metadata.Color
	// Resources may be nil or empty, which records a clear-only frame.
	Resources *StaticResources
}

// CommandRecorder drives one slot at a time through
// idle -> recording -> closed -> submitted.
type CommandRecorder struct {
	context *DeviceContext
	fence   *FrameFence

	state RecorderState
	slot  *FrameSlot

	// states is the last recorded state of every back buffer. Missing means PRESENT.
	states map[metadata.RenderTarget]metadata.ResourceState
	draws  uint32
}

func NewCommandRecorder(context *DeviceContext, fence *FrameFence) *CommandRecorder {
	return &CommandRecorder{
		context: context,
		fence:   fence,
		states:  make(map[metadata.RenderTarget]metadata.ResourceState),
	}
}

func (r *CommandRecorder) State() RecorderState {
	return r.state
}

// Draws is the number of draw calls recorded into the current frame.
func (r *CommandRecorder) Draws() uint32 {
	return r.draws
}

// Begin resets the slot's allocator and list. The slot must no longer be in flight.
func (r *CommandRecorder) Begin(slot *FrameSlot, pipeline metadata.Pipeline) error {
	if r.state == RecorderStateRecording || r.state == RecorderStateClosed {
		return fmt.Errorf("begin on slot %d while %s: %w", slot.Index, r.state, core.ErrGraphicsDevice)
	}
	if !r.fence.IsSlotReady(slot.Index) {
		core.LogError("slot %d still in flight: pending %d, completed %d",
			slot.Index, r.fence.Pending(slot.Index), r.fence.Completed())
		return fmt.Errorf("slot %d: %w", slot.Index, core.ErrSlotInFlight)
	}
	if err := slot.Allocator.Reset(); err != nil {
		return deviceError("reset allocator", err)
	}
	if err := slot.List.Reset(slot.Allocator, pipeline); err != nil {
		return deviceError("reset command list", err)
	}
	r.slot = slot
	r.draws = 0
	r.state = RecorderStateRecording
	return nil
}

// Transition records a barrier from the tracked state of target to after.
func (r *CommandRecorder) Transition(target metadata.RenderTarget, after metadata.ResourceState) error {
	if r.state != RecorderStateRecording {
		return fmt.Errorf("transition while %s: %w", r.state, core.ErrGraphicsDevice)
	}
	before := r.trackedState(target)
	if before == after {
		return fmt.Errorf("%s already in state %s: %w", target.Label(), after, core.ErrGraphicsDevice)
	}
	r.slot.List.ResourceBarrier(target, before, after)
	r.states[target] = after
	return nil
}

// RecordFrame records the whole frame into the slot passed to Begin.
func (r *CommandRecorder) RecordFrame(params FrameParameters) error {
	if r.state != RecorderStateRecording {
		return fmt.Errorf("record while %s: %w", r.state, core.ErrGraphicsDevice)
	}
	list := r.slot.List
	target := r.slot.Target

	list.SetViewport(params.Viewport)
	list.SetScissor(params.Scissor)
	res := params.Resources
	if res != nil && res.Uniform != nil {
		list.SetUniformBuffer(res.Uniform)
	}

	if err := r.Transition(target, metadata.ResourceStateRenderTarget); err != nil {
		return err
	}
	list.SetRenderTarget(target)
	list.ClearRenderTarget(target, params.ClearColor)

	if res != nil && res.Drawable() {
		list.SetVertexBuffer(res.Vertex, metadata.VertexStride)
		list.SetIndexBuffer(res.Index, metadata.IndexFormatUint32)
		list.DrawIndexed(res.IndexCount, 1, 0, 0, 0)
		r.draws++
	}

	return r.Transition(target, metadata.ResourceStatePresent)
}

func (r *CommandRecorder) Close() error {
	if r.state != RecorderStateRecording {
		return fmt.Errorf("close while %s: %w", r.state, core.ErrGraphicsDevice)
	}
	if err := r.slot.List.Close(); err != nil {
		core.LogError("failed to close the command list of slot %d: %s", r.slot.Index, err)
		r.state = RecorderStateIdle
		return deviceError("close", err)
	}
	r.state = RecorderStateClosed
	return nil
}

// Submit hands the closed list to the queue. The caller signals the fence for the
// slot right after, once the frame is presented.
func (r *CommandRecorder) Submit() error {
	if r.state != RecorderStateClosed {
		return fmt.Errorf("submit while %s: %w", r.state, core.ErrGraphicsDevice)
	}
	if err := r.context.Submit(r.slot.List); err != nil {
		r.state = RecorderStateIdle
		return err
	}
	r.state = RecorderStateSubmitted
	return nil
}

// Finish returns the recorder to idle once the slot's fence value is recorded.
func (r *CommandRecorder) Finish() {
	r.slot = nil
	r.state = RecorderStateIdle
}

// ResetTracking forgets every tracked state; recreated back buffers start in PRESENT.
func (r *CommandRecorder) ResetTracking() {
	r.states = make(map[metadata.RenderTarget]metadata.ResourceState)
}

func (r *CommandRecorder) trackedState(target metadata.RenderTarget) metadata.ResourceState {
	if s, ok := r.states[target]; ok {
		return s
	}
	return metadata.ResourceStatePresent
}
