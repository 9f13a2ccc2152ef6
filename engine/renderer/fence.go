package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// FrameFence tracks, for every frame slot, the timeline value the GPU must reach
// before the slot may be reused.
type FrameFence struct {
	queue    metadata.Queue
	timeline metadata.Timeline
	timeout  time.Duration
	metrics  *core.FrameMetrics

	// counter is the last value handed to the queue.
	counter uint64
	pending []uint64
}

func NewFrameFence(device metadata.Device, slotCount uint32, timeout time.Duration, metrics *core.FrameMetrics) (*FrameFence, error) {
	timeline, err := device.CreateTimeline(0)
	if err != nil {
		core.LogError("failed to create the frame fence: %s", err)
		return nil, deviceError("create fence", err)
	}
	return &FrameFence{
		queue:    device.Queue(),
		timeline: timeline,
		timeout:  timeout,
		metrics:  metrics,
		pending:  make([]uint64, slotCount),
	}, nil
}

// SignalAfterSubmit enqueues a signal of the next counter value behind the work
// already submitted and records it as the slot's pending value.
func (f *FrameFence) SignalAfterSubmit(slot uint32) (uint64, error) {
	value := f.counter + 1
	if err := f.queue.Signal(f.timeline, value); err != nil {
		core.LogError("failed to signal fence value %d: %s", value, err)
		return 0, deviceError("signal", err)
	}
	f.counter = value
	f.pending[slot] = value
	return value, nil
}

// WaitForSlot returns at once when the GPU already finished the slot's work.
func (f *FrameFence) WaitForSlot(slot uint32) error {
	value := f.pending[slot]
	if f.timeline.CompletedValue() >= value {
		return nil
	}
	start := time.Now()
	err := f.wait(value)
	if f.metrics != nil {
		f.metrics.RecordStall(time.Since(start))
	}
	return err
}

// DrainAll blocks until every piece of work submitted so far has completed.
func (f *FrameFence) DrainAll() error {
	value := f.counter + 1
	if err := f.queue.Signal(f.timeline, value); err != nil {
		core.LogError("failed to signal drain value %d: %s", value, err)
		return deviceError("drain", err)
	}
	f.counter = value
	return f.wait(value)
}

func (f *FrameFence) wait(value uint64) error {
	if err := f.timeline.Wait(value, f.timeout); err != nil {
		core.LogError("fence wait for value %d failed (completed %d): %s", value, f.timeline.CompletedValue(), err)
		return deviceError(fmt.Sprintf("wait for fence value %d", value), err)
	}
	return nil
}

// IsSlotReady reports whether recording may begin on slot.
func (f *FrameFence) IsSlotReady(slot uint32) bool {
	return f.timeline.CompletedValue() >= f.pending[slot]
}

// InFlight reports whether any slot still has unfinished work.
func (f *FrameFence) InFlight() bool {
	completed := f.timeline.CompletedValue()
	for _, v := range f.pending {
		if v > completed {
			return true
		}
	}
	return false
}

func (f *FrameFence) Pending(slot uint32) uint64 {
	return f.pending[slot]
}

func (f *FrameFence) Completed() uint64 {
	return f.timeline.CompletedValue()
}

// LastSignaled is the most recent value handed to the queue.
func (f *FrameFence) LastSignaled() uint64 {
	return f.counter
}

func (f *FrameFence) SlotCount() uint32 {
	return uint32(len(f.pending))
}

func (f *FrameFence) Destroy() error {
	return f.timeline.Destroy()
}
