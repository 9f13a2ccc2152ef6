package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/software"
)

func newTestFence(t *testing.T, delay time.Duration) (*FrameFence, *software.Device) {
	t.Helper()
	device := software.New(software.Options{ExecutionDelay: delay})
	t.Cleanup(func() {
		_ = device.WaitIdle()
		_ = device.Destroy()
	})
	fence, err := NewFrameFence(device, 3, time.Second, core.NewFrameMetrics())
	require.NoError(t, err)
	return fence, device
}

func TestFenceFreshSlotsNeverWait(t *testing.T) {
	fence, _ := newTestFence(t, 0)

	for slot := uint32(0); slot < fence.SlotCount(); slot++ {
		assert.True(t, fence.IsSlotReady(slot))
		assert.NoError(t, fence.WaitForSlot(slot))
		assert.Zero(t, fence.Pending(slot))
	}
	assert.False(t, fence.InFlight())
	stalls, _ := fence.metrics.Stalls()
	assert.Zero(t, stalls)
}

func TestFenceSignalAndDrain(t *testing.T) {
	fence, _ := newTestFence(t, 0)

	v, err := fence.SignalAfterSubmit(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = fence.SignalAfterSubmit(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, uint64(1), fence.Pending(1))
	assert.Equal(t, uint64(2), fence.Pending(2))

	require.NoError(t, fence.DrainAll())
	assert.Equal(t, uint64(3), fence.LastSignaled())
	assert.Equal(t, uint64(3), fence.Completed())
	assert.False(t, fence.InFlight())
	// Draining does not move any slot's pending value.
	assert.Equal(t, uint64(2), fence.Pending(2))
}

func TestFenceWaitBlocksBehindWork(t *testing.T) {
	fence, device := newTestFence(t, 30*time.Millisecond)

	ps, err := CreatePresentationSurface(device, 2, 2, 2)
	require.NoError(t, err)
	slots, err := NewFrameSlots(device, ps)
	require.NoError(t, err)

	// An empty list still pays the execution delay.
	slot := slots.Slot(0)
	require.NoError(t, slot.Allocator.Reset())
	require.NoError(t, slot.List.Reset(slot.Allocator, nil))
	require.NoError(t, slot.List.Close())
	require.NoError(t, device.Queue().Submit(slot.List))
	_, err = fence.SignalAfterSubmit(0)
	require.NoError(t, err)

	assert.True(t, fence.InFlight())
	assert.False(t, fence.IsSlotReady(0))
	assert.True(t, fence.IsSlotReady(1))

	require.NoError(t, fence.WaitForSlot(0))
	assert.True(t, fence.IsSlotReady(0))
	stalls, waited := fence.metrics.Stalls()
	assert.Equal(t, uint64(1), stalls)
	assert.Greater(t, waited, time.Duration(0))
}

func TestFenceTimeout(t *testing.T) {
	device := software.New(software.Options{ExecutionDelay: 100 * time.Millisecond})
	t.Cleanup(func() {
		_ = device.WaitIdle()
		_ = device.Destroy()
	})
	fence, err := NewFrameFence(device, 2, 5*time.Millisecond, nil)
	require.NoError(t, err)

	ps, err := CreatePresentationSurface(device, 2, 2, 2)
	require.NoError(t, err)
	slots, err := NewFrameSlots(device, ps)
	require.NoError(t, err)
	require.NoError(t, device.Queue().Submit(slots.Slot(0).List))
	_, err = fence.SignalAfterSubmit(0)
	require.NoError(t, err)

	assert.ErrorIs(t, fence.WaitForSlot(0), core.ErrSyncTimeout)
}
