package vulkan

import (
	"fmt"
	"math"
	"sync"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type pendingSignal struct {
	value uint64
	fence vk.Fence
}

// timeline emulates a timeline semaphore with binary fences: each Signal gets its
// own fence, and the completed value is the value of the newest signaled fence.
type timeline struct {
	device *Device
	label  string

	mutex     sync.Mutex
	completed uint64
	pending   []pendingSignal
	free      []vk.Fence
}

func newTimeline(d *Device, initial uint64) *timeline {
	return &timeline{
		device:    d,
		label:     core.NewObjectLabel("fence"),
		completed: initial,
	}
}

func (t *timeline) CompletedValue() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.poll()
	return t.completed
}

func (t *timeline) Wait(value uint64, timeout time.Duration) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.poll()
	if t.completed >= value {
		return nil
	}

	var target vk.Fence
	for _, p := range t.pending {
		if p.value >= value {
			target = p.fence
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%s: value %d was never signaled, completed %d: %w",
			t.label, value, t.completed, core.ErrSyncTimeout)
	}

	timeoutNS := uint64(math.MaxUint64)
	if timeout > 0 {
		timeoutNS = uint64(timeout.Nanoseconds())
	}
	result := vk.WaitForFences(t.device.LogicalDevice, 1, []vk.Fence{target}, vk.True, timeoutNS)
	switch result {
	case vk.Success:
		t.poll()
		return nil
	case vk.Timeout:
		return fmt.Errorf("%s: waited %s for value %d, completed %d: %w",
			t.label, timeout, value, t.completed, core.ErrSyncTimeout)
	default:
		return resultError("vkWaitForFences", result, core.ErrGraphicsDevice)
	}
}

// poll retires signaled fences in submission order.
func (t *timeline) poll() {
	for len(t.pending) > 0 {
		p := t.pending[0]
		result := vk.GetFenceStatus(t.device.LogicalDevice, p.fence)
		if result == vk.NotReady {
			return
		}
		if result != vk.Success {
			core.LogError("%s: vkGetFenceStatus failed with %s", t.label, VulkanResultString(result))
			return
		}
		if p.value < t.completed {
			t.device.report(metadata.SeverityWarning, t.label, "signaled %d below completed value %d", p.value, t.completed)
		}
		t.completed = p.value
		t.pending = t.pending[1:]
		t.recycle(p.fence)
	}
}

// nextFence returns an unsignaled fence, reusing retired ones.
func (t *timeline) nextFence() (vk.Fence, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if n := len(t.free); n > 0 {
		fence := t.free[n-1]
		t.free = t.free[:n-1]
		return fence, nil
	}
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if res := vk.CreateFence(t.device.LogicalDevice, &createInfo, t.device.context.Allocator, &fence); res != vk.Success {
		return nil, resultError("vkCreateFence", res, core.ErrGraphicsDevice)
	}
	return fence, nil
}

func (t *timeline) push(value uint64, fence vk.Fence) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.pending = append(t.pending, pendingSignal{value: value, fence: fence})
}

// discard takes back a fence that was never submitted.
func (t *timeline) discard(fence vk.Fence) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.free = append(t.free, fence)
}

// recycle resets fence and keeps it for the next signal.
func (t *timeline) recycle(fence vk.Fence) {
	if res := vk.ResetFences(t.device.LogicalDevice, 1, []vk.Fence{fence}); res != vk.Success {
		core.LogWarn("%s: vkResetFences failed with %s", t.label, VulkanResultString(res))
		vk.DestroyFence(t.device.LogicalDevice, fence, t.device.context.Allocator)
		return
	}
	t.free = append(t.free, fence)
}

func (t *timeline) Destroy() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.poll()
	if len(t.pending) > 0 {
		t.device.report(metadata.SeverityError, t.label, "destroyed with %d pending signals", len(t.pending))
		return fmt.Errorf("%s is still in use by the GPU: %w", t.label, core.ErrGraphicsDevice)
	}
	for _, fence := range t.free {
		vk.DestroyFence(t.device.LogicalDevice, fence, t.device.context.Allocator)
	}
	t.free = nil
	return nil
}
