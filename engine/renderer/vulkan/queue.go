package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// queue submits to the graphics queue and presents through the present queue,
// which is the same VkQueue on most devices.
type queue struct {
	device   *Device
	graphics vk.Queue
	present  vk.Queue
}

// Submit batches lists into one vkQueueSubmit. While the swapchain holds an
// acquired image the batch waits for it and signals its render finished semaphore.
func (q *queue) Submit(lists ...metadata.CommandList) error {
	if len(lists) == 0 {
		return nil
	}
	handles := make([]vk.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok || cl == nil {
			return fmt.Errorf("submit of a foreign command list: %w", core.ErrGraphicsDevice)
		}
		if cl.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("%s submitted while %s: %w", cl.label, cl.State, core.ErrGraphicsDevice)
		}
		if cl.err != nil {
			return fmt.Errorf("%s failed to record: %v: %w", cl.label, cl.err, core.ErrGraphicsDevice)
		}
		handles = append(handles, cl.Handle)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(handles)),
		PCommandBuffers:    handles,
	}
	if s := q.device.surface; s != nil {
		wait, signal := s.frameSemaphores()
		if wait != nil {
			submitInfo.WaitSemaphoreCount = 1
			submitInfo.PWaitSemaphores = []vk.Semaphore{wait}
			submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{
				vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			}
		}
		if signal != nil {
			submitInfo.SignalSemaphoreCount = 1
			submitInfo.PSignalSemaphores = []vk.Semaphore{signal}
		}
	}

	err := q.device.lockPool.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(q.graphics, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
			return resultError("vkQueueSubmit", res, core.ErrGraphicsDevice)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, l := range lists {
		l.(*commandList).State = COMMAND_BUFFER_STATE_SUBMITTED
	}
	return nil
}

// Signal submits an empty batch whose fence stands for value. The fence signals
// once everything submitted before it completed.
func (q *queue) Signal(t metadata.Timeline, value uint64) error {
	tl, ok := t.(*timeline)
	if !ok || tl == nil {
		return fmt.Errorf("signal on a foreign timeline: %w", core.ErrGraphicsDevice)
	}
	fence, err := tl.nextFence()
	if err != nil {
		return err
	}
	err = q.device.lockPool.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(q.graphics, 0, nil, fence); res != vk.Success {
			return resultError("vkQueueSubmit", res, core.ErrGraphicsDevice)
		}
		return nil
	})
	if err != nil {
		tl.discard(fence)
		return err
	}
	tl.push(value, fence)
	return nil
}
