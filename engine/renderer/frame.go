package renderer

import (
	"errors"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// FrameSlot is everything one in-flight frame owns.
type FrameSlot struct {
	Index     uint32
	Allocator metadata.CommandAllocator
	List      metadata.CommandList
	Target    metadata.RenderTarget
}

// FrameSlots is a fixed arena of slots indexed by back buffer index.
type FrameSlots struct {
	slots []FrameSlot
}

func NewFrameSlots(device metadata.Device, surface *PresentationSurface) (*FrameSlots, error) {
	fs := &FrameSlots{slots: make([]FrameSlot, surface.SlotCount())}
	for i := range fs.slots {
		slot := &fs.slots[i]
		slot.Index = uint32(i)
		slot.Target = surface.BackBuffer(uint32(i))

		allocator, err := device.CreateCommandAllocator()
		if err != nil {
			core.LogError("failed to create the command allocator for slot %d: %s", i, err)
			_ = fs.Destroy()
			return nil, deviceError("create allocator", err)
		}
		slot.Allocator = allocator

		list, err := device.CreateCommandList(allocator)
		if err != nil {
			core.LogError("failed to create the command list for slot %d: %s", i, err)
			_ = fs.Destroy()
			return nil, deviceError("create command list", err)
		}
		slot.List = list
		// Lists are created open. Close them so every frame starts with a Reset.
		if err := list.Close(); err != nil {
			_ = fs.Destroy()
			return nil, deviceError("close new command list", err)
		}
	}
	return fs, nil
}

func (fs *FrameSlots) Slot(index uint32) *FrameSlot {
	return &fs.slots[index]
}

func (fs *FrameSlots) Len() uint32 {
	return uint32(len(fs.slots))
}

// RebindTargets picks up the back buffers recreated by a resize.
func (fs *FrameSlots) RebindTargets(surface *PresentationSurface) {
	for i := range fs.slots {
		fs.slots[i].Target = surface.BackBuffer(uint32(i))
	}
}

func (fs *FrameSlots) Destroy() error {
	var errs []error
	for i := range fs.slots {
		slot := &fs.slots[i]
		if slot.List != nil {
			errs = append(errs, slot.List.Destroy())
			slot.List = nil
		}
		if slot.Allocator != nil {
			errs = append(errs, slot.Allocator.Destroy())
			slot.Allocator = nil
		}
		slot.Target = nil
	}
	return errors.Join(errs...)
}
