package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// PresentationSurface is the swap chain bound to the window. The back buffer index
// only advances through Present.
type PresentationSurface struct {
	surface metadata.Surface
}

func CreatePresentationSurface(device metadata.Device, width, height, slotCount uint32) (*PresentationSurface, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("cannot create a %dx%d surface: %w", width, height, core.ErrInitialization)
	}
	surface, err := device.CreateSurface(metadata.SurfaceDescription{
		Width:       width,
		Height:      height,
		BufferCount: slotCount,
		Format:      metadata.FormatR8G8B8A8Unorm,
	})
	if err != nil {
		core.LogError("failed to create the presentation surface: %s", err)
		return nil, err
	}
	if surface.BufferCount() != slotCount {
		_ = surface.Destroy()
		return nil, fmt.Errorf("surface created %d buffers, %d requested: %w",
			surface.BufferCount(), slotCount, core.ErrInitialization)
	}
	core.LogDebug("Presentation surface created: %dx%d, %d buffers.", width, height, slotCount)
	return &PresentationSurface{surface: surface}, nil
}

func (ps *PresentationSurface) AcquireCurrentIndex() (uint32, error) {
	index, err := ps.surface.CurrentBackBufferIndex()
	if err != nil {
		core.LogError("failed to acquire the back buffer: %s", err)
		return 0, presentError("acquire", err)
	}
	return index, nil
}

// Present hands the current back buffer to the display. Failures are never retried.
func (ps *PresentationSurface) Present(syncInterval uint32) error {
	if err := ps.surface.Present(syncInterval); err != nil {
		core.LogError("present failed: %s", err)
		return presentError("present", err)
	}
	return nil
}

// Resize drains the GPU before recreating the back buffers. A zero dimension is refused.
func (ps *PresentationSurface) Resize(fence *FrameFence, width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("cannot resize to %dx%d: %w", width, height, core.ErrGraphicsDevice)
	}
	if err := fence.DrainAll(); err != nil {
		return err
	}
	if err := ps.surface.ResizeBuffers(width, height); err != nil {
		core.LogError("failed to resize the back buffers to %dx%d: %s", width, height, err)
		return deviceError("resize", err)
	}
	return nil
}

func (ps *PresentationSurface) BackBuffer(index uint32) metadata.RenderTarget {
	return ps.surface.BackBuffer(index)
}

func (ps *PresentationSurface) SlotCount() uint32 {
	return ps.surface.BufferCount()
}

func (ps *PresentationSurface) Size() (uint32, uint32) {
	return ps.surface.Size()
}

// Surface exposes the backend surface, e.g. for frame capture.
func (ps *PresentationSurface) Surface() metadata.Surface {
	return ps.surface
}

func (ps *PresentationSurface) Destroy() error {
	return ps.surface.Destroy()
}

func presentError(op string, err error) error {
	if errors.Is(err, core.ErrPresent) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, core.ErrPresent)
}
