package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// DeviceFactory creates the backend device. Backends wrap failures with
// core.ErrInitialization.
type DeviceFactory func(options metadata.DeviceOptions) (metadata.Device, error)

// DeviceContext owns the device and its single queue for the lifetime of the renderer.
type DeviceContext struct {
	factory DeviceFactory
	device  metadata.Device
	queue   metadata.Queue

	submitted uint64
}

func NewDeviceContext(factory DeviceFactory) *DeviceContext {
	return &DeviceContext{factory: factory}
}

func (dc *DeviceContext) Initialize(options metadata.DeviceOptions) (metadata.Device, metadata.Queue, error) {
	if dc.factory == nil {
		return nil, nil, fmt.Errorf("no device factory: %w", core.ErrInitialization)
	}
	device, err := dc.factory(options)
	if err != nil {
		core.LogError("failed to create the graphics device: %s", err)
		if errors.Is(err, core.ErrInitialization) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%v: %w", err, core.ErrInitialization)
	}
	dc.device = device
	dc.queue = device.Queue()
	core.LogInfo("Graphics device '%s' initialized (validation=%t).", device.Name(), options.EnableValidation)
	return dc.device, dc.queue, nil
}

// Submit hands closed command lists to the queue without waiting.
func (dc *DeviceContext) Submit(lists ...metadata.CommandList) error {
	if err := dc.queue.Submit(lists...); err != nil {
		core.LogError("queue submit failed: %s", err)
		return deviceError("submit", err)
	}
	dc.submitted += uint64(len(lists))
	return nil
}

func (dc *DeviceContext) Device() metadata.Device {
	return dc.device
}

func (dc *DeviceContext) Queue() metadata.Queue {
	return dc.queue
}

// Submitted is the number of command lists handed to the queue so far.
func (dc *DeviceContext) Submitted() uint64 {
	return dc.submitted
}

func (dc *DeviceContext) Destroy() error {
	if dc.device == nil {
		return nil
	}
	err := dc.device.Destroy()
	dc.device = nil
	dc.queue = nil
	return err
}

// deviceError tags err with core.ErrGraphicsDevice unless it already carries
// one of the renderer sentinels.
func deviceError(op string, err error) error {
	for _, sentinel := range []error{
		core.ErrInitialization,
		core.ErrGraphicsDevice,
		core.ErrPresent,
		core.ErrSyncTimeout,
		core.ErrSlotInFlight,
		core.ErrResizeInFlight,
	} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %v: %w", op, err, core.ErrGraphicsDevice)
}
