package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// buffer is host visible memory shared by the CPU and the executor.
type buffer struct {
	device  *Device
	label   string
	usage   metadata.BufferUsage
	address uint64

	mutex     sync.RWMutex
	data      []byte
	destroyed bool
}

func (b *buffer) Label() string {
	return b.label
}

func (b *buffer) Usage() metadata.BufferUsage {
	return b.usage
}

func (b *buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *buffer) Address() uint64 {
	return b.address
}

// Write copies data at offset. Writing while pending work reads the buffer is a hazard.
func (b *buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("%s: write of %d bytes at %d overflows %d: %w",
			b.label, len(data), offset, len(b.data), core.ErrGraphicsDevice)
	}
	if b.device.inUse(b) {
		b.device.report(metadata.SeverityError, b.label, "written while referenced by pending GPU work")
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.destroyed {
		return fmt.Errorf("%s written after destroy: %w", b.label, core.ErrGraphicsDevice)
	}
	copy(b.data[offset:], data)
	return nil
}

// read hands the contents to fn under the read lock.
func (b *buffer) read(fn func(data []byte)) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	fn(b.data)
}

func (b *buffer) Destroy() error {
	if err := b.device.destroyInUse(b, b.label); err != nil {
		return err
	}
	b.mutex.Lock()
	b.destroyed = true
	b.mutex.Unlock()
	return nil
}
