package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// buffer is a host visible, host coherent VkBuffer, mapped for its whole life.
type buffer struct {
	device  *Device
	label   string
	usage   metadata.BufferUsage
	size    uint64
	address uint64

	Handle vk.Buffer
	Memory vk.DeviceMemory
	mapped unsafe.Pointer
	// descriptorSet binds uniform buffers to the shaders.
	descriptorSet vk.DescriptorSet
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	switch usage {
	case metadata.BufferUsageVertex:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	case metadata.BufferUsageIndex:
		return vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	default:
		return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
}

func newBuffer(d *Device, desc metadata.BufferDescription) (*buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size: %w", desc.Label, core.ErrGraphicsDevice)
	}
	if desc.Usage == metadata.BufferUsageUniform && desc.Size%metadata.UniformBufferAlignment != 0 {
		return nil, fmt.Errorf("uniform buffer %q size %d is not %d byte aligned: %w",
			desc.Label, desc.Size, metadata.UniformBufferAlignment, core.ErrGraphicsDevice)
	}
	b := &buffer{
		device: d,
		label:  desc.Label,
		usage:  desc.Usage,
		size:   desc.Size,
	}
	if b.label == "" {
		b.label = core.NewObjectLabel(desc.Usage.String())
	}
	if err := b.create(); err != nil {
		_ = b.Destroy()
		return nil, err
	}
	b.address = d.allocateAddress(desc.Size)
	return b, nil
}

func (b *buffer) create() error {
	d := b.device
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(b.size),
		Usage:       bufferUsageFlags(b.usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(d.LogicalDevice, &bufferInfo, d.context.Allocator, &handle); res != vk.Success {
		return resultError("vkCreateBuffer", res, core.ErrGraphicsDevice)
	}
	b.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, b.Handle, &requirements)
	requirements.Deref()

	memoryIndex := FindMemoryIndex(d.PhysicalDevice, requirements.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if memoryIndex < 0 {
		return fmt.Errorf("%s: no host visible memory type: %w", b.label, core.ErrGraphicsDevice)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.LogicalDevice, &allocateInfo, d.context.Allocator, &memory); res != vk.Success {
		return resultError("vkAllocateMemory", res, core.ErrGraphicsDevice)
	}
	b.Memory = memory

	if res := vk.BindBufferMemory(d.LogicalDevice, b.Handle, b.Memory, 0); res != vk.Success {
		return resultError("vkBindBufferMemory", res, core.ErrGraphicsDevice)
	}
	var mapped unsafe.Pointer
	if res := vk.MapMemory(d.LogicalDevice, b.Memory, 0, vk.DeviceSize(b.size), 0, &mapped); res != vk.Success {
		return resultError("vkMapMemory", res, core.ErrGraphicsDevice)
	}
	b.mapped = mapped

	if b.usage == metadata.BufferUsageUniform {
		set, err := d.descriptors.allocate(b)
		if err != nil {
			return err
		}
		b.descriptorSet = set
	}
	return nil
}

func (b *buffer) Label() string {
	return b.label
}

func (b *buffer) Usage() metadata.BufferUsage {
	return b.usage
}

func (b *buffer) Size() uint64 {
	return b.size
}

// Address is a device unique virtual offset; bindings go through handles.
func (b *buffer) Address() uint64 {
	return b.address
}

// Write copies into the mapping. The memory is coherent, so no flush follows.
func (b *buffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("%s is not mapped: %w", b.label, core.ErrGraphicsDevice)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%s: write of %d bytes at %d overflows %d: %w",
			b.label, len(data), offset, b.size, core.ErrGraphicsDevice)
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	return nil
}

func (b *buffer) Destroy() error {
	d := b.device
	if b.descriptorSet != nil {
		d.descriptors.free(b.descriptorSet)
		b.descriptorSet = nil
	}
	if b.mapped != nil {
		vk.UnmapMemory(d.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(d.LogicalDevice, b.Handle, d.context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(d.LogicalDevice, b.Memory, d.context.Allocator)
		b.Memory = nil
	}
	return nil
}
