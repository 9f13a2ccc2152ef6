package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
)

// maxUniformBuffers bounds the descriptor pool. One set exists per live uniform
// buffer, and a renderer keeps one, two while a mesh reloads.
const maxUniformBuffers = 16

// uniformDescriptors owns the single set layout shared by every pipeline: one
// uniform buffer at binding 0, visible to both shader stages.
type uniformDescriptors struct {
	device    *Device
	setLayout vk.DescriptorSetLayout
	pool      vk.DescriptorPool
}

func newUniformDescriptors(d *Device) (*uniformDescriptors, error) {
	u := &uniformDescriptors{device: d}

	binding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{binding},
	}
	var setLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.LogicalDevice, &layoutInfo, d.context.Allocator, &setLayout); res != vk.Success {
		return nil, resultError("vkCreateDescriptorSetLayout", res, core.ErrInitialization)
	}
	u.setLayout = setLayout

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxUniformBuffers,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: maxUniformBuffers,
		}},
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(d.LogicalDevice, &poolInfo, d.context.Allocator, &pool); res != vk.Success {
		u.destroy()
		return nil, resultError("vkCreateDescriptorPool", res, core.ErrInitialization)
	}
	u.pool = pool
	return u, nil
}

// allocate creates a set pointing at the whole of b.
func (u *uniformDescriptors) allocate(b *buffer) (vk.DescriptorSet, error) {
	var set vk.DescriptorSet
	err := u.device.lockPool.SafeCall(DescriptorManagement, func() error {
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     u.pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{u.setLayout},
		}
		if res := vk.AllocateDescriptorSets(u.device.LogicalDevice, &allocateInfo, &set); res != vk.Success {
			return resultError("vkAllocateDescriptorSets", res, core.ErrGraphicsDevice)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: b.Handle,
			Offset: 0,
			Range:  vk.DeviceSize(b.size),
		}},
	}
	vk.UpdateDescriptorSets(u.device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	return set, nil
}

func (u *uniformDescriptors) free(set vk.DescriptorSet) {
	_ = u.device.lockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.FreeDescriptorSets(u.device.LogicalDevice, u.pool, 1, &set); res != vk.Success {
			core.LogWarn("vkFreeDescriptorSets failed with %s", VulkanResultString(res))
		}
		return nil
	})
}

func (u *uniformDescriptors) destroy() {
	d := u.device
	if u.pool != nil {
		vk.DestroyDescriptorPool(d.LogicalDevice, u.pool, d.context.Allocator)
		u.pool = nil
	}
	if u.setLayout != nil {
		vk.DestroyDescriptorSetLayout(d.LogicalDevice, u.setLayout, d.context.Allocator)
		u.setLayout = nil
	}
}
