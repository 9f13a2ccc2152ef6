package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
)

const spirvMagic uint32 = 0x07230203

// VulkanShaderStage is a compiled module plus the stage info that references it.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// spirvWords validates a SPIR-V blob and returns it as the word slice Vulkan expects.
func spirvWords(label string, code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%s: SPIR-V size %d is not a multiple of 4: %w", label, len(code), core.ErrGraphicsDevice)
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%s: bad SPIR-V magic %#08x: %w", label, words[0], core.ErrGraphicsDevice)
	}
	return words, nil
}

func NewShaderModule(d *Device, label string, code []byte, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	words, err := spirvWords(label, code)
	if err != nil {
		return nil, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	var handle vk.ShaderModule
	if res := vk.CreateShaderModule(d.LogicalDevice, &createInfo, d.context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateShaderModule", res, core.ErrGraphicsDevice)
	}

	shaderStage := &VulkanShaderStage{Handle: handle}
	shaderStage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: handle,
		PName:  VulkanSafeString("main"),
	}
	return shaderStage, nil
}

func (s *VulkanShaderStage) Destroy(d *Device) {
	if s.Handle != nil {
		vk.DestroyShaderModule(d.LogicalDevice, s.Handle, d.context.Allocator)
		s.Handle = nil
	}
}
