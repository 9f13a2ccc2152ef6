package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// VulkanPipeline is a graphics pipeline built against the device render pass
// and the shared pipeline layout. Viewport and scissor are dynamic.
type VulkanPipeline struct {
	device *Device
	label  string
	Handle vk.Pipeline
	// stride of vertex binding 0, derived from the input layout.
	stride uint32
}

func vertexFormat(format metadata.Format) (vk.Format, uint32, error) {
	switch format {
	case metadata.FormatR32G32B32Float:
		return vk.FormatR32g32b32Sfloat, 12, nil
	case metadata.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat, 16, nil
	case metadata.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm, 4, nil
	case metadata.FormatR32Uint:
		return vk.FormatR32Uint, 4, nil
	default:
		return vk.FormatUndefined, 0, fmt.Errorf("unsupported vertex format %d: %w", format, core.ErrGraphicsDevice)
	}
}

func vertexAttributes(layout []metadata.InputElement) ([]vk.VertexInputAttributeDescription, uint32, error) {
	attributes := make([]vk.VertexInputAttributeDescription, len(layout))
	var stride uint32
	for i, element := range layout {
		format, size, err := vertexFormat(element.Format)
		if err != nil {
			return nil, 0, fmt.Errorf("attribute %s: %w", element.Semantic, err)
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   format,
			Offset:   element.Offset,
		}
		if end := element.Offset + size; end > stride {
			stride = end
		}
	}
	return attributes, stride, nil
}

func NewGraphicsPipeline(d *Device, desc metadata.PipelineDescription) (*VulkanPipeline, error) {
	label := desc.Label
	if label == "" {
		label = core.NewObjectLabel("pipeline")
	}
	if len(desc.InputLayout) == 0 {
		return nil, fmt.Errorf("%s: empty input layout: %w", label, core.ErrGraphicsDevice)
	}
	attributes, stride, err := vertexAttributes(desc.InputLayout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	vertexStage, err := NewShaderModule(d, label+".vert", desc.VertexShader, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	defer vertexStage.Destroy(d)
	pixelStage, err := NewShaderModule(d, label+".frag", desc.PixelShader, vk.ShaderStageFragmentBit)
	if err != nil {
		return nil, err
	}
	defer pixelStage.Destroy(d)

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	viewportState.Deref()

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         vk.False,
	}
	rasterizerCreateInfo.Deref()

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}
	multisamplingCreateInfo.Deref()

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	colorBlendAttachmentState.Deref()

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}
	colorBlendStateCreateInfo.Deref()

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}
	dynamicStateCreateInfo.Deref()

	bindingDescription := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    stride,
		InputRate: vk.VertexInputRateVertex,
	}
	bindingDescription.Deref()

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	vertexInputInfo.Deref()

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}
	inputAssembly.Deref()

	stages := []vk.PipelineShaderStageCreateInfo{
		vertexStage.ShaderStageCreateInfo,
		pixelStage.ShaderStageCreateInfo,
	}
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              d.pipelineLayout,
		RenderPass:          d.renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelineCreateInfo.Deref()

	pPipelines := make([]vk.Pipeline, 1)
	if err := d.lockPool.SafeCall(PipelineManagement, func() error {
		res := vk.CreateGraphicsPipelines(d.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.context.Allocator, pPipelines)
		if res != vk.Success {
			return resultError("vkCreateGraphicsPipelines", res, core.ErrGraphicsDevice)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	core.LogDebug("graphics pipeline %s created, vertex stride %d", label, stride)
	return &VulkanPipeline{
		device: d,
		label:  label,
		Handle: pPipelines[0],
		stride: stride,
	}, nil
}

func (p *VulkanPipeline) Label() string {
	return p.label
}

func (p *VulkanPipeline) Bind(l *commandList) {
	vk.CmdBindPipeline(l.Handle, vk.PipelineBindPointGraphics, p.Handle)
}

func (p *VulkanPipeline) Destroy() error {
	if p.Handle == nil {
		return nil
	}
	return p.device.lockPool.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(p.device.LogicalDevice, p.Handle, p.device.context.Allocator)
		p.Handle = nil
		return nil
	})
}
