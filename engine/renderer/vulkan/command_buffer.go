package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in render pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	default:
		return "not allocated"
	}
}

// commandAllocator is a VkCommandPool. Resetting it resets every command buffer
// allocated from it.
type commandAllocator struct {
	device *Device
	label  string
	pool   vk.CommandPool
}

func newCommandAllocator(d *Device) (*commandAllocator, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(d.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, d.context.Allocator, &pool); res != vk.Success {
		return nil, resultError("vkCreateCommandPool", res, core.ErrGraphicsDevice)
	}
	return &commandAllocator{device: d, label: core.NewObjectLabel("allocator"), pool: pool}, nil
}

func (a *commandAllocator) Reset() error {
	if res := vk.ResetCommandPool(a.device.LogicalDevice, a.pool, 0); res != vk.Success {
		return resultError("vkResetCommandPool", res, core.ErrGraphicsDevice)
	}
	return nil
}

func (a *commandAllocator) Destroy() error {
	if a.pool != nil {
		vk.DestroyCommandPool(a.device.LogicalDevice, a.pool, a.device.context.Allocator)
		a.pool = nil
	}
	return nil
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

// commandList is a primary command buffer. Recording methods keep the first
// error and Close reports it.
type commandList struct {
	VulkanCommandBuffer

	device    *Device
	label     string
	allocator *commandAllocator
	pipeline  *VulkanPipeline
	// target is the render target of the open render pass.
	target *renderTarget
	err    error
}

// newCommandList allocates a command buffer and begins it, so new lists start
// in the recording state.
func newCommandList(d *Device, a *commandAllocator) (*commandList, error) {
	l := &commandList{
		VulkanCommandBuffer: VulkanCommandBuffer{State: COMMAND_BUFFER_STATE_NOT_ALLOCATED},
		device:              d,
		label:               core.NewObjectLabel("cmdlist"),
	}
	if err := l.allocate(a); err != nil {
		return nil, err
	}
	if err := l.begin(); err != nil {
		l.free()
		return nil, err
	}
	return l, nil
}

func (l *commandList) allocate(a *commandAllocator) error {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(l.device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		return resultError("vkAllocateCommandBuffers", res, core.ErrGraphicsDevice)
	}
	l.Handle = handles[0]
	l.allocator = a
	l.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (l *commandList) free() {
	if l.Handle == nil {
		return
	}
	vk.FreeCommandBuffers(l.device.LogicalDevice, l.allocator.pool, 1, []vk.CommandBuffer{l.Handle})
	l.Handle = nil
	l.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (l *commandList) begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(l.Handle, &beginInfo); res != vk.Success {
		return resultError("vkBeginCommandBuffer", res, core.ErrGraphicsDevice)
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING
	l.target = nil
	l.err = nil
	return nil
}

func (l *commandList) Label() string {
	return l.label
}

// Reset begins a new recording. The allocator must have been reset first; a
// different allocator moves the list to a command buffer from its pool.
func (l *commandList) Reset(allocator metadata.CommandAllocator, p metadata.Pipeline) error {
	if l.State == COMMAND_BUFFER_STATE_RECORDING || l.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("%s reset while recording: %w", l.label, core.ErrGraphicsDevice)
	}
	a, ok := allocator.(*commandAllocator)
	if !ok || a == nil {
		return fmt.Errorf("%s reset with a foreign allocator: %w", l.label, core.ErrGraphicsDevice)
	}
	var vp *VulkanPipeline
	if p != nil {
		if vp, ok = p.(*VulkanPipeline); !ok {
			return fmt.Errorf("%s reset with a foreign pipeline: %w", l.label, core.ErrGraphicsDevice)
		}
	}
	if a != l.allocator {
		l.free()
		if err := l.allocate(a); err != nil {
			return err
		}
	}
	if err := l.begin(); err != nil {
		return err
	}
	l.pipeline = vp
	if vp != nil {
		vp.Bind(l)
	}
	return nil
}

func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *commandList) recording() bool {
	if l.State != COMMAND_BUFFER_STATE_RECORDING && l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		l.fail(errors.New("command recorded on a closed list"))
		return false
	}
	return true
}

func (l *commandList) SetViewport(viewport metadata.Viewport) {
	if !l.recording() {
		return
	}
	// Without VK_EXT_depth_range_unrestricted depths must lie in [0, 1].
	vk.CmdSetViewport(l.Handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: clampDepth(viewport.MinDepth),
		MaxDepth: clampDepth(viewport.MaxDepth),
	}})
}

func clampDepth(d float32) float32 {
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

func (l *commandList) SetScissor(rect metadata.Rect) {
	if !l.recording() {
		return
	}
	vk.CmdSetScissor(l.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: rect.Left, Y: rect.Top},
		Extent: vk.Extent2D{Width: uint32(rect.Right - rect.Left), Height: uint32(rect.Bottom - rect.Top)},
	}})
}

func (l *commandList) SetUniformBuffer(b metadata.Buffer) {
	if !l.recording() {
		return
	}
	vb, ok := b.(*buffer)
	if !ok || vb.usage != metadata.BufferUsageUniform || vb.descriptorSet == nil {
		l.fail(errors.New("uniform binding needs a uniform buffer"))
		return
	}
	vk.CmdBindDescriptorSets(l.Handle, vk.PipelineBindPointGraphics, l.device.pipelineLayout,
		0, 1, []vk.DescriptorSet{vb.descriptorSet}, 0, nil)
}

// ResourceBarrier transitions the image layout. An image that was never
// transitioned starts from VK_IMAGE_LAYOUT_UNDEFINED, whatever before says.
func (l *commandList) ResourceBarrier(target metadata.RenderTarget, before, after metadata.ResourceState) {
	if !l.recording() {
		return
	}
	rt, ok := target.(*renderTarget)
	if !ok {
		l.fail(errors.New("barrier on a foreign resource"))
		return
	}
	if before == after {
		l.fail(fmt.Errorf("barrier on %s with identical states %s", rt.label, before))
		return
	}
	// Layout transitions are not allowed inside a render pass.
	l.endRenderPass()

	oldLayout := imageLayout(before)
	if !rt.initialized {
		oldLayout = vk.ImageLayoutUndefined
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       accessMask(before),
		DstAccessMask:       accessMask(after),
		OldLayout:           oldLayout,
		NewLayout:           imageLayout(after),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               rt.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(l.Handle, stageMask(before), stageMask(after), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	rt.initialized = true
}

func imageLayout(state metadata.ResourceState) vk.ImageLayout {
	switch state {
	case metadata.ResourceStatePresent:
		return vk.ImageLayoutPresentSrc
	case metadata.ResourceStateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	default:
		return vk.ImageLayoutUndefined
	}
}

func accessMask(state metadata.ResourceState) vk.AccessFlags {
	if state == metadata.ResourceStateRenderTarget {
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	}
	return 0
}

func stageMask(state metadata.ResourceState) vk.PipelineStageFlags {
	if state == metadata.ResourceStateRenderTarget {
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	return vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
}

// SetRenderTarget begins the render pass on the target's framebuffer.
func (l *commandList) SetRenderTarget(target metadata.RenderTarget) {
	if !l.recording() {
		return
	}
	rt, ok := target.(*renderTarget)
	if !ok || rt.framebuffer == nil {
		l.fail(errors.New("render target binding on a foreign resource"))
		return
	}
	if l.target == rt {
		return
	}
	l.endRenderPass()
	l.device.renderpass.RenderpassBegin(&l.VulkanCommandBuffer, rt.framebuffer.Handle, rt.width, rt.height)
	l.target = rt
}

func (l *commandList) ClearRenderTarget(target metadata.RenderTarget, color metadata.Color) {
	if !l.recording() {
		return
	}
	rt, ok := target.(*renderTarget)
	if !ok {
		l.fail(errors.New("clear on a foreign resource"))
		return
	}
	if l.target != rt {
		l.SetRenderTarget(rt)
	}
	var clearValue vk.ClearValue
	clearValue.SetColor([]float32{color.R, color.G, color.B, color.A})
	vk.CmdClearAttachments(l.Handle, 1, []vk.ClearAttachment{{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      clearValue,
	}}, 1, []vk.ClearRect{{
		Rect:       vk.Rect2D{Extent: vk.Extent2D{Width: rt.width, Height: rt.height}},
		LayerCount: 1,
	}})
}

func (l *commandList) SetVertexBuffer(b metadata.Buffer, stride uint32) {
	if !l.recording() {
		return
	}
	vb, ok := b.(*buffer)
	if !ok || vb.usage != metadata.BufferUsageVertex {
		l.fail(errors.New("vertex binding needs a vertex buffer"))
		return
	}
	// The stride is baked into the pipeline.
	if l.pipeline != nil && stride != l.pipeline.stride {
		l.fail(fmt.Errorf("vertex stride %d does not match pipeline stride %d", stride, l.pipeline.stride))
		return
	}
	vk.CmdBindVertexBuffers(l.Handle, 0, 1, []vk.Buffer{vb.Handle}, []vk.DeviceSize{0})
}

func (l *commandList) SetIndexBuffer(b metadata.Buffer, format metadata.IndexFormat) {
	if !l.recording() {
		return
	}
	vb, ok := b.(*buffer)
	if !ok || vb.usage != metadata.BufferUsageIndex {
		l.fail(errors.New("index binding needs an index buffer"))
		return
	}
	vk.CmdBindIndexBuffer(l.Handle, vb.Handle, 0, vk.IndexTypeUint32)
}

func (l *commandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if !l.recording() {
		return
	}
	if l.pipeline == nil {
		l.fail(errors.New("draw without a pipeline"))
		return
	}
	if l.target == nil {
		l.fail(errors.New("draw without a render target"))
		return
	}
	vk.CmdDrawIndexed(l.Handle, indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (l *commandList) endRenderPass() {
	if l.target == nil {
		return
	}
	l.device.renderpass.RenderpassEnd(&l.VulkanCommandBuffer)
	l.target = nil
}

func (l *commandList) Close() error {
	if l.State != COMMAND_BUFFER_STATE_RECORDING && l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("%s closed while %s: %w", l.label, l.State, core.ErrGraphicsDevice)
	}
	l.endRenderPass()
	if res := vk.EndCommandBuffer(l.Handle); res != vk.Success {
		return resultError("vkEndCommandBuffer", res, core.ErrGraphicsDevice)
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	if l.err != nil {
		return fmt.Errorf("%s: %v: %w", l.label, l.err, core.ErrGraphicsDevice)
	}
	return nil
}

func (l *commandList) Destroy() error {
	l.free()
	return nil
}
