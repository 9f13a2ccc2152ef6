package vulkan

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", VulkanResultString(vk.Success))
	assert.Equal(t, "VkResult(12345)", VulkanResultString(vk.Result(12345)))
}

func TestResultErrorWrapsSentinel(t *testing.T) {
	err := resultError("vkQueueSubmit", vk.ErrorDeviceLost, core.ErrGraphicsDevice)
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
	assert.Contains(t, err.Error(), "vkQueueSubmit")
}

func TestCStringStopsAtTerminator(t *testing.T) {
	assert.Equal(t, "VK_LAYER", cString([]byte{'V', 'K', '_', 'L', 'A', 'Y', 'E', 'R', 0, 'x'}))
	assert.Equal(t, "abc", cString([]byte("abc")))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
}

func TestSpirvWords(t *testing.T) {
	code := binary.LittleEndian.AppendUint32(nil, spirvMagic)
	code = binary.LittleEndian.AppendUint32(code, 0x00010000)

	words, err := spirvWords("vert", code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010000}, words)

	_, err = spirvWords("vert", code[:7])
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
	_, err = spirvWords("vert", nil)
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
	_, err = spirvWords("vert", []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
}

func TestVertexAttributesFollowTheLayout(t *testing.T) {
	attributes, stride, err := vertexAttributes(metadata.VertexLayout)
	require.NoError(t, err)
	assert.Equal(t, metadata.VertexStride, stride)
	require.Len(t, attributes, 2)
	assert.Equal(t, uint32(0), attributes[0].Location)
	assert.Equal(t, vk.FormatR32g32b32Sfloat, attributes[0].Format)
	assert.Equal(t, uint32(1), attributes[1].Location)
	assert.Equal(t, vk.FormatR32g32b32a32Sfloat, attributes[1].Format)
	assert.Equal(t, uint32(12), attributes[1].Offset)

	_, _, err = vertexAttributes([]metadata.InputElement{{Semantic: "POSITION", Format: metadata.FormatUnknown}})
	assert.ErrorIs(t, err, core.ErrGraphicsDevice)
}

func TestPresentModeFor(t *testing.T) {
	all := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeFifo, presentModeFor(1, all))
	assert.Equal(t, vk.PresentModeMailbox, presentModeFor(0, all))
	assert.Equal(t, vk.PresentModeImmediate, presentModeFor(0, []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate}))
	assert.Equal(t, vk.PresentModeFifo, presentModeFor(0, []vk.PresentMode{vk.PresentModeFifo}))
}

func TestChooseSurfaceFormat(t *testing.T) {
	srgb := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	assert.Equal(t, srgb, chooseSurfaceFormat([]vk.SurfaceFormat{other, srgb}))
	assert.Equal(t, other, chooseSurfaceFormat([]vk.SurfaceFormat{other}))
}

func TestBarrierMapping(t *testing.T) {
	assert.Equal(t, vk.ImageLayoutPresentSrc, imageLayout(metadata.ResourceStatePresent))
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, imageLayout(metadata.ResourceStateRenderTarget))
	assert.Equal(t, vk.ImageLayoutUndefined, imageLayout(metadata.ResourceStateCommon))
	assert.Zero(t, accessMask(metadata.ResourceStatePresent))
	assert.NotZero(t, accessMask(metadata.ResourceStateRenderTarget))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), stageMask(metadata.ResourceStatePresent))
}

func TestClampDepth(t *testing.T) {
	assert.Equal(t, float32(0.1), clampDepth(0.1))
	assert.Equal(t, float32(1), clampDepth(1000))
	assert.Equal(t, float32(0), clampDepth(-1))
}

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(QueueManagement, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeCall(DescriptorManagement, func() error { return boom }), boom)
}

func TestCommandBufferStateString(t *testing.T) {
	assert.Equal(t, "ready", COMMAND_BUFFER_STATE_READY.String())
}

func TestAllocateAddressRangesDoNotOverlap(t *testing.T) {
	d := &Device{nextAddress: 0x10000}
	first := d.allocateAddress(256)
	second := d.allocateAddress(0x10001)
	third := d.allocateAddress(16)

	assert.Equal(t, uint64(0x10000), first)
	assert.Equal(t, uint64(0x20000), second)
	assert.Equal(t, uint64(0x40000), third)
	for _, addr := range []uint64{first, second, third} {
		assert.Zero(t, addr%0x10000)
	}
}
