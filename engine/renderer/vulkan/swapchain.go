package vulkan

import (
	"fmt"
	gomath "math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/math"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

const (
	minBufferCount  = 2
	maxBufferCount  = 16
	maxSyncInterval = 4
)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (VulkanSwapchainSupportInfo, error) {
	supportInfo := VulkanSwapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return supportInfo, resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res, core.ErrGraphicsDevice)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return supportInfo, resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res, core.ErrGraphicsDevice)
	}
	if formatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats); res != vk.Success {
			return supportInfo, resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res, core.ErrGraphicsDevice)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, nil); res != vk.Success {
		return supportInfo, resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res, core.ErrGraphicsDevice)
	}
	if presentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, presentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, supportInfo.PresentModes); res != vk.Success {
			return supportInfo, resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res, core.ErrGraphicsDevice)
		}
	}
	return supportInfo, nil
}

// chooseSurfaceFormat prefers 8 bit UNORM formats in the sRGB colour space.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if (format.Format == vk.FormatB8g8r8a8Unorm || format.Format == vk.FormatR8g8b8a8Unorm) &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

// presentModeFor maps a sync interval to a present mode: zero presents without
// waiting for vertical blank when the surface allows it.
func presentModeFor(syncInterval uint32, available []vk.PresentMode) vk.PresentMode {
	if syncInterval > 0 {
		return vk.PresentModeFifo
	}
	for _, preferred := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, mode := range available {
			if mode == preferred {
				return mode
			}
		}
	}
	return vk.PresentModeFifo
}

// renderTarget is one swapchain image with its view and framebuffer. Objects
// survive swapchain recreation; only their handles change.
type renderTarget struct {
	surface     *Surface
	label       string
	index       uint32
	image       vk.Image
	view        vk.ImageView
	framebuffer *VulkanFramebuffer
	width       uint32
	height      uint32
	// initialized is false until the first barrier moved the image out of UNDEFINED.
	initialized bool
}

func (rt *renderTarget) Label() string {
	return rt.label
}

func (rt *renderTarget) Size() (uint32, uint32) {
	return rt.width, rt.height
}

// Surface is a VkSwapchainKHR. The current image is acquired lazily by
// CurrentBackBufferIndex and released by Present.
type Surface struct {
	device *Device
	label  string

	Handle      vk.Swapchain
	targets     []*renderTarget
	width       uint32
	height      uint32
	presentMode vk.PresentMode
	// syncInterval is the interval the present mode was chosen for.
	syncInterval uint32

	imageAvailableSemaphores []vk.Semaphore
	renderFinishedSemaphores []vk.Semaphore
	nextSemaphore            int

	current  uint32
	acquired bool
	// acquireSemaphore is signaled by the acquire and not yet waited on.
	acquireSemaphore vk.Semaphore
	// rendered is set once a submission signaled the current render finished semaphore.
	rendered bool

	destroyed bool
}

func SwapchainCreate(d *Device, desc metadata.SurfaceDescription) (*Surface, error) {
	if desc.BufferCount < minBufferCount || desc.BufferCount > maxBufferCount {
		return nil, fmt.Errorf("surface buffer count %d outside [%d, %d]: %w",
			desc.BufferCount, minBufferCount, maxBufferCount, core.ErrInitialization)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("surface size %dx%d: %w", desc.Width, desc.Height, core.ErrInitialization)
	}
	if desc.Format != metadata.FormatR8G8B8A8Unorm {
		return nil, fmt.Errorf("surface format %d not supported: %w", desc.Format, core.ErrInitialization)
	}

	s := &Surface{
		device:       d,
		label:        core.NewObjectLabel("swapchain"),
		syncInterval: 1,
	}
	if err := s.create(desc.Width, desc.Height, desc.BufferCount); err != nil {
		s.releaseTargets()
		s.destroySemaphores()
		s.destroySwapchain()
		return nil, fmt.Errorf("%v: %w", err, core.ErrInitialization)
	}
	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", s.width, s.height, len(s.targets))
	return s, nil
}

// create builds the swapchain, retiring the previous one if any, and points the
// render targets at the new images.
func (s *Surface) create(width, height, imageCount uint32) error {
	d := s.device
	support, err := DeviceQuerySwapchainSupport(d.PhysicalDevice, d.context.Surface)
	if err != nil {
		return err
	}
	caps := support.Capabilities

	if imageCount < caps.MinImageCount || (caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount) {
		return fmt.Errorf("%s: %d images requested, the surface allows [%d, %d]",
			s.label, imageCount, caps.MinImageCount, caps.MaxImageCount)
	}

	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != gomath.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	s.presentMode = presentModeFor(s.syncInterval, support.PresentModes)

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      d.ColorFormat.Format,
		ImageColorSpace:  d.ColorFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      s.presentMode,
		Clipped:          vk.True,
		OldSwapchain:     s.Handle,
	}
	if d.GraphicsQueueIndex != d.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(d.GraphicsQueueIndex),
			uint32(d.PresentQueueIndex),
		}
	}

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.context.Allocator, &swapchainHandle); res != vk.Success {
		return resultError("vkCreateSwapchainKHR", res, core.ErrGraphicsDevice)
	}
	s.destroySwapchain()
	s.Handle = swapchainHandle

	var count uint32
	if res := vk.GetSwapchainImages(d.LogicalDevice, s.Handle, &count, nil); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res, core.ErrGraphicsDevice)
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.LogicalDevice, s.Handle, &count, images); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res, core.ErrGraphicsDevice)
	}
	if count != imageCount {
		return fmt.Errorf("%s: driver created %d images, %d requested", s.label, count, imageCount)
	}

	if s.targets == nil {
		s.targets = make([]*renderTarget, count)
		for i := range s.targets {
			s.targets[i] = &renderTarget{
				surface: s,
				label:   fmt.Sprintf("%s-buffer%d", s.label, i),
				index:   uint32(i),
			}
		}
	}
	for i, rt := range s.targets {
		if err := s.bindImage(rt, images[i], extent); err != nil {
			return err
		}
	}
	s.width = extent.Width
	s.height = extent.Height

	if err := s.createSemaphores(int(count)); err != nil {
		return err
	}
	s.current = 0
	s.acquired = false
	s.acquireSemaphore = nil
	s.rendered = false
	return nil
}

func (s *Surface) bindImage(rt *renderTarget, image vk.Image, extent vk.Extent2D) error {
	d := s.device
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   d.ColorFormat.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.LogicalDevice, &viewInfo, d.context.Allocator, &view); res != vk.Success {
		return resultError("vkCreateImageView", res, core.ErrGraphicsDevice)
	}
	framebuffer, err := FramebufferCreate(d, d.renderpass, extent.Width, extent.Height, []vk.ImageView{view})
	if err != nil {
		vk.DestroyImageView(d.LogicalDevice, view, d.context.Allocator)
		return err
	}
	rt.image = image
	rt.view = view
	rt.framebuffer = framebuffer
	rt.width = extent.Width
	rt.height = extent.Height
	rt.initialized = false
	return nil
}

// createSemaphores replaces the semaphores. An acquire semaphore left signaled
// by an interrupted frame would otherwise break the next acquire.
func (s *Surface) createSemaphores(count int) error {
	s.destroySemaphores()
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	newSemaphore := func() (vk.Semaphore, error) {
		var semaphore vk.Semaphore
		if res := vk.CreateSemaphore(s.device.LogicalDevice, &semaphoreCreateInfo, s.device.context.Allocator, &semaphore); res != vk.Success {
			return nil, resultError("vkCreateSemaphore", res, core.ErrGraphicsDevice)
		}
		return semaphore, nil
	}
	// One more acquire semaphore than images: the next acquire never reuses one
	// still owned by the presentation engine.
	for i := 0; i <= count; i++ {
		semaphore, err := newSemaphore()
		if err != nil {
			return err
		}
		s.imageAvailableSemaphores = append(s.imageAvailableSemaphores, semaphore)
	}
	for i := 0; i < count; i++ {
		semaphore, err := newSemaphore()
		if err != nil {
			return err
		}
		s.renderFinishedSemaphores = append(s.renderFinishedSemaphores, semaphore)
	}
	s.nextSemaphore = 0
	return nil
}

func (s *Surface) BufferCount() uint32 {
	return uint32(len(s.targets))
}

// CurrentBackBufferIndex acquires the next image when none is held. An out of
// date swapchain is recreated at the window size and the acquire retried once.
func (s *Surface) CurrentBackBufferIndex() (uint32, error) {
	if s.destroyed {
		return 0, fmt.Errorf("%s destroyed: %w", s.label, core.ErrPresent)
	}
	if s.acquired {
		return s.current, nil
	}
	for attempt := 0; ; attempt++ {
		semaphore := s.imageAvailableSemaphores[s.nextSemaphore]
		var index uint32
		result := vk.AcquireNextImage(s.device.LogicalDevice, s.Handle, gomath.MaxUint64, semaphore, vk.NullFence, &index)
		switch {
		case result == vk.Success || result == vk.Suboptimal:
			s.nextSemaphore = (s.nextSemaphore + 1) % len(s.imageAvailableSemaphores)
			s.current = index
			s.acquired = true
			s.acquireSemaphore = semaphore
			s.rendered = false
			return index, nil
		case result == vk.ErrorOutOfDate && attempt == 0:
			core.LogDebug("%s out of date, recreating.", s.label)
			width, height := s.device.context.window.FramebufferSize()
			if err := s.recreate(width, height); err != nil {
				return 0, fmt.Errorf("%v: %w", err, core.ErrPresent)
			}
		default:
			return 0, resultError("vkAcquireNextImageKHR", result, core.ErrPresent)
		}
	}
}

// frameSemaphores hands the next submission the semaphore to wait on and the
// one to signal for the acquired image. Each is handed out once per image.
func (s *Surface) frameSemaphores() (wait vk.Semaphore, signal vk.Semaphore) {
	if s.destroyed || !s.acquired {
		return nil, nil
	}
	wait = s.acquireSemaphore
	s.acquireSemaphore = nil
	if !s.rendered {
		signal = s.renderFinishedSemaphores[s.current]
		s.rendered = true
	}
	return wait, signal
}

func (s *Surface) BackBuffer(index uint32) metadata.RenderTarget {
	if index >= uint32(len(s.targets)) {
		return nil
	}
	return s.targets[index]
}

// Present queues the acquired image. A changed sync interval selects a new
// present mode at the next swapchain recreation.
func (s *Surface) Present(syncInterval uint32) error {
	if s.destroyed {
		return fmt.Errorf("%s destroyed: %w", s.label, core.ErrPresent)
	}
	if syncInterval > maxSyncInterval {
		return fmt.Errorf("%s: sync interval %d above %d: %w", s.label, syncInterval, maxSyncInterval, core.ErrPresent)
	}
	if !s.acquired {
		return fmt.Errorf("%s: present without an acquired image: %w", s.label, core.ErrPresent)
	}
	if (syncInterval == 0) != (s.syncInterval == 0) {
		core.LogDebug("%s: sync interval %d applies from the next resize.", s.label, syncInterval)
		s.syncInterval = syncInterval
	}

	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{s.Handle},
		PImageIndices:  []uint32{s.current},
	}
	switch {
	case s.rendered:
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{s.renderFinishedSemaphores[s.current]}
	case s.acquireSemaphore != nil:
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{s.acquireSemaphore}
	}

	var result vk.Result
	_ = s.device.lockPool.SafeCall(QueueManagement, func() error {
		result = vk.QueuePresent(s.device.queue.present, &presentInfo)
		return nil
	})
	s.acquired = false
	s.acquireSemaphore = nil
	s.rendered = false

	switch result {
	case vk.Success, vk.Suboptimal, vk.ErrorOutOfDate:
		// An out of date swapchain is recreated by the next acquire.
		return nil
	default:
		return resultError("vkQueuePresentKHR", result, core.ErrPresent)
	}
}

// ResizeBuffers recreates the swapchain. The caller drained the queue; the wait
// here covers the presentation engine.
func (s *Surface) ResizeBuffers(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%s: cannot resize to %dx%d: %w", s.label, width, height, core.ErrGraphicsDevice)
	}
	if err := s.recreate(width, height); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrGraphicsDevice)
	}
	core.LogDebug("%s resized to %dx%d.", s.label, s.width, s.height)
	return nil
}

func (s *Surface) recreate(width, height uint32) error {
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	s.releaseTargets()
	return s.create(width, height, uint32(len(s.targets)))
}

func (s *Surface) Size() (uint32, uint32) {
	return s.width, s.height
}

func (s *Surface) Destroy() error {
	if s.destroyed {
		return nil
	}
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	s.releaseTargets()
	s.destroySemaphores()
	s.destroySwapchain()
	s.destroyed = true
	if s.device.surface == s {
		s.device.surface = nil
	}
	return nil
}

// releaseTargets destroys views and framebuffers. The images belong to the
// swapchain and go with it.
func (s *Surface) releaseTargets() {
	d := s.device
	for _, rt := range s.targets {
		if rt.framebuffer != nil {
			rt.framebuffer.Destroy(d)
			rt.framebuffer = nil
		}
		if rt.view != nil {
			vk.DestroyImageView(d.LogicalDevice, rt.view, d.context.Allocator)
			rt.view = nil
		}
		rt.image = nil
	}
}

func (s *Surface) destroySemaphores() {
	d := s.device
	for _, semaphore := range s.imageAvailableSemaphores {
		vk.DestroySemaphore(d.LogicalDevice, semaphore, d.context.Allocator)
	}
	for _, semaphore := range s.renderFinishedSemaphores {
		vk.DestroySemaphore(d.LogicalDevice, semaphore, d.context.Allocator)
	}
	s.imageAvailableSemaphores = nil
	s.renderFinishedSemaphores = nil
}

func (s *Surface) destroySwapchain() {
	if s.Handle != nil {
		vk.DestroySwapchain(s.device.LogicalDevice, s.Handle, s.device.context.Allocator)
		s.Handle = nil
	}
}
