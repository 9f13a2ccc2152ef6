package vulkan

import (
	"fmt"
	"runtime"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
}

// Device drives a Vulkan physical device through a single graphics queue that
// also presents. Surfaces are swapchains on the window passed to New.
type Device struct {
	context  *VulkanContext
	lockPool *VulkanLockPool

	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	Properties         vk.PhysicalDeviceProperties
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	SwapchainSupport   VulkanSwapchainSupportInfo
	// ColorFormat is the swapchain format every pipeline renders into.
	ColorFormat vk.SurfaceFormat

	queue          *queue
	renderpass     *VulkanRenderpass
	descriptors    *uniformDescriptors
	pipelineLayout vk.PipelineLayout
	surface        *Surface

	addressMutex sync.Mutex
	nextAddress  uint64
	destroyed    bool
}

// New creates the instance, the window surface and the logical device.
func New(appName string, options metadata.DeviceOptions, window WindowSurfaceSource) (*Device, error) {
	context, err := newVulkanContext(appName, window, options)
	if err != nil {
		return nil, err
	}
	d := &Device{
		context:            context,
		lockPool:           NewVulkanLockPool(),
		GraphicsQueueIndex: -1,
		PresentQueueIndex:  -1,
		nextAddress:        0x10000,
	}
	if err := d.create(); err != nil {
		_ = d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device '%s' created (validation=%t).", d.Name(), options.EnableValidation)
	return d, nil
}

func (d *Device) create() error {
	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := d.createLogicalDevice(); err != nil {
		return err
	}
	d.ColorFormat = chooseSurfaceFormat(d.SwapchainSupport.Formats)

	var err error
	if d.renderpass, err = RenderpassCreate(d, d.ColorFormat.Format); err != nil {
		return err
	}
	if d.descriptors, err = newUniformDescriptors(d); err != nil {
		return err
	}
	return d.createPipelineLayout()
}

func (d *Device) selectPhysicalDevice() error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(d.context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res, core.ErrInitialization)
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrInitialization)
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(d.context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res, core.ErrInitialization)
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		DiscreteGPU:          runtime.GOOS != "darwin",
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	// A discrete GPU is preferred; the second pass accepts any device.
	for pass := 0; pass < 2; pass++ {
		for _, physicalDevice := range physicalDevices {
			properties := vk.PhysicalDeviceProperties{}
			vk.GetPhysicalDeviceProperties(physicalDevice, &properties)
			properties.Deref()

			queueInfo, support, ok := d.physicalDeviceMeetsRequirements(physicalDevice, &properties, &requirements)
			if !ok {
				continue
			}
			d.PhysicalDevice = physicalDevice
			d.Properties = properties
			d.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
			d.PresentQueueIndex = queueInfo.PresentFamilyIndex
			d.SwapchainSupport = support
			logDeviceProperties(&properties)
			return nil
		}
		requirements.DiscreteGPU = false
	}
	return fmt.Errorf("no physical device meets the requirements: %w", core.ErrInitialization)
}

func logDeviceProperties(properties *vk.PhysicalDeviceProperties) {
	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch(),
	)
}

func (d *Device) physicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, VulkanSwapchainSupportInfo, bool) {
	queueInfo := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1}
	name := cString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device '%s' is not a discrete GPU, and one is required. Skipping.", name)
		return queueInfo, VulkanSwapchainSupportInfo{}, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
		graphics := vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueGraphicsBit != 0

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.context.Surface, &supportsPresent); res != vk.Success {
			return queueInfo, VulkanSwapchainSupportInfo{}, false
		}
		present := supportsPresent == vk.True

		// A family doing both is preferred, so the swapchain needs no sharing.
		if graphics && present {
			queueInfo.GraphicsFamilyIndex = int32(i)
			queueInfo.PresentFamilyIndex = int32(i)
			break
		}
		if graphics && queueInfo.GraphicsFamilyIndex < 0 {
			queueInfo.GraphicsFamilyIndex = int32(i)
		}
		if present && queueInfo.PresentFamilyIndex < 0 {
			queueInfo.PresentFamilyIndex = int32(i)
		}
	}
	core.LogDebug("Device '%s': graphics family %d, present family %d.",
		name, queueInfo.GraphicsFamilyIndex, queueInfo.PresentFamilyIndex)

	if (requirements.Graphics && queueInfo.GraphicsFamilyIndex < 0) ||
		(requirements.Present && queueInfo.PresentFamilyIndex < 0) {
		return queueInfo, VulkanSwapchainSupportInfo{}, false
	}

	support, err := DeviceQuerySwapchainSupport(device, d.context.Surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		core.LogDebug("Required swapchain support not present, skipping device.")
		return queueInfo, support, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return queueInfo, support, false
	}
	for _, required := range requirements.DeviceExtensionNames {
		if !available[required] {
			core.LogDebug("Required extension not found: '%s', skipping device.", required)
			return queueInfo, support, false
		}
	}
	return queueInfo, support, true
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res, core.ErrInitialization)
	}
	properties := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, properties); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res, core.ErrInitialization)
	}
	out := make(map[string]bool, count)
	for i := range properties {
		properties[i].Deref()
		out[cString(properties[i].ExtensionName[:])] = true
	}
	return out, nil
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	families := []uint32{uint32(d.GraphicsQueueIndex)}
	if d.PresentQueueIndex != d.GraphicsQueueIndex {
		families = append(families, uint32(d.PresentQueueIndex))
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	available, err := deviceExtensions(d.PhysicalDevice)
	if err != nil {
		return err
	}
	if available["VK_KHR_portability_subset"] {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}
	var logicalDevice vk.Device
	if res := vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, d.context.Allocator, &logicalDevice); res != vk.Success {
		return resultError("vkCreateDevice", res, core.ErrInitialization)
	}
	d.LogicalDevice = logicalDevice
	core.LogInfo("Logical device created.")

	var graphicsQueue, presentQueue vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.GraphicsQueueIndex), 0, &graphicsQueue)
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.PresentQueueIndex), 0, &presentQueue)
	d.queue = &queue{device: d, graphics: graphicsQueue, present: presentQueue}
	core.LogInfo("Queues obtained.")
	return nil
}

func (d *Device) createPipelineLayout() error {
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{d.descriptors.setLayout},
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.LogicalDevice, &createInfo, d.context.Allocator, &layout); res != vk.Success {
		return resultError("vkCreatePipelineLayout", res, core.ErrInitialization)
	}
	d.pipelineLayout = layout
	return nil
}

func (d *Device) Name() string {
	return cString(d.Properties.DeviceName[:])
}

func (d *Device) Queue() metadata.Queue {
	return d.queue
}

func (d *Device) CreateTimeline(initialValue uint64) (metadata.Timeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return newTimeline(d, initialValue), nil
}

func (d *Device) CreateCommandAllocator() (metadata.CommandAllocator, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	alloc, err := newCommandAllocator(d)
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

func (d *Device) CreateCommandList(allocator metadata.CommandAllocator) (metadata.CommandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	a, ok := allocator.(*commandAllocator)
	if !ok || a == nil {
		return nil, fmt.Errorf("command list needs a vulkan allocator: %w", core.ErrGraphicsDevice)
	}
	list, err := newCommandList(d, a)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDescription) (metadata.Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	b, err := newBuffer(d, desc)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Device) CreatePipeline(desc metadata.PipelineDescription) (metadata.Pipeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	p, err := NewGraphicsPipeline(d, desc)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateSurface creates the swapchain. A device owns at most one.
func (d *Device) CreateSurface(desc metadata.SurfaceDescription) (metadata.Surface, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if d.surface != nil {
		return nil, fmt.Errorf("the window already has a swapchain: %w", core.ErrInitialization)
	}
	s, err := SwapchainCreate(d, desc)
	if err != nil {
		return nil, err
	}
	d.surface = s
	return s, nil
}

func (d *Device) WaitIdle() error {
	if d.LogicalDevice == nil {
		return nil
	}
	return d.lockPool.SafeCall(QueueManagement, func() error {
		if res := vk.DeviceWaitIdle(d.LogicalDevice); res != vk.Success {
			return resultError("vkDeviceWaitIdle", res, core.ErrGraphicsDevice)
		}
		return nil
	})
}

// Destroy releases the device level objects in the opposite order of creation.
func (d *Device) Destroy() error {
	if d.destroyed {
		return nil
	}
	d.destroyed = true
	if err := d.WaitIdle(); err != nil {
		core.LogWarn("device not idle on destroy: %s", err)
	}

	if d.LogicalDevice != nil {
		if d.surface != nil {
			_ = d.surface.Destroy()
		}
		if d.pipelineLayout != nil {
			vk.DestroyPipelineLayout(d.LogicalDevice, d.pipelineLayout, d.context.Allocator)
			d.pipelineLayout = nil
		}
		if d.descriptors != nil {
			d.descriptors.destroy()
			d.descriptors = nil
		}
		if d.renderpass != nil {
			d.renderpass.RenderpassDestroy(d)
			d.renderpass = nil
		}
		core.LogDebug("Destroying logical device...")
		vk.DestroyDevice(d.LogicalDevice, d.context.Allocator)
		d.LogicalDevice = nil
	}
	d.queue = nil
	d.context.destroy()
	core.LogInfo("Vulkan device destroyed.")
	return nil
}

func (d *Device) checkAlive() error {
	if d.destroyed {
		return fmt.Errorf("vulkan device already destroyed: %w", core.ErrGraphicsDevice)
	}
	return nil
}

// report forwards a message raised by the backend itself, outside the layers.
func (d *Device) report(severity metadata.Severity, object string, format string, args ...interface{}) {
	if !d.context.options.EnableValidation {
		return
	}
	d.context.report(metadata.ValidationMessage{
		Severity: severity,
		Object:   object,
		Message:  fmt.Sprintf(format, args...),
	})
}

// allocateAddress hands out a device unique, 64KiB aligned range per buffer.
// The value is bookkeeping only; no vkGetBufferDeviceAddress is involved.
func (d *Device) allocateAddress(size uint64) uint64 {
	d.addressMutex.Lock()
	defer d.addressMutex.Unlock()
	addr := d.nextAddress
	d.nextAddress += (size + 0xFFFF) &^ 0xFFFF
	return addr
}
