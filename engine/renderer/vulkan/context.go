package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// WindowSurfaceSource is the window the device presents into. platform.Platform
// implements it with glfw.
type WindowSurfaceSource interface {
	RequiredExtensions() []string
	// CreateWindowSurface returns a VkSurfaceKHR handle for instance.
	CreateWindowSurface(instance interface{}) (uintptr, error)
	FramebufferSize() (uint32, uint32)
	VulkanProcAddress() unsafe.Pointer
}

// VulkanContext is the instance level state: the loader, the instance, its debug
// callback and the window surface.
type VulkanContext struct {
	Instance       vk.Instance
	Allocator      *vk.AllocationCallbacks
	Surface        vk.Surface
	debugMessenger vk.DebugReportCallback

	window  WindowSurfaceSource
	options metadata.DeviceOptions
}

func newVulkanContext(appName string, window WindowSurfaceSource, options metadata.DeviceOptions) (*VulkanContext, error) {
	context := &VulkanContext{
		window:  window,
		options: options,
	}

	procAddr := window.VulkanProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrInitialization)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, fmt.Errorf("%v: %w", err, core.ErrInitialization)
	}

	if err := context.createInstance(appName); err != nil {
		return nil, err
	}
	if options.EnableValidation {
		if err := context.createDebugCallback(); err != nil {
			context.destroy()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateWindowSurface(context.Instance)
	if err != nil {
		context.destroy()
		return nil, err
	}
	context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	return context, nil
}

func (context *VulkanContext) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("framepace"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{"VK_KHR_surface"}
	extensions = append(extensions, context.window.RequiredExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}

	layers := []string{}
	if context.options.EnableValidation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		found, err := layerAvailable(validationLayerName)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("validation requested but %s is missing: %w", validationLayerName, core.ErrInitialization)
		}
		layers = append(layers, validationLayerName)
		core.LogInfo("Validation layer enabled.")
	}
	for _, e := range extensions {
		core.LogDebug("Required extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, context.Allocator, &instance); res != vk.Success {
		return resultError("vkCreateInstance", res, core.ErrInitialization)
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, context.Allocator)
		return fmt.Errorf("%v: %w", err, core.ErrInitialization)
	}
	context.Instance = instance
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false, resultError("vkEnumerateInstanceLayerProperties", res, core.ErrInitialization)
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false, resultError("vkEnumerateInstanceLayerProperties", res, core.ErrInitialization)
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (context *VulkanContext) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit | vk.DebugReportInformationBit),
		PfnCallback: context.debugCallback,
	}
	var dbg vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(context.Instance, &debugCreateInfo, context.Allocator, &dbg); res != vk.Success {
		return resultError("vkCreateDebugReportCallback", res, core.ErrInitialization)
	}
	context.debugMessenger = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

// debugCallback turns validation layer output into validation messages.
func (context *VulkanContext) debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	msg := metadata.ValidationMessage{
		Object:  fmt.Sprintf("%s:%d", pLayerPrefix, messageCode),
		Message: pMessage,
	}
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		msg.Severity = metadata.SeverityError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		msg.Severity = metadata.SeverityWarning
	default:
		msg.Severity = metadata.SeverityInfo
	}

	context.report(msg)
	return vk.Bool32(vk.False)
}

// report forwards msg to the validation handler, or to the log without one.
func (context *VulkanContext) report(msg metadata.ValidationMessage) {
	if context.options.OnValidation != nil {
		context.options.OnValidation(msg)
		return
	}
	switch msg.Severity {
	case metadata.SeverityError:
		core.LogError("validation: [%s] %s", msg.Object, msg.Message)
	case metadata.SeverityWarning:
		core.LogWarn("validation: [%s] %s", msg.Object, msg.Message)
	default:
		core.LogDebug("validation: [%s] %s", msg.Object, msg.Message)
	}
}

// FindMemoryIndex returns the first memory type allowed by typeFilter with all of
// propertyFlags, or -1.
func FindMemoryIndex(physicalDevice vk.PhysicalDevice, typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryType := memoryProperties.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (context *VulkanContext) destroy() {
	if context.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
		context.Surface = vk.NullSurface
	}
	if context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(context.Instance, context.debugMessenger, context.Allocator)
		context.debugMessenger = vk.NullDebugReportCallback
	}
	if context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(context.Instance, context.Allocator)
		context.Instance = nil
	}
}
