// Package vulkan implements gpu.Backend on a Vulkan device presenting to an SDL window.
package vulkan

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/vkngwrapper/framegraph/gpu"
)

var _ gpu.Backend = (*Backend)(nil)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

type Option func(*Backend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithValidation enables the Khronos validation layer and routes its messages to the logger.
func WithValidation(enabled bool) Option {
	return func(b *Backend) {
		b.validation = enabled
	}
}

// WithPipelineCache seeds the driver pipeline cache from path and writes it back on Destroy.
func WithPipelineCache(path string) Option {
	return func(b *Backend) {
		b.cachePath = path
	}
}

// Backend drives one logical device with a single graphics queue and a present queue.
type Backend struct {
	logger     *slog.Logger
	window     *sdl.Window
	validation bool
	cachePath  string

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	queueFamilies  QueueFamilyIndices
	msaaSamples    core1_0.SampleCountFlags
	memoryTypes    []core1_0.MemoryPropertyFlags

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	swapchainExtension khr_swapchain.ExtensionDriver
	swapchain          khr_swapchain.Swapchain
	swapchainImages    []gpu.ImageHandle

	pipelineCache *pipelineCache

	images               *registry[core1_0.Image]
	imageViews           *registry[core1_0.ImageView]
	samplers             *registry[core1_0.Sampler]
	buffers              *registry[core1_0.Buffer]
	memory               *registry[core1_0.DeviceMemory]
	renderPasses         *registry[core1_0.RenderPass]
	framebuffers         *registry[core1_0.Framebuffer]
	shaderModules        *registry[core1_0.ShaderModule]
	descriptorSetLayouts *registry[core1_0.DescriptorSetLayout]
	pipelineLayouts      *registry[core1_0.PipelineLayout]
	pipelines            *registry[core1_0.Pipeline]
	descriptorPools      *registry[core1_0.DescriptorPool]
	descriptorSets       *registry[descriptorSet]
	commandPools         *registry[core1_0.CommandPool]
	commandBuffers       *registry[commandBuffer]
	fences               *registry[core1_0.Fence]
	semaphores           *registry[core1_0.Semaphore]
}

// New creates the instance, surface and logical device for window. The swapchain is created
// later by gpu.NewDevice through CreateSwapchain.
func New(window *sdl.Window, opts ...Option) (*Backend, error) {
	b := &Backend{
		logger:      slog.Default(),
		window:      window,
		msaaSamples: core1_0.Samples1,

		images:               newRegistry[core1_0.Image](),
		imageViews:           newRegistry[core1_0.ImageView](),
		samplers:             newRegistry[core1_0.Sampler](),
		buffers:              newRegistry[core1_0.Buffer](),
		memory:               newRegistry[core1_0.DeviceMemory](),
		renderPasses:         newRegistry[core1_0.RenderPass](),
		framebuffers:         newRegistry[core1_0.Framebuffer](),
		shaderModules:        newRegistry[core1_0.ShaderModule](),
		descriptorSetLayouts: newRegistry[core1_0.DescriptorSetLayout](),
		pipelineLayouts:      newRegistry[core1_0.PipelineLayout](),
		pipelines:            newRegistry[core1_0.Pipeline](),
		descriptorPools:      newRegistry[core1_0.DescriptorPool](),
		descriptorSets:       newRegistry[descriptorSet](),
		commandPools:         newRegistry[core1_0.CommandPool](),
		commandBuffers:       newRegistry[commandBuffer](),
		fences:               newRegistry[core1_0.Fence](),
		semaphores:           newRegistry[core1_0.Semaphore](),
	}
	for _, opt := range opts {
		opt(b)
	}

	var err error
	b.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create instance", b.createInstance},
		{"set up debug messenger", b.setupDebugMessenger},
		{"create surface", b.createSurface},
		{"pick physical device", b.pickPhysicalDevice},
		{"create logical device", b.createLogicalDevice},
		{"create pipeline cache", b.createPipelineCache},
	}
	for _, step := range steps {
		if err = step.fn(); err != nil {
			b.Destroy()
			return nil, errors.Wrap(err, step.name)
		}
	}

	b.logger.Info("vulkan device ready",
		slog.String("device", b.properties.DeviceName),
		slog.String("maxSamples", b.msaaSamples.String()),
		slog.Bool("validation", b.validation))
	return b, nil
}

func (b *Backend) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    "framegraph",
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "framegraph",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := b.window.VulkanGetInstanceExtensions()
	extensions, _, err := b.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		if _, hasExt := extensions[ext]; !hasExt {
			return errors.Newf("cannot initialize sdl: missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if b.validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	if _, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]; enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if b.validation {
		layers, _, err := b.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			if _, hasValidation := layers[layer]; !hasValidation {
				return errors.Newf("validation layer %s not available- install LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = b.debugMessengerOptions()
	}

	b.instanceDriver, _, err = b.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func (b *Backend) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    b.logDebug,
	}
}

func (b *Backend) setupDebugMessenger() error {
	if !b.validation {
		return nil
	}

	var err error
	b.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(b.instanceDriver)
	b.debugMessenger, _, err = b.debugDriver.CreateDebugUtilsMessenger(nil, b.debugMessengerOptions())
	return err
}

func (b *Backend) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	b.logger.Log(context.Background(), level, data.Message, slog.String("type", msgType.String()))
	return false
}

func (b *Backend) createSurface() error {
	b.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(b.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(b.instanceDriver.Instance(), b.surfaceExtension, b.window)
	if err != nil {
		return err
	}

	b.surface = surface
	return nil
}

func (b *Backend) pickPhysicalDevice() error {
	physicalDevices, _, err := b.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if b.isDeviceSuitable(device) {
			b.physicalDevice = device
			break
		}
	}

	if !b.physicalDevice.Initialized() {
		return errors.New("failed to find a suitable GPU")
	}

	b.properties, err = b.instanceDriver.GetPhysicalDeviceProperties(b.physicalDevice)
	if err != nil {
		return err
	}
	b.msaaSamples = maxUsableSampleCount(b.properties)

	memProperties := b.instanceDriver.GetPhysicalDeviceMemoryProperties(b.physicalDevice)
	for _, memoryType := range memProperties.MemoryTypes {
		b.memoryTypes = append(b.memoryTypes, memoryType.PropertyFlags)
	}

	b.queueFamilies, err = b.findQueueFamilies(b.physicalDevice)
	return err
}

func maxUsableSampleCount(properties *core1_0.PhysicalDeviceProperties) core1_0.SampleCountFlags {
	counts := properties.Limits.FramebufferColorSampleCounts & properties.Limits.FramebufferDepthSampleCounts

	for _, samples := range []core1_0.SampleCountFlags{
		core1_0.Samples64, core1_0.Samples32, core1_0.Samples16,
		core1_0.Samples8, core1_0.Samples4, core1_0.Samples2,
	} {
		if counts&samples != 0 {
			return samples
		}
	}
	return core1_0.Samples1
}

func (b *Backend) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := b.findQueueFamilies(device)
	if err != nil {
		return false
	}

	extensionsSupported := b.checkDeviceExtensionSupport(device)

	var swapChainAdequate bool
	if extensionsSupported {
		support, err := b.querySwapChainSupport(device)
		if err != nil {
			return false
		}

		swapChainAdequate = len(support.Formats) > 0 && len(support.PresentModes) > 0
	}

	features := b.instanceDriver.GetPhysicalDeviceFeatures(device)
	return indices.IsComplete() && extensionsSupported && swapChainAdequate &&
		features.SamplerAnisotropy && features.FillModeNonSolid
}

func (b *Backend) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := b.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		if _, hasExtension := extensions[extension]; !hasExtension {
			return false
		}
	}

	return true
}

func (b *Backend) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := b.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := b.surfaceExtension.GetPhysicalDeviceSurfaceSupport(b.surface, device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (b *Backend) createLogicalDevice() error {
	indices := b.queueFamilies

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	if uniqueQueueFamilies[0] != *indices.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *indices.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{1.0},
		})
	}

	extensionNames := append([]string(nil), deviceExtensions...)

	// Needed on portability implementations such as MoltenVK
	extensions, _, err := b.instanceDriver.EnumerateDeviceExtensionProperties(b.physicalDevice)
	if err != nil {
		return err
	}
	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	b.deviceDriver, _, err = b.instanceDriver.CreateDevice(b.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
			FillModeNonSolid:  true,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	b.graphicsQueue = b.deviceDriver.GetQueue(*indices.GraphicsFamily, 0)
	b.presentQueue = b.deviceDriver.GetQueue(*indices.PresentFamily, 0)
	b.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(b.deviceDriver)
	return nil
}

func (b *Backend) MemoryTypes() []core1_0.MemoryPropertyFlags {
	return b.memoryTypes
}

func (b *Backend) FormatProperties(format core1_0.Format) core1_0.FormatProperties {
	return *b.instanceDriver.GetPhysicalDeviceFormatProperties(b.physicalDevice, format)
}

func (b *Backend) MaxSampleCount() core1_0.SampleCountFlags {
	return b.msaaSamples
}

// Destroy saves the pipeline cache and tears down the device and instance. Every object
// created through the backend must have been destroyed already; leaks are logged.
func (b *Backend) Destroy() {
	if b.deviceDriver != nil {
		if _, err := b.deviceDriver.DeviceWaitIdle(); err != nil {
			b.logger.Error("wait for device idle", slog.Any("error", err))
		}
	}

	if b.pipelineCache != nil {
		if err := b.pipelineCache.save(); err != nil {
			b.logger.Warn("pipeline cache not saved", slog.Any("error", err))
		}
		b.pipelineCache.destroy()
		b.pipelineCache = nil
	}

	b.DestroySwapchain()
	b.logLeaks()

	if b.deviceDriver != nil {
		b.deviceDriver.DestroyDevice(nil)
		b.deviceDriver = nil
	}

	if b.debugMessenger.Initialized() {
		b.debugDriver.DestroyDebugUtilsMessenger(b.debugMessenger, nil)
		b.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if b.surface.Initialized() {
		b.surfaceExtension.DestroySurface(b.surface, nil)
		b.surface = khr_surface.Surface{}
	}

	if b.instanceDriver != nil {
		b.instanceDriver.DestroyInstance(nil)
		b.instanceDriver = nil
	}
}

func (b *Backend) logLeaks() {
	live := map[string]int{
		"image":               b.images.len(),
		"imageView":           b.imageViews.len(),
		"sampler":             b.samplers.len(),
		"buffer":              b.buffers.len(),
		"memory":              b.memory.len(),
		"renderPass":          b.renderPasses.len(),
		"framebuffer":         b.framebuffers.len(),
		"shaderModule":        b.shaderModules.len(),
		"descriptorSetLayout": b.descriptorSetLayouts.len(),
		"pipelineLayout":      b.pipelineLayouts.len(),
		"pipeline":            b.pipelines.len(),
		"descriptorPool":      b.descriptorPools.len(),
		"commandPool":         b.commandPools.len(),
		"fence":               b.fences.len(),
		"semaphore":           b.semaphores.len(),
	}
	for kind, count := range live {
		if count > 0 {
			b.logger.Warn("leaked vulkan objects", slog.String("kind", kind), slog.Int("count", count))
		}
	}
}
