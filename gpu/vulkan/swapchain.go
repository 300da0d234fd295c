package vulkan

import (
	"log/slog"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framegraph/gpu"
)

type SwapChainSupportDetails struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

func (b *Backend) querySwapChainSupport(device core1_0.PhysicalDevice) (SwapChainSupportDetails, error) {
	var details SwapChainSupportDetails
	var err error

	details.Capabilities, _, err = b.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(b.surface, device)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = b.surfaceExtension.GetPhysicalDeviceSurfaceFormats(b.surface, device)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = b.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(b.surface, device)
	return details, err
}

func chooseSwapSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// chooseSwapPresentMode prefers mailbox, falling back to FIFO which is always available.
// Without vsync immediate wins over both.
func chooseSwapPresentMode(availablePresentModes []khr_surface.PresentMode, vsync bool) khr_surface.PresentMode {
	preferred := []khr_surface.PresentMode{khr_surface.PresentModeMailbox}
	if !vsync {
		preferred = []khr_surface.PresentMode{khr_surface.PresentModeImmediate, khr_surface.PresentModeMailbox}
	}

	for _, want := range preferred {
		for _, presentMode := range availablePresentModes {
			if presentMode == want {
				return presentMode
			}
		}
	}

	return khr_surface.PresentModeFIFO
}

func chooseSwapExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width = min(max(width, capabilities.MinImageExtent.Width), capabilities.MaxImageExtent.Width)
	height = min(max(height, capabilities.MinImageExtent.Height), capabilities.MaxImageExtent.Height)
	return core1_0.Extent2D{Width: width, Height: height}
}

func (b *Backend) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.SwapchainInfo, error) {
	b.DestroySwapchain()

	swapchainSupport, err := b.querySwapChainSupport(b.physicalDevice)
	if err != nil {
		return gpu.SwapchainInfo{}, err
	}

	surfaceFormat := chooseSwapSurfaceFormat(swapchainSupport.Formats)
	presentMode := chooseSwapPresentMode(swapchainSupport.PresentModes, info.VSync)
	extent := chooseSwapExtent(swapchainSupport.Capabilities, info.Width, info.Height)

	imageCount := swapchainSupport.Capabilities.MinImageCount + 1
	if swapchainSupport.Capabilities.MaxImageCount > 0 && swapchainSupport.Capabilities.MaxImageCount < imageCount {
		imageCount = swapchainSupport.Capabilities.MaxImageCount
	}

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	indices := b.queueFamilies
	if *indices.GraphicsFamily != *indices.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *indices.GraphicsFamily, *indices.PresentFamily)
	}

	swapchain, _, err := b.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: b.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   swapchainSupport.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return gpu.SwapchainInfo{}, err
	}
	b.swapchain = swapchain

	images, _, err := b.swapchainExtension.GetSwapchainImages(swapchain)
	if err != nil {
		return gpu.SwapchainInfo{}, err
	}

	// registered for lookups only; the swapchain owns the images
	b.swapchainImages = make([]gpu.ImageHandle, 0, len(images))
	for _, image := range images {
		b.swapchainImages = append(b.swapchainImages, gpu.ImageHandle(b.images.add(image)))
	}

	b.logger.Debug("swapchain created",
		slog.Int("images", len(images)),
		slog.String("format", surfaceFormat.Format.String()),
		slog.String("presentMode", presentMode.String()))

	return gpu.SwapchainInfo{
		Images: b.swapchainImages,
		Format: surfaceFormat.Format,
		Extent: extent,
	}, nil
}

func (b *Backend) DestroySwapchain() {
	for _, handle := range b.swapchainImages {
		b.images.remove(uint64(handle))
	}
	b.swapchainImages = nil

	if b.swapchain.Initialized() {
		b.swapchainExtension.DestroySwapchain(b.swapchain, nil)
		b.swapchain = khr_swapchain.Swapchain{}
	}
}

func (b *Backend) AcquireNextImage(signal gpu.SemaphoreHandle) (int, error) {
	semaphore := b.semaphores.get(uint64(signal))
	imageIndex, res, err := b.swapchainExtension.AcquireNextImage(b.swapchain, common.NoTimeout, &semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, gpu.ErrOutOfDate
	} else if err != nil {
		return 0, err
	}

	if res == khr_swapchain.VKSuboptimal {
		return imageIndex, gpu.ErrSuboptimal
	}
	return imageIndex, nil
}

func (b *Backend) Present(wait gpu.SemaphoreHandle, imageIndex int) error {
	res, err := b.swapchainExtension.QueuePresent(b.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{b.semaphores.get(uint64(wait))},
		Swapchains:     []khr_swapchain.Swapchain{b.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return gpu.ErrOutOfDate
	case err != nil:
		return err
	case res == khr_swapchain.VKSuboptimal:
		return gpu.ErrSuboptimal
	}
	return nil
}
