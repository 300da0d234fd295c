package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type ImageDescription struct {
	Format      core1_0.Format
	Width       int
	Height      int
	MipLevels   int
	ArrayLayers int
	Samples     core1_0.SampleCountFlags
	Usage       core1_0.ImageUsageFlags
	Tiling      core1_0.ImageTiling

	// MemoryProperties defaults to device local.
	MemoryProperties core1_0.MemoryPropertyFlags

	// Sampler, when set, creates a sampler owned by the image.
	Sampler *core1_0.SamplerCreateInfo
}

// Image is a GPU image with its memory, default view and optional sampler. Layout is the
// layout the image will be in once every recorded command has executed.
type Image struct {
	Handle  ImageHandle
	View    ImageViewHandle
	Sampler SamplerHandle
	Memory  MemoryHandle
	Layout  core1_0.ImageLayout

	Description ImageDescription

	// presentable images belong to the swapchain; only their view is ours
	presentable bool
}

func (i *Image) Extent() core1_0.Extent2D {
	return core1_0.Extent2D{Width: i.Description.Width, Height: i.Description.Height}
}

func (i *Image) Presentable() bool {
	return i.presentable
}

func (i *Image) Aspect() core1_0.ImageAspectFlags {
	return AspectForFormat(i.Description.Format)
}

func (i *Image) SubresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     i.Aspect(),
		BaseMipLevel:   0,
		LevelCount:     i.Description.MipLevels,
		BaseArrayLayer: 0,
		LayerCount:     i.Description.ArrayLayers,
	}
}

func IsDepthFormat(format core1_0.Format) bool {
	switch format {
	case core1_0.FormatD32SignedFloat,
		core1_0.FormatD32SignedFloatS8UnsignedInt,
		core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
		core1_0.FormatD16UnsignedNormalized:
		return true
	}
	return false
}

func HasStencilComponent(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}

func AspectForFormat(format core1_0.Format) core1_0.ImageAspectFlags {
	if !IsDepthFormat(format) {
		return core1_0.ImageAspectColor
	}
	aspect := core1_0.ImageAspectDepth
	if HasStencilComponent(format) {
		aspect |= core1_0.ImageAspectStencil
	}
	return aspect
}

func (d *Device) FindDepthFormat() (core1_0.Format, error) {
	return d.FindSupportedFormat([]core1_0.Format{core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt},
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment)
}

func (d *Device) FindSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := d.backend.FormatProperties(format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Newf("failed to find supported format for tiling %s, featureset %s", tiling, features)
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, flags := range d.backend.MemoryTypes() {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (flags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find any suitable memory type for properties %s", properties)
}

// CreateImage creates the image, allocates and binds its memory, then creates its view and
// sampler. Partially created objects are released on failure.
func (d *Device) CreateImage(desc ImageDescription) (*Image, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, errors.AssertionFailedf("image extent %dx%d must be positive", desc.Width, desc.Height)
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
	}
	if desc.Samples == 0 {
		desc.Samples = core1_0.Samples1
	}
	if desc.MemoryProperties == 0 {
		desc.MemoryProperties = core1_0.MemoryPropertyDeviceLocal
	}

	handle, err := d.backend.CreateImage(core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Format:        desc.Format,
		Tiling:        desc.Tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         desc.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       desc.Samples,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %dx%d image", desc.Width, desc.Height)
	}

	img := &Image{
		Handle:      handle,
		Layout:      core1_0.ImageLayoutUndefined,
		Description: desc,
	}

	memReqs := d.backend.ImageMemoryRequirements(handle)
	memoryIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, desc.MemoryProperties)
	if err != nil {
		d.DestroyImage(img)
		return nil, err
	}

	img.Memory, err = d.backend.AllocateMemory(memReqs.Size, memoryIndex)
	if err != nil {
		d.DestroyImage(img)
		return nil, errors.Wrap(err, "allocate image memory")
	}

	if err = d.backend.BindImageMemory(handle, img.Memory, 0); err != nil {
		d.DestroyImage(img)
		return nil, errors.Wrap(err, "bind image memory")
	}

	img.View, err = d.createImageView(handle, desc.Format, desc.MipLevels, desc.ArrayLayers)
	if err != nil {
		d.DestroyImage(img)
		return nil, err
	}

	if desc.Sampler != nil {
		samplerInfo := *desc.Sampler
		if samplerInfo.MaxLod == 0 {
			samplerInfo.MaxLod = float32(desc.MipLevels)
		}
		img.Sampler, err = d.backend.CreateSampler(samplerInfo)
		if err != nil {
			d.DestroyImage(img)
			return nil, errors.Wrap(err, "create image sampler")
		}
	}

	d.stats.Images++
	return img, nil
}

func (d *Device) createImageView(image ImageHandle, format core1_0.Format, mipLevels, layers int) (ImageViewHandle, error) {
	view, err := d.backend.CreateImageView(ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     AspectForFormat(format),
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	})
	if err != nil {
		return 0, errors.Wrap(err, "create image view")
	}
	return view, nil
}

// DestroyImage releases everything the image owns. Handles are cleared, so destroying an
// image twice is harmless.
func (d *Device) DestroyImage(img *Image) {
	if img == nil {
		return
	}

	if img.Sampler != 0 {
		d.backend.DestroySampler(img.Sampler)
		img.Sampler = 0
	}
	if img.View != 0 {
		d.backend.DestroyImageView(img.View)
		img.View = 0
	}
	if img.presentable {
		img.Handle = 0
		return
	}
	if img.Handle != 0 {
		d.backend.DestroyImage(img.Handle)
		img.Handle = 0
		d.stats.Images--
	}
	if img.Memory != 0 {
		d.backend.FreeMemory(img.Memory)
		img.Memory = 0
	}
}

// DefaultSampler is the linear, repeating, anisotropic sampler the renderer uses for
// material textures.
func DefaultSampler() *core1_0.SamplerCreateInfo {
	return &core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    16,
		BorderColor:      core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
	}
}
