// Package rendertarget owns render passes together with the attachment images and
// framebuffers they draw into.
package rendertarget

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framegraph/gpu"
)

type Kind int

const (
	// SwapChain draws straight into the presentable images, through a resolve when
	// multisampled.
	SwapChain Kind = iota
	// Offscreen draws one sampled color image, resolved when multisampled.
	Offscreen
	// MultiAttachment draws several sampled color images, e.g. a G-buffer.
	MultiAttachment
	// PostEffects draws one color image that ends in the transfer source layout, ready to be
	// blitted to the swapchain.
	PostEffects
	// DepthOnly draws a sampled depth image and no color.
	DepthOnly
)

var kindNames = map[Kind]string{
	SwapChain:       "SwapChain",
	Offscreen:       "Offscreen",
	MultiAttachment: "MultiAttachment",
	PostEffects:     "PostEffects",
	DepthOnly:       "DepthOnly",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

type Description struct {
	Kind   Kind
	Name   string
	Width  int
	Height int

	// ColorFormats defaults to the swapchain format for SwapChain and PostEffects targets
	// and to R8G8B8A8 sRGB otherwise. DepthOnly targets ignore it.
	ColorFormats []core1_0.Format

	// Depth adds a depth attachment. DepthOnly targets always have one.
	Depth       bool
	DepthFormat core1_0.Format

	Samples core1_0.SampleCountFlags

	// ClearValues overrides the pass defaults, one per attachment.
	ClearValues []core1_0.ClearValue

	// FollowSwapchain resizes the target with the swapchain. SwapChain targets always do.
	FollowSwapchain bool
}

// Target is a render pass with its attachments and framebuffers. Begin and End bracket the
// pass on a command buffer and are idempotent.
type Target struct {
	device *gpu.Device
	desc   Description

	pass         *gpu.RenderPass
	colors       []*gpu.Image
	resolves     []*gpu.Image
	depth        *gpu.Image
	framebuffers []gpu.FramebufferHandle

	generation uint64
	started    bool
}

// New creates the target's render pass, attachments and framebuffers.
func New(device *gpu.Device, desc Description) (*Target, error) {
	if desc.Kind == SwapChain {
		extent := device.SwapchainExtent()
		desc.Width, desc.Height = extent.Width, extent.Height
		desc.FollowSwapchain = true
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, errors.AssertionFailedf("%s target extent %dx%d must be positive", desc.Kind, desc.Width, desc.Height)
	}
	if desc.Samples == 0 {
		desc.Samples = core1_0.Samples1
	}
	if desc.Samples > device.MaxSampleCount() {
		device.Logger().Warn("sample count not supported, clamping",
			"target", desc.Name, "requested", desc.Samples, "max", device.MaxSampleCount())
		desc.Samples = device.MaxSampleCount()
	}

	switch desc.Kind {
	case SwapChain, PostEffects:
		if len(desc.ColorFormats) == 0 {
			desc.ColorFormats = []core1_0.Format{device.SwapchainFormat()}
		}
		if len(desc.ColorFormats) != 1 {
			return nil, errors.AssertionFailedf("%s target takes exactly one color format", desc.Kind)
		}
	case Offscreen:
		if len(desc.ColorFormats) == 0 {
			desc.ColorFormats = []core1_0.Format{core1_0.FormatR8G8B8A8SRGB}
		}
		if len(desc.ColorFormats) != 1 {
			return nil, errors.AssertionFailedf("offscreen target takes exactly one color format")
		}
	case MultiAttachment:
		if len(desc.ColorFormats) < 2 {
			return nil, errors.AssertionFailedf("multi attachment target needs at least two color formats")
		}
	case DepthOnly:
		desc.ColorFormats = nil
		desc.Depth = true
		if desc.Samples != core1_0.Samples1 {
			return nil, errors.AssertionFailedf("depth only targets cannot be multisampled")
		}
	default:
		return nil, errors.AssertionFailedf("unknown render target kind %d", desc.Kind)
	}

	if desc.Depth && desc.DepthFormat == 0 {
		format, err := device.FindDepthFormat()
		if err != nil {
			return nil, err
		}
		desc.DepthFormat = format
	}

	t := &Target{
		device:     device,
		desc:       desc,
		generation: 1,
	}

	var err error
	t.pass, err = device.CreateRenderPass(t.passDescription(), desc.Width, desc.Height)
	if err != nil {
		return nil, errors.Wrapf(err, "%s target %q", desc.Kind, desc.Name)
	}
	if len(desc.ClearValues) > 0 {
		if len(desc.ClearValues) != t.pass.Description.AttachmentCount() {
			t.Destroy()
			return nil, errors.AssertionFailedf("%d clear values for %d attachments", len(desc.ClearValues), t.pass.Description.AttachmentCount())
		}
		t.pass.ClearValues = desc.ClearValues
	}

	if err = t.createImages(); err != nil {
		t.Destroy()
		return nil, err
	}
	if err = t.CreateFramebuffers(); err != nil {
		t.Destroy()
		return nil, err
	}

	if desc.FollowSwapchain {
		device.RegisterDependent(t)
	}
	return t, nil
}

func (t *Target) multisampled() bool {
	return t.desc.Samples != core1_0.Samples1
}

func (t *Target) passDescription() gpu.RenderPassDescription {
	desc := gpu.RenderPassDescription{
		ColorFormats: t.desc.ColorFormats,
		Samples:      t.desc.Samples,
		Resolve:      t.multisampled() && len(t.desc.ColorFormats) > 0,

		ColorLoadOp:        core1_0.AttachmentLoadOpClear,
		ColorStoreOp:       core1_0.AttachmentStoreOpStore,
		ColorInitialLayout: core1_0.ImageLayoutUndefined,
		ColorFinalLayout:   core1_0.ImageLayoutShaderReadOnlyOptimal,

		DepthLoadOp:      core1_0.AttachmentLoadOpClear,
		DepthStoreOp:     core1_0.AttachmentStoreOpDontCare,
		DepthFinalLayout: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	}
	if t.desc.Depth {
		desc.DepthFormat = t.desc.DepthFormat
	}

	switch t.desc.Kind {
	case SwapChain:
		desc.ColorFinalLayout = khr_swapchain.ImageLayoutPresentSrc
	case PostEffects:
		desc.ColorFinalLayout = core1_0.ImageLayoutTransferSrcOptimal
	case DepthOnly:
		desc.DepthStoreOp = core1_0.AttachmentStoreOpStore
		desc.DepthFinalLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
	}
	desc.ResolveFinalLayout = desc.ColorFinalLayout
	return desc
}

// colorUsage lets single sampled colors be read by shaders and blitted.
func (t *Target) colorUsage() core1_0.ImageUsageFlags {
	return core1_0.ImageUsageColorAttachment | core1_0.ImageUsageSampled | core1_0.ImageUsageTransferSrc
}

func (t *Target) createImages() error {
	width, height := t.desc.Width, t.desc.Height

	// the swapchain supplies single sampled colors itself
	ownColors := t.desc.Kind != SwapChain || t.multisampled()

	if ownColors {
		for i, format := range t.desc.ColorFormats {
			usage := t.colorUsage()
			if t.multisampled() {
				usage = core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransientAttachment
			}

			var sampler *core1_0.SamplerCreateInfo
			if !t.multisampled() && t.desc.Kind != SwapChain {
				sampler = attachmentSampler()
			}

			img, err := t.device.CreateImage(gpu.ImageDescription{
				Format:  format,
				Width:   width,
				Height:  height,
				Samples: t.desc.Samples,
				Usage:   usage,
				Sampler: sampler,
			})
			if err != nil {
				return errors.Wrapf(err, "color attachment %d of %q", i, t.desc.Name)
			}
			t.colors = append(t.colors, img)
		}
	}

	if t.multisampled() && t.desc.Kind != SwapChain {
		for i, format := range t.desc.ColorFormats {
			img, err := t.device.CreateImage(gpu.ImageDescription{
				Format:  format,
				Width:   width,
				Height:  height,
				Samples: core1_0.Samples1,
				Usage:   t.colorUsage(),
				Sampler: attachmentSampler(),
			})
			if err != nil {
				return errors.Wrapf(err, "resolve attachment %d of %q", i, t.desc.Name)
			}
			t.resolves = append(t.resolves, img)
		}
	}

	if t.desc.Depth {
		usage := core1_0.ImageUsageDepthStencilAttachment
		var sampler *core1_0.SamplerCreateInfo
		if t.desc.Kind == DepthOnly {
			usage |= core1_0.ImageUsageSampled
			sampler = attachmentSampler()
		}

		img, err := t.device.CreateImage(gpu.ImageDescription{
			Format:  t.desc.DepthFormat,
			Width:   width,
			Height:  height,
			Samples: t.desc.Samples,
			Usage:   usage,
			Sampler: sampler,
		})
		if err != nil {
			return errors.Wrapf(err, "depth attachment of %q", t.desc.Name)
		}
		t.depth = img
	}
	return nil
}

func attachmentSampler() *core1_0.SamplerCreateInfo {
	return &core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeClampToEdge,
		AddressModeV: core1_0.SamplerAddressModeClampToEdge,
		AddressModeW: core1_0.SamplerAddressModeClampToEdge,
		BorderColor:  core1_0.BorderColorIntOpaqueBlack,
		MipmapMode:   core1_0.SamplerMipmapModeLinear,
		MaxLod:       1,
	}
}

// destroyImages and destroyFramebuffers hand the old objects to the device, which destroys
// them once no frame in flight can still be rendering into them.
func (t *Target) destroyImages() {
	images := append(append([]*gpu.Image{t.depth}, t.colors...), t.resolves...)
	t.colors, t.resolves, t.depth = nil, nil, nil

	device := t.device
	device.Defer(func() {
		for _, img := range images {
			device.DestroyImage(img)
		}
	})
}

func (t *Target) destroyFramebuffers() {
	if len(t.framebuffers) == 0 {
		return
	}
	framebuffers := t.framebuffers
	t.framebuffers = nil

	device := t.device
	device.Defer(func() {
		for _, fb := range framebuffers {
			device.DestroyFramebuffer(fb)
		}
	})
}

// attachments lists views in render pass order: colors, depth, resolves.
func (t *Target) attachments(swapchainImage *gpu.Image) []gpu.ImageViewHandle {
	var views []gpu.ImageViewHandle

	if t.desc.Kind == SwapChain && !t.multisampled() {
		views = append(views, swapchainImage.View)
	} else {
		for _, img := range t.colors {
			views = append(views, img.View)
		}
	}
	if t.depth != nil {
		views = append(views, t.depth.View)
	}
	if t.desc.Kind == SwapChain && t.multisampled() {
		views = append(views, swapchainImage.View)
	} else {
		for _, img := range t.resolves {
			views = append(views, img.View)
		}
	}
	return views
}

// CreateFramebuffers builds one framebuffer per swapchain image for SwapChain targets and a
// single framebuffer otherwise. Any previous framebuffers are destroyed first.
func (t *Target) CreateFramebuffers() error {
	t.destroyFramebuffers()

	if t.desc.Kind == SwapChain {
		for i, img := range t.device.SwapchainImages() {
			fb, err := t.device.CreateFramebuffer(t.pass, t.attachments(img))
			if err != nil {
				return errors.Wrapf(err, "framebuffer for swapchain image %d", i)
			}
			t.framebuffers = append(t.framebuffers, fb)
		}
		return nil
	}

	fb, err := t.device.CreateFramebuffer(t.pass, t.attachments(nil))
	if err != nil {
		return errors.Wrapf(err, "framebuffer of %q", t.desc.Name)
	}
	t.framebuffers = append(t.framebuffers, fb)
	return nil
}

// Resize recreates the attachments at width x height and updates the pass extent. The render
// pass is kept; framebuffers are dropped and must be rebuilt with CreateFramebuffers.
// Pipelines built for the target become stale, which Generation reports. The old attachments
// are released through Device.Defer, so Resize is safe with frames in flight.
func (t *Target) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.AssertionFailedf("resize of %q to %dx%d", t.desc.Name, width, height)
	}
	if t.started {
		return errors.AssertionFailedf("resize of %q inside its render pass", t.desc.Name)
	}

	t.destroyFramebuffers()
	t.destroyImages()

	t.desc.Width, t.desc.Height = width, height
	t.pass.SetExtent(width, height)
	t.generation++

	return t.createImages()
}

func (t *Target) framebuffer() gpu.FramebufferHandle {
	if t.desc.Kind == SwapChain {
		return t.framebuffers[t.device.ImageIndex()]
	}
	return t.framebuffers[0]
}

// Begin starts the target's render pass on cmd. Calling Begin again before End does nothing.
func (t *Target) Begin(cmd gpu.CommandBufferHandle) error {
	if t.started {
		return nil
	}
	if len(t.framebuffers) == 0 {
		return errors.AssertionFailedf("target %q has no framebuffers", t.desc.Name)
	}

	if err := t.device.BeginRenderPass(cmd, t.pass, t.framebuffer()); err != nil {
		return errors.Wrapf(err, "target %q", t.desc.Name)
	}
	t.started = true
	return nil
}

// End finishes the render pass and records the layouts the attachments were left in. Calling
// End without a matching Begin does nothing.
func (t *Target) End(cmd gpu.CommandBufferHandle) {
	if !t.started {
		return
	}
	t.device.EndRenderPass(cmd)
	t.started = false

	desc := t.pass.Description
	for _, img := range t.colors {
		if desc.Resolve {
			img.Layout = core1_0.ImageLayoutColorAttachmentOptimal
		} else {
			img.Layout = desc.ColorFinalLayout
		}
	}
	for _, img := range t.resolves {
		img.Layout = desc.ResolveFinalLayout
	}
	if t.depth != nil {
		t.depth.Layout = desc.DepthFinalLayout
	}
	if t.desc.Kind == SwapChain {
		t.device.SwapchainImage().Layout = khr_swapchain.ImageLayoutPresentSrc
	}
}

func (t *Target) Started() bool {
	return t.started
}

func (t *Target) Kind() Kind {
	return t.desc.Kind
}

func (t *Target) Name() string {
	return t.desc.Name
}

func (t *Target) RenderPass() *gpu.RenderPass {
	return t.pass
}

// Generation changes every time the target is resized.
func (t *Target) Generation() uint64 {
	return t.generation
}

func (t *Target) Extent() core1_0.Extent2D {
	return t.pass.Extent
}

func (t *Target) Samples() core1_0.SampleCountFlags {
	return t.desc.Samples
}

func (t *Target) ColorCount() int {
	return len(t.desc.ColorFormats)
}

func (t *Target) Framebuffers() []gpu.FramebufferHandle {
	return t.framebuffers
}

// ColorImage is the single sampled image holding color attachment i after End: the resolve
// image when multisampled. SwapChain targets return the acquired swapchain image.
func (t *Target) ColorImage(i int) *gpu.Image {
	if t.desc.Kind == SwapChain {
		return t.device.SwapchainImage()
	}
	if t.multisampled() {
		return t.resolves[i]
	}
	return t.colors[i]
}

func (t *Target) DepthImage() *gpu.Image {
	return t.depth
}

// Destroy releases the target. It must not be used afterwards.
func (t *Target) Destroy() {
	if t.desc.FollowSwapchain {
		t.device.UnregisterDependent(t)
	}
	t.destroyFramebuffers()
	t.destroyImages()
	pass := t.pass
	t.device.Defer(func() { t.device.DestroyRenderPass(pass) })
}
