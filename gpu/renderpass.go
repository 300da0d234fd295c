package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// RenderPassDescription describes a single subpass render pass. Attachments are ordered
// colors first, then depth, then one resolve attachment per color when Resolve is set.
type RenderPassDescription struct {
	ColorFormats []core1_0.Format
	DepthFormat  core1_0.Format
	Samples      core1_0.SampleCountFlags
	Resolve      bool

	ColorLoadOp        core1_0.AttachmentLoadOp
	ColorStoreOp       core1_0.AttachmentStoreOp
	ColorInitialLayout core1_0.ImageLayout
	ColorFinalLayout   core1_0.ImageLayout

	DepthLoadOp      core1_0.AttachmentLoadOp
	DepthStoreOp     core1_0.AttachmentStoreOp
	DepthFinalLayout core1_0.ImageLayout

	ResolveFinalLayout core1_0.ImageLayout
}

func (d RenderPassDescription) HasDepth() bool {
	return d.DepthFormat != 0
}

func (d RenderPassDescription) AttachmentCount() int {
	count := len(d.ColorFormats)
	if d.HasDepth() {
		count++
	}
	if d.Resolve {
		count += len(d.ColorFormats)
	}
	return count
}

type RenderPass struct {
	Handle      RenderPassHandle
	Description RenderPassDescription

	Extent      core1_0.Extent2D
	Viewport    core1_0.Viewport
	Scissor     core1_0.Rect2D
	ClearValues []core1_0.ClearValue
}

// SetExtent updates the pass's render area and the viewport and scissor derived from it.
func (p *RenderPass) SetExtent(width, height int) {
	p.Extent = core1_0.Extent2D{Width: width, Height: height}
	p.Viewport = core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(width),
		Height:   float32(height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	p.Scissor = core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: p.Extent,
	}
}

// DefaultClearValues clears color to transparent black, depth to one and stencil to zero.
func DefaultClearValues(desc RenderPassDescription) []core1_0.ClearValue {
	values := make([]core1_0.ClearValue, 0, desc.AttachmentCount())
	for range desc.ColorFormats {
		values = append(values, core1_0.ClearValueFloat{0, 0, 0, 0})
	}
	if desc.HasDepth() {
		values = append(values, core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0})
	}
	if desc.Resolve {
		for range desc.ColorFormats {
			values = append(values, core1_0.ClearValueFloat{0, 0, 0, 0})
		}
	}
	return values
}

func BuildRenderPassInfo(desc RenderPassDescription) (core1_0.RenderPassCreateInfo, error) {
	if len(desc.ColorFormats) == 0 && !desc.HasDepth() {
		return core1_0.RenderPassCreateInfo{}, errors.AssertionFailedf("render pass has no attachments")
	}
	if desc.Resolve && desc.Samples == core1_0.Samples1 {
		return core1_0.RenderPassCreateInfo{}, errors.AssertionFailedf("resolve attachments require a multisampled pass")
	}

	samples := desc.Samples
	if samples == 0 {
		samples = core1_0.Samples1
	}

	var attachments []core1_0.AttachmentDescription
	var colorRefs, resolveRefs []core1_0.AttachmentReference
	var depthRef *core1_0.AttachmentReference

	colorFinal := desc.ColorFinalLayout
	if desc.Resolve {
		// multisampled colors are consumed by the resolve and never leave the pass
		colorFinal = core1_0.ImageLayoutColorAttachmentOptimal
	}

	for _, format := range desc.ColorFormats {
		colorRefs = append(colorRefs, core1_0.AttachmentReference{
			Attachment: len(attachments),
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		})
		attachments = append(attachments, core1_0.AttachmentDescription{
			Format:         format,
			Samples:        samples,
			LoadOp:         desc.ColorLoadOp,
			StoreOp:        desc.ColorStoreOp,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  desc.ColorInitialLayout,
			FinalLayout:    colorFinal,
		})
	}

	if desc.HasDepth() {
		depthRef = &core1_0.AttachmentReference{
			Attachment: len(attachments),
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
		attachments = append(attachments, core1_0.AttachmentDescription{
			Format:         desc.DepthFormat,
			Samples:        samples,
			LoadOp:         desc.DepthLoadOp,
			StoreOp:        desc.DepthStoreOp,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    desc.DepthFinalLayout,
		})
	}

	if desc.Resolve {
		for _, format := range desc.ColorFormats {
			resolveRefs = append(resolveRefs, core1_0.AttachmentReference{
				Attachment: len(attachments),
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			})
			attachments = append(attachments, core1_0.AttachmentDescription{
				Format:         format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpDontCare,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    desc.ResolveFinalLayout,
			})
		}
	}

	return core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint:      core1_0.PipelineBindPointGraphics,
				ColorAttachments:       colorRefs,
				ResolveAttachments:     resolveRefs,
				DepthStencilAttachment: depthRef,
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
			{
				SrcSubpass: 0,
				DstSubpass: core1_0.SubpassExternal,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageLateFragmentTests,
				SrcAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,

				DstStageMask:  core1_0.PipelineStageFragmentShader | core1_0.PipelineStageTransfer,
				DstAccessMask: core1_0.AccessShaderRead | core1_0.AccessTransferRead,
			},
		},
	}, nil
}

func (d *Device) CreateRenderPass(desc RenderPassDescription, width, height int) (*RenderPass, error) {
	info, err := BuildRenderPassInfo(desc)
	if err != nil {
		return nil, err
	}

	handle, err := d.backend.CreateRenderPass(info)
	if err != nil {
		return nil, errors.Wrap(err, "create render pass")
	}

	pass := &RenderPass{
		Handle:      handle,
		Description: desc,
		ClearValues: DefaultClearValues(desc),
	}
	pass.SetExtent(width, height)
	return pass, nil
}

func (d *Device) DestroyRenderPass(pass *RenderPass) {
	if pass == nil || pass.Handle == 0 {
		return
	}
	d.backend.DestroyRenderPass(pass.Handle)
	pass.Handle = 0
}

func (d *Device) CreateFramebuffer(pass *RenderPass, attachments []ImageViewHandle) (FramebufferHandle, error) {
	if len(attachments) != pass.Description.AttachmentCount() {
		return 0, errors.AssertionFailedf("framebuffer has %d attachments, render pass expects %d", len(attachments), pass.Description.AttachmentCount())
	}

	framebuffer, err := d.backend.CreateFramebuffer(FramebufferCreateInfo{
		RenderPass:  pass.Handle,
		Attachments: attachments,
		Width:       pass.Extent.Width,
		Height:      pass.Extent.Height,
		Layers:      1,
	})
	if err != nil {
		return 0, errors.Wrap(err, "create framebuffer")
	}
	return framebuffer, nil
}

func (d *Device) DestroyFramebuffer(framebuffer FramebufferHandle) {
	if framebuffer != 0 {
		d.backend.DestroyFramebuffer(framebuffer)
	}
}

// BeginRenderPass starts pass on cmd over the pass's scissor with its clear values.
func (d *Device) BeginRenderPass(cmd CommandBufferHandle, pass *RenderPass, framebuffer FramebufferHandle) error {
	err := d.backend.CmdBeginRenderPass(cmd, RenderPassBegin{
		RenderPass:  pass.Handle,
		Framebuffer: framebuffer,
		Area:        pass.Scissor,
		ClearValues: pass.ClearValues,
	})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}
	return nil
}

func (d *Device) EndRenderPass(cmd CommandBufferHandle) {
	d.backend.CmdEndRenderPass(cmd)
}
