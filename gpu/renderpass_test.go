package gpu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
)

func TestBuildRenderPassInfoAttachmentOrder(t *testing.T) {
	info, err := gpu.BuildRenderPassInfo(gpu.RenderPassDescription{
		ColorFormats:       []core1_0.Format{core1_0.FormatR8G8B8A8SRGB, core1_0.FormatR32G32B32SignedFloat},
		DepthFormat:        core1_0.FormatD32SignedFloat,
		Samples:            core1_0.Samples4,
		Resolve:            true,
		ColorLoadOp:        core1_0.AttachmentLoadOpClear,
		ColorStoreOp:       core1_0.AttachmentStoreOpStore,
		ColorFinalLayout:   core1_0.ImageLayoutShaderReadOnlyOptimal,
		DepthLoadOp:        core1_0.AttachmentLoadOpClear,
		DepthStoreOp:       core1_0.AttachmentStoreOpDontCare,
		DepthFinalLayout:   core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		ResolveFinalLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	})
	require.NoError(t, err)

	require.Len(t, info.Attachments, 5)
	assert.Equal(t, core1_0.FormatR8G8B8A8SRGB, info.Attachments[0].Format)
	assert.Equal(t, core1_0.FormatR32G32B32SignedFloat, info.Attachments[1].Format)
	assert.Equal(t, core1_0.FormatD32SignedFloat, info.Attachments[2].Format)
	assert.Equal(t, core1_0.Samples4, info.Attachments[2].Samples)
	assert.Equal(t, core1_0.Samples1, info.Attachments[3].Samples)
	assert.Equal(t, core1_0.Samples1, info.Attachments[4].Samples)

	// multisampled colors stay attachments; the resolves carry the final layout
	assert.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, info.Attachments[0].FinalLayout)
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, info.Attachments[3].FinalLayout)

	subpass := info.Subpasses[0]
	assert.Equal(t, 0, subpass.ColorAttachments[0].Attachment)
	assert.Equal(t, 1, subpass.ColorAttachments[1].Attachment)
	assert.Equal(t, 2, subpass.DepthStencilAttachment.Attachment)
	assert.Equal(t, 3, subpass.ResolveAttachments[0].Attachment)
	assert.Equal(t, 4, subpass.ResolveAttachments[1].Attachment)
}

func TestBuildRenderPassInfoRejects(t *testing.T) {
	_, err := gpu.BuildRenderPassInfo(gpu.RenderPassDescription{Samples: core1_0.Samples1})
	assert.Error(t, err)

	_, err = gpu.BuildRenderPassInfo(gpu.RenderPassDescription{
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8SRGB},
		Samples:      core1_0.Samples1,
		Resolve:      true,
	})
	assert.Error(t, err)
}

func TestDepthOnlyPassHasNoColor(t *testing.T) {
	desc := gpu.RenderPassDescription{
		DepthFormat:      core1_0.FormatD32SignedFloat,
		Samples:          core1_0.Samples1,
		DepthLoadOp:      core1_0.AttachmentLoadOpClear,
		DepthStoreOp:     core1_0.AttachmentStoreOpStore,
		DepthFinalLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	}
	info, err := gpu.BuildRenderPassInfo(desc)
	require.NoError(t, err)

	assert.Len(t, info.Attachments, 1)
	assert.Empty(t, info.Subpasses[0].ColorAttachments)

	values := gpu.DefaultClearValues(desc)
	require.Len(t, values, 1)
	assert.Equal(t, core1_0.ClearValueDepthStencil{Depth: 1, Stencil: 0}, values[0])
}

func TestCreateFramebufferChecksAttachmentCount(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	pass, err := device.CreateRenderPass(gpu.RenderPassDescription{
		ColorFormats: []core1_0.Format{device.SwapchainFormat()},
		Samples:      core1_0.Samples1,
	}, 800, 600)
	require.NoError(t, err)
	defer device.DestroyRenderPass(pass)

	assert.Equal(t, float32(800), pass.Viewport.Width)
	assert.Equal(t, 600, pass.Scissor.Extent.Height)

	_, err = device.CreateFramebuffer(pass, nil)
	assert.Error(t, err)

	fb, err := device.CreateFramebuffer(pass, []gpu.ImageViewHandle{device.SwapchainImages()[0].View})
	require.NoError(t, err)
	assert.Equal(t, 800, backend.Framebuffers[fb].Width)
	device.DestroyFramebuffer(fb)
}

func TestUploadImageGeneratesMipmaps(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	img, err := device.CreateImage(gpu.ImageDescription{
		Format:    core1_0.FormatR8G8B8A8SRGB,
		Width:     16,
		Height:    16,
		MipLevels: 5,
		Usage:     core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst | core1_0.ImageUsageTransferSrc,
		Sampler:   gpu.DefaultSampler(),
	})
	require.NoError(t, err)

	require.NoError(t, device.UploadImage(img, make([]byte, 16*16*4)))
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, img.Layout)
	assert.Len(t, backend.Blits, 4)

	device.DestroyImage(img)
	device.DestroyImage(img)
	assert.Zero(t, backend.Live("image"))
	assert.Zero(t, backend.Live("sampler"))
	gputest.RequireNoViolations(t, backend)
}
