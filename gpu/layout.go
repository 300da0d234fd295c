package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Transition holds the access masks and stages of an image layout barrier.
type Transition struct {
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
	SrcStage  core1_0.PipelineStageFlags
	DstStage  core1_0.PipelineStageFlags
}

type layoutPair struct {
	from core1_0.ImageLayout
	to   core1_0.ImageLayout
}

var transitions = map[layoutPair]Transition{
	// transfer source stages chain with the acquire semaphore wait when the image is a
	// swapchain image about to be blitted into
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal}: {
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutColorAttachmentOptimal}: {
		DstAccess: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	},
	{core1_0.ImageLayoutUndefined, core1_0.ImageLayoutDepthStencilAttachmentOptimal}: {
		DstAccess: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageEarlyFragmentTests,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutColorAttachmentOptimal}: {
		SrcAccess: core1_0.AccessShaderRead,
		DstAccess: core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	},
	{core1_0.ImageLayoutDepthStencilAttachmentOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessDepthStencilAttachmentWrite,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageLateFragmentTests,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutDepthStencilAttachmentOptimal}: {
		SrcAccess: core1_0.AccessShaderRead,
		DstAccess: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
		SrcStage:  core1_0.PipelineStageFragmentShader,
		DstStage:  core1_0.PipelineStageEarlyFragmentTests,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, core1_0.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		DstAccess: core1_0.AccessTransferRead,
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal}: {
		SrcAccess: core1_0.AccessTransferRead,
		DstAccess: core1_0.AccessShaderRead,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageFragmentShader,
	},
	{core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutColorAttachmentOptimal}: {
		SrcAccess: core1_0.AccessTransferRead,
		DstAccess: core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	},
	{core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal}: {
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessTransferRead,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutUndefined, khr_swapchain.ImageLayoutPresentSrc}: {
		SrcStage: core1_0.PipelineStageTopOfPipe,
		DstStage: core1_0.PipelineStageBottomOfPipe,
	},
	{core1_0.ImageLayoutTransferDstOptimal, khr_swapchain.ImageLayoutPresentSrc}: {
		SrcAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageBottomOfPipe,
	},
	{khr_swapchain.ImageLayoutPresentSrc, core1_0.ImageLayoutTransferDstOptimal}: {
		DstAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageTransfer,
	},
	{core1_0.ImageLayoutColorAttachmentOptimal, khr_swapchain.ImageLayoutPresentSrc}: {
		SrcAccess: core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
		DstStage:  core1_0.PipelineStageBottomOfPipe,
	},
}

// LayoutTransition looks up the barrier for a layout change. The set of supported changes is
// closed: anything not listed is a programming error.
func LayoutTransition(from, to core1_0.ImageLayout) (Transition, error) {
	t, ok := transitions[layoutPair{from, to}]
	if !ok {
		return Transition{}, errors.AssertionFailedf("unsupported layout transition: %s -> %s", from, to)
	}
	return t, nil
}

// TransitionImageLayout records a barrier moving img into layout and updates its tracked
// layout. Moving an image into the layout it already has records nothing.
func (d *Device) TransitionImageLayout(cmd CommandBufferHandle, img *Image, layout core1_0.ImageLayout) error {
	if img.Layout == layout {
		return nil
	}

	t, err := LayoutTransition(img.Layout, layout)
	if err != nil {
		return err
	}

	err = d.backend.CmdPipelineBarrier(cmd, t.SrcStage, t.DstStage, []ImageBarrier{
		{
			Image:     img.Handle,
			OldLayout: img.Layout,
			NewLayout: layout,
			SrcAccess: t.SrcAccess,
			DstAccess: t.DstAccess,
			Range:     img.SubresourceRange(),
		},
	})
	if err != nil {
		return errors.Wrapf(err, "transition image %s -> %s", img.Layout, layout)
	}

	img.Layout = layout
	return nil
}

// TransitionImageLayoutNow transitions img on a one-shot command buffer and waits for it.
func (d *Device) TransitionImageLayoutNow(img *Image, layout core1_0.ImageLayout) error {
	return d.ImmediateSubmit(func(cmd CommandBufferHandle) error {
		return d.TransitionImageLayout(cmd, img, layout)
	})
}
