package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// BeginSingleTimeCommands allocates a one-shot command buffer from the upload pool and opens it.
func (d *Device) BeginSingleTimeCommands() (CommandBufferHandle, error) {
	cmd, err := d.backend.AllocateCommandBuffer(d.uploadPool)
	if err != nil {
		return 0, errors.Wrap(err, "allocate single time command buffer")
	}

	if err = d.backend.BeginCommandBuffer(cmd, true); err != nil {
		d.backend.FreeCommandBuffer(d.uploadPool, cmd)
		return 0, errors.Wrap(err, "begin single time command buffer")
	}
	return cmd, nil
}

// EndSingleTimeCommands submits cmd, waits for the queue to drain and frees cmd.
func (d *Device) EndSingleTimeCommands(cmd CommandBufferHandle) error {
	defer d.backend.FreeCommandBuffer(d.uploadPool, cmd)

	if err := d.backend.EndCommandBuffer(cmd); err != nil {
		return errors.Wrap(err, "end single time command buffer")
	}

	err := d.backend.QueueSubmit(SubmitInfo{CommandBuffers: []CommandBufferHandle{cmd}}, 0)
	if err != nil {
		return errors.Wrap(err, "submit single time command buffer")
	}

	if err = d.backend.QueueWaitIdle(); err != nil {
		return errors.Wrap(err, "wait for single time command buffer")
	}
	return nil
}

// ImmediateSubmit records with record on a one-shot command buffer and waits for it to
// finish. The buffer is freed whether or not recording succeeds.
func (d *Device) ImmediateSubmit(record func(cmd CommandBufferHandle) error) error {
	cmd, err := d.BeginSingleTimeCommands()
	if err != nil {
		return err
	}

	if err = record(cmd); err != nil {
		d.backend.EndCommandBuffer(cmd)
		d.backend.FreeCommandBuffer(d.uploadPool, cmd)
		return err
	}

	return d.EndSingleTimeCommands(cmd)
}

func (d *Device) createStagingBuffer(data []byte) (*Buffer, error) {
	staging, err := d.CreateBuffer(BufferDescription{
		Size:             len(data),
		Usage:            core1_0.BufferUsageTransferSrc,
		MemoryProperties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create staging buffer")
	}

	if err = staging.Write(0, data); err != nil {
		d.DestroyBuffer(staging)
		return nil, err
	}
	return staging, nil
}

// UploadBuffer copies data into dst at offset through a temporary staging buffer.
func (d *Device) UploadBuffer(dst *Buffer, offset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset+len(data) > dst.Description.Size {
		return errors.AssertionFailedf("upload of %d bytes at %d overflows buffer of %d bytes", len(data), offset, dst.Description.Size)
	}

	if dst.Mapped != nil {
		return dst.Write(offset, data)
	}

	staging, err := d.createStagingBuffer(data)
	if err != nil {
		return err
	}
	defer d.DestroyBuffer(staging)

	return d.ImmediateSubmit(func(cmd CommandBufferHandle) error {
		return d.backend.CmdCopyBuffer(cmd, staging.Handle, dst.Handle, []core1_0.BufferCopy{
			{
				SrcOffset: 0,
				DstOffset: offset,
				Size:      len(data),
			},
		})
	})
}

// UploadImage copies tightly packed pixels into mip level zero of img, then generates the
// remaining mip levels. img ends up shader read only.
func (d *Device) UploadImage(img *Image, pixels []byte) error {
	staging, err := d.createStagingBuffer(pixels)
	if err != nil {
		return err
	}
	defer d.DestroyBuffer(staging)

	err = d.ImmediateSubmit(func(cmd CommandBufferHandle) error {
		if err := d.TransitionImageLayout(cmd, img, core1_0.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}

		err := d.backend.CmdCopyBufferToImage(cmd, staging.Handle, img.Handle, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{
			{
				BufferOffset:      0,
				BufferRowLength:   0,
				BufferImageHeight: 0,

				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     img.Aspect(),
					MipLevel:       0,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent: core1_0.Extent3D{
					Width:  img.Description.Width,
					Height: img.Description.Height,
					Depth:  1,
				},
			},
		})
		if err != nil {
			return errors.Wrap(err, "copy staging buffer to image")
		}

		if img.Description.MipLevels > 1 {
			return d.GenerateMipmaps(cmd, img)
		}
		return d.TransitionImageLayout(cmd, img, core1_0.ImageLayoutShaderReadOnlyOptimal)
	})
	return err
}

// GenerateMipmaps blits each mip level of img from the one above it. img must be in the
// transfer destination layout; every level ends up shader read only.
func (d *Device) GenerateMipmaps(cmd CommandBufferHandle, img *Image) error {
	properties := d.backend.FormatProperties(img.Description.Format)
	if (properties.OptimalTilingFeatures & core1_0.FormatFeatureSampledImageFilterLinear) == 0 {
		return errors.Errorf("texture image format %s does not support linear blitting", img.Description.Format)
	}
	if img.Layout != core1_0.ImageLayoutTransferDstOptimal {
		return errors.AssertionFailedf("mipmap generation needs %s, image is %s", core1_0.ImageLayoutTransferDstOptimal, img.Layout)
	}

	barrier := ImageBarrier{
		Image: img.Handle,
		Range: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseArrayLayer: 0,
			LayerCount:     1,
			LevelCount:     1,
		},
	}

	mipWidth := img.Description.Width
	mipHeight := img.Description.Height
	mipLevels := img.Description.MipLevels
	for i := 1; i < mipLevels; i++ {
		barrier.Range.BaseMipLevel = i - 1
		barrier.OldLayout = core1_0.ImageLayoutTransferDstOptimal
		barrier.NewLayout = core1_0.ImageLayoutTransferSrcOptimal
		barrier.SrcAccess = core1_0.AccessTransferWrite
		barrier.DstAccess = core1_0.AccessTransferRead

		err := d.backend.CmdPipelineBarrier(cmd, core1_0.PipelineStageTransfer, core1_0.PipelineStageTransfer, []ImageBarrier{barrier})
		if err != nil {
			return err
		}

		nextMipWidth := mipWidth
		nextMipHeight := mipHeight

		if nextMipWidth > 1 {
			nextMipWidth /= 2
		}
		if nextMipHeight > 1 {
			nextMipHeight /= 2
		}
		err = d.backend.CmdBlitImage(cmd, img.Handle, core1_0.ImageLayoutTransferSrcOptimal, img.Handle, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
			{
				SrcSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       i - 1,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: mipWidth, Y: mipHeight, Z: 1},
				},

				DstSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       i,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: nextMipWidth, Y: nextMipHeight, Z: 1},
				},
			},
		}, core1_0.FilterLinear)
		if err != nil {
			return err
		}

		barrier.OldLayout = core1_0.ImageLayoutTransferSrcOptimal
		barrier.NewLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
		barrier.SrcAccess = core1_0.AccessTransferRead
		barrier.DstAccess = core1_0.AccessShaderRead
		err = d.backend.CmdPipelineBarrier(cmd, core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, []ImageBarrier{barrier})
		if err != nil {
			return err
		}

		mipWidth = nextMipWidth
		mipHeight = nextMipHeight
	}

	barrier.Range.BaseMipLevel = mipLevels - 1
	barrier.OldLayout = core1_0.ImageLayoutTransferDstOptimal
	barrier.NewLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
	barrier.SrcAccess = core1_0.AccessTransferWrite
	barrier.DstAccess = core1_0.AccessShaderRead

	err := d.backend.CmdPipelineBarrier(cmd, core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, []ImageBarrier{barrier})
	if err != nil {
		return err
	}

	img.Layout = core1_0.ImageLayoutShaderReadOnlyOptimal
	return nil
}

// BlitImage scales the whole of src onto the whole of dst. Both images must already be in
// the transfer source and destination layouts.
func (d *Device) BlitImage(cmd CommandBufferHandle, src, dst *Image) error {
	err := d.backend.CmdBlitImage(cmd, src.Handle, core1_0.ImageLayoutTransferSrcOptimal, dst.Handle, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
		{
			SrcSubresource: core1_0.ImageSubresourceLayers{
				AspectMask: core1_0.ImageAspectColor,
				LayerCount: 1,
			},
			SrcOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: src.Description.Width, Y: src.Description.Height, Z: 1},
			},
			DstSubresource: core1_0.ImageSubresourceLayers{
				AspectMask: core1_0.ImageAspectColor,
				LayerCount: 1,
			},
			DstOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: dst.Description.Width, Y: dst.Description.Height, Z: 1},
			},
		},
	}, core1_0.FilterLinear)
	if err != nil {
		return errors.Wrap(err, "blit image")
	}
	return nil
}

func (d *Device) BindPipeline(cmd CommandBufferHandle, pipeline PipelineHandle) {
	d.backend.CmdBindPipeline(cmd, pipeline)
	d.stats.PipelineBinds++
}

func (d *Device) BindDescriptorSets(cmd CommandBufferHandle, layout PipelineLayoutHandle, sets ...DescriptorSetHandle) {
	d.backend.CmdBindDescriptorSets(cmd, layout, 0, sets)
}

// BindMeshBuffer binds buf as both index and vertex buffer. Indices live at the start of
// the buffer and vertices begin at vertexOffset bytes.
func (d *Device) BindMeshBuffer(cmd CommandBufferHandle, buf *Buffer, vertexOffset int) {
	d.backend.CmdBindIndexBuffer(cmd, buf.Handle, 0, core1_0.IndexTypeUInt32)
	d.backend.CmdBindVertexBuffer(cmd, buf.Handle, vertexOffset)
	d.stats.BufferBinds++
}

func (d *Device) PushConstants(cmd CommandBufferHandle, layout PipelineLayoutHandle, stages core1_0.ShaderStageFlags, data []byte) {
	d.backend.CmdPushConstants(cmd, layout, stages, 0, data)
}

func (d *Device) DrawIndexed(cmd CommandBufferHandle, indexCount, firstIndex, vertexOffset int) {
	d.backend.CmdDrawIndexed(cmd, indexCount, 1, firstIndex, vertexOffset, 0)
	d.stats.DrawCalls++
}

func (d *Device) Draw(cmd CommandBufferHandle, vertexCount, instanceCount int) {
	d.backend.CmdDraw(cmd, vertexCount, instanceCount, 0, 0)
	d.stats.DrawCalls++
}
