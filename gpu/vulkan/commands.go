package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
)

type commandBuffer struct {
	buffer core1_0.CommandBuffer
	pool   gpu.CommandPoolHandle
}

func (b *Backend) cmd(handle gpu.CommandBufferHandle) core1_0.CommandBuffer {
	return b.commandBuffers.get(uint64(handle)).buffer
}

func (b *Backend) CreateCommandPool(transient bool) (gpu.CommandPoolHandle, error) {
	var flags core1_0.CommandPoolCreateFlags
	if transient {
		flags |= core1_0.CommandPoolCreateTransient
	}

	pool, _, err := b.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            flags,
		QueueFamilyIndex: *b.queueFamilies.GraphicsFamily,
	})
	if err != nil {
		return 0, err
	}
	return gpu.CommandPoolHandle(b.commandPools.add(pool)), nil
}

// DestroyCommandPool also frees every command buffer allocated from the pool.
func (b *Backend) DestroyCommandPool(pool gpu.CommandPoolHandle) {
	obj, ok := b.commandPools.remove(uint64(pool))
	if !ok {
		return
	}
	for handle, buffer := range b.commandBuffers.objects {
		if buffer.pool == pool {
			delete(b.commandBuffers.objects, handle)
		}
	}
	b.deviceDriver.DestroyCommandPool(obj, nil)
}

func (b *Backend) ResetCommandPool(pool gpu.CommandPoolHandle) error {
	_, err := b.deviceDriver.ResetCommandPool(b.commandPools.get(uint64(pool)), 0)
	return err
}

func (b *Backend) AllocateCommandBuffer(pool gpu.CommandPoolHandle) (gpu.CommandBufferHandle, error) {
	buffers, _, err := b.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        b.commandPools.get(uint64(pool)),
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return 0, err
	}
	return gpu.CommandBufferHandle(b.commandBuffers.add(commandBuffer{buffer: buffers[0], pool: pool})), nil
}

func (b *Backend) FreeCommandBuffer(pool gpu.CommandPoolHandle, cmd gpu.CommandBufferHandle) {
	if buffer, ok := b.commandBuffers.remove(uint64(cmd)); ok {
		b.deviceDriver.FreeCommandBuffers(buffer.buffer)
	}
}

func (b *Backend) BeginCommandBuffer(cmd gpu.CommandBufferHandle, oneTimeSubmit bool) error {
	var flags core1_0.CommandBufferUsageFlags
	if oneTimeSubmit {
		flags |= core1_0.CommandBufferUsageOneTimeSubmit
	}

	_, err := b.deviceDriver.BeginCommandBuffer(b.cmd(cmd), core1_0.CommandBufferBeginInfo{
		Flags: flags,
	})
	return err
}

func (b *Backend) EndCommandBuffer(cmd gpu.CommandBufferHandle) error {
	_, err := b.deviceDriver.EndCommandBuffer(b.cmd(cmd))
	return err
}

func (b *Backend) CmdBeginRenderPass(cmd gpu.CommandBufferHandle, begin gpu.RenderPassBegin) error {
	return b.deviceDriver.CmdBeginRenderPass(b.cmd(cmd), core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  b.renderPasses.get(uint64(begin.RenderPass)),
			Framebuffer: b.framebuffers.get(uint64(begin.Framebuffer)),
			RenderArea:  begin.Area,
			ClearValues: begin.ClearValues,
		})
}

func (b *Backend) CmdEndRenderPass(cmd gpu.CommandBufferHandle) {
	b.deviceDriver.CmdEndRenderPass(b.cmd(cmd))
}

func (b *Backend) CmdBindPipeline(cmd gpu.CommandBufferHandle, pipeline gpu.PipelineHandle) {
	b.deviceDriver.CmdBindPipeline(b.cmd(cmd), core1_0.PipelineBindPointGraphics, b.pipelines.get(uint64(pipeline)))
}

func (b *Backend) CmdBindDescriptorSets(cmd gpu.CommandBufferHandle, layout gpu.PipelineLayoutHandle, firstSet int, sets []gpu.DescriptorSetHandle) {
	descriptorSets := make([]core1_0.DescriptorSet, 0, len(sets))
	for _, set := range sets {
		descriptorSets = append(descriptorSets, b.descriptorSets.get(uint64(set)).set)
	}
	b.deviceDriver.CmdBindDescriptorSets(b.cmd(cmd), core1_0.PipelineBindPointGraphics,
		b.pipelineLayouts.get(uint64(layout)), firstSet, descriptorSets, nil)
}

func (b *Backend) CmdBindVertexBuffer(cmd gpu.CommandBufferHandle, buffer gpu.BufferHandle, offset int) {
	b.deviceDriver.CmdBindVertexBuffers(b.cmd(cmd), 0, []core1_0.Buffer{b.buffers.get(uint64(buffer))}, []int{offset})
}

func (b *Backend) CmdBindIndexBuffer(cmd gpu.CommandBufferHandle, buffer gpu.BufferHandle, offset int, indexType core1_0.IndexType) {
	b.deviceDriver.CmdBindIndexBuffer(b.cmd(cmd), b.buffers.get(uint64(buffer)), offset, indexType)
}

func (b *Backend) CmdPushConstants(cmd gpu.CommandBufferHandle, layout gpu.PipelineLayoutHandle, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	b.deviceDriver.CmdPushConstants(b.cmd(cmd), b.pipelineLayouts.get(uint64(layout)), stages, offset, data)
}

func (b *Backend) CmdDraw(cmd gpu.CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance int) {
	b.deviceDriver.CmdDraw(b.cmd(cmd), vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
}

func (b *Backend) CmdDrawIndexed(cmd gpu.CommandBufferHandle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	b.deviceDriver.CmdDrawIndexed(b.cmd(cmd), indexCount, instanceCount, uint32(firstIndex), vertexOffset, uint32(firstInstance))
}

func (b *Backend) CmdPipelineBarrier(cmd gpu.CommandBufferHandle, srcStage, dstStage core1_0.PipelineStageFlags, barriers []gpu.ImageBarrier) error {
	imageBarriers := make([]core1_0.ImageMemoryBarrier, 0, len(barriers))
	for _, barrier := range barriers {
		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			OldLayout:           barrier.OldLayout,
			NewLayout:           barrier.NewLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               b.images.get(uint64(barrier.Image)),
			SubresourceRange:    barrier.Range,
			SrcAccessMask:       barrier.SrcAccess,
			DstAccessMask:       barrier.DstAccess,
		})
	}
	return b.deviceDriver.CmdPipelineBarrier(b.cmd(cmd), srcStage, dstStage, 0, nil, nil, imageBarriers)
}

func (b *Backend) CmdCopyBuffer(cmd gpu.CommandBufferHandle, src, dst gpu.BufferHandle, regions []core1_0.BufferCopy) error {
	return b.deviceDriver.CmdCopyBuffer(b.cmd(cmd), b.buffers.get(uint64(src)), b.buffers.get(uint64(dst)), regions...)
}

func (b *Backend) CmdCopyBufferToImage(cmd gpu.CommandBufferHandle, src gpu.BufferHandle, dst gpu.ImageHandle, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	return b.deviceDriver.CmdCopyBufferToImage(b.cmd(cmd), b.buffers.get(uint64(src)), b.images.get(uint64(dst)), layout, regions...)
}

func (b *Backend) CmdBlitImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, srcLayout core1_0.ImageLayout, dst gpu.ImageHandle, dstLayout core1_0.ImageLayout, regions []core1_0.ImageBlit, filter core1_0.Filter) error {
	return b.deviceDriver.CmdBlitImage(b.cmd(cmd), b.images.get(uint64(src)), srcLayout, b.images.get(uint64(dst)), dstLayout, regions, filter)
}

func (b *Backend) CreateFence(signaled bool) (gpu.FenceHandle, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags |= core1_0.FenceCreateSignaled
	}

	fence, _, err := b.deviceDriver.CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: flags,
	})
	if err != nil {
		return 0, err
	}
	return gpu.FenceHandle(b.fences.add(fence)), nil
}

func (b *Backend) DestroyFence(fence gpu.FenceHandle) {
	if obj, ok := b.fences.remove(uint64(fence)); ok {
		b.deviceDriver.DestroyFence(obj, nil)
	}
}

func (b *Backend) WaitForFence(fence gpu.FenceHandle) error {
	_, err := b.deviceDriver.WaitForFences(true, common.NoTimeout, b.fences.get(uint64(fence)))
	return err
}

func (b *Backend) ResetFence(fence gpu.FenceHandle) error {
	_, err := b.deviceDriver.ResetFences(b.fences.get(uint64(fence)))
	return err
}

func (b *Backend) CreateSemaphore() (gpu.SemaphoreHandle, error) {
	semaphore, _, err := b.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return 0, err
	}
	return gpu.SemaphoreHandle(b.semaphores.add(semaphore)), nil
}

func (b *Backend) DestroySemaphore(semaphore gpu.SemaphoreHandle) {
	if obj, ok := b.semaphores.remove(uint64(semaphore)); ok {
		b.deviceDriver.DestroySemaphore(obj, nil)
	}
}

func (b *Backend) semaphoreList(handles []gpu.SemaphoreHandle) []core1_0.Semaphore {
	semaphores := make([]core1_0.Semaphore, 0, len(handles))
	for _, handle := range handles {
		semaphores = append(semaphores, b.semaphores.get(uint64(handle)))
	}
	return semaphores
}

func (b *Backend) QueueSubmit(info gpu.SubmitInfo, fence gpu.FenceHandle) error {
	if len(info.WaitSemaphores) != len(info.WaitStages) {
		return errors.AssertionFailedf("%d wait semaphores with %d wait stages", len(info.WaitSemaphores), len(info.WaitStages))
	}

	buffers := make([]core1_0.CommandBuffer, 0, len(info.CommandBuffers))
	for _, cmd := range info.CommandBuffers {
		buffers = append(buffers, b.cmd(cmd))
	}

	var signal *core1_0.Fence
	if fence != 0 {
		obj := b.fences.get(uint64(fence))
		signal = &obj
	}

	_, err := b.deviceDriver.QueueSubmit(b.graphicsQueue, signal,
		core1_0.SubmitInfo{
			WaitSemaphores:   b.semaphoreList(info.WaitSemaphores),
			WaitDstStageMask: info.WaitStages,
			CommandBuffers:   buffers,
			SignalSemaphores: b.semaphoreList(info.SignalSemaphores),
		},
	)
	return err
}

func (b *Backend) QueueWaitIdle() error {
	_, err := b.deviceDriver.QueueWaitIdle(b.graphicsQueue)
	return err
}

func (b *Backend) DeviceWaitIdle() error {
	_, err := b.deviceDriver.DeviceWaitIdle()
	return err
}
