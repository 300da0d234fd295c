package vulkan

import (
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
)

type descriptorSet struct {
	set  core1_0.DescriptorSet
	pool gpu.DescriptorPoolHandle
}

func memoryRequirements(reqs *core1_0.MemoryRequirements) gpu.MemoryRequirements {
	return gpu.MemoryRequirements{
		Size:           reqs.Size,
		Alignment:      reqs.Alignment,
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (b *Backend) CreateImage(info core1_0.ImageCreateInfo) (gpu.ImageHandle, error) {
	image, _, err := b.deviceDriver.CreateImage(nil, info)
	if err != nil {
		return 0, err
	}
	return gpu.ImageHandle(b.images.add(image)), nil
}

func (b *Backend) DestroyImage(image gpu.ImageHandle) {
	if obj, ok := b.images.remove(uint64(image)); ok {
		b.deviceDriver.DestroyImage(obj, nil)
	}
}

func (b *Backend) ImageMemoryRequirements(image gpu.ImageHandle) gpu.MemoryRequirements {
	return memoryRequirements(b.deviceDriver.GetImageMemoryRequirements(b.images.get(uint64(image))))
}

func (b *Backend) BindImageMemory(image gpu.ImageHandle, memory gpu.MemoryHandle, offset int) error {
	_, err := b.deviceDriver.BindImageMemory(b.images.get(uint64(image)), b.memory.get(uint64(memory)), offset)
	return err
}

func (b *Backend) CreateImageView(info gpu.ImageViewCreateInfo) (gpu.ImageViewHandle, error) {
	view, _, err := b.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:            b.images.get(uint64(info.Image)),
		ViewType:         info.ViewType,
		Format:           info.Format,
		SubresourceRange: info.SubresourceRange,
	})
	if err != nil {
		return 0, err
	}
	return gpu.ImageViewHandle(b.imageViews.add(view)), nil
}

func (b *Backend) DestroyImageView(view gpu.ImageViewHandle) {
	if obj, ok := b.imageViews.remove(uint64(view)); ok {
		b.deviceDriver.DestroyImageView(obj, nil)
	}
}

// CreateSampler clamps the requested anisotropy to the device limit.
func (b *Backend) CreateSampler(info core1_0.SamplerCreateInfo) (gpu.SamplerHandle, error) {
	if limit := b.properties.Limits.MaxSamplerAnisotropy; info.AnisotropyEnable && info.MaxAnisotropy > limit {
		info.MaxAnisotropy = limit
	}

	sampler, _, err := b.deviceDriver.CreateSampler(nil, info)
	if err != nil {
		return 0, err
	}
	return gpu.SamplerHandle(b.samplers.add(sampler)), nil
}

func (b *Backend) DestroySampler(sampler gpu.SamplerHandle) {
	if obj, ok := b.samplers.remove(uint64(sampler)); ok {
		b.deviceDriver.DestroySampler(obj, nil)
	}
}

func (b *Backend) CreateBuffer(info core1_0.BufferCreateInfo) (gpu.BufferHandle, error) {
	info.SharingMode = core1_0.SharingModeExclusive
	buffer, _, err := b.deviceDriver.CreateBuffer(nil, info)
	if err != nil {
		return 0, err
	}
	return gpu.BufferHandle(b.buffers.add(buffer)), nil
}

func (b *Backend) DestroyBuffer(buffer gpu.BufferHandle) {
	if obj, ok := b.buffers.remove(uint64(buffer)); ok {
		b.deviceDriver.DestroyBuffer(obj, nil)
	}
}

func (b *Backend) BufferMemoryRequirements(buffer gpu.BufferHandle) gpu.MemoryRequirements {
	return memoryRequirements(b.deviceDriver.GetBufferMemoryRequirements(b.buffers.get(uint64(buffer))))
}

func (b *Backend) BindBufferMemory(buffer gpu.BufferHandle, memory gpu.MemoryHandle, offset int) error {
	_, err := b.deviceDriver.BindBufferMemory(b.buffers.get(uint64(buffer)), b.memory.get(uint64(memory)), offset)
	return err
}

func (b *Backend) AllocateMemory(size int, memoryTypeIndex int) (gpu.MemoryHandle, error) {
	memory, _, err := b.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return 0, err
	}
	return gpu.MemoryHandle(b.memory.add(memory)), nil
}

func (b *Backend) FreeMemory(memory gpu.MemoryHandle) {
	if obj, ok := b.memory.remove(uint64(memory)); ok {
		b.deviceDriver.FreeMemory(obj, nil)
	}
}

// MapMemory maps size bytes at offset. The slice aliases driver memory and is only valid
// until UnmapMemory.
func (b *Backend) MapMemory(memory gpu.MemoryHandle, offset, size int) ([]byte, error) {
	memoryPtr, _, err := b.deviceDriver.MapMemory(b.memory.get(uint64(memory)), offset, size, 0)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(memoryPtr), size), nil
}

func (b *Backend) UnmapMemory(memory gpu.MemoryHandle) {
	b.deviceDriver.UnmapMemory(b.memory.get(uint64(memory)))
}

func (b *Backend) CreateRenderPass(info core1_0.RenderPassCreateInfo) (gpu.RenderPassHandle, error) {
	renderPass, _, err := b.deviceDriver.CreateRenderPass(nil, info)
	if err != nil {
		return 0, err
	}
	return gpu.RenderPassHandle(b.renderPasses.add(renderPass)), nil
}

func (b *Backend) DestroyRenderPass(pass gpu.RenderPassHandle) {
	if obj, ok := b.renderPasses.remove(uint64(pass)); ok {
		b.deviceDriver.DestroyRenderPass(obj, nil)
	}
}

func (b *Backend) CreateFramebuffer(info gpu.FramebufferCreateInfo) (gpu.FramebufferHandle, error) {
	attachments := make([]core1_0.ImageView, 0, len(info.Attachments))
	for _, view := range info.Attachments {
		attachments = append(attachments, b.imageViews.get(uint64(view)))
	}

	framebuffer, _, err := b.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  b.renderPasses.get(uint64(info.RenderPass)),
		Attachments: attachments,
		Width:       info.Width,
		Height:      info.Height,
		Layers:      info.Layers,
	})
	if err != nil {
		return 0, err
	}
	return gpu.FramebufferHandle(b.framebuffers.add(framebuffer)), nil
}

func (b *Backend) DestroyFramebuffer(framebuffer gpu.FramebufferHandle) {
	if obj, ok := b.framebuffers.remove(uint64(framebuffer)); ok {
		b.deviceDriver.DestroyFramebuffer(obj, nil)
	}
}

func (b *Backend) CreateShaderModule(code []uint32) (gpu.ShaderModuleHandle, error) {
	module, _, err := b.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return 0, err
	}
	return gpu.ShaderModuleHandle(b.shaderModules.add(module)), nil
}

func (b *Backend) DestroyShaderModule(module gpu.ShaderModuleHandle) {
	if obj, ok := b.shaderModules.remove(uint64(module)); ok {
		b.deviceDriver.DestroyShaderModule(obj, nil)
	}
}

func (b *Backend) CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (gpu.DescriptorSetLayoutHandle, error) {
	layout, _, err := b.deviceDriver.CreateDescriptorSetLayout(nil, info)
	if err != nil {
		return 0, err
	}
	return gpu.DescriptorSetLayoutHandle(b.descriptorSetLayouts.add(layout)), nil
}

func (b *Backend) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayoutHandle) {
	if obj, ok := b.descriptorSetLayouts.remove(uint64(layout)); ok {
		b.deviceDriver.DestroyDescriptorSetLayout(obj, nil)
	}
}

func (b *Backend) CreatePipelineLayout(info gpu.PipelineLayoutCreateInfo) (gpu.PipelineLayoutHandle, error) {
	setLayouts := make([]core1_0.DescriptorSetLayout, 0, len(info.SetLayouts))
	for _, layout := range info.SetLayouts {
		setLayouts = append(setLayouts, b.descriptorSetLayouts.get(uint64(layout)))
	}

	layout, _, err := b.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts:         setLayouts,
		PushConstantRanges: info.PushConstantRanges,
	})
	if err != nil {
		return 0, err
	}
	return gpu.PipelineLayoutHandle(b.pipelineLayouts.add(layout)), nil
}

func (b *Backend) DestroyPipelineLayout(layout gpu.PipelineLayoutHandle) {
	if obj, ok := b.pipelineLayouts.remove(uint64(layout)); ok {
		b.deviceDriver.DestroyPipelineLayout(obj, nil)
	}
}

// CreateGraphicsPipeline goes through the pipeline cache when one is configured.
func (b *Backend) CreateGraphicsPipeline(info gpu.GraphicsPipelineCreateInfo) (gpu.PipelineHandle, error) {
	stages := make([]core1_0.PipelineShaderStageCreateInfo, 0, len(info.Stages))
	for _, stage := range info.Stages {
		stages = append(stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  stage.Stage,
			Module: b.shaderModules.get(uint64(stage.Module)),
			Name:   stage.Name,
		})
	}

	start := hrtime.Now()
	pipelines, _, err := b.deviceDriver.CreateGraphicsPipelines(b.pipelineCache.handle(), nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages:             stages,
			VertexInputState:   info.VertexInputState,
			InputAssemblyState: info.InputAssemblyState,
			ViewportState:      info.ViewportState,
			RasterizationState: info.RasterizationState,
			MultisampleState:   info.MultisampleState,
			DepthStencilState:  info.DepthStencilState,
			ColorBlendState:    info.ColorBlendState,
			Layout:             b.pipelineLayouts.get(uint64(info.Layout)),
			RenderPass:         b.renderPasses.get(uint64(info.RenderPass)),
			Subpass:            info.Subpass,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return 0, err
	}
	b.logger.Debug("vkCreateGraphicsPipelines", slog.Duration("elapsed", hrtime.Since(start)))

	return gpu.PipelineHandle(b.pipelines.add(pipelines[0])), nil
}

func (b *Backend) DestroyPipeline(pipeline gpu.PipelineHandle) {
	if obj, ok := b.pipelines.remove(uint64(pipeline)); ok {
		b.deviceDriver.DestroyPipeline(obj, nil)
	}
}

func (b *Backend) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (gpu.DescriptorPoolHandle, error) {
	pool, _, err := b.deviceDriver.CreateDescriptorPool(nil, info)
	if err != nil {
		return 0, err
	}
	return gpu.DescriptorPoolHandle(b.descriptorPools.add(pool)), nil
}

// DestroyDescriptorPool also forgets every set allocated from the pool.
func (b *Backend) DestroyDescriptorPool(pool gpu.DescriptorPoolHandle) {
	obj, ok := b.descriptorPools.remove(uint64(pool))
	if !ok {
		return
	}
	for handle, set := range b.descriptorSets.objects {
		if set.pool == pool {
			delete(b.descriptorSets.objects, handle)
		}
	}
	b.deviceDriver.DestroyDescriptorPool(obj, nil)
}

func (b *Backend) AllocateDescriptorSet(pool gpu.DescriptorPoolHandle, layout gpu.DescriptorSetLayoutHandle) (gpu.DescriptorSetHandle, error) {
	sets, _, err := b.deviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: b.descriptorPools.get(uint64(pool)),
		SetLayouts:     []core1_0.DescriptorSetLayout{b.descriptorSetLayouts.get(uint64(layout))},
	})
	if err != nil {
		return 0, err
	}
	return gpu.DescriptorSetHandle(b.descriptorSets.add(descriptorSet{set: sets[0], pool: pool})), nil
}

func (b *Backend) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	converted := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, write := range writes {
		set, ok := b.descriptorSets.objects[uint64(write.Set)]
		if !ok {
			return errors.AssertionFailedf("unknown descriptor set %d", write.Set)
		}

		out := core1_0.WriteDescriptorSet{
			DstSet:          set.set,
			DstBinding:      write.Binding,
			DstArrayElement: write.ArrayElement,
			DescriptorType:  write.Type,
		}
		for _, buffer := range write.Buffers {
			out.BufferInfo = append(out.BufferInfo, core1_0.DescriptorBufferInfo{
				Buffer: b.buffers.get(uint64(buffer.Buffer)),
				Offset: buffer.Offset,
				Range:  buffer.Range,
			})
		}
		for _, image := range write.Images {
			out.ImageInfo = append(out.ImageInfo, core1_0.DescriptorImageInfo{
				ImageView:   b.imageViews.get(uint64(image.View)),
				Sampler:     b.samplers.get(uint64(image.Sampler)),
				ImageLayout: image.Layout,
			})
		}
		converted = append(converted, out)
	}

	return b.deviceDriver.UpdateDescriptorSets(converted, nil)
}
