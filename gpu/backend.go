package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Opaque native object handles. The zero value of every handle is the null handle.
type (
	ImageHandle               uint64
	ImageViewHandle           uint64
	SamplerHandle             uint64
	MemoryHandle              uint64
	BufferHandle              uint64
	RenderPassHandle          uint64
	FramebufferHandle         uint64
	ShaderModuleHandle        uint64
	PipelineLayoutHandle      uint64
	PipelineHandle            uint64
	DescriptorSetLayoutHandle uint64
	DescriptorPoolHandle      uint64
	DescriptorSetHandle       uint64
	CommandPoolHandle         uint64
	CommandBufferHandle       uint64
	FenceHandle               uint64
	SemaphoreHandle           uint64
)

// ErrOutOfDate is returned by Backend.AcquireNextImage and Backend.Present when the
// surface no longer matches the swapchain. It is the only retried condition in the engine.
var ErrOutOfDate = errors.New("swapchain out of date")

// ErrSuboptimal is returned when the swapchain still works but should be rebuilt.
var ErrSuboptimal = errors.New("swapchain suboptimal")

type MemoryRequirements struct {
	Size           int
	Alignment      int
	MemoryTypeBits uint32
}

type ImageViewCreateInfo struct {
	Image            ImageHandle
	ViewType         core1_0.ImageViewType
	Format           core1_0.Format
	SubresourceRange core1_0.ImageSubresourceRange
}

type FramebufferCreateInfo struct {
	RenderPass  RenderPassHandle
	Attachments []ImageViewHandle
	Width       int
	Height      int
	Layers      int
}

type ShaderStage struct {
	Stage  core1_0.ShaderStageFlags
	Module ShaderModuleHandle
	Name   string
}

type PipelineLayoutCreateInfo struct {
	SetLayouts         []DescriptorSetLayoutHandle
	PushConstantRanges []core1_0.PushConstantRange
}

type GraphicsPipelineCreateInfo struct {
	Stages             []ShaderStage
	VertexInputState   *core1_0.PipelineVertexInputStateCreateInfo
	InputAssemblyState *core1_0.PipelineInputAssemblyStateCreateInfo
	ViewportState      *core1_0.PipelineViewportStateCreateInfo
	RasterizationState *core1_0.PipelineRasterizationStateCreateInfo
	MultisampleState   *core1_0.PipelineMultisampleStateCreateInfo
	DepthStencilState  *core1_0.PipelineDepthStencilStateCreateInfo
	ColorBlendState    *core1_0.PipelineColorBlendStateCreateInfo
	Layout             PipelineLayoutHandle
	RenderPass         RenderPassHandle
	Subpass            int
}

type DescriptorBuffer struct {
	Buffer BufferHandle
	Offset int
	Range  int
}

type DescriptorImage struct {
	View    ImageViewHandle
	Sampler SamplerHandle
	Layout  core1_0.ImageLayout
}

type DescriptorWrite struct {
	Set          DescriptorSetHandle
	Binding      int
	ArrayElement int
	Type         core1_0.DescriptorType
	Buffers      []DescriptorBuffer
	Images       []DescriptorImage
}

type RenderPassBegin struct {
	RenderPass  RenderPassHandle
	Framebuffer FramebufferHandle
	Area        core1_0.Rect2D
	ClearValues []core1_0.ClearValue
}

type ImageBarrier struct {
	Image     ImageHandle
	OldLayout core1_0.ImageLayout
	NewLayout core1_0.ImageLayout
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
	Range     core1_0.ImageSubresourceRange
}

type SubmitInfo struct {
	WaitSemaphores   []SemaphoreHandle
	WaitStages       []core1_0.PipelineStageFlags
	CommandBuffers   []CommandBufferHandle
	SignalSemaphores []SemaphoreHandle
}

type SwapchainCreateInfo struct {
	Width  int
	Height int
	VSync  bool
}

// SwapchainInfo describes the presentable images owned by the backend's swapchain.
type SwapchainInfo struct {
	Images []ImageHandle
	Format core1_0.Format
	Extent core1_0.Extent2D
}

// Backend is the native graphics API as seen by the engine. All methods are called from the
// render thread only; implementations need no internal locking.
type Backend interface {
	MemoryTypes() []core1_0.MemoryPropertyFlags
	FormatProperties(format core1_0.Format) core1_0.FormatProperties
	MaxSampleCount() core1_0.SampleCountFlags

	CreateImage(info core1_0.ImageCreateInfo) (ImageHandle, error)
	DestroyImage(image ImageHandle)
	ImageMemoryRequirements(image ImageHandle) MemoryRequirements
	BindImageMemory(image ImageHandle, memory MemoryHandle, offset int) error
	CreateImageView(info ImageViewCreateInfo) (ImageViewHandle, error)
	DestroyImageView(view ImageViewHandle)
	CreateSampler(info core1_0.SamplerCreateInfo) (SamplerHandle, error)
	DestroySampler(sampler SamplerHandle)

	CreateBuffer(info core1_0.BufferCreateInfo) (BufferHandle, error)
	DestroyBuffer(buffer BufferHandle)
	BufferMemoryRequirements(buffer BufferHandle) MemoryRequirements
	BindBufferMemory(buffer BufferHandle, memory MemoryHandle, offset int) error

	AllocateMemory(size int, memoryTypeIndex int) (MemoryHandle, error)
	FreeMemory(memory MemoryHandle)
	MapMemory(memory MemoryHandle, offset, size int) ([]byte, error)
	UnmapMemory(memory MemoryHandle)

	CreateRenderPass(info core1_0.RenderPassCreateInfo) (RenderPassHandle, error)
	DestroyRenderPass(pass RenderPassHandle)
	CreateFramebuffer(info FramebufferCreateInfo) (FramebufferHandle, error)
	DestroyFramebuffer(framebuffer FramebufferHandle)

	CreateShaderModule(code []uint32) (ShaderModuleHandle, error)
	DestroyShaderModule(module ShaderModuleHandle)
	CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (DescriptorSetLayoutHandle, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayoutHandle)
	CreatePipelineLayout(info PipelineLayoutCreateInfo) (PipelineLayoutHandle, error)
	DestroyPipelineLayout(layout PipelineLayoutHandle)
	CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (PipelineHandle, error)
	DestroyPipeline(pipeline PipelineHandle)

	CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (DescriptorPoolHandle, error)
	DestroyDescriptorPool(pool DescriptorPoolHandle)
	AllocateDescriptorSet(pool DescriptorPoolHandle, layout DescriptorSetLayoutHandle) (DescriptorSetHandle, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error

	CreateCommandPool(transient bool) (CommandPoolHandle, error)
	DestroyCommandPool(pool CommandPoolHandle)
	ResetCommandPool(pool CommandPoolHandle) error
	AllocateCommandBuffer(pool CommandPoolHandle) (CommandBufferHandle, error)
	FreeCommandBuffer(pool CommandPoolHandle, cmd CommandBufferHandle)
	BeginCommandBuffer(cmd CommandBufferHandle, oneTimeSubmit bool) error
	EndCommandBuffer(cmd CommandBufferHandle) error

	CmdBeginRenderPass(cmd CommandBufferHandle, begin RenderPassBegin) error
	CmdEndRenderPass(cmd CommandBufferHandle)
	CmdBindPipeline(cmd CommandBufferHandle, pipeline PipelineHandle)
	CmdBindDescriptorSets(cmd CommandBufferHandle, layout PipelineLayoutHandle, firstSet int, sets []DescriptorSetHandle)
	CmdBindVertexBuffer(cmd CommandBufferHandle, buffer BufferHandle, offset int)
	CmdBindIndexBuffer(cmd CommandBufferHandle, buffer BufferHandle, offset int, indexType core1_0.IndexType)
	CmdPushConstants(cmd CommandBufferHandle, layout PipelineLayoutHandle, stages core1_0.ShaderStageFlags, offset int, data []byte)
	CmdDraw(cmd CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance int)
	CmdDrawIndexed(cmd CommandBufferHandle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int)
	CmdPipelineBarrier(cmd CommandBufferHandle, srcStage, dstStage core1_0.PipelineStageFlags, barriers []ImageBarrier) error
	CmdCopyBuffer(cmd CommandBufferHandle, src, dst BufferHandle, regions []core1_0.BufferCopy) error
	CmdCopyBufferToImage(cmd CommandBufferHandle, src BufferHandle, dst ImageHandle, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error
	CmdBlitImage(cmd CommandBufferHandle, src ImageHandle, srcLayout core1_0.ImageLayout, dst ImageHandle, dstLayout core1_0.ImageLayout, regions []core1_0.ImageBlit, filter core1_0.Filter) error

	CreateFence(signaled bool) (FenceHandle, error)
	DestroyFence(fence FenceHandle)
	WaitForFence(fence FenceHandle) error
	ResetFence(fence FenceHandle) error
	CreateSemaphore() (SemaphoreHandle, error)
	DestroySemaphore(semaphore SemaphoreHandle)
	QueueSubmit(info SubmitInfo, fence FenceHandle) error
	QueueWaitIdle() error
	DeviceWaitIdle() error

	// CreateSwapchain replaces any previous swapchain. Images returned are owned by the
	// backend and stay valid until the next CreateSwapchain or DestroySwapchain.
	CreateSwapchain(info SwapchainCreateInfo) (SwapchainInfo, error)
	DestroySwapchain()
	AcquireNextImage(signal SemaphoreHandle) (int, error)
	Present(wait SemaphoreHandle, imageIndex int) error
}
