// Package gputest provides an in-memory gpu.Backend that simulates fence signalling and
// records what the engine asks of the GPU.
package gputest

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framegraph/gpu"
)

var _ gpu.Backend = (*Backend)(nil)

// Draw is a recorded indexed or non-indexed draw along with the state bound at the time.
type Draw struct {
	Command      gpu.CommandBufferHandle
	Pipeline     gpu.PipelineHandle
	RenderPass   gpu.RenderPassHandle
	IndexBuffer  gpu.BufferHandle
	VertexBuffer gpu.BufferHandle
	VertexOffset int

	IndexCount        int
	FirstIndex        int
	BaseVertex        int
	VertexCount       int
	InstanceCount     int
	PushConstants     []byte
	DescriptorSets    []gpu.DescriptorSetHandle
	PipelineLayoutSet gpu.PipelineLayoutHandle
}

type Blit struct {
	Src, Dst             gpu.ImageHandle
	SrcLayout, DstLayout core1_0.ImageLayout
}

type fence struct {
	signaled bool
	pending  bool
}

type object struct {
	kind   string
	handle uint64
}

type commandState struct {
	// used holds every object recorded into the buffer since it was begun.
	used map[object]struct{}

	recording    bool
	pool         gpu.CommandPoolHandle
	pendingFence gpu.FenceHandle
	submitted    bool

	renderPass   gpu.RenderPassHandle
	pipeline     gpu.PipelineHandle
	layout       gpu.PipelineLayoutHandle
	indexBuffer  gpu.BufferHandle
	vertexBuffer gpu.BufferHandle
	vertexOffset int
	push         []byte
	sets         []gpu.DescriptorSetHandle
}

type Allocation struct {
	Memory          gpu.MemoryHandle
	Size            int
	MemoryTypeIndex int
}

// Backend is a fake gpu.Backend. GPU work completes the moment something waits on it.
// Misuse that a real driver would hang or corrupt on is collected in Violations.
type Backend struct {
	Types          []core1_0.MemoryPropertyFlags
	Formats        map[core1_0.Format]core1_0.FormatProperties
	Samples        core1_0.SampleCountFlags
	SwapchainCount int
	SurfaceFormat  core1_0.Format

	// AcquireResults and PresentResults are consumed one per call; nil entries succeed.
	AcquireResults []error
	PresentResults []error

	// FailCreate makes the next create call of the named kind fail.
	FailCreate map[string]error

	Calls      []string
	Violations []string
	Draws      []Draw
	Blits      []Blit
	Barriers   []gpu.ImageBarrier
	Writes     []gpu.DescriptorWrite
	Allocated  []Allocation
	Submits    []gpu.SubmitInfo

	RenderPasses  map[gpu.RenderPassHandle]core1_0.RenderPassCreateInfo
	Framebuffers  map[gpu.FramebufferHandle]gpu.FramebufferCreateInfo
	Pipelines     map[gpu.PipelineHandle]gpu.GraphicsPipelineCreateInfo
	Images        map[gpu.ImageHandle]core1_0.ImageCreateInfo
	BufferInfos   map[gpu.BufferHandle]core1_0.BufferCreateInfo
	SwapchainInfo gpu.SwapchainInfo

	next      uint64
	live      map[string]map[uint64]struct{}
	fences    map[gpu.FenceHandle]*fence
	commands  map[gpu.CommandBufferHandle]*commandState
	memory    map[gpu.MemoryHandle][]byte
	acquired  int
	swapchain bool
}

func NewBackend() *Backend {
	return &Backend{
		Types: []core1_0.MemoryPropertyFlags{
			core1_0.MemoryPropertyDeviceLocal,
			core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		},
		Formats:        map[core1_0.Format]core1_0.FormatProperties{},
		Samples:        core1_0.Samples8,
		SwapchainCount: 3,
		SurfaceFormat:  core1_0.FormatB8G8R8A8SRGB,
		FailCreate:     map[string]error{},
		RenderPasses:   map[gpu.RenderPassHandle]core1_0.RenderPassCreateInfo{},
		Framebuffers:   map[gpu.FramebufferHandle]gpu.FramebufferCreateInfo{},
		Pipelines:      map[gpu.PipelineHandle]gpu.GraphicsPipelineCreateInfo{},
		Images:         map[gpu.ImageHandle]core1_0.ImageCreateInfo{},
		BufferInfos:    map[gpu.BufferHandle]core1_0.BufferCreateInfo{},
		live:           map[string]map[uint64]struct{}{},
		fences:         map[gpu.FenceHandle]*fence{},
		commands:       map[gpu.CommandBufferHandle]*commandState{},
		memory:         map[gpu.MemoryHandle][]byte{},
		acquired:       -1,
	}
}

func (b *Backend) call(format string, args ...any) {
	b.Calls = append(b.Calls, fmt.Sprintf(format, args...))
}

func (b *Backend) violate(format string, args ...any) {
	b.Violations = append(b.Violations, fmt.Sprintf(format, args...))
}

func (b *Backend) create(kind string) (uint64, error) {
	if err, ok := b.FailCreate[kind]; ok {
		delete(b.FailCreate, kind)
		return 0, err
	}
	b.next++
	if b.live[kind] == nil {
		b.live[kind] = map[uint64]struct{}{}
	}
	b.live[kind][b.next] = struct{}{}
	return b.next, nil
}

func (b *Backend) destroy(kind string, handle uint64) {
	if _, ok := b.live[kind][handle]; !ok {
		b.violate("destroy of unknown %s %d", kind, handle)
		return
	}
	for cmdHandle, cmd := range b.commands {
		if _, used := cmd.used[object{kind, handle}]; !used {
			continue
		}
		if cmd.recording {
			b.violate("%s %d destroyed while command buffer %d is still recording", kind, handle, cmdHandle)
		} else if b.inFlight(cmd) {
			b.violate("%s %d destroyed while command buffer %d is in flight", kind, handle, cmdHandle)
		}
	}
	delete(b.live[kind], handle)
}

func (b *Backend) use(cmd *commandState, kind string, handle uint64) {
	if cmd.used == nil {
		cmd.used = map[object]struct{}{}
	}
	cmd.used[object{kind, handle}] = struct{}{}
}

// Alive reports whether the object of kind with handle has been created and not destroyed.
func (b *Backend) Alive(kind string, handle uint64) bool {
	_, ok := b.live[kind][handle]
	return ok
}

// Live reports how many objects of kind exist, e.g. "image", "buffer", "pipeline".
func (b *Backend) Live(kind string) int {
	return len(b.live[kind])
}

// Leaks lists every kind with live objects, sorted.
func (b *Backend) Leaks() []string {
	var leaks []string
	for kind, handles := range b.live {
		if len(handles) > 0 {
			leaks = append(leaks, fmt.Sprintf("%s x%d", kind, len(handles)))
		}
	}
	sort.Strings(leaks)
	return leaks
}

// FenceSignaled reports the simulated state of fence.
func (b *Backend) FenceSignaled(handle gpu.FenceHandle) bool {
	f := b.fences[handle]
	return f != nil && f.signaled
}

func (b *Backend) ResetRecording() {
	b.Calls = nil
	b.Draws = nil
	b.Blits = nil
	b.Barriers = nil
	b.Writes = nil
	b.Submits = nil
}

func (b *Backend) MemoryTypes() []core1_0.MemoryPropertyFlags {
	return b.Types
}

func (b *Backend) FormatProperties(format core1_0.Format) core1_0.FormatProperties {
	if props, ok := b.Formats[format]; ok {
		return props
	}
	all := core1_0.FormatFeatureSampledImage | core1_0.FormatFeatureSampledImageFilterLinear |
		core1_0.FormatFeatureColorAttachment | core1_0.FormatFeatureDepthStencilAttachment |
		core1_0.FormatFeatureBlitSource | core1_0.FormatFeatureBlitDestination
	return core1_0.FormatProperties{
		LinearTilingFeatures:  all,
		OptimalTilingFeatures: all,
	}
}

func (b *Backend) MaxSampleCount() core1_0.SampleCountFlags {
	return b.Samples
}

func (b *Backend) CreateImage(info core1_0.ImageCreateInfo) (gpu.ImageHandle, error) {
	h, err := b.create("image")
	if err != nil {
		return 0, err
	}
	b.Images[gpu.ImageHandle(h)] = info
	return gpu.ImageHandle(h), nil
}

func (b *Backend) DestroyImage(image gpu.ImageHandle) {
	b.destroy("image", uint64(image))
}

func (b *Backend) ImageMemoryRequirements(image gpu.ImageHandle) gpu.MemoryRequirements {
	info := b.Images[image]
	return gpu.MemoryRequirements{
		Size:           info.Extent.Width * info.Extent.Height * 4,
		Alignment:      256,
		MemoryTypeBits: uint32(1<<len(b.Types)) - 1,
	}
}

func (b *Backend) BindImageMemory(image gpu.ImageHandle, memory gpu.MemoryHandle, offset int) error {
	return nil
}

func (b *Backend) CreateImageView(info gpu.ImageViewCreateInfo) (gpu.ImageViewHandle, error) {
	h, err := b.create("imageView")
	return gpu.ImageViewHandle(h), err
}

func (b *Backend) DestroyImageView(view gpu.ImageViewHandle) {
	b.destroy("imageView", uint64(view))
}

func (b *Backend) CreateSampler(info core1_0.SamplerCreateInfo) (gpu.SamplerHandle, error) {
	h, err := b.create("sampler")
	return gpu.SamplerHandle(h), err
}

func (b *Backend) DestroySampler(sampler gpu.SamplerHandle) {
	b.destroy("sampler", uint64(sampler))
}

func (b *Backend) CreateBuffer(info core1_0.BufferCreateInfo) (gpu.BufferHandle, error) {
	h, err := b.create("buffer")
	if err != nil {
		return 0, err
	}
	b.BufferInfos[gpu.BufferHandle(h)] = info
	return gpu.BufferHandle(h), nil
}

func (b *Backend) DestroyBuffer(buffer gpu.BufferHandle) {
	b.destroy("buffer", uint64(buffer))
}

func (b *Backend) BufferMemoryRequirements(buffer gpu.BufferHandle) gpu.MemoryRequirements {
	return gpu.MemoryRequirements{
		Size:           b.BufferInfos[buffer].Size,
		Alignment:      256,
		MemoryTypeBits: uint32(1<<len(b.Types)) - 1,
	}
}

func (b *Backend) BindBufferMemory(buffer gpu.BufferHandle, memory gpu.MemoryHandle, offset int) error {
	return nil
}

func (b *Backend) AllocateMemory(size int, memoryTypeIndex int) (gpu.MemoryHandle, error) {
	h, err := b.create("memory")
	if err != nil {
		return 0, err
	}
	b.memory[gpu.MemoryHandle(h)] = make([]byte, size)
	b.Allocated = append(b.Allocated, Allocation{Memory: gpu.MemoryHandle(h), Size: size, MemoryTypeIndex: memoryTypeIndex})
	return gpu.MemoryHandle(h), nil
}

func (b *Backend) FreeMemory(memory gpu.MemoryHandle) {
	b.destroy("memory", uint64(memory))
	delete(b.memory, memory)
}

func (b *Backend) MapMemory(memory gpu.MemoryHandle, offset, size int) ([]byte, error) {
	data, ok := b.memory[memory]
	if !ok {
		return nil, errors.Newf("map of unknown memory %d", memory)
	}
	return data[offset : offset+size], nil
}

func (b *Backend) UnmapMemory(memory gpu.MemoryHandle) {}

// Memory returns the simulated contents of an allocation.
func (b *Backend) Memory(memory gpu.MemoryHandle) []byte {
	return b.memory[memory]
}

func (b *Backend) CreateRenderPass(info core1_0.RenderPassCreateInfo) (gpu.RenderPassHandle, error) {
	h, err := b.create("renderPass")
	if err != nil {
		return 0, err
	}
	b.RenderPasses[gpu.RenderPassHandle(h)] = info
	return gpu.RenderPassHandle(h), nil
}

func (b *Backend) DestroyRenderPass(pass gpu.RenderPassHandle) {
	b.destroy("renderPass", uint64(pass))
}

func (b *Backend) CreateFramebuffer(info gpu.FramebufferCreateInfo) (gpu.FramebufferHandle, error) {
	if _, ok := b.live["renderPass"][uint64(info.RenderPass)]; !ok {
		b.violate("framebuffer created for unknown render pass %d", info.RenderPass)
	}
	h, err := b.create("framebuffer")
	if err != nil {
		return 0, err
	}
	b.Framebuffers[gpu.FramebufferHandle(h)] = info
	return gpu.FramebufferHandle(h), nil
}

func (b *Backend) DestroyFramebuffer(framebuffer gpu.FramebufferHandle) {
	b.destroy("framebuffer", uint64(framebuffer))
}

func (b *Backend) CreateShaderModule(code []uint32) (gpu.ShaderModuleHandle, error) {
	h, err := b.create("shaderModule")
	return gpu.ShaderModuleHandle(h), err
}

func (b *Backend) DestroyShaderModule(module gpu.ShaderModuleHandle) {
	b.destroy("shaderModule", uint64(module))
}

func (b *Backend) CreateDescriptorSetLayout(info core1_0.DescriptorSetLayoutCreateInfo) (gpu.DescriptorSetLayoutHandle, error) {
	h, err := b.create("descriptorSetLayout")
	return gpu.DescriptorSetLayoutHandle(h), err
}

func (b *Backend) DestroyDescriptorSetLayout(layout gpu.DescriptorSetLayoutHandle) {
	b.destroy("descriptorSetLayout", uint64(layout))
}

func (b *Backend) CreatePipelineLayout(info gpu.PipelineLayoutCreateInfo) (gpu.PipelineLayoutHandle, error) {
	h, err := b.create("pipelineLayout")
	return gpu.PipelineLayoutHandle(h), err
}

func (b *Backend) DestroyPipelineLayout(layout gpu.PipelineLayoutHandle) {
	b.destroy("pipelineLayout", uint64(layout))
}

func (b *Backend) CreateGraphicsPipeline(info gpu.GraphicsPipelineCreateInfo) (gpu.PipelineHandle, error) {
	if _, ok := b.live["renderPass"][uint64(info.RenderPass)]; !ok {
		b.violate("pipeline created for unknown render pass %d", info.RenderPass)
	}
	h, err := b.create("pipeline")
	if err != nil {
		return 0, err
	}
	b.Pipelines[gpu.PipelineHandle(h)] = info
	return gpu.PipelineHandle(h), nil
}

func (b *Backend) DestroyPipeline(pipeline gpu.PipelineHandle) {
	b.destroy("pipeline", uint64(pipeline))
}

func (b *Backend) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (gpu.DescriptorPoolHandle, error) {
	h, err := b.create("descriptorPool")
	return gpu.DescriptorPoolHandle(h), err
}

func (b *Backend) DestroyDescriptorPool(pool gpu.DescriptorPoolHandle) {
	b.destroy("descriptorPool", uint64(pool))
}

// Descriptor sets are freed with their pool, so they are not tracked as live objects.
func (b *Backend) AllocateDescriptorSet(pool gpu.DescriptorPoolHandle, layout gpu.DescriptorSetLayoutHandle) (gpu.DescriptorSetHandle, error) {
	if err, ok := b.FailCreate["descriptorSet"]; ok {
		delete(b.FailCreate, "descriptorSet")
		return 0, err
	}
	b.next++
	return gpu.DescriptorSetHandle(b.next), nil
}

func (b *Backend) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	b.Writes = append(b.Writes, writes...)
	return nil
}

func (b *Backend) CreateCommandPool(transient bool) (gpu.CommandPoolHandle, error) {
	h, err := b.create("commandPool")
	return gpu.CommandPoolHandle(h), err
}

func (b *Backend) DestroyCommandPool(pool gpu.CommandPoolHandle) {
	b.destroy("commandPool", uint64(pool))
	for handle, cmd := range b.commands {
		if cmd.pool == pool {
			delete(b.commands, handle)
		}
	}
}

func (b *Backend) ResetCommandPool(pool gpu.CommandPoolHandle) error {
	for handle, cmd := range b.commands {
		if cmd.pool != pool {
			continue
		}
		if b.inFlight(cmd) {
			b.violate("command pool %d reset while command buffer %d is in flight", pool, handle)
		}
		cmd.recording = false
	}
	b.call("ResetCommandPool %d", pool)
	return nil
}

func (b *Backend) AllocateCommandBuffer(pool gpu.CommandPoolHandle) (gpu.CommandBufferHandle, error) {
	b.next++
	handle := gpu.CommandBufferHandle(b.next)
	b.commands[handle] = &commandState{pool: pool}
	return handle, nil
}

func (b *Backend) FreeCommandBuffer(pool gpu.CommandPoolHandle, cmd gpu.CommandBufferHandle) {
	delete(b.commands, cmd)
}

func (b *Backend) inFlight(cmd *commandState) bool {
	if !cmd.submitted {
		return false
	}
	if cmd.pendingFence == 0 {
		return false
	}
	f := b.fences[cmd.pendingFence]
	return f != nil && f.pending
}

func (b *Backend) command(handle gpu.CommandBufferHandle) *commandState {
	cmd, ok := b.commands[handle]
	if !ok {
		b.violate("use of unknown command buffer %d", handle)
		cmd = &commandState{}
		b.commands[handle] = cmd
	}
	return cmd
}

func (b *Backend) BeginCommandBuffer(handle gpu.CommandBufferHandle, oneTimeSubmit bool) error {
	cmd := b.command(handle)
	if b.inFlight(cmd) {
		b.violate("command buffer %d re-recorded while in flight", handle)
	}
	if cmd.recording {
		b.violate("command buffer %d begun twice", handle)
	}
	*cmd = commandState{pool: cmd.pool, recording: true}
	b.call("BeginCommandBuffer %d", handle)
	return nil
}

func (b *Backend) EndCommandBuffer(handle gpu.CommandBufferHandle) error {
	cmd := b.command(handle)
	if !cmd.recording {
		b.violate("end of command buffer %d that is not recording", handle)
	}
	if cmd.renderPass != 0 {
		b.violate("command buffer %d ended inside render pass %d", handle, cmd.renderPass)
	}
	cmd.recording = false
	b.call("EndCommandBuffer %d", handle)
	return nil
}

func (b *Backend) recording(handle gpu.CommandBufferHandle, op string) *commandState {
	cmd := b.command(handle)
	if !cmd.recording {
		b.violate("%s on command buffer %d that is not recording", op, handle)
	}
	return cmd
}

func (b *Backend) CmdBeginRenderPass(handle gpu.CommandBufferHandle, begin gpu.RenderPassBegin) error {
	cmd := b.recording(handle, "CmdBeginRenderPass")
	if cmd.renderPass != 0 {
		b.violate("render pass %d begun inside render pass %d", begin.RenderPass, cmd.renderPass)
	}
	fb, ok := b.Framebuffers[begin.Framebuffer]
	if !ok {
		b.violate("render pass %d begun with unknown framebuffer %d", begin.RenderPass, begin.Framebuffer)
	} else if _, live := b.live["framebuffer"][uint64(begin.Framebuffer)]; !live {
		b.violate("render pass %d begun with destroyed framebuffer %d", begin.RenderPass, begin.Framebuffer)
	} else if fb.RenderPass != begin.RenderPass {
		b.violate("framebuffer %d belongs to render pass %d, not %d", begin.Framebuffer, fb.RenderPass, begin.RenderPass)
	}
	cmd.renderPass = begin.RenderPass
	b.use(cmd, "renderPass", uint64(begin.RenderPass))
	b.use(cmd, "framebuffer", uint64(begin.Framebuffer))
	for _, view := range fb.Attachments {
		b.use(cmd, "imageView", uint64(view))
	}
	b.call("CmdBeginRenderPass %d", begin.RenderPass)
	return nil
}

func (b *Backend) CmdEndRenderPass(handle gpu.CommandBufferHandle) {
	cmd := b.recording(handle, "CmdEndRenderPass")
	if cmd.renderPass == 0 {
		b.violate("render pass ended on command buffer %d outside any pass", handle)
	}
	b.call("CmdEndRenderPass %d", cmd.renderPass)
	cmd.renderPass = 0
}

func (b *Backend) CmdBindPipeline(handle gpu.CommandBufferHandle, pipeline gpu.PipelineHandle) {
	cmd := b.recording(handle, "CmdBindPipeline")
	if info, ok := b.Pipelines[pipeline]; !ok {
		b.violate("bind of unknown pipeline %d", pipeline)
	} else if cmd.renderPass != 0 && info.RenderPass != cmd.renderPass {
		b.violate("pipeline %d built for render pass %d bound inside render pass %d", pipeline, info.RenderPass, cmd.renderPass)
	}
	cmd.pipeline = pipeline
	b.use(cmd, "pipeline", uint64(pipeline))
	b.call("CmdBindPipeline %d", pipeline)
}

func (b *Backend) CmdBindDescriptorSets(handle gpu.CommandBufferHandle, layout gpu.PipelineLayoutHandle, firstSet int, sets []gpu.DescriptorSetHandle) {
	cmd := b.recording(handle, "CmdBindDescriptorSets")
	cmd.layout = layout
	b.use(cmd, "pipelineLayout", uint64(layout))
	cmd.sets = append([]gpu.DescriptorSetHandle(nil), sets...)
}

func (b *Backend) CmdBindVertexBuffer(handle gpu.CommandBufferHandle, buffer gpu.BufferHandle, offset int) {
	cmd := b.recording(handle, "CmdBindVertexBuffer")
	cmd.vertexBuffer = buffer
	cmd.vertexOffset = offset
	b.use(cmd, "buffer", uint64(buffer))
	b.call("CmdBindVertexBuffer %d %d", buffer, offset)
}

func (b *Backend) CmdBindIndexBuffer(handle gpu.CommandBufferHandle, buffer gpu.BufferHandle, offset int, indexType core1_0.IndexType) {
	cmd := b.recording(handle, "CmdBindIndexBuffer")
	cmd.indexBuffer = buffer
	b.use(cmd, "buffer", uint64(buffer))
	b.call("CmdBindIndexBuffer %d", buffer)
}

func (b *Backend) CmdPushConstants(handle gpu.CommandBufferHandle, layout gpu.PipelineLayoutHandle, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	cmd := b.recording(handle, "CmdPushConstants")
	cmd.push = append([]byte(nil), data...)
}

func (b *Backend) drawState(handle gpu.CommandBufferHandle, op string) (*commandState, Draw) {
	cmd := b.recording(handle, op)
	if cmd.renderPass == 0 {
		b.violate("%s outside a render pass", op)
	}
	if cmd.pipeline == 0 {
		b.violate("%s without a bound pipeline", op)
	}
	return cmd, Draw{
		Command:           handle,
		Pipeline:          cmd.pipeline,
		RenderPass:        cmd.renderPass,
		IndexBuffer:       cmd.indexBuffer,
		VertexBuffer:      cmd.vertexBuffer,
		VertexOffset:      cmd.vertexOffset,
		PushConstants:     cmd.push,
		DescriptorSets:    cmd.sets,
		PipelineLayoutSet: cmd.layout,
	}
}

func (b *Backend) CmdDraw(handle gpu.CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance int) {
	_, draw := b.drawState(handle, "CmdDraw")
	draw.VertexCount = vertexCount
	draw.InstanceCount = instanceCount
	b.Draws = append(b.Draws, draw)
}

func (b *Backend) CmdDrawIndexed(handle gpu.CommandBufferHandle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	cmd, draw := b.drawState(handle, "CmdDrawIndexed")
	if cmd.indexBuffer == 0 {
		b.violate("CmdDrawIndexed without an index buffer")
	}
	draw.IndexCount = indexCount
	draw.InstanceCount = instanceCount
	draw.FirstIndex = firstIndex
	draw.BaseVertex = vertexOffset
	b.Draws = append(b.Draws, draw)
}

func (b *Backend) CmdPipelineBarrier(handle gpu.CommandBufferHandle, srcStage, dstStage core1_0.PipelineStageFlags, barriers []gpu.ImageBarrier) error {
	cmd := b.recording(handle, "CmdPipelineBarrier")
	if cmd.renderPass != 0 {
		b.violate("pipeline barrier inside render pass %d", cmd.renderPass)
	}
	for _, barrier := range barriers {
		b.use(cmd, "image", uint64(barrier.Image))
	}
	b.Barriers = append(b.Barriers, barriers...)
	return nil
}

func (b *Backend) CmdCopyBuffer(handle gpu.CommandBufferHandle, src, dst gpu.BufferHandle, regions []core1_0.BufferCopy) error {
	cmd := b.recording(handle, "CmdCopyBuffer")
	b.use(cmd, "buffer", uint64(src))
	b.use(cmd, "buffer", uint64(dst))
	b.call("CmdCopyBuffer %d %d", src, dst)
	return nil
}

func (b *Backend) CmdCopyBufferToImage(handle gpu.CommandBufferHandle, src gpu.BufferHandle, dst gpu.ImageHandle, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	cmd := b.recording(handle, "CmdCopyBufferToImage")
	b.use(cmd, "buffer", uint64(src))
	b.use(cmd, "image", uint64(dst))
	if layout != core1_0.ImageLayoutTransferDstOptimal {
		b.violate("copy into image %d in layout %s", dst, layout)
	}
	b.call("CmdCopyBufferToImage %d %d", src, dst)
	return nil
}

func (b *Backend) CmdBlitImage(handle gpu.CommandBufferHandle, src gpu.ImageHandle, srcLayout core1_0.ImageLayout, dst gpu.ImageHandle, dstLayout core1_0.ImageLayout, regions []core1_0.ImageBlit, filter core1_0.Filter) error {
	cmd := b.recording(handle, "CmdBlitImage")
	if cmd.renderPass != 0 {
		b.violate("blit inside render pass %d", cmd.renderPass)
	}
	b.use(cmd, "image", uint64(src))
	b.use(cmd, "image", uint64(dst))
	b.Blits = append(b.Blits, Blit{Src: src, Dst: dst, SrcLayout: srcLayout, DstLayout: dstLayout})
	return nil
}

func (b *Backend) CreateFence(signaled bool) (gpu.FenceHandle, error) {
	h, err := b.create("fence")
	if err != nil {
		return 0, err
	}
	b.fences[gpu.FenceHandle(h)] = &fence{signaled: signaled}
	return gpu.FenceHandle(h), nil
}

func (b *Backend) DestroyFence(handle gpu.FenceHandle) {
	b.destroy("fence", uint64(handle))
	delete(b.fences, handle)
}

func (b *Backend) WaitForFence(handle gpu.FenceHandle) error {
	f, ok := b.fences[handle]
	if !ok {
		return errors.Newf("wait on unknown fence %d", handle)
	}
	b.call("WaitForFence %d", handle)
	if f.pending {
		f.pending = false
		f.signaled = true
	}
	if !f.signaled {
		b.violate("wait on fence %d that nothing will signal", handle)
	}
	return nil
}

func (b *Backend) ResetFence(handle gpu.FenceHandle) error {
	f, ok := b.fences[handle]
	if !ok {
		return errors.Newf("reset of unknown fence %d", handle)
	}
	if f.pending {
		b.violate("reset of fence %d while its work is in flight", handle)
	}
	f.signaled = false
	b.call("ResetFence %d", handle)
	return nil
}

func (b *Backend) CreateSemaphore() (gpu.SemaphoreHandle, error) {
	h, err := b.create("semaphore")
	return gpu.SemaphoreHandle(h), err
}

func (b *Backend) DestroySemaphore(semaphore gpu.SemaphoreHandle) {
	b.destroy("semaphore", uint64(semaphore))
}

func (b *Backend) QueueSubmit(info gpu.SubmitInfo, fenceHandle gpu.FenceHandle) error {
	if fenceHandle != 0 {
		f, ok := b.fences[fenceHandle]
		if !ok {
			return errors.Newf("submit with unknown fence %d", fenceHandle)
		}
		if f.signaled || f.pending {
			b.violate("submit with fence %d that was not reset", fenceHandle)
		}
		f.pending = true
	}
	for _, handle := range info.CommandBuffers {
		cmd := b.command(handle)
		if cmd.recording {
			b.violate("submit of command buffer %d that is still recording", handle)
		}
		cmd.submitted = true
		cmd.pendingFence = fenceHandle
	}
	b.Submits = append(b.Submits, info)
	b.call("QueueSubmit %d", fenceHandle)
	return nil
}

func (b *Backend) completeAll() {
	for _, f := range b.fences {
		if f.pending {
			f.pending = false
			f.signaled = true
		}
	}
}

func (b *Backend) QueueWaitIdle() error {
	b.completeAll()
	return nil
}

func (b *Backend) DeviceWaitIdle() error {
	b.completeAll()
	b.call("DeviceWaitIdle")
	return nil
}

func (b *Backend) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.SwapchainInfo, error) {
	if err, ok := b.FailCreate["swapchain"]; ok {
		delete(b.FailCreate, "swapchain")
		return gpu.SwapchainInfo{}, err
	}
	b.DestroySwapchain()

	images := make([]gpu.ImageHandle, b.SwapchainCount)
	for i := range images {
		b.next++
		images[i] = gpu.ImageHandle(b.next)
	}
	b.SwapchainInfo = gpu.SwapchainInfo{
		Images: images,
		Format: b.SurfaceFormat,
		Extent: core1_0.Extent2D{Width: info.Width, Height: info.Height},
	}
	b.swapchain = true
	b.acquired = -1
	b.call("CreateSwapchain %dx%d", info.Width, info.Height)
	return b.SwapchainInfo, nil
}

func (b *Backend) DestroySwapchain() {
	b.swapchain = false
}

func (b *Backend) AcquireNextImage(signal gpu.SemaphoreHandle) (int, error) {
	if !b.swapchain {
		return 0, errors.New("acquire without a swapchain")
	}
	if len(b.AcquireResults) > 0 {
		err := b.AcquireResults[0]
		b.AcquireResults = b.AcquireResults[1:]
		if errors.Is(err, gpu.ErrOutOfDate) || (err != nil && !errors.Is(err, gpu.ErrSuboptimal)) {
			b.call("AcquireNextImage failed")
			return 0, err
		}
		b.acquired = (b.acquired + 1) % len(b.SwapchainInfo.Images)
		b.call("AcquireNextImage %d", b.acquired)
		return b.acquired, err
	}
	b.acquired = (b.acquired + 1) % len(b.SwapchainInfo.Images)
	b.call("AcquireNextImage %d", b.acquired)
	return b.acquired, nil
}

func (b *Backend) Present(wait gpu.SemaphoreHandle, imageIndex int) error {
	b.call("Present %d", imageIndex)
	if len(b.PresentResults) > 0 {
		err := b.PresentResults[0]
		b.PresentResults = b.PresentResults[1:]
		return err
	}
	return nil
}

// PresentLayout is the layout presentable images must be in when presented.
const PresentLayout = khr_swapchain.ImageLayoutPresentSrc
