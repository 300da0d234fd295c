package gpu

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const DefaultFramesInFlight = 2

// SwapchainDependent is anything sized after the swapchain, typically a render target.
// Resize rebuilds attachments only; framebuffers are rebuilt afterwards, once every
// dependent has new attachments.
type SwapchainDependent interface {
	Resize(width, height int) error
	CreateFramebuffers() error
}

// Frame is the per-frame-in-flight slot. A slot is reused every FramesInFlight frames, once
// its fence reports that the GPU is done with it.
type Frame struct {
	Index int

	Fence              FenceHandle
	SwapChainSemaphore SemaphoreHandle
	RenderSemaphore    SemaphoreHandle

	CommandPool   CommandPoolHandle
	CommandBuffer CommandBufferHandle

	Bindless DescriptorSetHandle
}

type Option func(*Device)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

func WithFramesInFlight(n int) Option {
	return func(d *Device) {
		d.framesInFlight = n
	}
}

func WithVSync(vsync bool) Option {
	return func(d *Device) {
		d.vsync = vsync
	}
}

// release is queued work freeing objects that frames up to frame may still use.
type release struct {
	frame uint64
	free  func()
}

// Device owns the frame loop, the swapchain images and the factories for every GPU resource.
type Device struct {
	backend        Backend
	logger         *slog.Logger
	framesInFlight int
	vsync          bool

	frames         []Frame
	currentFrame   int
	imageIndex     int
	imagesInFlight []FenceHandle

	swapchain       []*Image
	swapchainFormat core1_0.Format
	swapchainExtent core1_0.Extent2D
	dependents      []SwapchainDependent

	uploadPool     CommandPoolHandle
	descriptorPool DescriptorPoolHandle

	// frameNumber counts successful BeginFrame calls. busy is set by a frame submission
	// and cleared by waiting for the device; recording spans BeginFrame to EndFrame.
	frameNumber uint64
	busy        bool
	recording   bool
	releases    []release

	stats       Stats
	lastPresent time.Duration
}

func NewDevice(backend Backend, width, height int, opts ...Option) (*Device, error) {
	d := &Device{
		backend:        backend,
		logger:         slog.Default(),
		framesInFlight: DefaultFramesInFlight,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.framesInFlight < 2 || d.framesInFlight > 3 {
		return nil, errors.AssertionFailedf("frames in flight must be 2 or 3, got %d", d.framesInFlight)
	}

	var err error
	d.uploadPool, err = backend.CreateCommandPool(true)
	if err != nil {
		return nil, errors.Wrap(err, "create upload command pool")
	}

	if err = d.createDescriptorPool(); err != nil {
		d.Destroy()
		return nil, err
	}

	if err = d.createFrames(); err != nil {
		d.Destroy()
		return nil, err
	}

	if err = d.createSwapchain(width, height); err != nil {
		d.Destroy()
		return nil, err
	}

	d.lastPresent = hrtime.Now()
	d.logger.Info("device ready",
		slog.Int("framesInFlight", d.framesInFlight),
		slog.Int("swapchainImages", len(d.swapchain)),
		slog.Int("width", d.swapchainExtent.Width),
		slog.Int("height", d.swapchainExtent.Height))
	return d, nil
}

func (d *Device) createFrames() error {
	d.frames = make([]Frame, d.framesInFlight)
	for i := range d.frames {
		f := &d.frames[i]
		f.Index = i

		var err error
		f.CommandPool, err = d.backend.CreateCommandPool(false)
		if err != nil {
			return errors.Wrapf(err, "create command pool for frame %d", i)
		}

		f.CommandBuffer, err = d.backend.AllocateCommandBuffer(f.CommandPool)
		if err != nil {
			return errors.Wrapf(err, "allocate command buffer for frame %d", i)
		}

		f.Fence, err = d.backend.CreateFence(true)
		if err != nil {
			return errors.Wrapf(err, "create fence for frame %d", i)
		}

		f.SwapChainSemaphore, err = d.backend.CreateSemaphore()
		if err != nil {
			return errors.Wrapf(err, "create acquire semaphore for frame %d", i)
		}

		f.RenderSemaphore, err = d.backend.CreateSemaphore()
		if err != nil {
			return errors.Wrapf(err, "create render semaphore for frame %d", i)
		}
	}
	return nil
}

func (d *Device) destroyFrames() {
	for i := range d.frames {
		f := &d.frames[i]
		if f.RenderSemaphore != 0 {
			d.backend.DestroySemaphore(f.RenderSemaphore)
		}
		if f.SwapChainSemaphore != 0 {
			d.backend.DestroySemaphore(f.SwapChainSemaphore)
		}
		if f.Fence != 0 {
			d.backend.DestroyFence(f.Fence)
		}
		if f.CommandPool != 0 {
			d.backend.DestroyCommandPool(f.CommandPool)
		}
	}
	d.frames = nil
}

func (d *Device) createSwapchain(width, height int) error {
	info, err := d.backend.CreateSwapchain(SwapchainCreateInfo{
		Width:  width,
		Height: height,
		VSync:  d.vsync,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}

	d.swapchainFormat = info.Format
	d.swapchainExtent = info.Extent
	d.swapchain = make([]*Image, 0, len(info.Images))
	for _, handle := range info.Images {
		img := &Image{
			Handle: handle,
			Layout: core1_0.ImageLayoutUndefined,
			Description: ImageDescription{
				Format:      info.Format,
				Width:       info.Extent.Width,
				Height:      info.Extent.Height,
				MipLevels:   1,
				ArrayLayers: 1,
				Samples:     core1_0.Samples1,
				Usage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,
			},
			presentable: true,
		}

		img.View, err = d.createImageView(handle, info.Format, 1, 1)
		if err != nil {
			return err
		}
		d.swapchain = append(d.swapchain, img)
	}

	d.imagesInFlight = make([]FenceHandle, len(d.swapchain))
	return nil
}

func (d *Device) destroySwapchain() {
	for _, img := range d.swapchain {
		d.DestroyImage(img)
	}
	d.swapchain = nil
	d.backend.DestroySwapchain()
}

// RegisterDependent makes dep follow every swapchain rebuild. Dependents are resized in
// registration order.
func (d *Device) RegisterDependent(dep SwapchainDependent) {
	d.dependents = append(d.dependents, dep)
}

func (d *Device) UnregisterDependent(dep SwapchainDependent) {
	for i, registered := range d.dependents {
		if registered == dep {
			d.dependents = append(d.dependents[:i], d.dependents[i+1:]...)
			return
		}
	}
}

// RecreateSwapchain waits for the GPU to go idle, rebuilds the swapchain at the new size,
// resizes every registered dependent and then rebuilds their framebuffers. A zero sized
// window is ignored.
func (d *Device) RecreateSwapchain(width, height int) error {
	if width == 0 || height == 0 {
		return nil
	}

	if err := d.backend.DeviceWaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	d.idle()

	d.destroySwapchain()
	if err := d.createSwapchain(width, height); err != nil {
		return err
	}

	for _, dep := range d.dependents {
		if err := dep.Resize(d.swapchainExtent.Width, d.swapchainExtent.Height); err != nil {
			return errors.Wrap(err, "resize swapchain dependent")
		}
	}
	for _, dep := range d.dependents {
		if err := dep.CreateFramebuffers(); err != nil {
			return errors.Wrap(err, "rebuild framebuffers")
		}
	}

	d.stats.SwapchainRebuilds++
	d.logger.Info("swapchain recreated",
		slog.Int("width", d.swapchainExtent.Width),
		slog.Int("height", d.swapchainExtent.Height))
	return nil
}

func (d *Device) Backend() Backend {
	return d.backend
}

func (d *Device) Logger() *slog.Logger {
	return d.logger
}

func (d *Device) FramesInFlight() int {
	return d.framesInFlight
}

func (d *Device) CurrentFrame() *Frame {
	return &d.frames[d.currentFrame]
}

func (d *Device) SwapchainImages() []*Image {
	return d.swapchain
}

// SwapchainImage is the image acquired by the last successful BeginFrame.
func (d *Device) SwapchainImage() *Image {
	return d.swapchain[d.imageIndex]
}

func (d *Device) ImageIndex() int {
	return d.imageIndex
}

func (d *Device) SwapchainFormat() core1_0.Format {
	return d.swapchainFormat
}

func (d *Device) SwapchainExtent() core1_0.Extent2D {
	return d.swapchainExtent
}

func (d *Device) MaxSampleCount() core1_0.SampleCountFlags {
	return d.backend.MaxSampleCount()
}

// BeginFrame waits until the GPU is done with f, acquires the next swapchain image and opens
// f's command buffer. It returns false when the swapchain is out of date; the caller must
// rebuild it and skip the frame. The fence is only reset once an image has been acquired, so
// a skipped frame never leaves f waiting on a fence nothing will signal.
func (d *Device) BeginFrame(f *Frame) (bool, error) {
	if err := d.backend.WaitForFence(f.Fence); err != nil {
		return false, errors.Wrapf(err, "wait for frame %d", f.Index)
	}
	// f's fence covers every frame up to FramesInFlight before the one about to begin
	if next := d.frameNumber + 1; next > uint64(d.framesInFlight) {
		d.runReleases(next - uint64(d.framesInFlight))
	}

	imageIndex, err := d.backend.AcquireNextImage(f.SwapChainSemaphore)
	if errors.Is(err, ErrOutOfDate) {
		d.logger.Debug("swapchain out of date on acquire", slog.Int("frame", f.Index))
		return false, nil
	} else if err != nil && !errors.Is(err, ErrSuboptimal) {
		return false, errors.Wrap(err, "acquire swapchain image")
	}

	if owner := d.imagesInFlight[imageIndex]; owner != 0 && owner != f.Fence {
		if err = d.backend.WaitForFence(owner); err != nil {
			return false, errors.Wrapf(err, "wait for swapchain image %d", imageIndex)
		}
	}
	d.imagesInFlight[imageIndex] = f.Fence
	d.imageIndex = imageIndex

	if err = d.backend.ResetFence(f.Fence); err != nil {
		return false, errors.Wrapf(err, "reset fence of frame %d", f.Index)
	}

	if err = d.backend.ResetCommandPool(f.CommandPool); err != nil {
		return false, errors.Wrapf(err, "reset command pool of frame %d", f.Index)
	}

	if err = d.backend.BeginCommandBuffer(f.CommandBuffer, true); err != nil {
		return false, errors.Wrapf(err, "begin command buffer of frame %d", f.Index)
	}

	d.frameNumber++
	d.recording = true
	d.stats.beginFrame()
	return true, nil
}

// EndFrame closes f's command buffer and submits it. The submission waits for the acquired
// image, signals f's render semaphore and f's fence.
func (d *Device) EndFrame(f *Frame) error {
	if err := d.backend.EndCommandBuffer(f.CommandBuffer); err != nil {
		return errors.Wrapf(err, "end command buffer of frame %d", f.Index)
	}
	d.recording = false
	d.busy = true

	err := d.backend.QueueSubmit(SubmitInfo{
		WaitSemaphores:   []SemaphoreHandle{f.SwapChainSemaphore},
		// the acquired image is first written either by a render pass or by a blit
		WaitStages:       []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageTransfer},
		CommandBuffers:   []CommandBufferHandle{f.CommandBuffer},
		SignalSemaphores: []SemaphoreHandle{f.RenderSemaphore},
	}, f.Fence)
	if err != nil {
		return errors.Wrapf(err, "submit frame %d", f.Index)
	}
	return nil
}

// PresentFrame queues the acquired image for presentation and advances to the next frame
// slot. It returns false when the swapchain is out of date or suboptimal and should be
// rebuilt; the frame still counts as presented.
func (d *Device) PresentFrame(f *Frame) (bool, error) {
	err := d.backend.Present(f.RenderSemaphore, d.imageIndex)

	d.currentFrame = (d.currentFrame + 1) % d.framesInFlight

	now := hrtime.Now()
	d.stats.endFrame(now - d.lastPresent)
	d.lastPresent = now

	if errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal) {
		d.logger.Debug("swapchain needs rebuild after present", slog.Int("frame", f.Index), slog.Any("reason", err))
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "present frame %d", f.Index)
	}
	return true, nil
}

func (d *Device) WaitIdle() error {
	if err := d.backend.DeviceWaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	d.idle()
	return nil
}

// idle runs the releases the finished GPU work no longer needs. A frame still being
// recorded keeps its own.
func (d *Device) idle() {
	d.busy = false
	if d.recording {
		d.runReleases(d.frameNumber - 1)
		return
	}
	d.runReleases(d.frameNumber)
}

// Defer queues free until no frame begun so far can still be using what it frees. It runs
// at once when nothing is recording or in flight. Objects replaced while frames are in
// flight, such as rebuilt pipelines or resized attachments, are released this way.
func (d *Device) Defer(free func()) {
	if !d.busy && !d.recording {
		free()
		return
	}
	d.releases = append(d.releases, release{frame: d.frameNumber, free: free})
}

// PendingReleases is the number of deferred releases still queued.
func (d *Device) PendingReleases() int {
	return len(d.releases)
}

func (d *Device) runReleases(completed uint64) {
	kept := d.releases[:0]
	for _, r := range d.releases {
		if r.frame <= completed {
			r.free()
		} else {
			kept = append(kept, r)
		}
	}
	clear(d.releases[len(kept):])
	d.releases = kept
}

// Destroy releases the device's own objects. Resources created through the device must be
// destroyed by their owners first.
func (d *Device) Destroy() {
	if err := d.backend.DeviceWaitIdle(); err != nil {
		d.logger.Error("wait for device idle", slog.Any("error", err))
	}
	d.recording, d.busy = false, false
	d.runReleases(d.frameNumber)

	d.destroySwapchain()
	d.destroyFrames()

	if d.descriptorPool != 0 {
		d.backend.DestroyDescriptorPool(d.descriptorPool)
		d.descriptorPool = 0
	}
	if d.uploadPool != 0 {
		d.backend.DestroyCommandPool(d.uploadPool)
		d.uploadPool = 0
	}
}
