package gpu_test

import (
	"fmt"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
)

func runFrame(t *testing.T, device *gpu.Device) bool {
	t.Helper()

	frame := device.CurrentFrame()
	ok, err := device.BeginFrame(frame)
	require.NoError(t, err)
	if !ok {
		return false
	}
	require.NoError(t, device.EndFrame(frame))
	ok, err = device.PresentFrame(frame)
	require.NoError(t, err)
	return ok
}

func TestFramePacing(t *testing.T) {
	for _, inFlight := range []int{2, 3} {
		t.Run(fmt.Sprintf("%d frames in flight", inFlight), func(t *testing.T) {
			device, backend := gputest.NewDevice(t, 800, 600, gpu.WithFramesInFlight(inFlight))

			var slots []int
			for i := 0; i < 10; i++ {
				slots = append(slots, device.CurrentFrame().Index)
				require.True(t, runFrame(t, device))
			}

			for i, slot := range slots {
				assert.Equal(t, i%inFlight, slot)
			}

			// every fence reset follows a wait on that same fence
			for i, call := range backend.Calls {
				var fence int
				if _, err := fmt.Sscanf(call, "ResetFence %d", &fence); err != nil {
					continue
				}
				assert.True(t, slices.Contains(backend.Calls[:i], fmt.Sprintf("WaitForFence %d", fence)), "reset of fence %d before waiting", fence)
			}

			assert.Equal(t, 10, device.Stats().Frames)
			gputest.RequireNoViolations(t, backend)
		})
	}
}

func TestFramesInFlightValidated(t *testing.T) {
	_, err := gpu.NewDevice(gputest.NewBackend(), 800, 600, gpu.WithLogger(gputest.NopLogger()), gpu.WithFramesInFlight(4))
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestAcquireOutOfDateKeepsFenceSignaled(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	frame := device.CurrentFrame()
	backend.AcquireResults = []error{gpu.ErrOutOfDate}

	ok, err := device.BeginFrame(frame)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, backend.FenceSignaled(frame.Fence))

	require.NoError(t, device.RecreateSwapchain(1024, 768))

	// the same slot can be used again without waiting forever
	assert.Same(t, frame, device.CurrentFrame())
	require.True(t, runFrame(t, device))
	gputest.RequireNoViolations(t, backend)
}

func TestAcquireSuboptimalStillRenders(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	backend.AcquireResults = []error{gpu.ErrSuboptimal}

	assert.True(t, runFrame(t, device))
	gputest.RequireNoViolations(t, backend)
}

func TestPresentOutOfDateAdvancesFrame(t *testing.T) {
	for _, result := range []error{gpu.ErrOutOfDate, gpu.ErrSuboptimal} {
		t.Run(result.Error(), func(t *testing.T) {
			device, backend := gputest.NewDevice(t, 800, 600)
			backend.PresentResults = []error{result}

			assert.Equal(t, 0, device.CurrentFrame().Index)
			assert.False(t, runFrame(t, device))
			assert.Equal(t, 1, device.CurrentFrame().Index)

			require.NoError(t, device.RecreateSwapchain(640, 480))
			assert.True(t, runFrame(t, device))
			gputest.RequireNoViolations(t, backend)
		})
	}
}

func TestPresentFailureIsFatal(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	backend.PresentResults = []error{errors.New("device lost")}

	frame := device.CurrentFrame()
	ok, err := device.BeginFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, device.EndFrame(frame))

	_, err = device.PresentFrame(frame)
	require.Error(t, err)
}

type recordingDependent struct {
	sizes        [][2]int
	framebuffers int
}

func (r *recordingDependent) Resize(width, height int) error {
	r.sizes = append(r.sizes, [2]int{width, height})
	return nil
}

func (r *recordingDependent) CreateFramebuffers() error {
	if len(r.sizes) == r.framebuffers {
		return errors.New("framebuffers rebuilt before resize")
	}
	r.framebuffers++
	return nil
}

func TestRecreateSwapchainResizesDependents(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	first, second := &recordingDependent{}, &recordingDependent{}
	device.RegisterDependent(first)
	device.RegisterDependent(second)

	require.NoError(t, device.RecreateSwapchain(1280, 720))
	require.NoError(t, device.RecreateSwapchain(0, 720))

	assert.Equal(t, [][2]int{{1280, 720}}, first.sizes)
	assert.Equal(t, [][2]int{{1280, 720}}, second.sizes)
	assert.Equal(t, 1, first.framebuffers)
	assert.Equal(t, 1280, device.SwapchainExtent().Width)
	assert.Equal(t, 1, device.Stats().SwapchainRebuilds)

	device.UnregisterDependent(first)
	require.NoError(t, device.RecreateSwapchain(800, 600))
	assert.Len(t, first.sizes, 1)
	assert.Len(t, second.sizes, 2)

	for _, img := range device.SwapchainImages() {
		assert.True(t, img.Presentable())
	}
	gputest.RequireNoViolations(t, backend)
}

func TestDestroyReleasesEverything(t *testing.T) {
	backend := gputest.NewBackend()
	device, err := gpu.NewDevice(backend, 800, 600, gpu.WithLogger(gputest.NopLogger()))
	require.NoError(t, err)

	require.True(t, runFrame(t, device))
	device.Destroy()

	assert.Empty(t, backend.Leaks())
	gputest.RequireNoViolations(t, backend)
}
