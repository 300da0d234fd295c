package gpu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
)

func meshBuffer(t *testing.T, device *gpu.Device) *gpu.Buffer {
	t.Helper()
	buf, err := device.CreateBuffer(gpu.BufferDescription{
		Size:  256,
		Usage: core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageVertexBuffer,
	})
	require.NoError(t, err)
	return buf
}

func TestDeferRunsAtOnceWhenIdle(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	ran := false
	device.Defer(func() { ran = true })
	assert.True(t, ran)

	require.True(t, runFrame(t, device))
	require.NoError(t, device.WaitIdle())

	ran = false
	device.Defer(func() { ran = true })
	assert.True(t, ran, "waiting for the device retires every submitted frame")
	gputest.RequireNoViolations(t, backend)
}

func TestDeferWaitsForFramesInFlight(t *testing.T) {
	for _, inFlight := range []int{2, 3} {
		device, backend := gputest.NewDevice(t, 800, 600, gpu.WithFramesInFlight(inFlight))

		frame := device.CurrentFrame()
		ok, err := device.BeginFrame(frame)
		require.NoError(t, err)
		require.True(t, ok)

		ran := false
		device.Defer(func() { ran = true })
		assert.False(t, ran, "the frame being recorded may use it")
		require.NoError(t, device.EndFrame(frame))
		_, err = device.PresentFrame(frame)
		require.NoError(t, err)

		// the frame is reused, and its fence waited on, inFlight frames later
		for i := 1; i < inFlight; i++ {
			require.True(t, runFrame(t, device))
			assert.False(t, ran, "%d frames in flight, %d frames later", inFlight, i)
			assert.Equal(t, 1, device.PendingReleases())
		}
		require.True(t, runFrame(t, device))
		assert.True(t, ran)
		assert.Zero(t, device.PendingReleases())
		gputest.RequireNoViolations(t, backend)
	}
}

func TestDeviceDestroyRunsPendingReleases(t *testing.T) {
	backend := gputest.NewBackend()
	device, err := gpu.NewDevice(backend, 800, 600, gpu.WithLogger(gputest.NopLogger()))
	require.NoError(t, err)

	buf := meshBuffer(t, device)
	frame := device.CurrentFrame()
	ok, err := device.BeginFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	device.BindMeshBuffer(frame.CommandBuffer, buf, 0)
	device.Defer(func() { device.DestroyBuffer(buf) })
	require.NoError(t, device.EndFrame(frame))
	_, err = device.PresentFrame(frame)
	require.NoError(t, err)

	assert.True(t, backend.Alive("buffer", uint64(buf.Handle)))
	device.Destroy()

	assert.Empty(t, backend.Leaks())
	gputest.RequireNoViolations(t, backend)
}

func TestDestroyingRecordedObjectIsFlagged(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	recording, pending := meshBuffer(t, device), meshBuffer(t, device)

	frame := device.CurrentFrame()
	ok, err := device.BeginFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	device.BindMeshBuffer(frame.CommandBuffer, recording, 0)
	device.BindMeshBuffer(frame.CommandBuffer, pending, 0)

	device.DestroyBuffer(recording)
	require.Len(t, backend.Violations, 1)
	assert.Contains(t, backend.Violations[0], "still recording")

	require.NoError(t, device.EndFrame(frame))
	_, err = device.PresentFrame(frame)
	require.NoError(t, err)

	device.DestroyBuffer(pending)
	require.Len(t, backend.Violations, 2)
	assert.Contains(t, backend.Violations[1], "in flight")
}
