package gpu_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
)

func TestCreateBufferPicksMemoryType(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	local, err := device.CreateBuffer(gpu.BufferDescription{
		Size:  1024,
		Usage: core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageTransferDst,
	})
	require.NoError(t, err)
	defer device.DestroyBuffer(local)

	mapped, err := device.CreateBuffer(gpu.BufferDescription{
		Size:             256,
		Usage:            core1_0.BufferUsageUniformBuffer,
		MemoryProperties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
	})
	require.NoError(t, err)
	defer device.DestroyBuffer(mapped)

	allocations := backend.Allocated[len(backend.Allocated)-2:]
	assert.Equal(t, 0, allocations[0].MemoryTypeIndex)
	assert.Equal(t, 1, allocations[1].MemoryTypeIndex)

	assert.Nil(t, local.Mapped)
	assert.Len(t, mapped.Mapped, 256)

	require.NoError(t, mapped.Write(16, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, backend.Memory(mapped.Memory)[16:19])

	assert.Error(t, mapped.Write(255, []byte{1, 2}))
	assert.Error(t, local.Write(0, []byte{1}))
}

func TestUploadBufferStagesDeviceLocal(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	buf, err := device.CreateBuffer(gpu.BufferDescription{
		Size:  64,
		Usage: core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageTransferDst,
	})
	require.NoError(t, err)
	defer device.DestroyBuffer(buf)

	liveBuffers := backend.Live("buffer")
	require.NoError(t, device.UploadBuffer(buf, 0, make([]byte, 64)))
	assert.Equal(t, liveBuffers, backend.Live("buffer"), "staging buffer must be released")
	assert.True(t, slices.ContainsFunc(backend.Calls, func(call string) bool {
		return strings.HasPrefix(call, "CmdCopyBuffer")
	}))

	assert.Error(t, device.UploadBuffer(buf, 32, make([]byte, 64)))
	gputest.RequireNoViolations(t, backend)
}

func TestBufferManagerSubAllocates(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	manager, err := device.NewBufferManager(1024, core1_0.BufferUsageUniformBuffer, 256)
	require.NoError(t, err)
	defer manager.Destroy()

	a, err := manager.Allocate(100)
	require.NoError(t, err)
	b, err := manager.Upload([]byte{7, 7, 7})
	require.NoError(t, err)

	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 256, b.Offset)
	assert.Same(t, a.Buffer, b.Buffer)
	assert.Equal(t, []byte{7, 7, 7}, backend.Memory(manager.Buffer().Memory)[256:259])

	assert.Error(t, a.Write(make([]byte, 101)))

	_, err = manager.Allocate(1024)
	assert.Error(t, err)

	manager.Reset()
	c, err := manager.Allocate(1024)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Offset)

	descriptor := b.Descriptor()
	assert.Equal(t, 256, descriptor.Offset)
	assert.Equal(t, 3, descriptor.Range)
}

func TestBufferManagerRejectsOddAlignment(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	buffers := backend.Live("buffer")
	for _, alignment := range []int{-4, 3, 48, 96} {
		manager, err := device.NewBufferManager(1024, core1_0.BufferUsageStorageBuffer, alignment)
		assert.True(t, errors.HasAssertionFailure(err), "alignment %d", alignment)
		assert.Nil(t, manager)
	}
	assert.Equal(t, buffers, backend.Live("buffer"))

	manager, err := device.NewBufferManager(1024, core1_0.BufferUsageStorageBuffer, 0)
	require.NoError(t, err)
	defer manager.Destroy()
	a, err := manager.Allocate(3)
	require.NoError(t, err)
	b, err := manager.Allocate(5)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 3, b.Offset)
}

func TestEncode(t *testing.T) {
	data, err := gpu.Encode(struct {
		A uint32
		B float32
	}{A: 1, B: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0x80, 0x3f}, data)
}
