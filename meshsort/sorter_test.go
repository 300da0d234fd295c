package meshsort_test

import (
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
	"github.com/vkngwrapper/framegraph/meshsort"
	"github.com/vkngwrapper/framegraph/pipeline"
	"github.com/vkngwrapper/framegraph/rendertarget"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07}

type scene struct {
	device  *gpu.Device
	backend *gputest.Backend
	target  *rendertarget.Target
	cache   *pipeline.Cache
	sorter  *meshsort.Sorter
	frame   *gpu.Frame
}

func pipelineName(pass meshsort.DrawPass, flags meshsort.Flags) string {
	switch {
	case pass == meshsort.Outline:
		return "outline"
	case pass == meshsort.Transparent:
		return "transparent"
	case flags.Has(meshsort.FlagTwoSided):
		return "two-sided"
	}
	return "opaque"
}

func newScene(t *testing.T, samples core1_0.SampleCountFlags) *scene {
	t.Helper()

	device, backend := gputest.NewDevice(t, 800, 600)
	target, err := rendertarget.New(device, rendertarget.Description{
		Kind:    rendertarget.Offscreen,
		Name:    "scene",
		Width:   800,
		Height:  600,
		Depth:   true,
		Samples: samples,
	})
	require.NoError(t, err)
	t.Cleanup(target.Destroy)

	cache := pipeline.NewCache(device)
	t.Cleanup(cache.Destroy)
	for _, name := range []string{"opaque", "transparent", "outline", "two-sided", "depth"} {
		desc := pipeline.NewDescription(name, pipeline.Shader{Stage: core1_0.StageVertex, SPIRV: spirv})
		desc.PushConstants = []core1_0.PushConstantRange{
			{StageFlags: core1_0.StageVertex | core1_0.StageFragment, Offset: 0, Size: 12},
		}
		switch name {
		case "transparent":
			desc.Blend = pipeline.BlendAlpha
			desc.DepthWrite = false
		case "two-sided":
			desc.CullMode = pipeline.CullNone
		case "outline":
			desc.CullMode = core1_0.CullModeFront
		}
		require.NoError(t, cache.Register(desc))
	}

	sorter := meshsort.New(device, target, meshsort.CachePipelines{Cache: cache, Name: pipelineName})
	return &scene{
		device:  device,
		backend: backend,
		target:  target,
		cache:   cache,
		sorter:  sorter,
	}
}

func (s *scene) buffer(t *testing.T) *gpu.Buffer {
	t.Helper()
	buf, err := s.device.CreateBuffer(gpu.BufferDescription{
		Size:  1024,
		Usage: core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageTransferDst,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.device.DestroyBuffer(buf) })
	return buf
}

func (s *scene) begin(t *testing.T) {
	t.Helper()
	s.frame = s.device.CurrentFrame()
	ok, err := s.device.BeginFrame(s.frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.target.Begin(s.frame.CommandBuffer))
	s.backend.ResetRecording()
}

func (s *scene) end(t *testing.T) {
	t.Helper()
	s.target.End(s.frame.CommandBuffer)
	require.NoError(t, s.device.EndFrame(s.frame))
	_, err := s.device.PresentFrame(s.frame)
	require.NoError(t, err)
	gputest.RequireNoViolations(t, s.backend)
}

func modelIndex(draw gputest.Draw) uint32 {
	return binary.LittleEndian.Uint32(draw.PushConstants[4:8])
}

func drawnModels(backend *gputest.Backend) []uint32 {
	var models []uint32
	for _, draw := range backend.Draws {
		models = append(models, modelIndex(draw))
	}
	return models
}

func TestOpaqueFrontToBackTransparentBackToFront(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)

	opaque := meshsort.Mesh{IndexCount: 6, Flags: meshsort.FlagOpaque}
	transparent := meshsort.Mesh{IndexCount: 6, Flags: meshsort.FlagTransparent}

	s.sorter.AddMesh(opaque, 5, 0, 6, buf)
	s.sorter.AddMesh(opaque, 1, 1, 6, buf)
	s.sorter.AddMesh(opaque, 3, 2, 6, buf)
	s.sorter.AddMesh(transparent, 2, 3, 6, buf)
	s.sorter.AddMesh(transparent, 7, 4, 6, buf)
	s.sorter.AddMesh(transparent, 4, 5, 6, buf)
	s.sorter.Sort()

	var distances []float32
	for _, key := range s.sorter.Keys() {
		distances = append(distances, key.Distance)
	}
	assert.Equal(t, []float32{1, 3, 5, 7, 4, 2}, distances)

	s.begin(t)
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Opaque))
	assert.Equal(t, []uint32{1, 2, 0}, drawnModels(s.backend))

	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Transparent))
	assert.Equal(t, []uint32{1, 2, 0, 4, 5, 3}, drawnModels(s.backend))
	s.end(t)
}

func TestPassCountsMatchAddedMeshes(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)
	rng := rand.New(rand.NewPCG(1, 2))

	const added = 200
	for i := 0; i < added; i++ {
		flags := meshsort.FlagOpaque
		if rng.IntN(3) == 0 {
			flags = meshsort.FlagTransparent
		}
		s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: flags}, rng.Float32()*100, i, 3, buf)
	}
	s.sorter.Sort()

	assert.Equal(t, added, s.sorter.PassCount(meshsort.Opaque)+s.sorter.PassCount(meshsort.Transparent))
	assert.Zero(t, s.sorter.PassCount(meshsort.ZPass))

	var previous *meshsort.SortKey
	for i, key := range s.sorter.Keys() {
		if previous != nil && previous.Pass == key.Pass {
			if key.Pass == meshsort.Opaque {
				assert.LessOrEqual(t, previous.Distance, key.Distance, "key %d", i)
			} else {
				assert.GreaterOrEqual(t, previous.Distance, key.Distance, "key %d", i)
			}
		}
		if previous != nil {
			assert.LessOrEqual(t, int(previous.Pass), int(key.Pass))
		}
		previous = &s.sorter.Keys()[i]
	}

	s.begin(t)
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Outline))
	assert.Len(t, s.backend.Draws, added)

	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Outline))
	assert.Len(t, s.backend.Draws, added, "drawn passes are not drawn again")
	s.end(t)
}

func TestOpaqueAndTransparentInMultisampledTarget(t *testing.T) {
	s := newScene(t, core1_0.Samples4)
	buf := s.buffer(t)

	layout, err := s.device.CreateDescriptorSetLayout([]core1_0.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: core1_0.StageVertex},
	})
	require.NoError(t, err)
	defer s.device.DestroyDescriptorSetLayout(layout)
	require.NoError(t, s.device.AllocateFrameDescriptorSets(layout))

	s.begin(t)
	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 36, Flags: meshsort.FlagOpaque}, 2.0, 7, 36, buf)
	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 12, Flags: meshsort.FlagTransparent}, 1.0, 8, 12, buf)
	s.sorter.Sort()
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Transparent))

	require.Len(t, s.backend.Draws, 2)
	assert.Equal(t, uint32(7), modelIndex(s.backend.Draws[0]))
	assert.Equal(t, uint32(8), modelIndex(s.backend.Draws[1]))
	assert.NotEqual(t, s.backend.Draws[0].Pipeline, s.backend.Draws[1].Pipeline)
	assert.Equal(t, 36, s.backend.Draws[0].IndexCount)
	assert.Equal(t, []gpu.DescriptorSetHandle{s.frame.Bindless}, s.backend.Draws[0].DescriptorSets)

	for _, draw := range s.backend.Draws {
		assert.Equal(t, s.target.RenderPass().Handle, draw.RenderPass)
		info := s.backend.Pipelines[draw.Pipeline]
		assert.Equal(t, core1_0.Samples4, info.MultisampleState.RasterizationSamples)
	}
	s.end(t)
}

func TestRebindsOnlyWhenIdentityChanges(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	near, far := s.buffer(t), s.buffer(t)

	opaque := meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagOpaque}
	s.sorter.AddMesh(opaque, 1, 0, 30, near)
	s.sorter.AddMesh(opaque, 2, 1, 30, near)
	s.sorter.AddMesh(opaque, 8, 2, 60, far)
	s.sorter.AddMesh(opaque, 9, 3, 60, far)
	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagOpaque | meshsort.FlagTwoSided}, 10, 4, 60, far)
	s.sorter.Sort()

	s.begin(t)
	before := s.device.Stats()
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Opaque))
	after := s.device.Stats()

	assert.Equal(t, 5, after.DrawCalls-before.DrawCalls)
	assert.Equal(t, 2, after.PipelineBinds-before.PipelineBinds)
	assert.Equal(t, 2, after.BufferBinds-before.BufferBinds)

	assert.Equal(t, 30*4, s.backend.Draws[0].VertexOffset)
	assert.Equal(t, 60*4, s.backend.Draws[2].VertexOffset)
	s.end(t)
}

func TestNegativeDistanceIsClamped(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)

	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagTransparent}, 0.5, 0, 3, buf)
	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagTransparent}, -4, 1, 3, buf)
	s.sorter.Sort()

	keys := s.sorter.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, float32(0.5), keys[0].Distance)
	assert.Equal(t, float32(0), keys[1].Distance)
	assert.Equal(t, 1, keys[1].Value)
}

func TestRenderBeforeSortFails(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)

	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3}, 1, 0, 3, buf)

	s.begin(t)
	assert.Error(t, s.sorter.RenderMeshes(s.frame, meshsort.Opaque))
	assert.Empty(t, s.backend.Draws)
	s.end(t)
}

func TestOutlineMeshesDrawnLast(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)

	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagOpaque | meshsort.FlagOutline}, 4, 0, 3, buf)
	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagTransparent}, 1, 1, 3, buf)
	s.sorter.Sort()
	assert.Equal(t, 1, s.sorter.PassCount(meshsort.Outline))

	s.begin(t)
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Outline))
	assert.Equal(t, []uint32{0, 1, 0}, drawnModels(s.backend))

	outline, err := s.cache.Get("outline", s.target)
	require.NoError(t, err)
	assert.Equal(t, outline.Pipeline, s.backend.Draws[2].Pipeline)
	assert.Equal(t, meshsort.Outline+1, s.sorter.CurrentPass())
	s.end(t)
}

func TestResetDrawRendersAgainWithOverride(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)

	for i := 0; i < 3; i++ {
		s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagOpaque}, float32(i), i, 3, buf)
	}
	s.sorter.Sort()

	depth, err := s.cache.Get("depth", s.target)
	require.NoError(t, err)

	require.NoError(t, s.target.Resize(640, 480))
	require.NoError(t, s.target.CreateFramebuffers())
	require.False(t, depth.Compatible(s.target))

	s.begin(t)
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Opaque))
	require.Len(t, s.backend.Draws, 3)

	s.sorter.ResetDraw()
	assert.Equal(t, meshsort.ZPass, s.sorter.CurrentPass())
	require.NoError(t, s.sorter.RenderMeshesWith(s.frame, meshsort.Opaque, depth, s.target))

	require.Len(t, s.backend.Draws, 6)
	assert.True(t, depth.Compatible(s.target))
	for _, draw := range s.backend.Draws[3:] {
		assert.Equal(t, depth.Pipeline, draw.Pipeline)
	}
	s.end(t)
}

func TestOverridePipelineSharedAcrossTargets(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)
	mirror, err := rendertarget.New(s.device, rendertarget.Description{
		Kind:   rendertarget.Offscreen,
		Name:   "mirror",
		Width:  400,
		Height: 300,
		Depth:  true,
	})
	require.NoError(t, err)
	t.Cleanup(mirror.Destroy)

	desc := pipeline.NewDescription("normals", pipeline.Shader{Stage: core1_0.StageVertex, SPIRV: spirv})
	desc.PushConstants = []core1_0.PushConstantRange{
		{StageFlags: core1_0.StageVertex | core1_0.StageFragment, Offset: 0, Size: 12},
	}
	normals, err := pipeline.Create(s.device, desc, s.target)
	require.NoError(t, err)
	t.Cleanup(normals.Destroy)

	for i := 0; i < 2; i++ {
		s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagOpaque}, float32(i), i, 3, buf)
	}
	s.sorter.Sort()

	s.begin(t)
	require.NoError(t, s.sorter.RenderMeshesWith(s.frame, meshsort.Opaque, normals, s.target))
	s.target.End(s.frame.CommandBuffer)
	first := normals.Pipeline

	require.NoError(t, mirror.Begin(s.frame.CommandBuffer))
	s.sorter.ResetDraw()
	require.NoError(t, s.sorter.RenderMeshesWith(s.frame, meshsort.Opaque, normals, mirror))
	mirror.End(s.frame.CommandBuffer)

	require.Len(t, s.backend.Draws, 4)
	assert.Equal(t, first, s.backend.Draws[0].Pipeline)
	assert.Equal(t, normals.Pipeline, s.backend.Draws[2].Pipeline)
	assert.NotEqual(t, first, normals.Pipeline)
	assert.True(t, s.backend.Alive("pipeline", uint64(first)), "recorded pipeline outlives the rebuild")
	s.end(t)

	assert.True(t, s.backend.Alive("pipeline", uint64(first)), "the frame is still in flight")
	require.NoError(t, s.device.WaitIdle())
	assert.False(t, s.backend.Alive("pipeline", uint64(first)))
	assert.True(t, normals.Compatible(mirror))
	gputest.RequireNoViolations(t, s.backend)
}

func TestResetClearsFrame(t *testing.T) {
	s := newScene(t, core1_0.Samples1)
	buf := s.buffer(t)

	s.sorter.AddMesh(meshsort.Mesh{IndexCount: 3, Flags: meshsort.FlagOpaque | meshsort.FlagOutline}, 1, 0, 3, buf)
	s.sorter.Sort()
	s.sorter.Reset()

	assert.Zero(t, s.sorter.Len())
	assert.Empty(t, s.sorter.Keys())
	assert.Zero(t, s.sorter.PassCount(meshsort.Opaque))
	assert.Zero(t, s.sorter.PassCount(meshsort.Outline))

	s.begin(t)
	require.NoError(t, s.sorter.RenderMeshes(s.frame, meshsort.Outline))
	assert.Empty(t, s.backend.Draws)
	s.end(t)
}
