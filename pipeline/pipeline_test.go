package pipeline_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
	"github.com/vkngwrapper/framegraph/pipeline"
	"github.com/vkngwrapper/framegraph/rendertarget"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}

func meshDescription(name string) pipeline.Description {
	desc := pipeline.NewDescription(name,
		pipeline.Shader{Stage: core1_0.StageVertex, SPIRV: spirv},
		pipeline.Shader{Stage: core1_0.StageFragment, SPIRV: spirv},
	)
	desc.VertexBindings = []core1_0.VertexInputBindingDescription{
		{Binding: 0, InputRate: core1_0.VertexInputRateVertex, Stride: 32},
	}
	desc.VertexAttributes = []core1_0.VertexInputAttributeDescription{
		{Binding: 0, Location: 0, Format: core1_0.FormatR32G32B32SignedFloat, Offset: 0},
	}
	desc.Bindings = [][]core1_0.DescriptorSetLayoutBinding{
		{
			{Binding: 0, DescriptorType: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: core1_0.StageVertex},
		},
	}
	desc.PushConstants = []core1_0.PushConstantRange{
		{StageFlags: core1_0.StageVertex | core1_0.StageFragment, Offset: 0, Size: 12},
	}
	return desc
}

func newTarget(t *testing.T, device *gpu.Device, desc rendertarget.Description) *rendertarget.Target {
	t.Helper()
	target, err := rendertarget.New(device, desc)
	require.NoError(t, err)
	t.Cleanup(target.Destroy)
	return target
}

func TestCreateBuildsAgainstTarget(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{
		Kind:         rendertarget.MultiAttachment,
		Width:        800,
		Height:       600,
		ColorFormats: []core1_0.Format{core1_0.FormatR8G8B8A8SRGB, core1_0.FormatR32G32B32SignedFloat},
		Depth:        true,
		Samples:      core1_0.Samples4,
	})

	state, err := pipeline.Create(device, meshDescription("gbuffer"), target)
	require.NoError(t, err)
	defer state.Destroy()

	info := backend.Pipelines[state.Pipeline]
	assert.Equal(t, target.RenderPass().Handle, info.RenderPass)
	assert.Equal(t, core1_0.Samples4, info.MultisampleState.RasterizationSamples)
	assert.Len(t, info.ColorBlendState.Attachments, 2)
	assert.Equal(t, float32(800), info.ViewportState.Viewports[0].Width)
	assert.Equal(t, state.Layout, info.Layout)
	require.Len(t, info.Stages, 2)
	assert.Equal(t, "main", info.Stages[0].Name)

	assert.Len(t, state.SetLayouts, 1)
	assert.Zero(t, backend.Live("shaderModule"), "shader modules are released after the build")
	assert.Equal(t, 1, backend.Live("descriptorSetLayout"))
	assert.Equal(t, uint64(1), state.Generation())
}

func TestStateIncompatibleAfterResize(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{
		Kind:   rendertarget.Offscreen,
		Width:  800,
		Height: 600,
		Depth:  true,
	})
	other := newTarget(t, device, rendertarget.Description{
		Kind:   rendertarget.Offscreen,
		Width:  800,
		Height: 600,
		Depth:  true,
	})

	state, err := pipeline.Create(device, meshDescription("mesh"), target)
	require.NoError(t, err)
	defer state.Destroy()

	assert.True(t, state.Compatible(target))
	assert.False(t, state.Compatible(other))

	require.NoError(t, target.Resize(1024, 768))
	require.NoError(t, target.CreateFramebuffers())
	assert.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, target.Extent())
	assert.False(t, state.Compatible(target))

	old := state.Pipeline
	require.NoError(t, state.Rebuild(target))
	assert.True(t, state.Compatible(target))
	assert.NotEqual(t, old, state.Pipeline)
	assert.Equal(t, float32(1024), backend.Pipelines[state.Pipeline].ViewportState.Viewports[0].Width)
	assert.Equal(t, 1, backend.Live("pipeline"))
	gputest.RequireNoViolations(t, backend)
}

func TestCacheRebuildsAfterSwapchainResize(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{
		Kind:    rendertarget.SwapChain,
		Depth:   true,
		Samples: core1_0.Samples4,
	})

	cache := pipeline.NewCache(device)
	defer cache.Destroy()
	require.NoError(t, cache.Register(meshDescription("mesh")))

	first, err := cache.Get("mesh", target)
	require.NoError(t, err)
	again, err := cache.Get("mesh", target)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, cache.Builds())

	require.NoError(t, device.RecreateSwapchain(1280, 720))

	rebuilt, err := cache.Get("mesh", target)
	require.NoError(t, err)
	assert.Same(t, first, rebuilt)
	assert.Equal(t, 1, cache.Rebuilds())
	assert.True(t, rebuilt.Compatible(target))
	assert.Equal(t, float32(1280), backend.Pipelines[rebuilt.Pipeline].ViewportState.Viewports[0].Width)

	frame := device.CurrentFrame()
	ok, err := device.BeginFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, target.Begin(frame.CommandBuffer))
	rebuilt.Bind(frame.CommandBuffer)
	target.End(frame.CommandBuffer)
	require.NoError(t, device.EndFrame(frame))
	_, err = device.PresentFrame(frame)
	require.NoError(t, err)

	gputest.RequireNoViolations(t, backend)
}

func TestCacheKeepsOnePipelinePerTarget(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	a := newTarget(t, device, rendertarget.Description{Kind: rendertarget.Offscreen, Width: 64, Height: 64, Depth: true})
	b := newTarget(t, device, rendertarget.Description{Kind: rendertarget.Offscreen, Width: 64, Height: 64, Depth: true})

	cache := pipeline.NewCache(device)
	require.NoError(t, cache.Register(meshDescription("mesh")))

	stateA, err := cache.Get("mesh", a)
	require.NoError(t, err)
	stateB, err := cache.Get("mesh", b)
	require.NoError(t, err)
	assert.NotSame(t, stateA, stateB)
	assert.Equal(t, 2, backend.Live("pipeline"))

	cache.Forget(a)
	assert.Equal(t, 1, backend.Live("pipeline"))

	// re-registering drops pipelines built from the old description
	desc := meshDescription("mesh")
	desc.Blend = pipeline.BlendAlpha
	require.NoError(t, cache.Register(desc))
	assert.Zero(t, backend.Live("pipeline"))

	stateB, err = cache.Get("mesh", b)
	require.NoError(t, err)
	assert.True(t, backend.Pipelines[stateB.Pipeline].ColorBlendState.Attachments[0].BlendEnabled)

	cache.Destroy()
	assert.Zero(t, backend.Live("pipeline"))
	assert.Zero(t, backend.Live("pipelineLayout"))
	assert.Zero(t, backend.Live("descriptorSetLayout"))
	gputest.RequireNoViolations(t, backend)
}

func TestCacheRejectsUnknownPipeline(t *testing.T) {
	device, _ := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{Kind: rendertarget.Offscreen, Width: 8, Height: 8})

	cache := pipeline.NewCache(device)
	_, err := cache.Get("missing", target)
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.False(t, cache.Registered("missing"))
}

func TestDescriptionValidate(t *testing.T) {
	fragmentOnly := pipeline.NewDescription("fragment", pipeline.Shader{Stage: core1_0.StageFragment, SPIRV: spirv})
	assert.Error(t, fragmentOnly.Validate())

	empty := pipeline.NewDescription("empty", pipeline.Shader{Stage: core1_0.StageVertex})
	assert.Error(t, empty.Validate())

	dangling := meshDescription("dangling")
	dangling.VertexAttributes = append(dangling.VertexAttributes, core1_0.VertexInputAttributeDescription{Binding: 3, Location: 1})
	assert.Error(t, dangling.Validate())

	assert.NoError(t, meshDescription("mesh").Validate())
}

func TestDepthOnlyPipelineHasNoColorBlend(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{Kind: rendertarget.DepthOnly, Width: 512, Height: 512})

	desc := meshDescription("shadow")
	desc.Shaders = desc.Shaders[:1]
	desc.CullMode = core1_0.CullModeFront

	state, err := pipeline.Create(device, desc, target)
	require.NoError(t, err)
	defer state.Destroy()

	info := backend.Pipelines[state.Pipeline]
	assert.Empty(t, info.ColorBlendState.Attachments)
	assert.Equal(t, core1_0.CullModeFront, info.RasterizationState.CullMode)
	assert.True(t, info.DepthStencilState.DepthWriteEnable)
}

func TestCullNoneDisablesCulling(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{Kind: rendertarget.Offscreen, Width: 256, Height: 256, Depth: true})

	desc := meshDescription("two_sided")
	assert.Equal(t, core1_0.CullModeBack, desc.CullMode)
	desc.CullMode = pipeline.CullNone

	state, err := pipeline.Create(device, desc, target)
	require.NoError(t, err)
	defer state.Destroy()

	info := backend.Pipelines[state.Pipeline]
	assert.Zero(t, info.RasterizationState.CullMode)
	assert.Equal(t, core1_0.StageVertex|core1_0.StageFragment, state.PushConstantRanges[0].StageFlags)
	gputest.RequireNoViolations(t, backend)
}

func TestCreateReleasesOnFailure(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)
	target := newTarget(t, device, rendertarget.Description{Kind: rendertarget.Offscreen, Width: 8, Height: 8})

	backend.FailCreate["pipeline"] = errors.New("out of device memory")
	_, err := pipeline.Create(device, meshDescription("mesh"), target)
	require.Error(t, err)

	assert.Zero(t, backend.Live("pipelineLayout"))
	assert.Zero(t, backend.Live("descriptorSetLayout"))
	assert.Zero(t, backend.Live("shaderModule"))
}
