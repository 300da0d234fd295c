// Package pipeline builds graphics pipelines for render targets and caches them until the
// target they were built against changes.
package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
)

type Shader struct {
	Stage core1_0.ShaderStageFlags
	SPIRV []byte
	// Entry defaults to "main".
	Entry string
}

// CullNone disables face culling; core1_0 only names the set bits.
const CullNone core1_0.CullModeFlags = 0

type BlendMode int

const (
	BlendNone BlendMode = iota
	// BlendAlpha is straight alpha: src*a + dst*(1-a).
	BlendAlpha
	BlendAdditive
)

// Description is everything needed to build a pipeline except the render pass, which comes
// from the target it is built for.
type Description struct {
	Name    string
	Shaders []Shader

	Topology         core1_0.PrimitiveTopology
	VertexBindings   []core1_0.VertexInputBindingDescription
	VertexAttributes []core1_0.VertexInputAttributeDescription

	PolygonMode core1_0.PolygonMode
	CullMode    core1_0.CullModeFlags
	FrontFace   core1_0.FrontFace
	LineWidth   float32

	DepthTest    bool
	DepthWrite   bool
	DepthCompare core1_0.CompareOp

	// Stencil enables the stencil test with the same state for both faces.
	Stencil *core1_0.StencilOpState

	Blend BlendMode

	// SetLayouts are borrowed layouts bound first, e.g. the bindless set shared by every
	// pipeline. Bindings describe extra sets owned by the pipeline.
	SetLayouts    []gpu.DescriptorSetLayoutHandle
	Bindings      [][]core1_0.DescriptorSetLayoutBinding
	PushConstants []core1_0.PushConstantRange
}

// NewDescription returns filled, back face culled, depth tested triangle list state.
func NewDescription(name string, shaders ...Shader) Description {
	return Description{
		Name:         name,
		Shaders:      shaders,
		Topology:     core1_0.PrimitiveTopologyTriangleList,
		PolygonMode:  core1_0.PolygonModeFill,
		CullMode:     core1_0.CullModeBack,
		FrontFace:    core1_0.FrontFaceCounterClockwise,
		LineWidth:    1,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: core1_0.CompareOpLess,
	}
}

func (d Description) Validate() error {
	if len(d.Shaders) == 0 {
		return errors.AssertionFailedf("pipeline %q has no shaders", d.Name)
	}

	hasVertex := false
	for _, shader := range d.Shaders {
		if len(shader.SPIRV) == 0 {
			return errors.AssertionFailedf("pipeline %q has an empty %s shader", d.Name, shader.Stage)
		}
		if shader.Stage == core1_0.StageVertex {
			hasVertex = true
		}
	}
	if !hasVertex {
		return errors.AssertionFailedf("pipeline %q has no vertex shader", d.Name)
	}

	for _, attribute := range d.VertexAttributes {
		found := false
		for _, binding := range d.VertexBindings {
			if binding.Binding == attribute.Binding {
				found = true
				break
			}
		}
		if !found {
			return errors.AssertionFailedf("pipeline %q attribute at location %d uses unknown binding %d", d.Name, attribute.Location, attribute.Binding)
		}
	}
	return nil
}

func (d Description) blendAttachment() core1_0.PipelineColorBlendAttachmentState {
	state := core1_0.PipelineColorBlendAttachmentState{
		BlendEnabled:   false,
		ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
	}

	switch d.Blend {
	case BlendAlpha:
		state.BlendEnabled = true
		state.SrcColorBlendFactor = core1_0.BlendFactorSrcAlpha
		state.DstColorBlendFactor = core1_0.BlendFactorOneMinusSrcAlpha
		state.ColorBlendOp = core1_0.BlendOpAdd
		state.SrcAlphaBlendFactor = core1_0.BlendFactorOne
		state.DstAlphaBlendFactor = core1_0.BlendFactorOneMinusSrcAlpha
		state.AlphaBlendOp = core1_0.BlendOpAdd
	case BlendAdditive:
		state.BlendEnabled = true
		state.SrcColorBlendFactor = core1_0.BlendFactorOne
		state.DstColorBlendFactor = core1_0.BlendFactorOne
		state.ColorBlendOp = core1_0.BlendOpAdd
		state.SrcAlphaBlendFactor = core1_0.BlendFactorOne
		state.DstAlphaBlendFactor = core1_0.BlendFactorOne
		state.AlphaBlendOp = core1_0.BlendOpAdd
	}
	return state
}

// fixedFunction fills the pipeline create info for a pass with the given extent, sample
// count and number of color attachments.
func (d Description) fixedFunction(pass *gpu.RenderPass, samples core1_0.SampleCountFlags, colors int) gpu.GraphicsPipelineCreateInfo {
	lineWidth := d.LineWidth
	if lineWidth == 0 {
		lineWidth = 1
	}

	depthStencil := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  d.DepthTest,
		DepthWriteEnable: d.DepthWrite,
		DepthCompareOp:   d.DepthCompare,
	}
	if d.Stencil != nil {
		depthStencil.StencilTestEnable = true
		depthStencil.Front = *d.Stencil
		depthStencil.Back = *d.Stencil
	}

	attachments := make([]core1_0.PipelineColorBlendAttachmentState, colors)
	for i := range attachments {
		attachments[i] = d.blendAttachment()
	}

	return gpu.GraphicsPipelineCreateInfo{
		VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   d.VertexBindings,
			VertexAttributeDescriptions: d.VertexAttributes,
		},
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology:               d.Topology,
			PrimitiveRestartEnable: false,
		},
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{pass.Viewport},
			Scissors:  []core1_0.Rect2D{pass.Scissor},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			DepthClampEnable:        false,
			RasterizerDiscardEnable: false,

			PolygonMode: d.PolygonMode,
			CullMode:    d.CullMode,
			FrontFace:   d.FrontFace,

			DepthBiasEnable: false,

			LineWidth: lineWidth,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			SampleShadingEnable:  false,
			RasterizationSamples: samples,
			MinSampleShading:     1.0,
		},
		DepthStencilState: depthStencil,
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOpEnabled: false,
			LogicOp:        core1_0.LogicOpCopy,

			BlendConstants: [4]float32{0, 0, 0, 0},
			Attachments:    attachments,
		},
		RenderPass: pass.Handle,
		Subpass:    0,
	}
}
