package pipeline

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/gpu"
)

// Target is what a pipeline is built against. Generation must change whenever the target's
// render pass, extent or attachments change.
type Target interface {
	RenderPass() *gpu.RenderPass
	Generation() uint64
	Samples() core1_0.SampleCountFlags
	ColorCount() int
}

// State is a built pipeline together with its layout and owned descriptor set layouts. It
// is only valid for the target generation it was built against.
type State struct {
	Pipeline           gpu.PipelineHandle
	Layout             gpu.PipelineLayoutHandle
	SetLayouts         []gpu.DescriptorSetLayoutHandle
	PushConstantRanges []core1_0.PushConstantRange
	Description        Description

	device     *gpu.Device
	target     Target
	renderPass *gpu.RenderPass
	generation uint64
	ownedSets  []gpu.DescriptorSetLayoutHandle
}

// Create builds the pipeline, its layout and its descriptor set layouts for target. It does
// not check whether an existing state is stale; see Compatible.
func Create(device *gpu.Device, desc Description, target Target) (*State, error) {
	s := &State{device: device}
	if err := s.build(desc, target); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) build(desc Description, target Target) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	pass := target.RenderPass()
	if pass == nil || pass.Handle == 0 {
		return errors.AssertionFailedf("pipeline %q built for a target without a render pass", desc.Name)
	}

	s.Description = desc
	s.target = target
	s.renderPass = pass
	s.generation = target.Generation()
	s.PushConstantRanges = desc.PushConstants

	modules := make([]gpu.ShaderModuleHandle, 0, len(desc.Shaders))
	defer func() {
		for _, module := range modules {
			s.device.DestroyShaderModule(module)
		}
	}()

	stages := make([]gpu.ShaderStage, 0, len(desc.Shaders))
	for _, shader := range desc.Shaders {
		module, err := s.device.CreateShaderModule(shader.SPIRV)
		if err != nil {
			s.release()
			return errors.Wrapf(err, "pipeline %q %s shader", desc.Name, shader.Stage)
		}
		modules = append(modules, module)

		entry := shader.Entry
		if entry == "" {
			entry = "main"
		}
		stages = append(stages, gpu.ShaderStage{
			Stage:  shader.Stage,
			Module: module,
			Name:   entry,
		})
	}

	for i, bindings := range desc.Bindings {
		layout, err := s.device.CreateDescriptorSetLayout(bindings)
		if err != nil {
			s.release()
			return errors.Wrapf(err, "pipeline %q descriptor set %d", desc.Name, i)
		}
		s.ownedSets = append(s.ownedSets, layout)
	}
	s.SetLayouts = append(append([]gpu.DescriptorSetLayoutHandle(nil), desc.SetLayouts...), s.ownedSets...)

	var err error
	s.Layout, err = s.device.CreatePipelineLayout(gpu.PipelineLayoutCreateInfo{
		SetLayouts:         s.SetLayouts,
		PushConstantRanges: desc.PushConstants,
	})
	if err != nil {
		s.release()
		return errors.Wrapf(err, "pipeline %q", desc.Name)
	}

	info := desc.fixedFunction(pass, target.Samples(), target.ColorCount())
	info.Stages = stages
	info.Layout = s.Layout

	s.Pipeline, err = s.device.CreateGraphicsPipeline(info)
	if err != nil {
		s.release()
		return errors.Wrapf(err, "pipeline %q", desc.Name)
	}

	s.device.Logger().Debug("pipeline built", "pipeline", desc.Name, "generation", s.generation)
	return nil
}

func (s *State) release() {
	s.detach()()
}

// detach clears the state's handles and returns the func destroying them.
func (s *State) detach() func() {
	device := s.device
	pipeline, layout, owned := s.Pipeline, s.Layout, s.ownedSets
	s.Pipeline, s.Layout = 0, 0
	s.SetLayouts, s.ownedSets = nil, nil

	return func() {
		device.DestroyPipeline(pipeline)
		device.DestroyPipelineLayout(layout)
		for _, set := range owned {
			device.DestroyDescriptorSetLayout(set)
		}
	}
}

// Compatible reports whether the state can be used inside target's render pass as it is
// now. It fails for any other target and after every resize of this one.
func (s *State) Compatible(target Target) bool {
	return s.Pipeline != 0 &&
		s.target == target &&
		s.renderPass == target.RenderPass() &&
		s.generation == target.Generation()
}

// Rebuild replaces the pipeline in place for target. The old pipeline goes through
// Device.Defer, so command buffers that already recorded it, including the one being
// recorded now, keep a valid handle until their frame completes.
func (s *State) Rebuild(target Target) error {
	s.device.Defer(s.detach())
	return s.build(s.Description, target)
}

// Generation is the target generation the pipeline was built against.
func (s *State) Generation() uint64 {
	return s.generation
}

func (s *State) Bind(cmd gpu.CommandBufferHandle) {
	s.device.BindPipeline(cmd, s.Pipeline)
}

// Destroy releases the pipeline once no frame in flight can still use it.
func (s *State) Destroy() {
	s.device.Defer(s.detach())
	s.target, s.renderPass = nil, nil
}
