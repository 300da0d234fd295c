package renderer

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/asset"
	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/meshsort"
	"github.com/vkngwrapper/framegraph/pipeline"
)

// Pipelines registered by New.
const (
	PipelineMesh        = "mesh"
	PipelineTwoSided    = "mesh_two_sided"
	PipelineTransparent = "mesh_transparent"
	PipelineWireframe   = "mesh_wireframe"
	PipelineOutline     = "outline"
	PipelineDepth       = "depth"
	PipelineSkybox      = "skybox"
	PipelineGizmo       = "light_gizmo"
)

const pushConstantSize = 12

// MeshPipelineName picks the pipeline a sorted mesh is drawn with.
func MeshPipelineName(pass meshsort.DrawPass, flags meshsort.Flags) string {
	switch {
	case pass == meshsort.Outline:
		return PipelineOutline
	case pass == meshsort.Transparent:
		return PipelineTransparent
	case flags.Has(meshsort.FlagWireframe):
		return PipelineWireframe
	case flags.Has(meshsort.FlagTwoSided):
		return PipelineTwoSided
	}
	return PipelineMesh
}

func readShader(shaders fs.FS, stage core1_0.ShaderStageFlags, name string) (pipeline.Shader, error) {
	code, err := fs.ReadFile(shaders, name)
	if err != nil {
		return pipeline.Shader{}, errors.Wrapf(err, "read shader %s", name)
	}
	return pipeline.Shader{Stage: stage, SPIRV: code}, nil
}

type shaderPair struct {
	vertex, fragment string
}

func (r *Renderer) pipelineDescriptions(shaders fs.FS) ([]pipeline.Description, error) {
	loaded := map[string]pipeline.Shader{}
	load := func(name string, stage core1_0.ShaderStageFlags) error {
		if _, ok := loaded[name]; ok {
			return nil
		}
		shader, err := readShader(shaders, stage, name)
		if err != nil {
			return err
		}
		loaded[name] = shader
		return nil
	}

	pairs := map[string]shaderPair{
		"mesh":    {"mesh.vert.spv", "mesh.frag.spv"},
		"outline": {"outline.vert.spv", "outline.frag.spv"},
		"depth":   {"depth.vert.spv", ""},
		"skybox":  {"skybox.vert.spv", "skybox.frag.spv"},
		"gizmo":   {"gizmo.vert.spv", "gizmo.frag.spv"},
	}
	for _, pair := range pairs {
		if err := load(pair.vertex, core1_0.StageVertex); err != nil {
			return nil, err
		}
		if pair.fragment == "" {
			continue
		}
		if err := load(pair.fragment, core1_0.StageFragment); err != nil {
			return nil, err
		}
	}

	base := func(name, program string) pipeline.Description {
		pair := pairs[program]
		stages := []pipeline.Shader{loaded[pair.vertex]}
		if pair.fragment != "" {
			stages = append(stages, loaded[pair.fragment])
		}
		desc := pipeline.NewDescription(name, stages...)
		desc.SetLayouts = []gpu.DescriptorSetLayoutHandle{r.setLayout}
		desc.PushConstants = []core1_0.PushConstantRange{
			{StageFlags: core1_0.StageVertex | core1_0.StageFragment, Offset: 0, Size: pushConstantSize},
		}
		return desc
	}
	withMesh := func(desc pipeline.Description) pipeline.Description {
		desc.VertexBindings = asset.VertexBindings()
		desc.VertexAttributes = asset.VertexAttributes()
		return desc
	}

	mesh := withMesh(base(PipelineMesh, "mesh"))

	twoSided := withMesh(base(PipelineTwoSided, "mesh"))
	twoSided.CullMode = pipeline.CullNone

	transparent := withMesh(base(PipelineTransparent, "mesh"))
	transparent.Blend = pipeline.BlendAlpha
	transparent.DepthWrite = false
	transparent.CullMode = pipeline.CullNone

	wireframe := withMesh(base(PipelineWireframe, "mesh"))
	wireframe.PolygonMode = core1_0.PolygonModeLine
	wireframe.CullMode = pipeline.CullNone

	// the outline vertex shader pushes vertices out along their normals; culling front
	// faces leaves only the rim behind the mesh
	outline := withMesh(base(PipelineOutline, "outline"))
	outline.CullMode = core1_0.CullModeFront
	outline.DepthWrite = false

	depth := withMesh(base(PipelineDepth, "depth"))

	skybox := base(PipelineSkybox, "skybox")
	skybox.CullMode = pipeline.CullNone
	skybox.DepthWrite = false
	skybox.DepthCompare = core1_0.CompareOpLessOrEqual

	gizmo := base(PipelineGizmo, "gizmo")
	gizmo.CullMode = pipeline.CullNone
	gizmo.DepthWrite = false
	gizmo.Blend = pipeline.BlendAdditive

	return []pipeline.Description{mesh, twoSided, transparent, wireframe, outline, depth, skybox, gizmo}, nil
}
