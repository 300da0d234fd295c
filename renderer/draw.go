package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/meshsort"
	"github.com/vkngwrapper/framegraph/pipeline"
	"github.com/vkngwrapper/framegraph/rendertarget"
)

const (
	skyboxVertices = 36
	gizmoVertices  = 6
)

// bindHelper binds the named pipeline with the bindless set and pushes cameraIndex.
func (r *Renderer) bindHelper(frame *gpu.Frame, name string, target pipeline.Target, cameraIndex int) (*pipeline.State, error) {
	pso, err := r.pipelines.Get(name, target)
	if err != nil {
		return nil, err
	}

	cmd := frame.CommandBuffer
	pso.Bind(cmd)
	if frame.Bindless != 0 {
		r.device.BindDescriptorSets(cmd, pso.Layout, frame.Bindless)
	}

	data, err := gpu.Encode(meshsort.PushConstants{CameraIdx: uint32(cameraIndex)})
	if err != nil {
		return nil, err
	}
	r.device.PushConstants(cmd, pso.Layout, pso.PushConstantRanges[0].StageFlags, data)
	return pso, nil
}

// DrawSkybox draws a cube around camera cameraIndex behind everything already drawn. Its
// vertices are generated by the vertex shader.
func (r *Renderer) DrawSkybox(frame *gpu.Frame, target pipeline.Target, cameraIndex int) error {
	if _, err := r.bindHelper(frame, PipelineSkybox, target, cameraIndex); err != nil {
		return errors.Wrap(err, "skybox")
	}
	r.device.Draw(frame.CommandBuffer, skyboxVertices, 1)
	return nil
}

// DrawLightGizmos draws one camera facing quad per light of the last UpdateGlobals.
func (r *Renderer) DrawLightGizmos(frame *gpu.Frame, target pipeline.Target, cameraIndex int) error {
	if r.lights == 0 {
		return nil
	}
	if _, err := r.bindHelper(frame, PipelineGizmo, target, cameraIndex); err != nil {
		return errors.Wrap(err, "light gizmos")
	}
	r.device.Draw(frame.CommandBuffer, gizmoVertices, r.lights)
	return nil
}

// RenderWireframe draws every opaque and transparent mesh of sorter again as wireframe into
// target, starting over from the first pass. The sorter must already be sorted.
func (r *Renderer) RenderWireframe(frame *gpu.Frame, sorter *meshsort.Sorter, target pipeline.Target) error {
	return r.renderOverride(frame, sorter, target, PipelineWireframe, meshsort.Transparent)
}

// RenderDepth draws the opaque meshes of sorter into target with the depth only pipeline,
// e.g. as a pre-pass or into a shadow map. The main submission of sorter is left where it was.
func (r *Renderer) RenderDepth(frame *gpu.Frame, sorter *meshsort.Sorter, target pipeline.Target) error {
	return r.renderOverride(frame, sorter, target, PipelineDepth, meshsort.Opaque)
}

// renderOverride replays sorter from the first pass and then puts its cursor back, so the
// main submission draws the same meshes whether it runs before or after.
func (r *Renderer) renderOverride(frame *gpu.Frame, sorter *meshsort.Sorter, target pipeline.Target, name string, last meshsort.DrawPass) error {
	pso, err := r.pipelines.Get(name, target)
	if err != nil {
		return err
	}
	cursor := sorter.Cursor()
	defer sorter.Restore(cursor)

	sorter.ResetDraw()
	if err = sorter.RenderMeshesWith(frame, last, pso, target); err != nil {
		return errors.Wrapf(err, "%s pass", name)
	}
	return nil
}

// Present blits the color of src, a PostEffects target that has been ended, onto the
// acquired swapchain image and leaves that image ready for presentation. No render pass may
// be open on frame.
func (r *Renderer) Present(frame *gpu.Frame, src *rendertarget.Target) error {
	if src.Kind() != rendertarget.PostEffects {
		return errors.AssertionFailedf("present needs a %s target, %q is %s", rendertarget.PostEffects, src.Name(), src.Kind())
	}
	if src.Started() {
		return errors.AssertionFailedf("target %q is still recording", src.Name())
	}

	image := src.ColorImage(0)
	if image.Layout != core1_0.ImageLayoutTransferSrcOptimal {
		return errors.AssertionFailedf("target %q color is %s, not ready for blit", src.Name(), image.Layout)
	}

	cmd := frame.CommandBuffer
	swapchainImage := r.device.SwapchainImage()
	if err := r.device.TransitionImageLayout(cmd, swapchainImage, core1_0.ImageLayoutTransferDstOptimal); err != nil {
		return err
	}
	if err := r.device.BlitImage(cmd, image, swapchainImage); err != nil {
		return err
	}
	return r.device.TransitionImageLayout(cmd, swapchainImage, khr_swapchain.ImageLayoutPresentSrc)
}
