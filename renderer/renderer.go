// Package renderer ties the device, render targets, pipelines and mesh sorting together:
// it owns the bindless set every pipeline shares and provides the helper draws a frame is
// built from.
package renderer

import (
	"io/fs"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/asset"
	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/meshsort"
	"github.com/vkngwrapper/framegraph/pipeline"
)

const (
	DefaultMaxTextures     = 256
	DefaultFrameBufferSize = 1 << 20

	storageAlignment = 256
)

// Bindings of the bindless set.
const (
	BindingCameras = iota
	BindingModels
	BindingLights
	BindingMaterials
	BindingTextures
)

type Option func(*Renderer)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}

func WithMaxTextures(n int) Option {
	return func(r *Renderer) {
		r.maxTextures = n
	}
}

// WithFrameBufferSize sizes the per frame buffer holding cameras, models, lights and
// materials.
func WithFrameBufferSize(size int) Option {
	return func(r *Renderer) {
		r.frameBufferSize = size
	}
}

type Renderer struct {
	device          *gpu.Device
	logger          *slog.Logger
	maxTextures     int
	frameBufferSize int

	setLayout     gpu.DescriptorSetLayoutHandle
	frameBuffers  []*gpu.BufferManager
	texturesBound []int
	white         *gpu.Image

	pipelines *pipeline.Cache
	lights    int
}

// New builds the bindless layout and per frame sets, and registers every pipeline the
// renderer draws with. Shader binaries are read from shaders.
func New(device *gpu.Device, shaders fs.FS, opts ...Option) (*Renderer, error) {
	r := &Renderer{
		device:          device,
		logger:          device.Logger(),
		maxTextures:     DefaultMaxTextures,
		frameBufferSize: DefaultFrameBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.maxTextures <= 0 {
		return nil, errors.AssertionFailedf("max textures must be positive, got %d", r.maxTextures)
	}

	if err := r.create(shaders); err != nil {
		r.Destroy()
		return nil, err
	}

	r.logger.Info("renderer ready",
		slog.Int("maxTextures", r.maxTextures),
		slog.Int("frameBufferSize", r.frameBufferSize))
	return r, nil
}

func (r *Renderer) bindings() []core1_0.DescriptorSetLayoutBinding {
	allStages := core1_0.StageVertex | core1_0.StageFragment
	return []core1_0.DescriptorSetLayoutBinding{
		{Binding: BindingCameras, DescriptorType: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: allStages},
		{Binding: BindingModels, DescriptorType: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: core1_0.StageVertex},
		{Binding: BindingLights, DescriptorType: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: allStages},
		{Binding: BindingMaterials, DescriptorType: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: core1_0.StageFragment},
		{Binding: BindingTextures, DescriptorType: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: r.maxTextures, StageFlags: core1_0.StageFragment},
	}
}

func (r *Renderer) create(shaders fs.FS) error {
	var err error
	r.setLayout, err = r.device.CreateDescriptorSetLayout(r.bindings())
	if err != nil {
		return errors.Wrap(err, "bindless set layout")
	}

	if err = r.device.AllocateFrameDescriptorSets(r.setLayout); err != nil {
		return errors.Wrap(err, "bindless sets")
	}

	r.white, err = asset.SolidTexture(r.device, "white", 255, 255, 255, 255)
	if err != nil {
		return err
	}

	r.texturesBound = make([]int, r.device.FramesInFlight())
	for i := 0; i < r.device.FramesInFlight(); i++ {
		manager, err := r.device.NewBufferManager(r.frameBufferSize, core1_0.BufferUsageStorageBuffer, storageAlignment)
		if err != nil {
			return errors.Wrapf(err, "globals buffer of frame %d", i)
		}
		r.frameBuffers = append(r.frameBuffers, manager)
	}

	for i := range r.texturesBound {
		r.texturesBound[i] = r.maxTextures
	}

	r.pipelines = pipeline.NewCache(r.device)
	descriptions, err := r.pipelineDescriptions(shaders)
	if err != nil {
		return err
	}
	for _, desc := range descriptions {
		if err = r.pipelines.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

// UpdateGlobals writes scene into frame's bindless set. It must run after BeginFrame and
// before anything is drawn for frame. Texture slots past the scene's textures hold a white
// texture.
func (r *Renderer) UpdateGlobals(frame *gpu.Frame, scene Scene) error {
	if frame.Bindless == 0 {
		return errors.AssertionFailedf("frame %d has no bindless set", frame.Index)
	}
	if len(scene.Textures) > r.maxTextures {
		return errors.Newf("%d textures exceed the bindless limit of %d", len(scene.Textures), r.maxTextures)
	}
	for i, material := range scene.Materials {
		if int(material.TextureIndex) >= r.maxTextures {
			return errors.Newf("material %d uses texture slot %d of %d", i, material.TextureIndex, r.maxTextures)
		}
	}

	manager := r.frameBuffers[frame.Index]
	manager.Reset()

	blocks := []struct {
		binding int
		data    any
	}{
		{BindingCameras, cameraBlock(scene.Cameras)},
		{BindingModels, modelBlock(scene.Models)},
		{BindingLights, lightBlock(scene.Lights)},
		{BindingMaterials, materialBlock(scene.Materials)},
	}
	for _, block := range blocks {
		data, err := gpu.Encode(block.data)
		if err != nil {
			return err
		}
		view, err := manager.Upload(data)
		if err != nil {
			return errors.Wrapf(err, "globals of frame %d", frame.Index)
		}
		if err = r.device.WriteBufferDescriptor(frame.Bindless, block.binding, core1_0.DescriptorTypeStorageBuffer, view); err != nil {
			return err
		}
	}

	if err := r.device.WriteImageDescriptors(frame.Bindless, BindingTextures, 0, scene.Textures); err != nil {
		return err
	}
	if bound := r.texturesBound[frame.Index]; bound > len(scene.Textures) {
		fill := make([]*gpu.Image, bound-len(scene.Textures))
		for i := range fill {
			fill[i] = r.white
		}
		if err := r.device.WriteImageDescriptors(frame.Bindless, BindingTextures, len(scene.Textures), fill); err != nil {
			return err
		}
	}
	r.texturesBound[frame.Index] = len(scene.Textures)

	r.lights = len(scene.Lights)
	return nil
}

// Pipelines is the cache every renderer pipeline lives in.
func (r *Renderer) Pipelines() *pipeline.Cache {
	return r.pipelines
}

func (r *Renderer) SetLayout() gpu.DescriptorSetLayoutHandle {
	return r.setLayout
}

// NewSorter returns a mesh sorter drawing into target with the renderer's mesh pipelines.
func (r *Renderer) NewSorter(target pipeline.Target) *meshsort.Sorter {
	return meshsort.New(r.device, target, meshsort.CachePipelines{
		Cache: r.pipelines,
		Name:  MeshPipelineName,
	})
}

// DrawModel queues every mesh of model, placed by transform, on sorter. All of the model's
// meshes share the distance of its origin from camera.
func (r *Renderer) DrawModel(sorter *meshsort.Sorter, model *asset.Model, modelIndex int, transform mgl32.Mat4, camera Camera) {
	distance := Distance(camera, transform)
	for _, mesh := range model.Meshes {
		mesh.MaterialIndex += model.MaterialBase
		sorter.AddMesh(mesh, distance, modelIndex, model.TotalIndices, model.Buffer)
	}
}

func (r *Renderer) Destroy() {
	if r.pipelines != nil {
		r.pipelines.Destroy()
		r.pipelines = nil
	}
	for _, manager := range r.frameBuffers {
		manager.Destroy()
	}
	r.frameBuffers = nil
	r.device.DestroyImage(r.white)
	r.white = nil
	r.device.DestroyDescriptorSetLayout(r.setLayout)
	r.setLayout = 0
}
