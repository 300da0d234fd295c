package main

import (
	"math"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/framegraph/asset"
	"github.com/vkngwrapper/framegraph/renderer"
)

const modelSpacing = 2.5

// textureSet assigns bindless texture slots to files in first use order.
type textureSet struct {
	paths []string
	slots map[string]int
}

func newTextureSet() *textureSet {
	return &textureSet{slots: map[string]int{}}
}

func (s *textureSet) add(file string) int {
	if slot, ok := s.slots[file]; ok {
		return slot
	}
	slot := len(s.paths)
	s.slots[file] = slot
	s.paths = append(s.paths, file)
	return slot
}

// collectTextures gathers the configured textures followed by every diffuse map the models'
// materials reference, resolved next to the model file.
func collectTextures(configured []string, modelPaths []string, meshes []*asset.MeshData) *textureSet {
	textures := newTextureSet()
	for _, file := range configured {
		textures.add(file)
	}
	for i, data := range meshes {
		for _, material := range data.Materials {
			if material.Texture != "" {
				textures.add(path.Join(path.Dir(modelPaths[i]), material.Texture))
			}
		}
	}
	return textures
}

// buildMaterials lays every model's materials out in one table and sets each model's
// MaterialBase. Materials without a collected texture sample the first slot past the scene
// textures, which the renderer keeps white.
func buildMaterials(models []*asset.Model, modelPaths []string, textures *textureSet, maxTextures int) ([]renderer.Material, error) {
	white := len(textures.paths)
	if white >= maxTextures {
		return nil, errors.Newf("%d textures leave no free bindless slot of %d", white, maxTextures)
	}

	var materials []renderer.Material
	for i, model := range models {
		model.MaterialBase = len(materials)
		for _, data := range model.Materials {
			material := renderer.DefaultMaterial()
			material.BaseColor = data.BaseColor
			material.TextureIndex = uint32(white)
			if slot, ok := textures.slots[path.Join(path.Dir(modelPaths[i]), data.Texture)]; ok && data.Texture != "" {
				material.TextureIndex = uint32(slot)
			}
			materials = append(materials, material)
		}
	}
	return materials, nil
}

// modelTransforms places models side by side along X, centered on the origin.
func modelTransforms(count int) []mgl32.Mat4 {
	transforms := make([]mgl32.Mat4, count)
	start := -float32(count-1) * modelSpacing / 2
	for i := range transforms {
		transforms[i] = mgl32.Translate3D(start+float32(i)*modelSpacing, 0, 0)
	}
	return transforms
}

// orbitCamera circles the origin once every period seconds.
func orbitCamera(seconds float64, period float64, radius float32, aspect float32) renderer.Camera {
	angle := float32(math.Mod(seconds, period) / period * 2 * math.Pi)
	eye := mgl32.Vec3{
		radius * float32(math.Cos(float64(angle))),
		radius / 2,
		radius * float32(math.Sin(float64(angle))),
	}
	return renderer.NewCamera(eye, mgl32.Vec3{}, mgl32.DegToRad(45), aspect, 0.1, 100)
}

func sceneLights() []renderer.Light {
	return []renderer.Light{
		{Position: mgl32.Vec3{4, 4, 4}, Intensity: 1, Color: mgl32.Vec3{1, 0.95, 0.9}, Range: 20},
		{Position: mgl32.Vec3{-4, 2, -3}, Intensity: 0.5, Color: mgl32.Vec3{0.6, 0.7, 1}, Range: 15},
	}
}
