package renderer

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/framegraph/gpu"
)

type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Position   mgl32.Vec3
}

// NewCamera looks from eye at center with a perspective projection. The projection is
// flipped on Y for Vulkan clip space.
func NewCamera(eye, center mgl32.Vec3, fovy, aspect, near, far float32) Camera {
	projection := mgl32.Perspective(fovy, aspect, near, far)
	projection[5] *= -1

	return Camera{
		View:       mgl32.LookAtV(eye, center, mgl32.Vec3{0, 1, 0}),
		Projection: projection,
		Position:   eye,
	}
}

type Light struct {
	Position  mgl32.Vec3
	Intensity float32
	Color     mgl32.Vec3
	Range     float32
}

type Material struct {
	BaseColor    mgl32.Vec4
	TextureIndex uint32
	Roughness    float32
	Metallic     float32
	_            uint32
}

// DefaultMaterial is white, untextured and fully rough.
func DefaultMaterial() Material {
	return Material{BaseColor: mgl32.Vec4{1, 1, 1, 1}, Roughness: 1}
}

// Scene is everything the bindless set exposes to shaders for one frame. Draws index
// Cameras, Models and Materials through push constants; materials index Textures.
type Scene struct {
	Cameras   []Camera
	Lights    []Light
	Materials []Material
	Models    []mgl32.Mat4
	Textures  []*gpu.Image
}

// cameraData is Camera as laid out in the shaders' storage buffer.
type cameraData struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Position   mgl32.Vec3
	_          float32
}

func cameraBlock(cameras []Camera) []cameraData {
	if len(cameras) == 0 {
		return []cameraData{{View: mgl32.Ident4(), Projection: mgl32.Ident4()}}
	}
	data := make([]cameraData, len(cameras))
	for i, camera := range cameras {
		data[i] = cameraData{View: camera.View, Projection: camera.Projection, Position: camera.Position}
	}
	return data
}

func modelBlock(models []mgl32.Mat4) []mgl32.Mat4 {
	if len(models) == 0 {
		return []mgl32.Mat4{mgl32.Ident4()}
	}
	return models
}

func lightBlock(lights []Light) []Light {
	if len(lights) == 0 {
		return []Light{{}}
	}
	return lights
}

func materialBlock(materials []Material) []Material {
	if len(materials) == 0 {
		return []Material{DefaultMaterial()}
	}
	return materials
}

// Distance is how far the origin of a model placed by transform is from camera.
func Distance(camera Camera, transform mgl32.Mat4) float32 {
	return transform.Col(3).Vec3().Sub(camera.Position).Len()
}
