package asset_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/asset"
	"github.com/vkngwrapper/framegraph/gpu/gputest"
	"github.com/vkngwrapper/framegraph/meshsort"
)

const sceneOBJ = `mtllib scene.mtl
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
usemtl red
f 1/1/1 2/2/1 3/3/1 4/4/1
o glass
v 0 0 1
v 1 0 1
v 0 1 1
usemtl glass
f 5/1/1 6/2/1 7/4/1
`

const sceneMTL = `newmtl red
Kd 1 0 0
d 1
newmtl glass
Kd 0.5 0.5 1
d 0.5
map_Kd glass.png
`

func TestDecodeOBJTriangulatesAndSplitsByMaterial(t *testing.T) {
	data, err := asset.DecodeOBJ("scene", strings.NewReader(sceneOBJ), strings.NewReader(sceneMTL))
	require.NoError(t, err)

	require.Len(t, data.Meshes, 2)
	assert.Equal(t, meshsort.Mesh{FirstIndex: 0, IndexCount: 6, MaterialIndex: 0, Flags: meshsort.FlagOpaque}, data.Meshes[0])
	assert.Equal(t, meshsort.Mesh{FirstIndex: 6, IndexCount: 3, MaterialIndex: 1, Flags: meshsort.FlagTransparent}, data.Meshes[1])

	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3, 4, 5, 6}, data.Indices)
	require.Len(t, data.Vertices, 7)
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, data.Vertices[2].Position)
	assert.Equal(t, mgl32.Vec2{1, 0}, data.Vertices[2].TexCoord)
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, data.Vertices[0].Normal)

	require.Len(t, data.Materials, 2)
	assert.Equal(t, mgl32.Vec4{1, 0, 0, 1}, data.Materials[0].BaseColor)
	assert.InDelta(t, 0.5, data.Materials[1].BaseColor[3], 1e-6)
	assert.Equal(t, "glass.png", data.Materials[1].Texture)
}

func TestDecodeOBJRejectsEmptyModel(t *testing.T) {
	_, err := asset.DecodeOBJ("empty", strings.NewReader("o nothing\nv 0 0 0\n"), strings.NewReader(""))
	assert.Error(t, err)
}

func TestVertexLayoutMatchesStride(t *testing.T) {
	bindings := asset.VertexBindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, 32, bindings[0].Stride)

	attributes := asset.VertexAttributes()
	require.Len(t, attributes, 3)
	assert.Equal(t, 12, attributes[1].Offset)
	assert.Equal(t, 24, attributes[2].Offset)
}

func TestLoadModelsKeepsOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"models/scene.obj":    {Data: []byte(sceneOBJ)},
		"models/scene.mtl":    {Data: []byte(sceneMTL)},
		"models/triangle.obj": {Data: []byte("o tri\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n")},
	}

	models, err := asset.LoadModels(context.Background(), fsys, []string{"models/triangle.obj", "models/scene.obj"})
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "models/triangle.obj", models[0].Name)
	assert.Len(t, models[0].Indices, 3)
	assert.Len(t, models[1].Meshes, 2)

	_, err = asset.LoadModels(context.Background(), fsys, []string{"models/scene.obj", "models/missing.obj"})
	assert.Error(t, err)
}

func TestUploadModelPlacesIndicesFirst(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	data, err := asset.DecodeOBJ("scene", strings.NewReader(sceneOBJ), strings.NewReader(sceneMTL))
	require.NoError(t, err)

	model, err := asset.UploadModel(device, data)
	require.NoError(t, err)
	defer model.Destroy(device)

	assert.Equal(t, 9, model.TotalIndices)
	assert.Equal(t, 36, model.VertexOffset())
	assert.Equal(t, 9*4+7*32, backend.BufferInfos[model.Buffer.Handle].Size)
	assert.True(t, slices.ContainsFunc(backend.Calls, func(call string) bool {
		return strings.HasPrefix(call, "CmdCopyBuffer")
	}))
	assert.Equal(t, 1, backend.Live("buffer"), "only the model buffer outlives the upload")
	gputest.RequireNoViolations(t, backend)
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestDecodePNGNonSquare(t *testing.T) {
	texture, err := asset.DecodePNG("tex", bytes.NewReader(encodePNG(t, 8, 2)))
	require.NoError(t, err)

	assert.Equal(t, 8, texture.Width)
	assert.Equal(t, 2, texture.Height)
	require.Len(t, texture.Pixels, 8*2*4)
	// pixel (5, 1)
	offset := (1*8 + 5) * 4
	assert.Equal(t, []byte{5, 1, 7, 255}, texture.Pixels[offset:offset+4])
	assert.Equal(t, 4, texture.MipLevels())
}

func TestCreateTextureGeneratesMips(t *testing.T) {
	device, backend := gputest.NewDevice(t, 800, 600)

	textures, err := asset.LoadTextures(context.Background(), fstest.MapFS{
		"a.png": {Data: encodePNG(t, 16, 16)},
	}, []string{"a.png"})
	require.NoError(t, err)

	img, err := asset.CreateTexture(device, textures[0])
	require.NoError(t, err)
	defer device.DestroyImage(img)

	assert.Equal(t, 5, backend.Images[img.Handle].MipLevels)
	assert.NotZero(t, img.Sampler)
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, img.Layout)

	_, err = asset.CreateTexture(device, asset.TextureData{Name: "short", Width: 2, Height: 2, Pixels: []byte{1}})
	assert.Error(t, err)
	gputest.RequireNoViolations(t, backend)
}
