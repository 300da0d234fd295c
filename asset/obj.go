package asset

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/framegraph/meshsort"
)

type MaterialData struct {
	Name      string
	BaseColor mgl32.Vec4
	Texture   string
}

// MeshData is a decoded model on the CPU. Every mesh indexes the shared vertex array, so
// BaseVertex is always zero and FirstIndex counts from the start of Indices.
type MeshData struct {
	Name      string
	Vertices  []Vertex
	Indices   []uint32
	Meshes    []meshsort.Mesh
	Materials []MaterialData
}

type vertexKey struct {
	position, uv, normal int
}

type objBuilder struct {
	decoder   *obj.Decoder
	data      *MeshData
	unique    map[vertexKey]uint32
	materials map[string]int
}

// DecodeOBJ reads a Wavefront model and its material library. Faces are triangulated as
// fans and split into one mesh per object and material.
func DecodeOBJ(name string, objReader, mtlReader io.Reader) (*MeshData, error) {
	decoder, err := obj.DecodeReader(objReader, mtlReader)
	if err != nil {
		return nil, errors.Wrapf(err, "decode model %s", name)
	}

	b := &objBuilder{
		decoder:   decoder,
		data:      &MeshData{Name: name},
		unique:    make(map[vertexKey]uint32),
		materials: make(map[string]int),
	}

	for _, decodedObj := range decoder.Objects {
		if err := b.addObject(decodedObj); err != nil {
			return nil, errors.Wrapf(err, "model %s object %s", name, decodedObj.Name)
		}
	}

	if len(b.data.Indices) == 0 {
		return nil, errors.Newf("model %s has no faces", name)
	}
	return b.data, nil
}

func (b *objBuilder) addObject(decodedObj obj.Object) error {
	var order []string
	groups := make(map[string][]obj.Face)
	for _, face := range decodedObj.Faces {
		if _, ok := groups[face.Material]; !ok {
			order = append(order, face.Material)
		}
		groups[face.Material] = append(groups[face.Material], face)
	}

	for _, material := range order {
		first := len(b.data.Indices)

		for _, face := range groups[material] {
			// We need to triangularize faces
			for i := 2; i < len(face.Vertices); i++ {
				if err := b.addTriangle(face, 0, i-1, i); err != nil {
					return err
				}
			}
		}

		if len(b.data.Indices) == first {
			continue
		}

		materialIndex, flags := b.material(material)
		b.data.Meshes = append(b.data.Meshes, meshsort.Mesh{
			FirstIndex:    first,
			IndexCount:    len(b.data.Indices) - first,
			MaterialIndex: materialIndex,
			Flags:         flags,
		})
	}
	return nil
}

func (b *objBuilder) material(name string) (int, meshsort.Flags) {
	mat := b.decoder.Materials[name]
	transparent := mat != nil && mat.Opacity > 0 && mat.Opacity < 1

	flags := meshsort.FlagOpaque
	if transparent {
		flags = meshsort.FlagTransparent
	}

	if index, ok := b.materials[name]; ok {
		return index, flags
	}

	data := MaterialData{Name: name, BaseColor: mgl32.Vec4{1, 1, 1, 1}}
	if mat != nil {
		data.BaseColor = mgl32.Vec4{mat.Diffuse.R, mat.Diffuse.G, mat.Diffuse.B, 1}
		if transparent {
			data.BaseColor[3] = mat.Opacity
		}
		data.Texture = mat.MapKd
	}

	index := len(b.data.Materials)
	b.data.Materials = append(b.data.Materials, data)
	b.materials[name] = index
	return index, flags
}

func (b *objBuilder) position(index int) (mgl32.Vec3, error) {
	if index < 0 || index*3+2 >= len(b.decoder.Vertices) {
		return mgl32.Vec3{}, errors.Newf("vertex index %d out of range", index)
	}
	return mgl32.Vec3{
		b.decoder.Vertices[index*3],
		b.decoder.Vertices[index*3+1],
		b.decoder.Vertices[index*3+2],
	}, nil
}

func (b *objBuilder) addTriangle(face obj.Face, corners ...int) error {
	var positions [3]mgl32.Vec3
	for i, corner := range corners {
		var err error
		positions[i], err = b.position(face.Vertices[corner])
		if err != nil {
			return err
		}
	}
	flat := positions[1].Sub(positions[0]).Cross(positions[2].Sub(positions[0]))
	if flat.Len() > 0 {
		flat = flat.Normalize()
	}

	for i, corner := range corners {
		b.addVertex(face, corner, positions[i], flat)
	}
	return nil
}

func (b *objBuilder) addVertex(face obj.Face, corner int, position, flatNormal mgl32.Vec3) {
	key := vertexKey{position: face.Vertices[corner], uv: -1, normal: -1}
	if corner < len(face.Uvs) && face.Uvs[corner] >= 0 && face.Uvs[corner]*2+1 < len(b.decoder.Uvs) {
		key.uv = face.Uvs[corner]
	}
	if corner < len(face.Normals) && face.Normals[corner] >= 0 && face.Normals[corner]*3+2 < len(b.decoder.Normals) {
		key.normal = face.Normals[corner]
	}

	index, vertexExists := b.unique[key]
	if !vertexExists {
		vert := Vertex{Position: position, Normal: flatNormal}

		if key.uv >= 0 {
			vert.TexCoord = mgl32.Vec2{
				b.decoder.Uvs[key.uv*2],
				1.0 - b.decoder.Uvs[key.uv*2+1],
			}
		}
		if key.normal >= 0 {
			vert.Normal = mgl32.Vec3{
				b.decoder.Normals[key.normal*3],
				b.decoder.Normals[key.normal*3+1],
				b.decoder.Normals[key.normal*3+2],
			}
		}

		index = uint32(len(b.data.Vertices))
		b.data.Vertices = append(b.data.Vertices, vert)
		b.unique[key] = index
	}

	b.data.Indices = append(b.data.Indices, index)
}
