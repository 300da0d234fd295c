package asset

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/meshsort"
)

const indexSize = 4

// Model is an uploaded mesh set. Its buffer holds every index followed by every vertex.
type Model struct {
	Name         string
	Buffer       *gpu.Buffer
	Meshes       []meshsort.Mesh
	Materials    []MaterialData
	TotalIndices int
	VertexCount  int

	// MaterialBase is added to each mesh's material index when the model is drawn, placing
	// its materials in a scene-wide table.
	MaterialBase int
}

// VertexOffset is where vertices start in Buffer, in bytes.
func (m *Model) VertexOffset() int {
	return m.TotalIndices * indexSize
}

// UploadModel copies data into a device local buffer, indices first.
func UploadModel(device *gpu.Device, data *MeshData) (*Model, error) {
	indexBytes, err := gpu.Encode(data.Indices)
	if err != nil {
		return nil, err
	}
	vertexBytes, err := gpu.Encode(data.Vertices)
	if err != nil {
		return nil, err
	}
	contents := append(indexBytes, vertexBytes...)

	buf, err := device.CreateBuffer(gpu.BufferDescription{
		Size:             len(contents),
		Usage:            core1_0.BufferUsageTransferDst | core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageVertexBuffer,
		MemoryProperties: core1_0.MemoryPropertyDeviceLocal,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", data.Name)
	}

	if err = device.UploadBuffer(buf, 0, contents); err != nil {
		device.DestroyBuffer(buf)
		return nil, errors.Wrapf(err, "upload model %s", data.Name)
	}

	device.Logger().Debug("model uploaded",
		slog.String("model", data.Name),
		slog.Int("meshes", len(data.Meshes)),
		slog.Int("indices", len(data.Indices)),
		slog.Int("vertices", len(data.Vertices)))

	return &Model{
		Name:         data.Name,
		Buffer:       buf,
		Meshes:       data.Meshes,
		Materials:    data.Materials,
		TotalIndices: len(data.Indices),
		VertexCount:  len(data.Vertices),
	}, nil
}

func (m *Model) Destroy(device *gpu.Device) {
	device.DestroyBuffer(m.Buffer)
}

func materialLibrary(modelPath string) string {
	return strings.TrimSuffix(modelPath, path.Ext(modelPath)) + ".mtl"
}

func decodeModelFile(fsys fs.FS, modelPath string) (*MeshData, error) {
	meshFile, err := fsys.Open(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open model %s", modelPath)
	}
	defer meshFile.Close()

	var matReader io.Reader = strings.NewReader("")
	matFile, err := fsys.Open(materialLibrary(modelPath))
	if err == nil {
		defer matFile.Close()
		matReader = matFile
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "open material library of %s", modelPath)
	}

	return DecodeOBJ(modelPath, meshFile, matReader)
}

// LoadModels decodes every model in parallel. A model's material library is the file next
// to it with the .mtl extension, if there is one. Results are in the order of paths.
func LoadModels(ctx context.Context, fsys fs.FS, paths []string) ([]*MeshData, error) {
	results := make([]*MeshData, len(paths))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i, modelPath := range paths {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := decodeModelFile(fsys, modelPath)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
