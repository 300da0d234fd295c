// Package meshsort batches a frame's draw candidates by pass and depth and submits them with
// as few pipeline and buffer binds as possible.
package meshsort

import (
	"github.com/vkngwrapper/framegraph/gpu"
)

// DrawPass orders submission within a render pass. Passes are always drawn in increasing
// order.
type DrawPass int

const (
	// ZPass has no entries of its own; depth pre-passes re-render Opaque with their own
	// pipeline through RenderMeshesWith.
	ZPass DrawPass = iota
	Opaque
	Transparent
	Outline

	passCount
)

var passNames = [passCount]string{"ZPass", "Opaque", "Transparent", "Outline"}

func (p DrawPass) String() string {
	if p < 0 || p >= passCount {
		return "Unknown"
	}
	return passNames[p]
}

// Flags select the pipeline a mesh is drawn with.
type Flags uint32

const (
	FlagOpaque Flags = 1 << iota
	FlagTransparent
	FlagTwoSided
	FlagOutline
	FlagWireframe
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Mesh is an index range of a model's combined buffer. FirstIndex counts indices from the
// start of the buffer and BaseVertex is added to every index.
type Mesh struct {
	FirstIndex    int
	IndexCount    int
	BaseVertex    int
	MaterialIndex int
	Flags         Flags
}

// SortMesh is a mesh queued for the current frame. TotalIndices is the index count of the
// whole buffer, which places the vertices right after the indices.
type SortMesh struct {
	Mesh         Mesh
	Distance     float32
	ModelIndex   int
	TotalIndices int
	Buffer       *gpu.Buffer
}

// VertexOffset is where vertices start in the mesh's buffer, in bytes.
func (m SortMesh) VertexOffset() int {
	return m.TotalIndices * 4
}

// SortKey orders one SortMesh. Key carries the pass in its top bits so a single sort groups
// entries by pass.
type SortKey struct {
	Key      uint64
	Value    int
	Pass     DrawPass
	Distance float32
}

// PushConstants is the per-draw payload indexing the bindless set.
type PushConstants struct {
	MaterialIdx uint32
	ModelIdx    uint32
	CameraIdx   uint32
}
