package meshsort

import (
	"cmp"
	"log/slog"
	"math"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/pipeline"
)

const passShift = 60

// PipelineProvider resolves the pipeline a mesh is drawn with in a pass.
type PipelineProvider interface {
	Pipeline(pass DrawPass, flags Flags, target pipeline.Target) (*pipeline.State, error)
}

// CachePipelines resolves pipelines by name from a cache.
type CachePipelines struct {
	Cache *pipeline.Cache
	Name  func(pass DrawPass, flags Flags) string
}

func (c CachePipelines) Pipeline(pass DrawPass, flags Flags, target pipeline.Target) (*pipeline.State, error) {
	return c.Cache.Get(c.Name(pass, flags), target)
}

// Sorter collects one frame's meshes for a target, sorts them and records their draws. It
// is reused across frames through Reset.
type Sorter struct {
	device    *gpu.Device
	target    pipeline.Target
	pipelines PipelineProvider

	cameraIndex int

	meshes     []SortMesh
	keys       []SortKey
	passCounts [passCount]int
	sorted     bool

	currentPass DrawPass
	currentDraw int
}

func New(device *gpu.Device, target pipeline.Target, pipelines PipelineProvider) *Sorter {
	return &Sorter{
		device:    device,
		target:    target,
		pipelines: pipelines,
	}
}

// SetCamera sets the camera index pushed with every following draw.
func (s *Sorter) SetCamera(index int) {
	s.cameraIndex = index
}

func (s *Sorter) SetTarget(target pipeline.Target) {
	s.target = target
}

func makeKey(pass DrawPass, distance float32) uint64 {
	bits := uint64(math.Float32bits(distance))
	if pass == Transparent {
		// far before near
		bits = ^bits & math.MaxUint32
	}
	return uint64(pass)<<passShift | bits
}

// AddMesh queues mesh for this frame. Meshes flagged transparent go to the Transparent pass,
// everything else to Opaque; meshes flagged for outline are queued for Outline as well.
// Distances must not be negative and are clamped to zero.
func (s *Sorter) AddMesh(mesh Mesh, distance float32, modelIndex int, totalIndices int, buffer *gpu.Buffer) {
	if distance < 0 || math.IsNaN(float64(distance)) {
		s.device.Logger().Warn("negative mesh distance clamped",
			slog.Float64("distance", float64(distance)), slog.Int("model", modelIndex))
		distance = 0
	}

	value := len(s.meshes)
	s.meshes = append(s.meshes, SortMesh{
		Mesh:         mesh,
		Distance:     distance,
		ModelIndex:   modelIndex,
		TotalIndices: totalIndices,
		Buffer:       buffer,
	})

	pass := Opaque
	if mesh.Flags.Has(FlagTransparent) {
		pass = Transparent
	}
	s.addKey(pass, value, distance)

	if mesh.Flags.Has(FlagOutline) {
		s.addKey(Outline, value, distance)
	}
	s.sorted = false
}

func (s *Sorter) addKey(pass DrawPass, value int, distance float32) {
	s.keys = append(s.keys, SortKey{
		Key:      makeKey(pass, distance),
		Value:    value,
		Pass:     pass,
		Distance: distance,
	})
	s.passCounts[pass]++
}

// Sort orders every key: by pass, then opaque and outline front to back and transparent
// back to front. Equal keys keep their insertion order.
func (s *Sorter) Sort() {
	slices.SortStableFunc(s.keys, func(a, b SortKey) int {
		return cmp.Compare(a.Key, b.Key)
	})
	s.sorted = true
}

func (s *Sorter) Len() int {
	return len(s.meshes)
}

// Keys are the queued keys, in sorted order once Sort has run.
func (s *Sorter) Keys() []SortKey {
	return s.keys
}

func (s *Sorter) Mesh(key SortKey) SortMesh {
	return s.meshes[key.Value]
}

func (s *Sorter) PassCount(pass DrawPass) int {
	return s.passCounts[pass]
}

// CurrentPass is the first pass RenderMeshes has not drawn yet.
func (s *Sorter) CurrentPass() DrawPass {
	return s.currentPass
}

// RenderMeshes draws every pass from the first undrawn one up to and including pass into
// frame's command buffer. The target's render pass must have begun. Passes already drawn
// are skipped, so RenderMeshes(Opaque) followed by RenderMeshes(Transparent) draws each
// entry once.
func (s *Sorter) RenderMeshes(frame *gpu.Frame, pass DrawPass) error {
	return s.render(frame, pass, nil, nil)
}

// RenderMeshesWith draws like RenderMeshes but with pso for every entry, rebuilding pso first
// if it was built for another target or an older generation of this one. It serves debug and
// depth views that re-render the scene after ResetDraw. A pipeline replaced by the rebuild
// stays alive until the frames that recorded it complete; sharing one pso between targets
// still rebuilds it on every switch, so keep one per target where that matters.
func (s *Sorter) RenderMeshesWith(frame *gpu.Frame, pass DrawPass, pso *pipeline.State, target pipeline.Target) error {
	if !pso.Compatible(target) {
		if err := pso.Rebuild(target); err != nil {
			return errors.Wrap(err, "rebuild override pipeline")
		}
	}
	return s.render(frame, pass, pso, target)
}

func (s *Sorter) render(frame *gpu.Frame, last DrawPass, override *pipeline.State, target pipeline.Target) error {
	if last < ZPass || last >= passCount {
		return errors.AssertionFailedf("unknown draw pass %d", last)
	}
	if !s.sorted && len(s.keys) > 0 {
		return errors.AssertionFailedf("meshes rendered before Sort")
	}
	if target == nil {
		target = s.target
	}

	cmd := frame.CommandBuffer
	var bound *pipeline.State
	var boundLayout gpu.PipelineLayoutHandle
	var boundBuffer *gpu.Buffer

	for ; s.currentPass <= last; s.currentPass++ {
		end := s.passStart(s.currentPass) + s.passCounts[s.currentPass]

		for ; s.currentDraw < end; s.currentDraw++ {
			key := s.keys[s.currentDraw]
			mesh := s.meshes[key.Value]

			pso := override
			if pso == nil {
				var err error
				pso, err = s.pipelines.Pipeline(key.Pass, mesh.Mesh.Flags, target)
				if err != nil {
					return errors.Wrapf(err, "pipeline for %s mesh of model %d", key.Pass, mesh.ModelIndex)
				}
			}

			if pso != bound {
				pso.Bind(cmd)
				bound = pso
				if pso.Layout != boundLayout && frame.Bindless != 0 {
					s.device.BindDescriptorSets(cmd, pso.Layout, frame.Bindless)
				}
				boundLayout = pso.Layout
			}

			if mesh.Buffer != boundBuffer {
				s.device.BindMeshBuffer(cmd, mesh.Buffer, mesh.VertexOffset())
				boundBuffer = mesh.Buffer
			}

			if len(pso.PushConstantRanges) > 0 {
				data, err := gpu.Encode(PushConstants{
					MaterialIdx: uint32(mesh.Mesh.MaterialIndex),
					ModelIdx:    uint32(mesh.ModelIndex),
					CameraIdx:   uint32(s.cameraIndex),
				})
				if err != nil {
					return err
				}
				s.device.PushConstants(cmd, pso.Layout, pso.PushConstantRanges[0].StageFlags, data)
			}

			s.device.DrawIndexed(cmd, mesh.Mesh.IndexCount, mesh.Mesh.FirstIndex, mesh.Mesh.BaseVertex)
		}
	}
	return nil
}

func (s *Sorter) passStart(pass DrawPass) int {
	start := 0
	for p := ZPass; p < pass; p++ {
		start += s.passCounts[p]
	}
	return start
}

// Cursor is a position in the sorted submission.
type Cursor struct {
	pass DrawPass
	draw int
}

// Cursor returns the current submission position so a pass that replays the meshes can put
// it back with Restore.
func (s *Sorter) Cursor() Cursor {
	return Cursor{pass: s.currentPass, draw: s.currentDraw}
}

func (s *Sorter) Restore(c Cursor) {
	s.currentPass, s.currentDraw = c.pass, c.draw
}

// ResetDraw rewinds submission to the first pass so the same sorted meshes can be drawn
// again, e.g. into another target in the same frame.
func (s *Sorter) ResetDraw() {
	s.currentPass = ZPass
	s.currentDraw = 0
}

// Reset clears every queued mesh for the next frame.
func (s *Sorter) Reset() {
	s.meshes = s.meshes[:0]
	s.keys = s.keys[:0]
	s.passCounts = [passCount]int{}
	s.sorted = false
	s.ResetDraw()
}
