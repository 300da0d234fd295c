package gpu

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type BufferDescription struct {
	Size             int
	Usage            core1_0.BufferUsageFlags
	MemoryProperties core1_0.MemoryPropertyFlags
}

// Buffer is a GPU buffer bound to its own allocation. Host visible buffers stay mapped for
// their whole lifetime.
type Buffer struct {
	Handle BufferHandle
	Memory MemoryHandle
	Mapped []byte

	Description BufferDescription
	Used        int
}

func (b *Buffer) HostVisible() bool {
	return b.Description.MemoryProperties&core1_0.MemoryPropertyHostVisible != 0
}

// Write copies data into the mapped allocation at offset.
func (b *Buffer) Write(offset int, data []byte) error {
	if b.Mapped == nil {
		return errors.AssertionFailedf("buffer %d is not host visible", b.Handle)
	}
	if offset < 0 || offset+len(data) > len(b.Mapped) {
		return errors.AssertionFailedf("write of %d bytes at %d overflows buffer of %d bytes", len(data), offset, len(b.Mapped))
	}
	copy(b.Mapped[offset:], data)
	return nil
}

func (d *Device) CreateBuffer(desc BufferDescription) (*Buffer, error) {
	if desc.Size <= 0 {
		return nil, errors.AssertionFailedf("buffer size %d must be positive", desc.Size)
	}
	if desc.MemoryProperties == 0 {
		desc.MemoryProperties = core1_0.MemoryPropertyDeviceLocal
	}

	handle, err := d.backend.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        desc.Size,
		Usage:       desc.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create buffer of %d bytes", desc.Size)
	}

	buf := &Buffer{Handle: handle, Description: desc}

	memRequirements := d.backend.BufferMemoryRequirements(handle)
	memoryTypeIndex, err := d.findMemoryType(memRequirements.MemoryTypeBits, desc.MemoryProperties)
	if err != nil {
		d.DestroyBuffer(buf)
		return nil, err
	}

	buf.Memory, err = d.backend.AllocateMemory(memRequirements.Size, memoryTypeIndex)
	if err != nil {
		d.DestroyBuffer(buf)
		return nil, errors.Wrap(err, "allocate buffer memory")
	}

	if err = d.backend.BindBufferMemory(handle, buf.Memory, 0); err != nil {
		d.DestroyBuffer(buf)
		return nil, errors.Wrap(err, "bind buffer memory")
	}

	if buf.HostVisible() {
		buf.Mapped, err = d.backend.MapMemory(buf.Memory, 0, desc.Size)
		if err != nil {
			d.DestroyBuffer(buf)
			return nil, errors.Wrap(err, "map buffer memory")
		}
	}

	d.stats.Buffers++
	return buf, nil
}

func (d *Device) DestroyBuffer(buf *Buffer) {
	if buf == nil {
		return
	}

	if buf.Mapped != nil {
		d.backend.UnmapMemory(buf.Memory)
		buf.Mapped = nil
	}
	if buf.Handle != 0 {
		d.backend.DestroyBuffer(buf.Handle)
		buf.Handle = 0
		d.stats.Buffers--
	}
	if buf.Memory != 0 {
		d.backend.FreeMemory(buf.Memory)
		buf.Memory = 0
	}
}

// BufferView is a non-owning window into a Buffer.
type BufferView struct {
	Buffer *Buffer
	Offset int
	Size   int
}

func (v BufferView) Write(data []byte) error {
	if len(data) > v.Size {
		return errors.AssertionFailedf("write of %d bytes overflows view of %d bytes", len(data), v.Size)
	}
	return v.Buffer.Write(v.Offset, data)
}

func (v BufferView) Descriptor() DescriptorBuffer {
	return DescriptorBuffer{Buffer: v.Buffer.Handle, Offset: v.Offset, Range: v.Size}
}

// Encode lays out fixed-size data the way the GPU reads it.
func Encode(data any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, common.ByteOrder, data); err != nil {
		return nil, errors.Wrap(err, "encode gpu data")
	}
	return buf.Bytes(), nil
}

// BufferManager is a linear sub-allocator over one host visible buffer. Views handed out
// stay valid until Reset.
type BufferManager struct {
	device    *Device
	buffer    *Buffer
	alignment int
}

// NewBufferManager creates a manager whose views start at multiples of alignment, which must
// be a power of two as every Vulkan offset alignment is. Zero means unaligned.
func (d *Device) NewBufferManager(size int, usage core1_0.BufferUsageFlags, alignment int) (*BufferManager, error) {
	if alignment == 0 {
		alignment = 1
	}
	if alignment < 0 || alignment&(alignment-1) != 0 {
		return nil, errors.AssertionFailedf("buffer manager alignment %d is not a power of two", alignment)
	}
	buf, err := d.CreateBuffer(BufferDescription{
		Size:             size,
		Usage:            usage,
		MemoryProperties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
	})
	if err != nil {
		return nil, err
	}
	return &BufferManager{device: d, buffer: buf, alignment: alignment}, nil
}

func (m *BufferManager) Buffer() *Buffer {
	return m.buffer
}

func (m *BufferManager) Allocate(size int) (BufferView, error) {
	offset := alignUp(m.buffer.Used, m.alignment)
	if offset+size > m.buffer.Description.Size {
		return BufferView{}, errors.Newf("buffer manager exhausted: %d of %d bytes used, %d requested", m.buffer.Used, m.buffer.Description.Size, size)
	}
	m.buffer.Used = offset + size
	return BufferView{Buffer: m.buffer, Offset: offset, Size: size}, nil
}

// Upload allocates a view and writes data into it.
func (m *BufferManager) Upload(data []byte) (BufferView, error) {
	view, err := m.Allocate(len(data))
	if err != nil {
		return view, err
	}
	return view, view.Write(data)
}

func (m *BufferManager) Reset() {
	m.buffer.Used = 0
}

func (m *BufferManager) Destroy() {
	m.device.DestroyBuffer(m.buffer)
}

func alignUp(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}
