package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const (
	maxDescriptorSets     = 64
	maxUniformDescriptors = 256
	maxImageDescriptors   = 1024
)

func (d *Device) createDescriptorPool() error {
	var err error
	d.descriptorPool, err = d.backend.CreateDescriptorPool(core1_0.DescriptorPoolCreateInfo{
		MaxSets: maxDescriptorSets,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: maxUniformDescriptors,
			},
			{
				Type:            core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: maxUniformDescriptors,
			},
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: maxImageDescriptors,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create descriptor pool")
	}
	return nil
}

func (d *Device) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (DescriptorSetLayoutHandle, error) {
	layout, err := d.backend.CreateDescriptorSetLayout(core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return 0, errors.Wrap(err, "create descriptor set layout")
	}
	return layout, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout DescriptorSetLayoutHandle) {
	if layout != 0 {
		d.backend.DestroyDescriptorSetLayout(layout)
	}
}

func (d *Device) AllocateDescriptorSet(layout DescriptorSetLayoutHandle) (DescriptorSetHandle, error) {
	set, err := d.backend.AllocateDescriptorSet(d.descriptorPool, layout)
	if err != nil {
		return 0, errors.Wrap(err, "allocate descriptor set")
	}
	return set, nil
}

// AllocateFrameDescriptorSets gives every frame in flight its own set of layout, so that a
// frame's descriptor writes never touch a set the GPU may still be reading.
func (d *Device) AllocateFrameDescriptorSets(layout DescriptorSetLayoutHandle) error {
	for i := range d.frames {
		set, err := d.AllocateDescriptorSet(layout)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		d.frames[i].Bindless = set
	}
	return nil
}

func (d *Device) WriteBufferDescriptor(set DescriptorSetHandle, binding int, typ core1_0.DescriptorType, view BufferView) error {
	err := d.backend.UpdateDescriptorSets([]DescriptorWrite{
		{
			Set:     set,
			Binding: binding,
			Type:    typ,
			Buffers: []DescriptorBuffer{view.Descriptor()},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "write buffer descriptor at binding %d", binding)
	}
	return nil
}

// WriteImageDescriptors writes images as combined image samplers starting at array element
// first of binding.
func (d *Device) WriteImageDescriptors(set DescriptorSetHandle, binding int, first int, images []*Image) error {
	if len(images) == 0 {
		return nil
	}

	infos := make([]DescriptorImage, 0, len(images))
	for _, img := range images {
		if img.Sampler == 0 {
			return errors.AssertionFailedf("image %d has no sampler", img.Handle)
		}
		infos = append(infos, DescriptorImage{
			View:    img.View,
			Sampler: img.Sampler,
			Layout:  core1_0.ImageLayoutShaderReadOnlyOptimal,
		})
	}

	err := d.backend.UpdateDescriptorSets([]DescriptorWrite{
		{
			Set:          set,
			Binding:      binding,
			ArrayElement: first,
			Type:         core1_0.DescriptorTypeCombinedImageSampler,
			Images:       infos,
		},
	})
	if err != nil {
		return errors.Wrapf(err, "write image descriptors at binding %d", binding)
	}
	return nil
}
