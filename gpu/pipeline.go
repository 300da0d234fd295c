package gpu

import (
	"github.com/cockroachdb/errors"
)

// BytesToBytecode reinterprets little endian SPIR-V bytes as words.
func BytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func (d *Device) CreateShaderModule(spirv []byte) (ShaderModuleHandle, error) {
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return 0, errors.Newf("invalid SPIR-V module of %d bytes", len(spirv))
	}
	module, err := d.backend.CreateShaderModule(BytesToBytecode(spirv))
	if err != nil {
		return 0, errors.Wrap(err, "create shader module")
	}
	return module, nil
}

func (d *Device) DestroyShaderModule(module ShaderModuleHandle) {
	if module != 0 {
		d.backend.DestroyShaderModule(module)
	}
}

func (d *Device) CreatePipelineLayout(info PipelineLayoutCreateInfo) (PipelineLayoutHandle, error) {
	layout, err := d.backend.CreatePipelineLayout(info)
	if err != nil {
		return 0, errors.Wrap(err, "create pipeline layout")
	}
	return layout, nil
}

func (d *Device) DestroyPipelineLayout(layout PipelineLayoutHandle) {
	if layout != 0 {
		d.backend.DestroyPipelineLayout(layout)
	}
}

func (d *Device) CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (PipelineHandle, error) {
	pipeline, err := d.backend.CreateGraphicsPipeline(info)
	if err != nil {
		return 0, errors.Wrap(err, "create graphics pipeline")
	}
	return pipeline, nil
}

func (d *Device) DestroyPipeline(pipeline PipelineHandle) {
	if pipeline != 0 {
		d.backend.DestroyPipeline(pipeline)
	}
}
