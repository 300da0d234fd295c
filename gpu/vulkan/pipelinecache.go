package vulkan

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// cacheHeader is the header the driver writes at the start of pipeline cache data:
//
//	Offset	 Size            Meaning
//	     0               4    length in bytes of the entire header
//	     4               4    a VkPipelineCacheHeaderVersion value
//	     8               4    vendor ID
//	    12               4    device ID
//	    16    VK_UUID_SIZE    pipeline cache UUID
//
// All integers are little endian.
type cacheHeader struct {
	Length   uint32
	Version  common.PipelineCacheHeaderVersion
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

// cacheHeaderSize is the smallest header length a driver may report.
const cacheHeaderSize = 16 + len(uuid.UUID{})

func readCacheHeader(data []byte) (cacheHeader, error) {
	var header cacheHeader
	if err := binary.Read(bytes.NewReader(data), common.ByteOrder, &header); err != nil {
		return header, errors.Wrap(err, "read pipeline cache header")
	}
	return header, nil
}

// check reports why cached data written by another driver or device cannot be reused.
func (h cacheHeader) check(vendorID, deviceID uint32, cacheUUID uuid.UUID) error {
	switch {
	case h.Length < cacheHeaderSize:
		return errors.Newf("bad header length %d, want at least %d", h.Length, cacheHeaderSize)
	case h.Version != common.PipelineCacheHeaderVersion1:
		return errors.Newf("unsupported header version 0x%x", h.Version)
	case h.VendorID != vendorID:
		return errors.Newf("vendor ID mismatch: cache has 0x%x, driver expects 0x%x", h.VendorID, vendorID)
	case h.DeviceID != deviceID:
		return errors.Newf("device ID mismatch: cache has 0x%x, driver expects 0x%x", h.DeviceID, deviceID)
	case h.UUID != cacheUUID:
		return errors.Newf("UUID mismatch: cache has %s, driver expects %s", h.UUID, cacheUUID)
	}
	return nil
}

// pipelineCache is a driver pipeline cache persisted to a file between runs.
type pipelineCache struct {
	driver core1_0.CoreDeviceDriver
	logger *slog.Logger
	path   string
	cache  core1_0.PipelineCache
}

// handle is nil when no cache is configured, which makes pipeline creation uncached.
func (p *pipelineCache) handle() *core1_0.PipelineCache {
	if p == nil {
		return nil
	}
	return &p.cache
}

// loadCacheData reads path and drops the data when its header does not match the device.
func loadCacheData(path string, props *core1_0.PhysicalDeviceProperties, logger *slog.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "read pipeline cache %s", path)
	}

	header, err := readCacheHeader(data)
	if err == nil {
		err = header.check(props.VendorID, props.DeviceID, props.PipelineCacheUUID)
	}
	if err != nil {
		logger.Warn("discarding pipeline cache", slog.String("path", path), slog.Any("reason", err))
		// repopulated on the next save
		_ = os.Remove(path)
		return nil, nil
	}
	return data, nil
}

func (b *Backend) createPipelineCache() error {
	if b.cachePath == "" {
		return nil
	}

	data, err := loadCacheData(b.cachePath, b.properties, b.logger)
	if err != nil {
		return err
	}

	cache, _, err := b.deviceDriver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: data,
	})
	if err != nil {
		return err
	}

	b.pipelineCache = &pipelineCache{
		driver: b.deviceDriver,
		logger: b.logger,
		path:   b.cachePath,
		cache:  cache,
	}
	b.logger.Debug("pipeline cache loaded", slog.String("path", b.cachePath), slog.Int("bytes", len(data)))
	return nil
}

func (p *pipelineCache) save() error {
	start := hrtime.Now()
	data, _, err := p.driver.GetPipelineCacheData(p.cache)
	if err != nil {
		return errors.Wrap(err, "get pipeline cache data")
	}

	if err = os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return errors.Wrapf(err, "create pipeline cache directory for %s", p.path)
	}
	if err = os.WriteFile(p.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write pipeline cache %s", p.path)
	}

	p.logger.Info("pipeline cache written",
		slog.String("path", p.path),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", hrtime.Since(start)))
	return nil
}

func (p *pipelineCache) destroy() {
	p.driver.DestroyPipelineCache(p.cache, nil)
}
