package vulkan

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var testUUID = uuid.MustParse("7d3c1a62-4c9b-4b2e-9a51-0e2f3c4d5e6f")

func cacheBytes(t *testing.T, header cacheHeader, payload []byte) []byte {
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, common.ByteOrder, header))
	buf.Write(payload)
	return buf.Bytes()
}

func goodHeader() cacheHeader {
	return cacheHeader{
		Length:   32,
		Version:  common.PipelineCacheHeaderVersion1,
		VendorID: 0x10de,
		DeviceID: 0x2204,
		UUID:     testUUID,
	}
}

func TestCacheHeaderRoundTrip(t *testing.T) {
	data := cacheBytes(t, goodHeader(), []byte{1, 2, 3})
	assert.Equal(t, byte(32), data[0], "length comes first, little endian")

	header, err := readCacheHeader(data)
	require.NoError(t, err)
	assert.Equal(t, goodHeader(), header)
	assert.NoError(t, header.check(0x10de, 0x2204, testUUID))
}

func TestCacheHeaderMismatch(t *testing.T) {
	tests := map[string]func(h *cacheHeader){
		"length":  func(h *cacheHeader) { h.Length = 0 },
		"short":   func(h *cacheHeader) { h.Length = 16 },
		"version": func(h *cacheHeader) { h.Version = 2 },
		"vendor":  func(h *cacheHeader) { h.VendorID = 0x1002 },
		"device":  func(h *cacheHeader) { h.DeviceID = 1 },
		"uuid":    func(h *cacheHeader) { h.UUID = uuid.Nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			header := goodHeader()
			mutate(&header)
			assert.Error(t, header.check(0x10de, 0x2204, testUUID))
		})
	}
}

func TestReadCacheHeaderTruncated(t *testing.T) {
	_, err := readCacheHeader([]byte{32, 0, 0})
	assert.Error(t, err)
}

func TestLoadCacheData(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	props := &core1_0.PhysicalDeviceProperties{
		VendorID:          0x10de,
		DeviceID:          0x2204,
		PipelineCacheUUID: testUUID,
	}
	dir := t.TempDir()

	data, err := loadCacheData(filepath.Join(dir, "missing.bin"), props, logger)
	require.NoError(t, err)
	assert.Nil(t, data)

	good := filepath.Join(dir, "good.bin")
	contents := cacheBytes(t, goodHeader(), []byte{9, 9})
	require.NoError(t, os.WriteFile(good, contents, 0o644))
	data, err = loadCacheData(good, props, logger)
	require.NoError(t, err)
	assert.Equal(t, contents, data)

	stale := filepath.Join(dir, "stale.bin")
	header := goodHeader()
	header.DeviceID = 7
	require.NoError(t, os.WriteFile(stale, cacheBytes(t, header, nil), 0o644))
	data, err = loadCacheData(stale, props, logger)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.NoFileExists(t, stale, "stale caches are removed so the next save repopulates them")
}
