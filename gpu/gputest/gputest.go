package gputest

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/framegraph/gpu"
)

// NopLogger discards everything.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDevice builds a device over a fresh fake backend at width x height. The device is
// destroyed when the test ends.
func NewDevice(t testing.TB, width, height int, opts ...gpu.Option) (*gpu.Device, *Backend) {
	t.Helper()

	backend := NewBackend()
	opts = append([]gpu.Option{gpu.WithLogger(NopLogger())}, opts...)
	device, err := gpu.NewDevice(backend, width, height, opts...)
	require.NoError(t, err)
	t.Cleanup(device.Destroy)

	return device, backend
}

// RequireNoViolations fails the test if the backend saw any misuse.
func RequireNoViolations(t testing.TB, backend *Backend) {
	t.Helper()
	require.Empty(t, backend.Violations)
}
