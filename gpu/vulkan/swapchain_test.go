package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

func TestChooseSwapPresentMode(t *testing.T) {
	all := []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox, khr_surface.PresentModeImmediate}
	assert.Equal(t, khr_surface.PresentModeMailbox, chooseSwapPresentMode(all, true))
	assert.Equal(t, khr_surface.PresentModeImmediate, chooseSwapPresentMode(all, false))
	assert.Equal(t, khr_surface.PresentModeFIFO, chooseSwapPresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO}, false))
	assert.Equal(t, khr_surface.PresentModeFIFO, chooseSwapPresentMode(all[:1], true))
}

func TestChooseSwapExtentClampsUndefinedExtent(t *testing.T) {
	capabilities := &khr_surface.SurfaceCapabilities{
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 16, Height: 16},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 2048},
	}
	assert.Equal(t, core1_0.Extent2D{Width: 1280, Height: 2048}, chooseSwapExtent(capabilities, 1280, 4000))
	assert.Equal(t, core1_0.Extent2D{Width: 16, Height: 720}, chooseSwapExtent(capabilities, 1, 720))

	capabilities.CurrentExtent = core1_0.Extent2D{Width: 800, Height: 600}
	assert.Equal(t, capabilities.CurrentExtent, chooseSwapExtent(capabilities, 1280, 720), "the surface size wins when it is defined")
}

func TestRegistryNeverReusesHandles(t *testing.T) {
	r := newRegistry[string]()
	first := r.add("a")
	_, ok := r.remove(first)
	assert.True(t, ok)
	second := r.add("b")
	assert.NotEqual(t, first, second)
	assert.Equal(t, "", r.get(first))
	assert.Equal(t, 1, r.len())

	_, ok = r.remove(first)
	assert.False(t, ok)
}
