package shaders_test

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/framegraph/meshsort"
	"github.com/vkngwrapper/framegraph/renderer"
)

func TestBindlessLayoutMatchesRenderer(t *testing.T) {
	src, err := os.ReadFile("bindless.glsl")
	require.NoError(t, err)

	bindings := map[string]int{}
	for _, m := range regexp.MustCompile(`binding = (\d+)[^}]*?\b(?:buffer|sampler2D) (\w+)`).FindAllStringSubmatch(string(src), -1) {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		bindings[m[2]] = n
	}
	assert.Equal(t, map[string]int{
		"Cameras":   renderer.BindingCameras,
		"Models":    renderer.BindingModels,
		"Lights":    renderer.BindingLights,
		"Materials": renderer.BindingMaterials,
		"textures":  renderer.BindingTextures,
	}, bindings)

	assert.Contains(t, string(src), "const uint MAX_TEXTURES = "+strconv.Itoa(renderer.DefaultMaxTextures)+";")
	assert.Contains(t, string(src), strconv.Itoa(int(unsafe.Sizeof(meshsort.PushConstants{})))+" bytes")
}

func TestEveryCompiledShaderHasSource(t *testing.T) {
	gen, err := os.ReadFile("shaders.go")
	require.NoError(t, err)

	var outputs []string
	for _, line := range strings.Split(string(gen), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 5 || fields[0] != "//go:generate" {
			continue
		}
		outputs = append(outputs, fields[3])
		assert.Equal(t, fields[4]+".spv", fields[3])
		_, err := os.Stat(fields[4])
		assert.NoError(t, err, "source of %s", fields[3])
	}
	assert.ElementsMatch(t, []string{
		"mesh.vert.spv", "mesh.frag.spv",
		"outline.vert.spv", "outline.frag.spv",
		"depth.vert.spv",
		"skybox.vert.spv", "skybox.frag.spv",
		"gizmo.vert.spv", "gizmo.frag.spv",
	}, outputs)
}
