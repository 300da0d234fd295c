// Package shaders holds the GLSL sources of the renderer's pipelines. The viewer loads the
// compiled .spv files from the directory named by assets.shader_dir.
package shaders

//go:generate glslc -o mesh.vert.spv mesh.vert
//go:generate glslc -o mesh.frag.spv mesh.frag
//go:generate glslc -o outline.vert.spv outline.vert
//go:generate glslc -o outline.frag.spv outline.frag
//go:generate glslc -o depth.vert.spv depth.vert
//go:generate glslc -o skybox.vert.spv skybox.vert
//go:generate glslc -o skybox.frag.spv skybox.frag
//go:generate glslc -o gizmo.vert.spv gizmo.vert
//go:generate glslc -o gizmo.frag.spv gizmo.frag
