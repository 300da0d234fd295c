package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framegraph/asset"
	"github.com/vkngwrapper/framegraph/config"
	"github.com/vkngwrapper/framegraph/gpu"
	"github.com/vkngwrapper/framegraph/gpu/vulkan"
	"github.com/vkngwrapper/framegraph/meshsort"
	"github.com/vkngwrapper/framegraph/renderer"
	"github.com/vkngwrapper/framegraph/rendertarget"
)

const (
	orbitPeriod    = 12.0
	statsInterval  = 5 * time.Second
	assetRoot      = "."
	mainTargetName = "main"
)

type Viewer struct {
	cfg       config.Config
	logger    *slog.Logger
	wireframe bool
	post      bool

	window   *sdl.Window
	backend  *vulkan.Backend
	device   *gpu.Device
	renderer *renderer.Renderer
	target   *rendertarget.Target
	sorter   *meshsort.Sorter

	models     []*asset.Model
	transforms []mgl32.Mat4
	textures   []*gpu.Image
	materials  []renderer.Material

	start     time.Duration
	lastStats time.Duration
}

func (app *Viewer) Run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	if err = app.initGraphics(); err != nil {
		return err
	}

	if err = app.loadScene(); err != nil {
		return err
	}

	return app.mainLoop()
}

func (app *Viewer) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init sdl")
	}

	window, err := sdl.CreateWindow(app.cfg.Window.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(app.cfg.Window.Width), int32(app.cfg.Window.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	app.window = window
	return nil
}

func (app *Viewer) initGraphics() error {
	graphics := app.cfg.Graphics

	var err error
	app.backend, err = vulkan.New(app.window,
		vulkan.WithLogger(app.logger),
		vulkan.WithValidation(graphics.Validation),
		vulkan.WithPipelineCache(graphics.PipelineCache))
	if err != nil {
		return err
	}

	w, h := app.window.VulkanGetDrawableSize()
	app.device, err = gpu.NewDevice(app.backend, int(w), int(h),
		gpu.WithLogger(app.logger),
		gpu.WithFramesInFlight(graphics.FramesInFlight),
		gpu.WithVSync(graphics.VSync))
	if err != nil {
		return err
	}

	app.renderer, err = renderer.New(app.device, os.DirFS(app.cfg.Assets.ShaderDir),
		renderer.WithLogger(app.logger),
		renderer.WithMaxTextures(graphics.MaxTextures))
	if err != nil {
		return err
	}

	desc := rendertarget.Description{
		Kind:    rendertarget.SwapChain,
		Name:    mainTargetName,
		Depth:   true,
		Samples: core1_0.SampleCountFlags(graphics.MSAASamples),
	}
	if app.post {
		extent := app.device.SwapchainExtent()
		desc.Kind = rendertarget.PostEffects
		desc.Width, desc.Height = extent.Width, extent.Height
		desc.FollowSwapchain = true
	}
	app.target, err = rendertarget.New(app.device, desc)
	if err != nil {
		return err
	}

	app.sorter = app.renderer.NewSorter(app.target)
	return nil
}

// loadScene decodes every configured model and texture in parallel, then uploads them one
// at a time.
func (app *Viewer) loadScene() error {
	fsys := os.DirFS(assetRoot)
	modelPaths := app.cfg.Assets.Models

	meshes, err := asset.LoadModels(context.Background(), fsys, modelPaths)
	if err != nil {
		return err
	}
	for _, data := range meshes {
		model, err := asset.UploadModel(app.device, data)
		if err != nil {
			return err
		}
		app.models = append(app.models, model)
	}
	app.transforms = modelTransforms(len(app.models))

	textures := collectTextures(app.cfg.Assets.Textures, modelPaths, meshes)
	app.materials, err = buildMaterials(app.models, modelPaths, textures, app.cfg.Graphics.MaxTextures)
	if err != nil {
		return err
	}

	decoded, err := asset.LoadTextures(context.Background(), fsys, textures.paths)
	if err != nil {
		return err
	}
	for _, data := range decoded {
		texture, err := asset.CreateTexture(app.device, data)
		if err != nil {
			return err
		}
		app.textures = append(app.textures, texture)
	}

	app.logger.Info("scene loaded",
		slog.Int("models", len(app.models)),
		slog.Int("materials", len(app.materials)),
		slog.Int("textures", len(app.textures)))
	return nil
}

func (app *Viewer) mainLoop() error {
	rendering := true
	app.start = hrtime.Now()
	app.lastStats = app.start

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.KeyboardEvent:
				if e.State == sdl.PRESSED && e.Repeat == 0 {
					switch e.Keysym.Sym {
					case sdl.K_ESCAPE:
						break appLoop
					case sdl.K_w:
						app.wireframe = !app.wireframe
					}
				}
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED:
					w, h := app.window.GetSize()
					if w > 0 && h > 0 {
						rendering = true
						if err := app.recreateSwapchain(); err != nil {
							return err
						}
					} else {
						rendering = false
					}
				}
			}
		}
		if rendering {
			if err := app.drawFrame(); err != nil {
				return err
			}
		}
	}

	return app.device.WaitIdle()
}

func (app *Viewer) recreateSwapchain() error {
	if (app.window.GetFlags() & sdl.WINDOW_MINIMIZED) != 0 {
		return nil
	}
	w, h := app.window.VulkanGetDrawableSize()
	return app.device.RecreateSwapchain(int(w), int(h))
}

func (app *Viewer) scene(camera renderer.Camera) renderer.Scene {
	return renderer.Scene{
		Cameras:   []renderer.Camera{camera},
		Lights:    sceneLights(),
		Materials: app.materials,
		Models:    app.transforms,
		Textures:  app.textures,
	}
}

func (app *Viewer) drawFrame() error {
	frame := app.device.CurrentFrame()
	ok, err := app.device.BeginFrame(frame)
	if err != nil {
		return err
	}
	if !ok {
		return app.recreateSwapchain()
	}

	extent := app.device.SwapchainExtent()
	aspect := float32(extent.Width) / float32(extent.Height)
	camera := orbitCamera((hrtime.Now() - app.start).Seconds(), orbitPeriod, 8, aspect)

	if err = app.renderer.UpdateGlobals(frame, app.scene(camera)); err != nil {
		return err
	}

	app.sorter.Reset()
	for i, model := range app.models {
		app.renderer.DrawModel(app.sorter, model, i, app.transforms[i], camera)
	}
	app.sorter.Sort()

	if err = app.record(frame); err != nil {
		return err
	}

	if err = app.device.EndFrame(frame); err != nil {
		return err
	}
	ok, err = app.device.PresentFrame(frame)
	if err != nil {
		return err
	}
	if !ok {
		if err = app.recreateSwapchain(); err != nil {
			return err
		}
	}

	app.logStats()
	return nil
}

func (app *Viewer) record(frame *gpu.Frame) error {
	cmd := frame.CommandBuffer
	if err := app.target.Begin(cmd); err != nil {
		return err
	}
	if err := app.renderer.DrawSkybox(frame, app.target, 0); err != nil {
		return err
	}
	if err := app.sorter.RenderMeshes(frame, meshsort.Outline); err != nil {
		return err
	}
	if app.wireframe {
		if err := app.renderer.RenderWireframe(frame, app.sorter, app.target); err != nil {
			return err
		}
	}
	if err := app.renderer.DrawLightGizmos(frame, app.target, 0); err != nil {
		return err
	}
	app.target.End(cmd)

	if app.post {
		return app.renderer.Present(frame, app.target)
	}
	return nil
}

func (app *Viewer) logStats() {
	now := hrtime.Now()
	if now-app.lastStats < statsInterval {
		return
	}
	app.lastStats = now

	stats := app.device.Stats()
	fps := 0.0
	if stats.AverageFrameTime > 0 {
		fps = float64(time.Second) / float64(stats.AverageFrameTime)
	}
	app.logger.Info("frame stats",
		slog.Int("frames", stats.Frames),
		slog.Float64("fps", fps),
		slog.Duration("frameTime", stats.AverageFrameTime),
		slog.Int("draws", stats.FrameDrawCalls()),
		slog.Int("pipelineBinds", stats.FramePipelineBinds()),
		slog.Int("swapchainRebuilds", stats.SwapchainRebuilds))
}

func (app *Viewer) cleanup() {
	if app.device != nil {
		if err := app.device.WaitIdle(); err != nil {
			app.logger.Error("wait for device idle", slog.Any("error", err))
		}

		for _, texture := range app.textures {
			app.device.DestroyImage(texture)
		}
		for _, model := range app.models {
			model.Destroy(app.device)
		}
		if app.target != nil {
			app.target.Destroy()
		}
		if app.renderer != nil {
			app.renderer.Destroy()
		}
		app.device.Destroy()
	}

	if app.backend != nil {
		app.backend.Destroy()
	}

	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}
