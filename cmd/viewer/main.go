// Command viewer loads OBJ models into a window and draws them sorted by pass and distance.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/vkngwrapper/framegraph/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML settings file; defaults are used when empty")
		wireframe  = flag.Bool("wireframe", false, "draw a wireframe over every mesh")
		post       = flag.Bool("post", false, "render offscreen and blit the result to the window")
		dumpConfig = flag.Bool("dump-config", false, "print the effective settings and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
	if *dumpConfig {
		if err = cfg.Write(os.Stdout); err != nil {
			log.Fatalf("%+v\n", err)
		}
		return
	}

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// SDL and the Vulkan queue are driven from the main thread only
	runtime.LockOSThread()
	app := &Viewer{
		cfg:       cfg,
		logger:    logger,
		wireframe: *wireframe,
		post:      *post,
	}

	if err = app.Run(); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
