// Package config holds the viewer settings, read from a TOML file over built in defaults.
package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type Window struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type Graphics struct {
	FramesInFlight int  `toml:"frames_in_flight"`
	MSAASamples    int  `toml:"msaa_samples"`
	VSync          bool `toml:"vsync"`
	Validation     bool `toml:"validation"`
	// PipelineCache is the file the driver pipeline cache is kept in. Empty disables it.
	PipelineCache string `toml:"pipeline_cache"`
	MaxTextures   int    `toml:"max_textures"`
}

type Assets struct {
	ShaderDir string   `toml:"shader_dir"`
	Models    []string `toml:"models"`
	Textures  []string `toml:"textures"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Window   Window   `toml:"window"`
	Graphics Graphics `toml:"graphics"`
	Assets   Assets   `toml:"assets"`
	Log      Log      `toml:"log"`
}

func Default() Config {
	return Config{
		Window: Window{
			Title:  "framegraph viewer",
			Width:  1280,
			Height: 720,
		},
		Graphics: Graphics{
			FramesInFlight: 2,
			MSAASamples:    4,
			VSync:          true,
			Validation:     true,
			MaxTextures:    256,
		},
		Assets: Assets{
			ShaderDir: "shaders",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Read decodes r over the defaults and validates the result. Unknown keys are errors.
func Read(r io.Reader) (Config, error) {
	cfg := Default()

	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, errors.Newf("unknown settings:\n%s", strict.String())
		}
		return Config{}, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the file at path. An empty path gives the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := Read(bytes.NewReader(data))
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c Config) Write(w io.Writer) error {
	encoder := toml.NewEncoder(w)
	encoder.SetIndentTables(true)
	return errors.Wrap(encoder.Encode(c), "encode config")
}

func (c Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Newf("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	}
	if c.Graphics.FramesInFlight < 2 || c.Graphics.FramesInFlight > 3 {
		return errors.Newf("graphics.frames_in_flight must be 2 or 3, got %d", c.Graphics.FramesInFlight)
	}
	samples := c.Graphics.MSAASamples
	if samples < 1 || samples > 64 || samples&(samples-1) != 0 {
		return errors.Newf("graphics.msaa_samples must be a power of two up to 64, got %d", samples)
	}
	if c.Graphics.MaxTextures <= 0 {
		return errors.Newf("graphics.max_textures must be positive, got %d", c.Graphics.MaxTextures)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, errors.Wrapf(err, "log.level %q", l.Level)
	}
	return level, nil
}
