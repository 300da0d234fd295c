package asset

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"io"
	"io/fs"
	"math"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/framegraph/gpu"
)

const TextureFormat = core1_0.FormatR8G8B8A8SRGB

// TextureData is a decoded image as tightly packed non-premultiplied RGBA.
type TextureData struct {
	Name   string
	Width  int
	Height int
	Pixels []byte
}

// MipLevels is the length of the full mip chain down to 1x1.
func (t TextureData) MipLevels() int {
	return int(math.Floor(math.Log2(math.Max(float64(t.Width), float64(t.Height))))) + 1
}

func DecodePNG(name string, r io.Reader) (TextureData, error) {
	decodedImage, err := png.Decode(r)
	if err != nil {
		return TextureData{}, errors.Wrapf(err, "decode texture %s", name)
	}

	imageBounds := decodedImage.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, imageBounds.Dx(), imageBounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), decodedImage, imageBounds.Min, draw.Src)

	return TextureData{
		Name:   name,
		Width:  imageBounds.Dx(),
		Height: imageBounds.Dy(),
		Pixels: rgba.Pix,
	}, nil
}

// LoadTextures decodes every texture in parallel, in the order of paths.
func LoadTextures(ctx context.Context, fsys fs.FS, paths []string) ([]TextureData, error) {
	results := make([]TextureData, len(paths))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i, texturePath := range paths {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			imageBytes, err := fs.ReadFile(fsys, texturePath)
			if err != nil {
				return errors.Wrapf(err, "read texture %s", texturePath)
			}

			results[i], err = DecodePNG(texturePath, bytes.NewBuffer(imageBytes))
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CreateTexture uploads data with a full mip chain and the default material sampler.
func CreateTexture(device *gpu.Device, data TextureData) (*gpu.Image, error) {
	if len(data.Pixels) != data.Width*data.Height*4 {
		return nil, errors.AssertionFailedf("texture %s: %d bytes of pixels for %dx%d", data.Name, len(data.Pixels), data.Width, data.Height)
	}

	img, err := device.CreateImage(gpu.ImageDescription{
		Format:    TextureFormat,
		Width:     data.Width,
		Height:    data.Height,
		MipLevels: data.MipLevels(),
		Samples:   core1_0.Samples1,
		Usage:     core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		Tiling:    core1_0.ImageTilingOptimal,
		Sampler:   gpu.DefaultSampler(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "texture %s", data.Name)
	}

	if err = device.UploadImage(img, data.Pixels); err != nil {
		device.DestroyImage(img)
		return nil, errors.Wrapf(err, "upload texture %s", data.Name)
	}
	return img, nil
}

// SolidTexture is a 1x1 texture of one color, used to fill unused texture slots.
func SolidTexture(device *gpu.Device, name string, r, g, b, a byte) (*gpu.Image, error) {
	return CreateTexture(device, TextureData{
		Name:   name,
		Width:  1,
		Height: 1,
		Pixels: []byte{r, g, b, a},
	})
}
