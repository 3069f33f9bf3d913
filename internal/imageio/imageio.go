// Package imageio converts decoded images into NHWC input tensors.
package imageio

import (
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Default input extent of the AlexNet-style models.
const (
	DefaultWidth  = 227
	DefaultHeight = 227
)

// Options describes the tensor an image is converted into.
type Options struct {
	Width, Height int
	// Scale multiplies the 8-bit channel values. Zero means 1, so
	// channels stay in [0, 255].
	Scale float32
}

// DefaultOptions returns the 227x227 unscaled layout.
func DefaultOptions() Options {
	return Options{Width: DefaultWidth, Height: DefaultHeight, Scale: 1}
}

// Decode reads a png or jpeg image and converts it with Convert.
func Decode(r io.Reader, opts Options) (*tensor.Tensor, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	t, err := Convert(img, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "converting %s image", format)
	}
	return t, nil
}

// Convert resizes img to the target extent and returns a float32 tensor of
// shape [1, Height, Width, 3] holding the R, G and B channels in that order.
func Convert(img image.Image, opts Options) (*tensor.Tensor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "target size %dx%d must be positive", opts.Width, opts.Height)
	}
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}

	src := img
	b := src.Bounds()
	if !b.Min.Eq(image.Point{}) || b.Dx() != opts.Width || b.Dy() != opts.Height {
		src = resize.Resize(uint(opts.Width), uint(opts.Height), img, resize.Bilinear)
		b = src.Bounds()
	}

	values := make([]float32, 0, opts.Width*opts.Height*3)
	for y := b.Min.Y; y < b.Min.Y+opts.Height; y++ {
		for x := b.Min.X; x < b.Min.X+opts.Width; x++ {
			// RGBA returns 16-bit channels.
			r, g, bl, _ := src.At(x, y).RGBA()
			values = append(values,
				float32(r>>8)*scale,
				float32(g>>8)*scale,
				float32(bl>>8)*scale,
			)
		}
	}
	return tensor.Own(values, tensor.Shape{1, opts.Height, opts.Width, 3})
}
