package layers

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

// ConvolutionLayer performs 2D convolution over an NCHW input.
//
// Kernel shapes:
//   - [KH, KW]: the same kernel slides over every channel independently,
//     output [N, C, OH, OW], bias (if any) indexed by channel.
//   - [COut, CIn, KH, KW]: full convolution, output [N, COut, OH, OW],
//     bias (if any) indexed by output channel.
//
// Dilation is the number of zero gaps inserted between kernel taps, so the
// effective kernel extent is (K-1)*(Dilation+1)+1 and
//
//	OH = (H + 2*Padding - effKH) / Stride + 1
type ConvolutionLayer struct {
	Base
	Stride   int
	Padding  int
	Dilation int
	Kernel   *tensor.Tensor
	// Bias is optional. When nil, a bias attached to Kernel is used.
	Bias *tensor.Tensor
	Impl parallel.Strategy
}

// NewConvolutionLayer creates a convolution layer. Parameters are validated on Run.
func NewConvolutionLayer(stride, padding, dilation int, kernel, bias *tensor.Tensor, impl parallel.Strategy) *ConvolutionLayer {
	return &ConvolutionLayer{
		Base:     Base{name: "conv"},
		Stride:   stride,
		Padding:  padding,
		Dilation: dilation,
		Kernel:   kernel,
		Bias:     bias,
		Impl:     impl,
	}
}

// Type implements Layer.
func (l *ConvolutionLayer) Type() LayerType { return Convolution }

type convGeometry struct {
	n, c, h, w     int
	cout, cin      int
	kh, kw         int
	oh, ow         int
	stride, pad    int
	step           int // dilation + 1
	perChannel     bool
	hasBias        bool
	kernelChannels int // channels summed per output plane
}

// OutputSize returns the spatial output extent for one axis.
// ok is false when the padded input is smaller than the dilated kernel.
func OutputSize(in, kernel, stride, padding, dilation int) (size int, ok bool) {
	eff := (kernel-1)*(dilation+1) + 1
	span := in + 2*padding - eff
	if span < 0 || stride < 1 {
		return 0, false
	}
	return span/stride + 1, true
}

// Run implements Layer.
func (l *ConvolutionLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Convolution, inputs)
	if err != nil {
		return nil, err
	}
	g, bias, err := l.geometry(in)
	if err != nil {
		return nil, err
	}

	cfg := parallel.ConfigFor(l.Impl)
	switch in.DType() {
	case tensor.Float32:
		return one(convolve[float32](in, l.Kernel, bias, g, cfg), nil)
	case tensor.Int32:
		return one(convolve[int32](in, l.Kernel, bias, g, cfg), nil)
	default:
		return nil, unsupported(Convolution, in.DType())
	}
}

func (l *ConvolutionLayer) geometry(in *tensor.Tensor) (convGeometry, *tensor.Tensor, error) {
	var g convGeometry
	if in.DType() != tensor.Float32 && in.DType() != tensor.Int32 {
		return g, nil, unsupported(Convolution, in.DType())
	}
	if l.Kernel == nil {
		return g, nil, errors.Wrap(tensor.ErrInvalidArgument, "convolution kernel is nil")
	}
	if l.Kernel.DType() != in.DType() {
		return g, nil, errors.Wrapf(tensor.ErrTypeMismatch, "convolution kernel is %s, input is %s", l.Kernel.DType(), in.DType())
	}
	if l.Stride < 1 {
		return g, nil, errors.Wrapf(tensor.ErrInvalidArgument, "convolution stride must be positive, got %d", l.Stride)
	}
	if l.Padding < 0 || l.Dilation < 0 {
		return g, nil, errors.Wrapf(tensor.ErrInvalidArgument, "convolution padding %d and dilation %d must be non-negative", l.Padding, l.Dilation)
	}

	is := in.Shape()
	if len(is) != 4 {
		return g, nil, errors.Wrapf(tensor.ErrShapeMismatch, "convolution input must be 4D [N,C,H,W], got %v", is)
	}
	g.n, g.c, g.h, g.w = is[0], is[1], is[2], is[3]

	ks := l.Kernel.Shape()
	switch len(ks) {
	case 2:
		g.perChannel = true
		g.kh, g.kw = ks[0], ks[1]
		g.cout, g.cin = g.c, 1
		g.kernelChannels = 1
	case 4:
		g.cout, g.cin, g.kh, g.kw = ks[0], ks[1], ks[2], ks[3]
		if g.cin != g.c {
			return g, nil, errors.Wrapf(tensor.ErrShapeMismatch, "input channels %d != kernel channels %d", g.c, g.cin)
		}
		g.kernelChannels = g.cin
	default:
		return g, nil, errors.Wrapf(tensor.ErrInvalidArgument, "convolution kernel must be 2D or 4D, got %v", ks)
	}
	if g.kh < 1 || g.kw < 1 {
		return g, nil, errors.Wrapf(tensor.ErrInvalidArgument, "convolution kernel %v is empty", ks)
	}

	var okH, okW bool
	g.oh, okH = OutputSize(g.h, g.kh, l.Stride, l.Padding, l.Dilation)
	g.ow, okW = OutputSize(g.w, g.kw, l.Stride, l.Padding, l.Dilation)
	if !okH || !okW {
		return g, nil, errors.Wrapf(tensor.ErrShapeMismatch,
			"convolution output is empty for input %v, kernel %v, padding %d, dilation %d", is, ks, l.Padding, l.Dilation)
	}
	g.stride, g.pad, g.step = l.Stride, l.Padding, l.Dilation+1

	bias := l.Bias
	if bias == nil {
		bias = l.Kernel.BiasTensor()
	}
	if bias != nil {
		if bias.DType() != in.DType() {
			return g, nil, errors.Wrapf(tensor.ErrTypeMismatch, "convolution bias is %s, input is %s", bias.DType(), in.DType())
		}
		if bias.NumElements() != g.cout {
			return g, nil, errors.Wrapf(tensor.ErrShapeMismatch, "convolution bias has %d elements, want %d", bias.NumElements(), g.cout)
		}
		g.hasBias = true
	}
	return g, bias, nil
}

func convolve[T tensor.Element](in, kernel, bias *tensor.Tensor, g convGeometry, cfg parallel.Config) *tensor.Tensor {
	src := mustData[T](in)
	k := mustData[T](kernel)
	var b []T
	if g.hasBias {
		b = mustData[T](bias)
	}
	out := make([]T, g.n*g.cout*g.oh*g.ow)

	plane := g.oh * g.ow
	inPlane := g.h * g.w
	kPlane := g.kh * g.kw

	parallel.ForBatch(g.n, g.cout, func(n, oc int) {
		dst := out[(n*g.cout+oc)*plane : (n*g.cout+oc+1)*plane]
		for oy := 0; oy < g.oh; oy++ {
			for ox := 0; ox < g.ow; ox++ {
				var sum T
				for ic := 0; ic < g.kernelChannels; ic++ {
					var srcC, kOff int
					if g.perChannel {
						srcC, kOff = oc, 0
					} else {
						srcC, kOff = ic, (oc*g.cin+ic)*kPlane
					}
					base := (n*g.c + srcC) * inPlane
					for ky := 0; ky < g.kh; ky++ {
						iy := oy*g.stride - g.pad + ky*g.step
						if iy < 0 || iy >= g.h {
							continue
						}
						row := base + iy*g.w
						for kx := 0; kx < g.kw; kx++ {
							ix := ox*g.stride - g.pad + kx*g.step
							if ix < 0 || ix >= g.w {
								continue
							}
							sum += src[row+ix] * k[kOff+ky*g.kw+kx]
						}
					}
				}
				if g.hasBias {
					sum += b[oc]
				}
				dst[oy*g.ow+ox] = sum
			}
		}
	}, cfg)

	return own(out, tensor.Shape{g.n, g.cout, g.oh, g.ow})
}
