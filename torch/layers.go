package torch

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ounet/graph"
)

// ErrUnsupported is returned for nodes libtorch cannot reproduce exactly.
var ErrUnsupported = errors.New("unsupported node")

// convOutput is the libtorch output size of a convolution or pooling.
func convOutput(in, k, s, p int64, ceil bool) int64 {
	num := in + 2*p - k
	if ceil {
		num += s - 1
	}
	return num/s + 1
}

// convPadding returns symmetric padding that reproduces the inferred
// output shape of a Conv3D node.
func convPadding(n *graph.Node) ([]int64, error) {
	in := n.Inputs[0].Shape.Spatial()
	out := n.Output.Shape.Spatial()
	pad := make([]int64, 3)
	for i := 0; i < 3; i++ {
		k, s := n.Kernel[i], n.Stride[i]
		if n.Padding == graph.PaddingSame {
			pad[i] = (k - 1) / 2
		}
		if got := convOutput(in[i], k, s, pad[i], false); got != out[i] {
			return nil, errors.Wrapf(ErrUnsupported, "%s: padding %d gives %d, want %d", n.Name, pad[i], got, out[i])
		}
	}
	return pad, nil
}

// transposePadding returns padding and output padding reproducing a
// ConvTranspose3D node.
func transposePadding(n *graph.Node) (pad, outPad []int64, err error) {
	in := n.Inputs[0].Shape.Spatial()
	out := n.Output.Shape.Spatial()
	pad = make([]int64, 3)
	outPad = make([]int64, 3)
	for i := 0; i < 3; i++ {
		k, s := n.Kernel[i], n.Stride[i]
		if n.Padding == graph.PaddingSame {
			// same: out = in*s, so 2p - op = k - s
			extra := k - s
			if extra < 0 {
				return nil, nil, errors.Wrapf(ErrUnsupported, "%s: kernel %d smaller than stride %d", n.Name, k, s)
			}
			pad[i] = (extra + 1) / 2
			outPad[i] = 2*pad[i] - extra
		}
		got := (in[i]-1)*s - 2*pad[i] + k + outPad[i]
		if got != out[i] || outPad[i] >= s {
			return nil, nil, errors.Wrapf(ErrUnsupported, "%s: transposed conv gives %d, want %d", n.Name, got, out[i])
		}
	}
	return pad, outPad, nil
}

// poolCeil reports whether ceil mode reproduces a MaxPool3D node.
func poolCeil(n *graph.Node) (bool, error) {
	in := n.Inputs[0].Shape.Spatial()
	out := n.Output.Shape.Spatial()
	ceil := n.Padding == graph.PaddingSame
	for i := 0; i < 3; i++ {
		if got := convOutput(in[i], n.Kernel[i], n.Stride[i], 0, ceil); got != out[i] {
			return false, errors.Wrapf(ErrUnsupported, "%s: pooling gives %d, want %d", n.Name, got, out[i])
		}
	}
	return ceil, nil
}

func dims(a [3]int64) []int64 {
	return []int64{a[0], a[1], a[2]}
}

func newConv3D(p *nn.Path, n *graph.Node) (*nn.Conv3D, error) {
	k := n.Kernel[0]
	if n.Kernel[1] != k || n.Kernel[2] != k {
		return nil, errors.Wrapf(ErrUnsupported, "%s: non-cubic kernel %v", n.Name, n.Kernel)
	}
	pad, err := convPadding(n)
	if err != nil {
		return nil, err
	}

	config := &nn.Conv3DConfig{
		Stride:   dims(n.Stride),
		Padding:  pad,
		Dilation: []int64{1, 1, 1},
		Groups:   1,
		Bias:     true,
		WsInit:   nn.NewKaimingUniformInit(),
		BsInit:   nn.NewConstInit(0.0),
	}

	return nn.NewConv3D(p, n.Inputs[0].Shape.Channels(), n.Filters, k, config), nil
}

func newConvTranspose3D(p *nn.Path, n *graph.Node) (*nn.ConvTranspose3D, error) {
	pad, outPad, err := transposePadding(n)
	if err != nil {
		return nil, err
	}

	config := &nn.ConvTranspose3DConfig{
		Stride:        dims(n.Stride),
		Padding:       pad,
		OutputPadding: outPad,
		Dilation:      []int64{1, 1, 1},
		Groups:        1,
		Bias:          true,
		WsInit:        nn.NewKaimingUniformInit(),
		BsInit:        nn.NewConstInit(0.0),
	}

	return nn.NewConvTranspose3D(p, n.Inputs[0].Shape.Channels(), n.Filters, dims(n.Kernel), config), nil
}

// InstanceNorm normalizes every (sample, channel) over its spatial dims,
// then applies a learned per-channel scale and offset.
type InstanceNorm struct {
	Ws  *ts.Tensor
	Bs  *ts.Tensor
	Eps float64

	runningMean *ts.Tensor
	runningVar  *ts.Tensor
}

// NewInstanceNorm creates an InstanceNorm over c channels.
func NewInstanceNorm(p *nn.Path, c int64, eps float64) *InstanceNorm {
	return &InstanceNorm{
		Ws:          p.MustNewVar("weight", []int64{c}, nn.NewConstInit(1.0)),
		Bs:          p.MustNewVar("bias", []int64{c}, nn.NewConstInit(0.0)),
		Eps:         eps,
		runningMean: p.MustZerosNoTrain("running_mean", []int64{c}),
		runningVar:  p.MustOnesNoTrain("running_var", []int64{c}),
	}
}

// ForwardT implements ts.ModuleT for InstanceNorm struct. Statistics always
// come from the input, in training and in evaluation.
func (in *InstanceNorm) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return ts.MustInstanceNorm(x, in.Ws, in.Bs, in.runningMean, in.runningVar, true, 0.1, in.Eps, false)
}

func leakyRelu(x *ts.Tensor, slope float64) *ts.Tensor {
	scaled := x.MustMulScalar(ts.FloatScalar(slope), false)
	out := x.MustMaximum(scaled, false)
	scaled.MustDrop()

	return out
}
