package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

// OpKind identifies the operation performed by a node.
type OpKind int

const (
	OpInput OpKind = iota
	OpConv3D
	OpConvTranspose3D
	OpInstanceNorm
	OpLeakyReLU
	OpMaxPool3D
	OpConcat
	OpSigmoid
)

var opNames = map[OpKind]string{
	OpInput:           "input",
	OpConv3D:          "conv3d",
	OpConvTranspose3D: "conv3d_transpose",
	OpInstanceNorm:    "instance_norm",
	OpLeakyReLU:       "leaky_relu",
	OpMaxPool3D:       "max_pool3d",
	OpConcat:          "concat",
	OpSigmoid:         "sigmoid",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Padding is the spatial padding mode of convolution and pooling ops.
type Padding int

const (
	// PaddingSame keeps ceil(in/stride) outputs per dimension.
	PaddingSame Padding = iota
	// PaddingValid applies no padding.
	PaddingValid
)

func (p Padding) String() string {
	if p == PaddingValid {
		return "valid"
	}
	return "same"
}

// Node is one operation of the graph. Nodes are filled in by the Graph
// ops and must not be modified afterwards.
type Node struct {
	Name    string
	Kind    OpKind
	Filters int64
	Kernel  [3]int64
	Stride  [3]int64
	Padding Padding
	// Slope is the negative slope of OpLeakyReLU.
	Slope float64
	// Eps is the variance epsilon of OpInstanceNorm.
	Eps    float64
	Inputs []*Tensor
	Output *Tensor
}

// Params returns the number of trainable parameters held by the node.
func (n *Node) Params() int64 {
	switch n.Kind {
	case OpConv3D, OpConvTranspose3D:
		cIn := n.Inputs[0].Shape.Channels()
		k := n.Kernel[0] * n.Kernel[1] * n.Kernel[2]
		return k*cIn*n.Filters + n.Filters
	case OpInstanceNorm:
		// scale and offset per channel
		return 2 * n.Output.Shape.Channels()
	}
	return 0
}

// ConvConfig holds convolution and pooling options.
type ConvConfig struct {
	Kernel  [3]int64
	Stride  [3]int64
	Padding Padding
}

// DefaultConvConfig is a 3x3x3 kernel with unit stride and same padding.
func DefaultConvConfig() *ConvConfig {
	return &ConvConfig{
		Kernel:  Cube(3),
		Stride:  Cube(1),
		Padding: PaddingSame,
	}
}

// Cube returns [v v v].
func Cube(v int64) [3]int64 { return [3]int64{v, v, v} }

func (c *ConvConfig) check() error {
	for i := 0; i < 3; i++ {
		if c.Kernel[i] < 1 || c.Stride[i] < 1 {
			return errors.Wrapf(ErrInvalidArgument, "kernel %v stride %v", c.Kernel, c.Stride)
		}
	}
	return nil
}

// Input adds a graph input of the given per-sample shape [C D H W].
func (g *Graph) Input(name string, shape Shape) (*Tensor, error) {
	if len(shape) != 4 {
		return nil, errors.Wrapf(ErrInvalidArgument, "input %q: want shape [C D H W], got %v", name, shape)
	}
	for _, d := range shape {
		if d < 1 {
			return nil, errors.Wrapf(ErrInvalidArgument, "input %q: non-positive dim in %v", name, shape)
		}
	}
	return g.add(&Node{Name: name, Kind: OpInput}, shape.clone())
}

// Conv3D adds a 3D convolution with `filters` output channels.
func (g *Graph) Conv3D(name string, x *Tensor, filters int64, config *ConvConfig) (*Tensor, error) {
	if err := g.owns(x); err != nil {
		return nil, err
	}
	if filters < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: filters %d", name, filters)
	}
	if err := config.check(); err != nil {
		return nil, errors.WithMessage(err, name)
	}
	spatial, err := downShape(x.Shape.Spatial(), config)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: input %v", name, x.Shape)
	}

	n := &Node{
		Name:    name,
		Kind:    OpConv3D,
		Filters: filters,
		Kernel:  config.Kernel,
		Stride:  config.Stride,
		Padding: config.Padding,
		Inputs:  []*Tensor{x},
	}
	return g.add(n, append(Shape{filters}, spatial...))
}

// ConvTranspose3D adds a transposed 3D convolution. With same padding
// every spatial dim is multiplied by the stride.
func (g *Graph) ConvTranspose3D(name string, x *Tensor, filters int64, config *ConvConfig) (*Tensor, error) {
	if err := g.owns(x); err != nil {
		return nil, err
	}
	if filters < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: filters %d", name, filters)
	}
	if err := config.check(); err != nil {
		return nil, errors.WithMessage(err, name)
	}

	in := x.Shape.Spatial()
	spatial := make([]int64, 3)
	for i := 0; i < 3; i++ {
		if config.Padding == PaddingSame {
			spatial[i] = in[i] * config.Stride[i]
		} else {
			spatial[i] = (in[i]-1)*config.Stride[i] + config.Kernel[i]
		}
	}

	n := &Node{
		Name:    name,
		Kind:    OpConvTranspose3D,
		Filters: filters,
		Kernel:  config.Kernel,
		Stride:  config.Stride,
		Padding: config.Padding,
		Inputs:  []*Tensor{x},
	}
	return g.add(n, append(Shape{filters}, spatial...))
}

// InstanceNorm normalizes every channel of every sample over its spatial
// dims, followed by a learned per-channel scale and offset.
func (g *Graph) InstanceNorm(name string, x *Tensor, eps float64) (*Tensor, error) {
	if err := g.owns(x); err != nil {
		return nil, err
	}
	if eps <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: eps %v", name, eps)
	}
	n := &Node{Name: name, Kind: OpInstanceNorm, Eps: eps, Inputs: []*Tensor{x}}
	return g.add(n, x.Shape.clone())
}

// LeakyReLU adds max(x, slope*x).
func (g *Graph) LeakyReLU(name string, x *Tensor, slope float64) (*Tensor, error) {
	if err := g.owns(x); err != nil {
		return nil, err
	}
	if slope < 0 || slope >= 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: slope %v", name, slope)
	}
	n := &Node{Name: name, Kind: OpLeakyReLU, Slope: slope, Inputs: []*Tensor{x}}
	return g.add(n, x.Shape.clone())
}

// Sigmoid adds an element-wise logistic function.
func (g *Graph) Sigmoid(name string, x *Tensor) (*Tensor, error) {
	if err := g.owns(x); err != nil {
		return nil, err
	}
	n := &Node{Name: name, Kind: OpSigmoid, Inputs: []*Tensor{x}}
	return g.add(n, x.Shape.clone())
}

// MaxPool3D adds max pooling with window config.Kernel.
func (g *Graph) MaxPool3D(name string, x *Tensor, config *ConvConfig) (*Tensor, error) {
	if err := g.owns(x); err != nil {
		return nil, err
	}
	if err := config.check(); err != nil {
		return nil, errors.WithMessage(err, name)
	}
	spatial, err := downShape(x.Shape.Spatial(), config)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: input %v", name, x.Shape)
	}
	n := &Node{
		Name:    name,
		Kind:    OpMaxPool3D,
		Kernel:  config.Kernel,
		Stride:  config.Stride,
		Padding: config.Padding,
		Inputs:  []*Tensor{x},
	}
	return g.add(n, append(Shape{x.Shape.Channels()}, spatial...))
}

// Concat joins tensors along the channel axis. Spatial dims must match.
func (g *Graph) Concat(name string, xs ...*Tensor) (*Tensor, error) {
	if len(xs) < 2 {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: need at least 2 tensors, got %d", name, len(xs))
	}
	var channels int64
	for _, x := range xs {
		if err := g.owns(x); err != nil {
			return nil, err
		}
		if !Shape(x.Shape.Spatial()).Equal(xs[0].Shape.Spatial()) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: cannot concat %v with %v", name, xs[0], x)
		}
		channels += x.Shape.Channels()
	}
	n := &Node{Name: name, Kind: OpConcat, Inputs: append([]*Tensor(nil), xs...)}
	return g.add(n, append(Shape{channels}, xs[0].Shape.Spatial()...))
}

// downShape infers spatial output dims of strided convolution and pooling.
func downShape(in []int64, config *ConvConfig) ([]int64, error) {
	out := make([]int64, len(in))
	for i := range in {
		k, s := config.Kernel[i], config.Stride[i]
		switch config.Padding {
		case PaddingSame:
			out[i] = (in[i] + s - 1) / s
		case PaddingValid:
			if in[i] < k {
				return nil, errors.Wrapf(ErrShapeMismatch, "dim %d smaller than kernel %d", in[i], k)
			}
			out[i] = (in[i]-k)/s + 1
		}
	}
	return out, nil
}
