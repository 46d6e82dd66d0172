package base

import (
	"github.com/pkg/errors"

	"github.com/sugarme/ounet/graph"
)

// DefaultSlope is the negative slope of every leaky ReLU in the network.
const DefaultSlope = 0.01

// DefaultEps is the instance normalization epsilon.
const DefaultEps = 1e-3

// Act holds the normalization and activation options shared by conv
// blocks.
type Act struct {
	Slope float64
	Eps   float64
}

// DefaultAct returns slope 0.01 and eps 1e-3.
func DefaultAct() Act {
	return Act{Slope: DefaultSlope, Eps: DefaultEps}
}

// Conv3d adds a 3x3x3 same-padded convolution with the given stride.
func Conv3d(g *graph.Graph, name string, x *graph.Tensor, cOut int64, stride [3]int64) (*graph.Tensor, error) {
	config := graph.DefaultConvConfig()
	config.Stride = stride

	return g.Conv3D(name, x, cOut, config)
}

// ConvNormAct adds conv -> instance norm -> leaky relu under `name/`.
func ConvNormAct(g *graph.Graph, name string, x *graph.Tensor, cOut int64, stride [3]int64, act Act) (*graph.Tensor, error) {
	c, err := Conv3d(g, name+"/conv", x, cOut, stride)
	if err != nil {
		return nil, err
	}
	n, err := g.InstanceNorm(name+"/norm", c, act.Eps)
	if err != nil {
		return nil, err
	}

	return g.LeakyReLU(name+"/lrelu", n, act.Slope)
}

// DoubleConv adds two ConvNormAct blocks. Only the first one is strided.
func DoubleConv(g *graph.Graph, name string, x *graph.Tensor, cOut int64, firstStride [3]int64, act Act) (*graph.Tensor, error) {
	c1, err := ConvNormAct(g, name+"/block1", x, cOut, firstStride, act)
	if err != nil {
		return nil, errors.WithMessage(err, name)
	}
	c2, err := ConvNormAct(g, name+"/block2", c1, cOut, graph.Cube(1), act)
	if err != nil {
		return nil, errors.WithMessage(err, name)
	}

	return c2, nil
}
