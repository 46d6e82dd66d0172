// Package torch compiles a graph.Model into a libtorch module.
package torch

import (
	"log"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ounet/graph"
)

type op struct {
	node *graph.Node
	fn   func(xs []*ts.Tensor, train bool) *ts.Tensor
}

// Module runs a graph.Model with gotch. Every parametrized node owns its
// variables under p.Sub(node name).
type Module struct {
	model  *graph.Model
	input  *graph.Tensor
	ops    []op
	uses   map[*graph.Tensor]int
	params []*ts.Tensor
}

// New creates the variables of every node of m under p.
func New(p *nn.Path, m *graph.Model) (*Module, error) {
	if len(m.Inputs) != 1 {
		return nil, errors.Wrapf(ErrUnsupported, "model %q has %d inputs", m.Name, len(m.Inputs))
	}

	mod := &Module{
		model: m,
		input: m.Inputs[0],
		uses:  make(map[*graph.Tensor]int),
	}
	for _, n := range m.Nodes() {
		fn, err := mod.compile(p, n)
		if err != nil {
			return nil, err
		}
		mod.ops = append(mod.ops, op{node: n, fn: fn})
		for _, in := range n.Inputs {
			mod.uses[in]++
		}
	}

	return mod, nil
}

func (mod *Module) compile(p *nn.Path, n *graph.Node) (func([]*ts.Tensor, bool) *ts.Tensor, error) {
	switch n.Kind {
	case graph.OpInput:
		return nil, nil

	case graph.OpConv3D:
		conv, err := newConv3D(p.Sub(n.Name), n)
		if err != nil {
			return nil, err
		}
		mod.params = append(mod.params, conv.Ws, conv.Bs)
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return conv.Forward(xs[0])
		}, nil

	case graph.OpConvTranspose3D:
		conv, err := newConvTranspose3D(p.Sub(n.Name), n)
		if err != nil {
			return nil, err
		}
		mod.params = append(mod.params, conv.Ws, conv.Bs)
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return conv.Forward(xs[0])
		}, nil

	case graph.OpInstanceNorm:
		norm := NewInstanceNorm(p.Sub(n.Name), n.Output.Shape.Channels(), n.Eps)
		mod.params = append(mod.params, norm.Ws, norm.Bs)
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return norm.ForwardT(xs[0], train)
		}, nil

	case graph.OpLeakyReLU:
		slope := n.Slope
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return leakyRelu(xs[0], slope)
		}, nil

	case graph.OpMaxPool3D:
		ceil, err := poolCeil(n)
		if err != nil {
			return nil, err
		}
		kernel, stride := dims(n.Kernel), dims(n.Stride)
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return xs[0].MustMaxPool3d(kernel, stride, []int64{0, 0, 0}, []int64{1, 1, 1}, ceil, false)
		}, nil

	case graph.OpConcat:
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return ts.MustCat(xs, 1)
		}, nil

	case graph.OpSigmoid:
		return func(xs []*ts.Tensor, train bool) *ts.Tensor {
			return xs[0].MustSigmoid(false)
		}, nil
	}

	return nil, errors.Wrapf(ErrUnsupported, "%s: op %v", n.Name, n.Kind)
}

// Model returns the compiled graph.
func (mod *Module) Model() *graph.Model { return mod.model }

// NumParams returns the number of trainable scalars created by New.
func (mod *Module) NumParams() int64 {
	var total int64
	for _, p := range mod.params {
		numel := int64(1)
		for _, d := range p.MustSize() {
			numel *= d
		}
		total += numel
	}
	return total
}

// ForwardAll runs the model on x [N C D H W] and returns every model
// output in order. Intermediate tensors are dropped after their last use;
// results nothing reads are dropped as soon as they are computed.
func (mod *Module) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	size := x.MustSize()
	if len(size) != 5 || !graph.Shape(size[1:]).Equal(mod.input.Shape) {
		log.Fatalf("Expected input of shape [N %v]. Got %v\n", mod.input.Shape, size)
	}

	env := make(map[*graph.Tensor]*ts.Tensor, len(mod.ops))
	left := make(map[*graph.Tensor]int, len(mod.uses))
	for t, c := range mod.uses {
		left[t] = c
	}

	for _, o := range mod.ops {
		n := o.node
		if n.Kind == graph.OpInput {
			env[n.Output] = x
			continue
		}

		xs := make([]*ts.Tensor, len(n.Inputs))
		for i, in := range n.Inputs {
			xs[i] = env[in]
		}
		out := o.fn(xs, train)
		if mod.uses[n.Output] == 0 && !mod.model.IsOutput(n.Output) {
			out.MustDrop()
		} else {
			env[n.Output] = out
		}

		for _, in := range n.Inputs {
			left[in]--
			if left[in] > 0 || in == mod.input || mod.model.IsOutput(in) {
				continue
			}
			if t, ok := env[in]; ok {
				t.MustDrop()
				delete(env, in)
			}
		}
	}

	outs := make([]*ts.Tensor, len(mod.model.Outputs))
	for i, o := range mod.model.Outputs {
		outs[i] = env[o]
	}
	return outs
}

// ForwardT implements ts.ModuleT for Module struct. It returns the last
// model output, the full resolution head.
func (mod *Module) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	outs := mod.ForwardAll(x, train)
	last := len(outs) - 1
	for _, o := range outs[:last] {
		o.MustDrop()
	}

	return outs[last]
}
