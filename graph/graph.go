// Package graph is a static, backend-neutral description of a 3D
// convolutional network. Nodes are added through a Graph builder that
// infers output shapes and parameter counts as it goes; Finalize seals the
// graph into an immutable Model.
package graph

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when an op receives tensors whose shapes
	// cannot be combined.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidArgument is returned for bad op parameters.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateName is returned when a node name is already taken.
	ErrDuplicateName = errors.New("duplicate node name")
	// ErrSealed is returned when adding to a finalized graph.
	ErrSealed = errors.New("graph is finalized")
	// ErrForeignTensor is returned when a tensor from another graph is used.
	ErrForeignTensor = errors.New("tensor belongs to another graph")
)

// DType is the element type of a tensor.
type DType int

const (
	Float DType = iota
)

func (d DType) String() string {
	if d == Float {
		return "float32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Shape is a per-sample tensor shape [C D H W]. The batch dimension is
// implicit.
type Shape []int64

// Channels returns the channel dimension.
func (s Shape) Channels() int64 { return s[0] }

// Spatial returns the [D H W] dimensions.
func (s Shape) Spatial() []int64 { return s[1:] }

// Equal reports whether both shapes have the same dims.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// WithBatch prepends a batch dimension.
func (s Shape) WithBatch(n int64) []int64 {
	return append([]int64{n}, s...)
}

func (s Shape) String() string {
	dims := make([]string, len(s))
	for i, d := range s {
		dims[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(dims, ", ") + ")"
}

func (s Shape) clone() Shape {
	return append(Shape(nil), s...)
}

// Tensor is the single output of a node. Its fields are read-only once
// the tensor is returned by a Graph op.
type Tensor struct {
	Name  string
	Shape Shape
	DType DType

	node  *Node
	graph *Graph
}

// Producer returns the node that produced t.
func (t *Tensor) Producer() *Node { return t.node }

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.Name, t.Shape)
}

// Graph accumulates nodes in construction order, which is also a valid
// topological order.
type Graph struct {
	name   string
	dtype  DType
	nodes  []*Node
	byName map[string]*Node
	counts map[OpKind]int
	sealed bool
}

// New creates an empty graph whose tensors have dtype Float.
func New(name string) *Graph {
	return &Graph{
		name:   name,
		dtype:  Float,
		byName: make(map[string]*Node),
		counts: make(map[OpKind]int),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of nodes added so far.
func (g *Graph) Len() int { return len(g.nodes) }

// Finalize seals the graph and returns a Model with the given inputs and
// outputs. Every input must be an input node and every output must belong
// to g.
func (g *Graph) Finalize(inputs, outputs []*Tensor) (*Model, error) {
	if g.sealed {
		return nil, ErrSealed
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "model needs at least one input and one output")
	}
	for _, t := range inputs {
		if err := g.owns(t); err != nil {
			return nil, err
		}
		if t.node.Kind != OpInput {
			return nil, errors.Wrapf(ErrInvalidArgument, "%q is not an input tensor", t.Name)
		}
	}
	for _, t := range outputs {
		if err := g.owns(t); err != nil {
			return nil, err
		}
	}
	g.sealed = true

	consumers := make(map[*Tensor][]*Node)
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			consumers[in] = append(consumers[in], n)
		}
	}

	return &Model{
		Name:      g.name,
		Inputs:    append([]*Tensor(nil), inputs...),
		Outputs:   append([]*Tensor(nil), outputs...),
		nodes:     append([]*Node(nil), g.nodes...),
		consumers: consumers,
	}, nil
}

func (g *Graph) owns(t *Tensor) error {
	if t == nil {
		return errors.Wrap(ErrInvalidArgument, "nil tensor")
	}
	if t.graph != g {
		return errors.Wrapf(ErrForeignTensor, "%q", t.Name)
	}
	return nil
}

// autoName returns the first free name of the form kind, kind_1, kind_2...
// Names taken explicitly are skipped.
func (g *Graph) autoName(kind OpKind) string {
	for c := g.counts[kind]; ; c++ {
		name := kind.String()
		if c > 0 {
			name = fmt.Sprintf("%s_%d", kind, c)
		}
		if _, ok := g.byName[name]; !ok {
			g.counts[kind] = c + 1
			return name
		}
	}
}

// add registers n and creates its output tensor.
func (g *Graph) add(n *Node, shape Shape) (*Tensor, error) {
	if g.sealed {
		return nil, ErrSealed
	}
	for _, in := range n.Inputs {
		if err := g.owns(in); err != nil {
			return nil, errors.WithMessagef(err, "%s", n.Kind)
		}
	}
	if n.Name == "" {
		n.Name = g.autoName(n.Kind)
	} else if _, ok := g.byName[n.Name]; ok {
		return nil, errors.Wrapf(ErrDuplicateName, "%q", n.Name)
	}

	out := &Tensor{
		Name:  n.Name,
		Shape: shape,
		DType: g.dtype,
		node:  n,
		graph: g,
	}
	n.Output = out
	g.nodes = append(g.nodes, n)
	g.byName[n.Name] = n

	return out, nil
}
