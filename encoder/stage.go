package encoder

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/sugarme/ounet/base"
	"github.com/sugarme/ounet/graph"
)

// ErrKind is returned when a stage function gets a kind it cannot build.
var ErrKind = errors.New("invalid encoder stage kind")

// Kind selects the encoder stage variant.
type Kind int

const (
	// FirstEncoder is the first stage of the network. Its convolutions
	// never stride.
	FirstEncoder Kind = iota
	// MidEncoder is any later downsampling stage.
	MidEncoder
	// BaseEncoder is the bottleneck: conv block only, no pooling.
	BaseEncoder
)

func (k Kind) String() string {
	switch k {
	case FirstEncoder:
		return "FirstEncoder"
	case MidEncoder:
		return "MidEncoder"
	case BaseEncoder:
		return "BaseEncoder"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Downsampling is the spatial reduction policy of non-first stages.
type Downsampling string

const (
	// DownsamplePool halves each stage once, by max pooling. All
	// convolutions keep unit stride.
	DownsamplePool Downsampling = "pool"
	// DownsampleStrided strides the first convolution of every non-first
	// stage by 2 and pools as well.
	DownsampleStrided Downsampling = "strided"
)

// Valid reports whether d is a known policy.
func (d Downsampling) Valid() bool {
	return d == DownsamplePool || d == DownsampleStrided
}

// Stride returns the stride of the stage's first convolution: 2 for
// non-first stages under DownsampleStrided, the layout SourceConfig uses,
// and 1 otherwise. Under DownsamplePool the pooling step is the only
// reduction.
func (k Kind) Stride(policy Downsampling) [3]int64 {
	if k == FirstEncoder || policy != DownsampleStrided {
		return graph.Cube(1)
	}
	return graph.Cube(2)
}

// Down adds a downsampling stage: conv block then 2x2x2 max pooling with
// stride 2. It returns the pre-pooling tensor, kept as a skip connection,
// and the pooled tensor for the next stage.
func Down(g *graph.Graph, name string, x *graph.Tensor, filters int64, kind Kind, policy Downsampling, act base.Act) (skip, pooled *graph.Tensor, err error) {
	if kind == BaseEncoder {
		return nil, nil, errors.Wrapf(ErrKind, "%s: %v has no pooling step", name, kind)
	}

	skip, err = base.DoubleConv(g, name, x, filters, kind.Stride(policy), act)
	if err != nil {
		return nil, nil, err
	}

	config := &graph.ConvConfig{
		Kernel:  graph.Cube(2),
		Stride:  graph.Cube(2),
		Padding: graph.PaddingSame,
	}
	pooled, err = g.MaxPool3D(name+"/pool", skip, config)
	if err != nil {
		return nil, nil, err
	}

	return skip, pooled, nil
}

// Bottleneck adds the base stage: a conv block without pooling.
func Bottleneck(g *graph.Graph, name string, x *graph.Tensor, filters int64, policy Downsampling, act base.Act) (*graph.Tensor, error) {
	return base.DoubleConv(g, name, x, filters, BaseEncoder.Stride(policy), act)
}

// StageEncoder is a plain stack of Down stages and a Bottleneck.
type StageEncoder struct {
	Filters    []int64
	Bottleneck int64
	Policy     Downsampling
	Act        base.Act
}

// NewStageEncoder creates a StageEncoder. Stage i is named "enc<i>" and
// the bottleneck "base".
func NewStageEncoder(filters []int64, bottleneck int64, policy Downsampling, act base.Act) *StageEncoder {
	return &StageEncoder{
		Filters:    append([]int64(nil), filters...),
		Bottleneck: bottleneck,
		Policy:     policy,
		Act:        act,
	}
}

// ForwardAll implements Encoder interface for StageEncoder.
func (e *StageEncoder) ForwardAll(g *graph.Graph, x *graph.Tensor) ([]*graph.Tensor, *graph.Tensor, error) {
	if !e.Policy.Valid() {
		return nil, nil, errors.Errorf("unknown downsampling policy %q", e.Policy)
	}

	features := make([]*graph.Tensor, 0, len(e.Filters))
	out := x
	for i, f := range e.Filters {
		kind := MidEncoder
		if i == 0 {
			kind = FirstEncoder
		}
		skip, pooled, err := Down(g, fmt.Sprintf("enc%d", i), out, f, kind, e.Policy, e.Act)
		if err != nil {
			return nil, nil, err
		}
		features = append(features, skip)
		out = pooled
	}

	bottom, err := Bottleneck(g, "base", out, e.Bottleneck, e.Policy, e.Act)
	if err != nil {
		return nil, nil, err
	}

	return features, bottom, nil
}
