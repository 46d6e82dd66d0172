package unet

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/sugarme/ounet/base"
	"github.com/sugarme/ounet/graph"
)

// ErrSkipMismatch is returned when the skip tensor handed to a decoder
// stage does not agree with its kind.
var ErrSkipMismatch = errors.New("skip connection does not match decoder kind")

// DecoderKind selects the decoder stage variant.
type DecoderKind int

const (
	Decoder DecoderKind = iota
	DecoderWithSkip
	DecoderWithHead
	DecoderWithSkipAndHead
)

// KindOf returns the kind with the given features.
func KindOf(skip, head bool) DecoderKind {
	switch {
	case skip && head:
		return DecoderWithSkipAndHead
	case skip:
		return DecoderWithSkip
	case head:
		return DecoderWithHead
	}
	return Decoder
}

// HasSkip reports whether the stage concatenates an encoder tensor.
func (k DecoderKind) HasSkip() bool {
	return k == DecoderWithSkip || k == DecoderWithSkipAndHead
}

// HasHead reports whether the stage emits an output.
func (k DecoderKind) HasHead() bool {
	return k == DecoderWithHead || k == DecoderWithSkipAndHead
}

func (k DecoderKind) String() string {
	switch k {
	case Decoder:
		return "Decoder"
	case DecoderWithSkip:
		return "DecoderWithSkip"
	case DecoderWithHead:
		return "DecoderWithHead"
	case DecoderWithSkipAndHead:
		return "DecoderWithSkipAndHead"
	}
	return fmt.Sprintf("DecoderKind(%d)", int(k))
}

// DecoderOutput is the result of a decoder stage. Head is nil unless the
// stage kind emits an output.
type DecoderOutput struct {
	Features *graph.Tensor
	Head     *graph.Tensor
}

// Tensor returns the stage's output: the head if any, else the features.
func (o DecoderOutput) Tensor() *graph.Tensor {
	if o.Head != nil {
		return o.Head
	}
	return o.Features
}

// DecoderLayer is an upsampling stage of the decoder.
type DecoderLayer struct {
	Name         string
	Filters      int64
	Kind         DecoderKind
	HeadName     string
	HeadChannels int64
	Act          base.Act
}

// NewDecoderLayer creates a DecoderLayer without a head.
func NewDecoderLayer(name string, filters int64, kind DecoderKind, act base.Act) *DecoderLayer {
	return &DecoderLayer{
		Name:         name,
		Filters:      filters,
		Kind:         kind,
		HeadName:     name + "/head",
		HeadChannels: DefaultHeadChannels,
		Act:          act,
	}
}

// ForwardSkip upsamples x, concatenates skip and runs the conv block.
func (d *DecoderLayer) ForwardSkip(g *graph.Graph, x, skip *graph.Tensor) (DecoderOutput, error) {
	if d.Kind.HasSkip() && skip == nil {
		return DecoderOutput{}, errors.Wrapf(ErrSkipMismatch, "%s: %v without skip tensor", d.Name, d.Kind)
	}
	if !d.Kind.HasSkip() && skip != nil {
		return DecoderOutput{}, errors.Wrapf(ErrSkipMismatch, "%s: %v given skip tensor %q", d.Name, d.Kind, skip.Name)
	}

	config := &graph.ConvConfig{
		Kernel:  graph.Cube(2),
		Stride:  graph.Cube(2),
		Padding: graph.PaddingSame,
	}
	up, err := g.ConvTranspose3D(d.Name+"/up", x, d.Filters, config)
	if err != nil {
		return DecoderOutput{}, err
	}

	cat := up
	if skip != nil {
		cat, err = g.Concat(d.Name+"/concat", up, skip)
		if err != nil {
			return DecoderOutput{}, err
		}
	}

	features, err := base.DoubleConv(g, d.Name, cat, d.Filters, graph.Cube(1), d.Act)
	if err != nil {
		return DecoderOutput{}, err
	}
	out := DecoderOutput{Features: features}
	if d.Kind.HasHead() {
		out.Head, err = base.SegmentationHead(g, d.HeadName, features, d.HeadChannels)
		if err != nil {
			return DecoderOutput{}, err
		}
	}

	return out, nil
}

// UNetDecoder is Decoder struct for UNet model.
type UNetDecoder struct {
	layers []*DecoderLayer
	skips  []*int
}

// NewUNetDecoder creates UNetDecoder from the decoder table of cfg.
// Stage i is named "dec<i>"; heads are named "head<k>" in stage order.
func NewUNetDecoder(cfg Config) *UNetDecoder {
	dec := &UNetDecoder{}
	head := 0
	for i, d := range cfg.Decoder {
		l := NewDecoderLayer(fmt.Sprintf("dec%d", i), d.Filters, d.Kind(), cfg.Act())
		l.HeadChannels = cfg.HeadChannels
		if d.Head {
			l.HeadName = fmt.Sprintf("head%d", head)
			head++
		}
		dec.layers = append(dec.layers, l)
		dec.skips = append(dec.skips, d.Skip)
	}

	return dec
}

// ForwardFeatures runs every decoder stage from the bottleneck and returns
// the stage outputs. Each stage consumes the features of the previous one.
func (n *UNetDecoder) ForwardFeatures(g *graph.Graph, features []*graph.Tensor, bottom *graph.Tensor) ([]DecoderOutput, error) {
	outs := make([]DecoderOutput, 0, len(n.layers))
	x := bottom
	for i, l := range n.layers {
		var skip *graph.Tensor
		if s := n.skips[i]; s != nil {
			if *s < 0 || *s >= len(features) {
				return nil, errors.Wrapf(ErrSkipMismatch, "%s: no encoder stage %d", l.Name, *s)
			}
			skip = features[*s]
		}
		out, err := l.ForwardSkip(g, x, skip)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
		x = out.Features
	}

	return outs, nil
}
