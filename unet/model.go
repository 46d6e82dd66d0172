package unet

import (
	"github.com/sugarme/ounet/encoder"
	"github.com/sugarme/ounet/graph"
)

// UNet is the Optimized U-Net for brain tumor segmentation.
// Ref: https://arxiv.org/abs/2110.03352
type UNet struct {
	config  Config
	encoder encoder.Encoder
	decoder *UNetDecoder
}

// New validates cfg and creates a UNet.
func New(cfg Config) (*UNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enc := encoder.NewStageEncoder(cfg.EncoderFilters, cfg.BottleneckFilters, cfg.Downsampling, cfg.Act())
	return &UNet{
		config:  cfg,
		encoder: enc,
		decoder: NewUNetDecoder(cfg),
	}, nil
}

// Build assembles a fresh graph: one input, one output per head stage,
// ordered from the coarsest to the full resolution head.
func (n *UNet) Build() (*graph.Model, error) {
	g := graph.New(n.config.Name)
	size := n.config.InputSize
	x, err := g.Input("input", graph.Shape{n.config.InputChannels, size[0], size[1], size[2]})
	if err != nil {
		return nil, err
	}

	// input [5 128 128 128]
	// enc0..enc5 skips [64 128^3] [96 64^3] [128 32^3] [192 16^3] [256 8^3] [384 4^3]
	// base [512 2 2 2]
	features, bottom, err := n.encoder.ForwardAll(g, x)
	if err != nil {
		return nil, err
	}

	// dec0..dec5 [384 4^3] [256 8^3] [192 16^3] [128 32^3] [96 64^3] [64 128^3]
	outs, err := n.decoder.ForwardFeatures(g, features, bottom)
	if err != nil {
		return nil, err
	}

	var heads []*graph.Tensor
	for _, o := range outs {
		if o.Head != nil {
			heads = append(heads, o.Head)
		}
	}

	return g.Finalize([]*graph.Tensor{x}, heads)
}

// Build creates the UNet described by cfg and assembles its graph.
func Build(cfg Config) (*graph.Model, error) {
	net, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return net.Build()
}

// DefaultUNet builds the paper network on a (5, 128, 128, 128) input.
func DefaultUNet() (*graph.Model, error) {
	return Build(DefaultConfig())
}
