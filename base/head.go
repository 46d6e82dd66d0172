package base

import "github.com/sugarme/ounet/graph"

// SegmentationHead adds a 1x1x1 convolution to cOut channels followed by
// a sigmoid, producing per-voxel probabilities. The sigmoid node is
// named `name`.
func SegmentationHead(g *graph.Graph, name string, x *graph.Tensor, cOut int64) (*graph.Tensor, error) {
	config := graph.DefaultConvConfig()
	config.Kernel = graph.Cube(1)

	logit, err := g.Conv3D(name+"/conv", x, cOut, config)
	if err != nil {
		return nil, err
	}

	return g.Sigmoid(name, logit)
}
