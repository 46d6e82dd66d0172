package encoder

import (
	"github.com/sugarme/ounet/graph"
)

// Encoder is encoder interface for a volumetric segmentation model.
//
// ForwardAll returns the skip tensor of every downsampling stage, in order,
// and the bottleneck tensor.
type Encoder interface {
	ForwardAll(g *graph.Graph, x *graph.Tensor) (features []*graph.Tensor, bottom *graph.Tensor, err error)
}
