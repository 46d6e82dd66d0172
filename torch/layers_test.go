package torch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/ounet/graph"
)

func TestConvPadding(t *testing.T) {
	g := graph.New("test")
	x, err := g.Input("x", graph.Shape{4, 9, 8, 1})
	require.NoError(t, err)

	for _, stride := range []int64{1, 2} {
		config := graph.DefaultConvConfig()
		config.Stride = graph.Cube(stride)
		y, err := g.Conv3D("", x, 4, config)
		require.NoError(t, err)

		pad, err := convPadding(y.Producer())
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 1, 1}, pad)
	}

	config := graph.DefaultConvConfig()
	config.Kernel = graph.Cube(1)
	y, err := g.Conv3D("", x, 1, config)
	require.NoError(t, err)
	pad, err := convPadding(y.Producer())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, pad)
}

func TestConvPaddingEvenKernel(t *testing.T) {
	g := graph.New("test")
	x, err := g.Input("x", graph.Shape{4, 8, 8, 8})
	require.NoError(t, err)

	config := graph.DefaultConvConfig()
	config.Kernel = graph.Cube(2)
	y, err := g.Conv3D("", x, 4, config)
	require.NoError(t, err)

	_, err = convPadding(y.Producer())
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestTransposePadding(t *testing.T) {
	g := graph.New("test")
	x, err := g.Input("x", graph.Shape{4, 1, 3, 4})
	require.NoError(t, err)

	tests := []struct {
		kernel, stride int64
		pad, outPad    int64
	}{
		{2, 2, 0, 0},
		{3, 2, 1, 1},
		{4, 2, 1, 0},
		{3, 1, 1, 0},
	}
	for _, tt := range tests {
		config := &graph.ConvConfig{Kernel: graph.Cube(tt.kernel), Stride: graph.Cube(tt.stride), Padding: graph.PaddingSame}
		y, err := g.ConvTranspose3D("", x, 2, config)
		require.NoError(t, err)

		pad, outPad, err := transposePadding(y.Producer())
		require.NoError(t, err, "kernel %d stride %d", tt.kernel, tt.stride)
		assert.Equal(t, graph.Cube(tt.pad), [3]int64{pad[0], pad[1], pad[2]})
		assert.Equal(t, graph.Cube(tt.outPad), [3]int64{outPad[0], outPad[1], outPad[2]})
	}
}

func TestPoolCeil(t *testing.T) {
	g := graph.New("test")
	x, err := g.Input("x", graph.Shape{4, 1, 2, 5})
	require.NoError(t, err)

	config := &graph.ConvConfig{Kernel: graph.Cube(2), Stride: graph.Cube(2), Padding: graph.PaddingSame}
	y, err := g.MaxPool3D("", x, config)
	require.NoError(t, err)
	assert.Equal(t, graph.Shape{4, 1, 1, 3}, y.Shape)

	ceil, err := poolCeil(y.Producer())
	require.NoError(t, err)
	assert.True(t, ceil)
}
