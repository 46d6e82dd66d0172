package unet_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/ounet/base"
	"github.com/sugarme/ounet/graph"
	"github.com/sugarme/ounet/unet"
)

func TestDefaultUNet(t *testing.T) {
	m, err := unet.DefaultUNet()
	require.NoError(t, err)

	require.Len(t, m.Inputs, 1)
	assert.Equal(t, graph.Shape{5, 128, 128, 128}, m.Inputs[0].Shape)

	require.Len(t, m.Outputs, 3)
	for i, size := range []int64{32, 64, 128} {
		out := m.Outputs[i]
		assert.Equal(t, fmt.Sprintf("head%d", i), out.Name)
		assert.Equal(t, graph.Shape{1, size, size, size}, out.Shape)
		assert.Equal(t, graph.OpSigmoid, out.Producer().Kind)
	}
}

func TestEncoderResolutions(t *testing.T) {
	m, err := unet.DefaultUNet()
	require.NoError(t, err)

	size := int64(128)
	for i, f := range unet.PaperEncoderFilters {
		skip := m.Node(fmt.Sprintf("enc%d/block2/lrelu", i)).Output
		pooled := m.Node(fmt.Sprintf("enc%d/pool", i)).Output
		assert.Equal(t, graph.Shape{f, size, size, size}, skip.Shape, "enc%d skip", i)
		assert.Equal(t, graph.Shape{f, size / 2, size / 2, size / 2}, pooled.Shape, "enc%d pooled", i)

		// the skip feeds both the pooling and a decoder concat
		assert.Len(t, m.Consumers(skip), 2, "enc%d", i)
		size /= 2
	}

	bottom := m.Node("base/block2/lrelu").Output
	assert.Equal(t, graph.Shape{512, 2, 2, 2}, bottom.Shape)
}

func TestDecoderResolutions(t *testing.T) {
	m, err := unet.DefaultUNet()
	require.NoError(t, err)

	size := int64(2)
	for i, f := range unet.PaperDecoderFilters {
		size *= 2
		up := m.Node(fmt.Sprintf("dec%d/up", i)).Output
		cat := m.Node(fmt.Sprintf("dec%d/concat", i)).Output
		features := m.Node(fmt.Sprintf("dec%d/block2/lrelu", i)).Output

		assert.Equal(t, graph.Shape{f, size, size, size}, up.Shape, "dec%d up", i)
		assert.Equal(t, 2*f, cat.Shape.Channels(), "dec%d concat", i)
		assert.Equal(t, graph.Shape{f, size, size, size}, features.Shape, "dec%d", i)
	}
	assert.Equal(t, int64(128), size)

	// the next stage reads the features, not the head
	head := m.Node("head0")
	require.NotNil(t, head)
	assert.Equal(t, "dec3/block2/lrelu", head.Inputs[0].Producer().Inputs[0].Name)
	assert.Equal(t, "dec3/block2/lrelu", m.Node("dec4/up").Inputs[0].Name)
}

func TestParamCounts(t *testing.T) {
	m, err := unet.DefaultUNet()
	require.NoError(t, err)

	assert.Equal(t, int64(27*5*64+64), m.Node("enc0/block1/conv").Params())
	assert.Equal(t, int64(2*64), m.Node("enc0/block1/norm").Params())
	assert.Equal(t, int64(8*512*384+384), m.Node("dec0/up").Params())
	assert.Equal(t, int64(27*768*384+384), m.Node("dec0/block1/conv").Params())
	assert.Equal(t, int64(64+1), m.Node("head2/conv").Params())

	var total int64
	for _, n := range m.Nodes() {
		total += n.Params()
	}
	assert.Equal(t, total, m.NumParams())
	assert.Equal(t, int64(50843587), m.NumParams())
}

func TestBuildDeterministic(t *testing.T) {
	m1, err := unet.DefaultUNet()
	require.NoError(t, err)
	m2, err := unet.DefaultUNet()
	require.NoError(t, err)

	assert.Equal(t, m1.Signature(), m2.Signature())
	assert.Equal(t, m1.NumParams(), m2.NumParams())
	require.Equal(t, len(m1.Nodes()), len(m2.Nodes()))
	for i, n := range m1.Nodes() {
		assert.Equal(t, n.Output.Shape, m2.Nodes()[i].Output.Shape, n.Name)
	}

	cfg := unet.DefaultConfig()
	cfg.Decoder[0].Filters = 383
	m3, err := unet.Build(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, m1.Signature(), m3.Signature())
}

func TestSummary(t *testing.T) {
	m, err := unet.DefaultUNet()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Summary(&buf))
	out := buf.String()
	assert.Contains(t, out, `Model: "optimized_unet"`)
	assert.Contains(t, out, "(None, 5, 128, 128, 128)")
	assert.Contains(t, out, "(None, 1, 128, 128, 128)")
	assert.Contains(t, out, fmt.Sprintf("Total params: %d", m.NumParams()))
}

func TestSourceConfigDoesNotBuild(t *testing.T) {
	_, err := unet.Build(unet.SourceConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrShapeMismatch), "got %v", err)
}

func TestDecoderLayerKinds(t *testing.T) {
	tests := []struct {
		kind     unet.DecoderKind
		skip     bool
		channels int64
		err      error
	}{
		{unet.Decoder, false, 32, nil},
		{unet.DecoderWithSkip, true, 32, nil},
		{unet.DecoderWithHead, false, 1, nil},
		{unet.DecoderWithSkipAndHead, true, 1, nil},
		{unet.DecoderWithSkip, false, 0, unet.ErrSkipMismatch},
		{unet.DecoderWithSkipAndHead, false, 0, unet.ErrSkipMismatch},
		{unet.Decoder, true, 0, unet.ErrSkipMismatch},
		{unet.DecoderWithHead, true, 0, unet.ErrSkipMismatch},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/skip=%v", tt.kind, tt.skip), func(t *testing.T) {
			g := graph.New("test")
			x, err := g.Input("x", graph.Shape{64, 4, 4, 4})
			require.NoError(t, err)
			skipTs, err := g.Input("skip", graph.Shape{16, 8, 8, 8})
			require.NoError(t, err)

			var skip *graph.Tensor
			if tt.skip {
				skip = skipTs
			}
			l := unet.NewDecoderLayer("dec", 32, tt.kind, base.DefaultAct())
			out, err := l.ForwardSkip(g, x, skip)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, graph.Shape{tt.channels, 8, 8, 8}, out.Tensor().Shape)
			assert.Equal(t, graph.Shape{32, 8, 8, 8}, out.Features.Shape)
			assert.Equal(t, tt.kind.HasHead(), out.Head != nil)
		})
	}
}

func TestDecoderLayerSkipShape(t *testing.T) {
	g := graph.New("test")
	x, err := g.Input("x", graph.Shape{64, 4, 4, 4})
	require.NoError(t, err)
	skip, err := g.Input("skip", graph.Shape{16, 4, 4, 4})
	require.NoError(t, err)

	l := unet.NewDecoderLayer("dec", 32, unet.DecoderWithSkip, base.DefaultAct())
	_, err = l.ForwardSkip(g, x, skip)
	assert.True(t, errors.Is(err, graph.ErrShapeMismatch), "got %v", err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, unet.Decoder, unet.KindOf(false, false))
	assert.Equal(t, unet.DecoderWithSkip, unet.KindOf(true, false))
	assert.Equal(t, unet.DecoderWithHead, unet.KindOf(false, true))
	assert.Equal(t, unet.DecoderWithSkipAndHead, unet.KindOf(true, true))
}
