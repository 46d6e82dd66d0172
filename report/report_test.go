package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/ounet/graph"
	"github.com/sugarme/ounet/report"
	"github.com/sugarme/ounet/unet"
)

func buildDefault(t *testing.T) *graph.Model {
	m, err := unet.DefaultUNet()
	require.NoError(t, err)
	return m
}

func TestTable(t *testing.T) {
	m := buildDefault(t)
	df := report.Table(m)
	require.NoError(t, df.Err)

	assert.Equal(t, len(m.Nodes()), df.Nrow())
	assert.Equal(t, []string{"Layer", "Type", "OutputShape", "Params", "Inputs"}, df.Names())

	params, err := df.Col("Params").Int()
	require.NoError(t, err)
	var total int64
	for _, p := range params {
		total += int64(p)
	}
	assert.Equal(t, m.NumParams(), total)

	layers := df.Col("Layer").Records()
	assert.Equal(t, "input", layers[0])
	assert.Equal(t, "head2", layers[len(layers)-1])
}

func TestWriteCSV(t *testing.T) {
	m := buildDefault(t)

	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf, m))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "Layer,Type,OutputShape,Params,Inputs", lines[0])
	assert.Len(t, lines, len(m.Nodes())+1)
}

func TestStageParams(t *testing.T) {
	m := buildDefault(t)
	stages := report.StageParams(m)

	var names []string
	var total int64
	for _, s := range stages {
		names = append(names, s.Stage)
		total += s.Params
	}
	assert.Equal(t, []string{
		"enc0", "enc1", "enc2", "enc3", "enc4", "enc5", "base",
		"dec0", "dec1", "dec2", "dec3", "head0", "dec4", "head1", "dec5", "head2",
	}, names)
	assert.Equal(t, m.NumParams(), total)
	assert.Equal(t, int64(65), stages[len(stages)-1].Params)
}

func TestScope(t *testing.T) {
	assert.Equal(t, "enc0", report.Scope("enc0/block1/conv"))
	assert.Equal(t, "head1", report.Scope("head1"))
}

func TestPlotParams(t *testing.T) {
	m := buildDefault(t)
	path := filepath.Join(t.TempDir(), "params.png")

	require.NoError(t, report.PlotParams(m, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestGray(t *testing.T) {
	img, err := report.Gray(report.Slice{Name: "s", Height: 1, Width: 3, Values: []float64{-1, 0.5, 2}})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(128), img.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(255), img.GrayAt(2, 0).Y)

	_, err = report.Gray(report.Slice{Name: "bad", Height: 2, Width: 2, Values: []float64{1}})
	assert.Error(t, err)
}

func TestMontageAndSave(t *testing.T) {
	slices := []report.Slice{
		{Name: "head0", Height: 2, Width: 2, Values: []float64{0, 1, 1, 0}},
		{Name: "head1", Height: 4, Width: 4, Values: make([]float64, 16)},
	}
	img, err := report.Montage(slices, 32)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32+16, img.Bounds().Dy())

	_, err = report.Montage(nil, 32)
	assert.Error(t, err)

	dir := t.TempDir()
	for _, name := range []string{"preview.png", "preview.tif"} {
		path := filepath.Join(dir, name)
		require.NoError(t, report.SaveImage(path, img))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	back, err := imaging.Open(filepath.Join(dir, "preview.png"))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds().Size(), back.Bounds().Size())
}
