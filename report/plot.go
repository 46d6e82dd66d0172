package report

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sugarme/ounet/graph"
)

// PlotParams saves a bar chart of StageParams(m), in millions, to path.
// The image format follows the file extension.
func PlotParams(m *graph.Model, path string) error {
	stages := StageParams(m)

	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = m.Name + " parameters per stage"
	p.Y.Label.Text = "params (M)"

	v := make(plotter.Values, len(stages))
	names := make([]string, len(stages))
	for i, s := range stages {
		v[i] = float64(s.Params) / 1e6
		names[i] = s.Stage
	}

	bars, err := plotter.NewBarChart(v, vg.Points(12))
	if err != nil {
		return err
	}
	p.Add(bars)
	p.NominalX(names...)

	return p.Save(vg.Length(len(stages))*0.5*vg.Inch+2*vg.Inch, 4*vg.Inch, path)
}
