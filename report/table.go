// Package report renders model summaries and forward-pass previews.
package report

import (
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/sugarme/ounet/graph"
)

// Table returns one row per node: Layer, Type, OutputShape, Params, Inputs.
func Table(m *graph.Model) dataframe.DataFrame {
	nodes := m.Nodes()
	var (
		names  = make([]string, len(nodes))
		kinds  = make([]string, len(nodes))
		shapes = make([]string, len(nodes))
		params = make([]int, len(nodes))
		inputs = make([]string, len(nodes))
	)
	for i, n := range nodes {
		names[i] = n.Name
		kinds[i] = n.Kind.String()
		shapes[i] = n.Output.Shape.String()
		params[i] = int(n.Params())
		ins := make([]string, len(n.Inputs))
		for j, in := range n.Inputs {
			ins[j] = in.Name
		}
		inputs[i] = strings.Join(ins, " ")
	}

	return dataframe.New(
		series.New(names, series.String, "Layer"),
		series.New(kinds, series.String, "Type"),
		series.New(shapes, series.String, "OutputShape"),
		series.New(params, series.Int, "Params"),
		series.New(inputs, series.String, "Inputs"),
	)
}

// WriteCSV writes Table(m) as CSV with a header row.
func WriteCSV(w io.Writer, m *graph.Model) error {
	df := Table(m)
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// Scope returns the top-level scope of a node name: "enc0/block1/conv"
// belongs to "enc0".
func Scope(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}

// StageParam is the parameter count of one top-level scope.
type StageParam struct {
	Stage  string
	Params int64
}

// StageParams aggregates parameter counts per top-level scope, in order of
// first appearance. Scopes without parameters are skipped.
func StageParams(m *graph.Model) []StageParam {
	var stages []StageParam
	index := make(map[string]int)
	for _, n := range m.Nodes() {
		p := n.Params()
		if p == 0 {
			continue
		}
		s := Scope(n.Name)
		i, ok := index[s]
		if !ok {
			i = len(stages)
			index[s] = i
			stages = append(stages, StageParam{Stage: s})
		}
		stages[i].Params += p
	}
	return stages
}
