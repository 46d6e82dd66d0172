package graph

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Model is a finalized graph. The builder can no longer change it, and
// Finalize and Nodes hand out their own slices. Inputs, Outputs and the
// nodes and tensors they reach are shared with every caller and must be
// treated as read-only.
type Model struct {
	Name    string
	Inputs  []*Tensor
	Outputs []*Tensor

	nodes     []*Node
	consumers map[*Tensor][]*Node
}

// Nodes returns the nodes in topological (construction) order.
func (m *Model) Nodes() []*Node {
	return append([]*Node(nil), m.nodes...)
}

// Node returns the node with the given name, or nil.
func (m *Model) Node(name string) *Node {
	for _, n := range m.nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Consumers returns the nodes reading t.
func (m *Model) Consumers(t *Tensor) []*Node {
	return append([]*Node(nil), m.consumers[t]...)
}

// NumParams returns the total trainable parameter count.
func (m *Model) NumParams() int64 {
	var total int64
	for _, n := range m.nodes {
		total += n.Params()
	}
	return total
}

// IsOutput reports whether t is one of the model outputs.
func (m *Model) IsOutput(t *Tensor) bool {
	for _, o := range m.Outputs {
		if o == t {
			return true
		}
	}
	return false
}

// Signature is a fingerprint of the model structure: node names, kinds,
// op parameters, wiring and output shapes. Two builds of the same
// configuration have equal signatures.
func (m *Model) Signature() string {
	h := sha256.New()
	for _, n := range m.nodes {
		fmt.Fprintf(h, "%s|%s|%d|%v|%v|%s|%g|%g|%v|", n.Name, n.Kind, n.Filters, n.Kernel, n.Stride, n.Padding, n.Slope, n.Eps, n.Output.Shape)
		for _, in := range n.Inputs {
			fmt.Fprintf(h, "%s,", in.Name)
		}
		fmt.Fprintln(h)
	}
	for _, o := range m.Outputs {
		fmt.Fprintf(h, "out:%s\n", o.Name)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Summary writes a layer-by-layer table: name, op, output shape, params
// and inputs, followed by totals.
func (m *Model) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model: %q\n", m.Name)
	fmt.Fprintln(tw, "Layer\tType\tOutput Shape\tParam #\tConnected to")
	for _, n := range m.nodes {
		inputs := make([]string, len(n.Inputs))
		for i, in := range n.Inputs {
			inputs[i] = in.Name
		}
		shape := append([]string{"None"}, strings.Split(strings.Trim(n.Output.Shape.String(), "()"), ", ")...)
		fmt.Fprintf(tw, "%s\t%s\t(%s)\t%d\t%s\n", n.Name, n.Kind, strings.Join(shape, ", "), n.Params(), strings.Join(inputs, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	outs := make([]string, len(m.Outputs))
	for i, o := range m.Outputs {
		outs[i] = o.String()
	}
	_, err := fmt.Fprintf(w, "Total params: %d\nOutputs: %s\n", m.NumParams(), strings.Join(outs, " "))
	return err
}
