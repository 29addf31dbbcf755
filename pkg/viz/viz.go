// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package viz renders decision diagrams, execution plans and search spaces in the
// Graphviz DOT language.
//
// Render the output with e.g. `dot -Tsvg plan.dot -o plan.svg`.
package viz

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search"
)

// TargetColors used to fill the nodes of each target.
var TargetColors = map[targets.Target]string{
	targets.X86:      "lightblue",
	targets.Tofino:   "palegreen",
	targets.FastPath: "gold",
}

const header = `    graph [ fontname = "Helvetica" ]
    node [ fontname = "Helvetica" fontsize = "12" ]
    edge [ fontname = "Helvetica" fontsize = "10" ]
`

// dotWriter accumulates the first error, so rendering code can write unconditionally.
type dotWriter struct {
	w   *bufio.Writer
	err error
}

func (dw *dotWriter) printf(format string, args ...any) {
	if dw.err != nil {
		return
	}
	_, dw.err = fmt.Fprintf(dw.w, format, args...)
}

func (dw *dotWriter) finish() error {
	if dw.err != nil {
		return dw.err
	}
	return dw.w.Flush()
}

func newDotWriter(w io.Writer, name string) *dotWriter {
	dw := &dotWriter{w: bufio.NewWriter(w)}
	dw.printf("digraph %s {\n%s", name, header)
	return dw
}

func quote(s string) string { return strconv.Quote(s) }

// Diagram writes the decision diagram d.
func Diagram(w io.Writer, d *bdd.Diagram) error {
	dw := newDotWriter(w, "BDD")
	for _, id := range d.IDs() {
		n := d.Node(id)
		var shape, label string
		switch n.Kind {
		case bdd.KindBranch:
			shape, label = "diamond", n.Condition.String()
			if rate, found := d.HitRate(id); found {
				label += fmt.Sprintf("\n(%.0f%% true)", 100*rate)
			}
		case bdd.KindCall:
			shape, label = "box", n.Call.String()
		default:
			shape, label = "ellipse", n.String()
		}
		dw.printf("    n%d [ shape = %q label = %s ]\n", id, shape, quote(fmt.Sprintf("#%d %s", id, label)))
	}
	if root := d.RootID(); root != bdd.InvalidNodeID {
		dw.printf("    START [ shape = \"circle\" label = \"\" ]\n    START -> n%d\n", root)
	}
	for _, id := range d.IDs() {
		n := d.Node(id)
		switch n.Kind {
		case bdd.KindBranch:
			dw.printf("    n%d -> n%d [ label = \"T\" ]\n    n%d -> n%d [ label = \"F\" style = \"dashed\" ]\n",
				id, n.OnTrue, id, n.OnFalse)
		case bdd.KindCall:
			dw.printf("    n%d -> n%d\n", id, n.Next)
		}
	}
	dw.printf("}\n")
	return dw.finish()
}

// Plan writes the execution plan e, its nodes filled with the color of their target.
// Pending leaves are drawn as dashed nodes.
func Plan(w io.Writer, e *ep.EP) error {
	dw := newDotWriter(w, "EP")
	dw.printf("    label = %s\n", quote(fmt.Sprintf("EP#%d: %d nodes, throughput %.4g pps", e.ID(), e.NumNodes(), e.Throughput())))
	for _, n := range e.Nodes() {
		label := fmt.Sprintf("%s\n#%d", n.Module.Type, n.Module.Node)
		if n.Module.Data != nil {
			label += fmt.Sprintf(" %v", n.Module.Data)
		}
		dw.printf("    e%d [ shape = \"box\" style = \"filled\" fillcolor = %q label = %s ]\n",
			n.ID, TargetColors[n.Module.Type.Target], quote(label))
		for slot, child := range n.Children {
			if child == ep.InvalidEPNodeID {
				continue
			}
			attrs := ""
			if len(n.Children) == 2 {
				attrs = ` [ label = "T" ]`
				if slot == 1 {
					attrs = ` [ label = "F" style = "dashed" ]`
				}
			}
			dw.printf("    e%d -> e%d%s\n", n.ID, child, attrs)
		}
	}
	for ii, leaf := range e.Leaves() {
		dw.printf("    leaf%d [ shape = \"box\" style = \"dashed\" label = %s ]\n", ii,
			quote(fmt.Sprintf("pending #%d on %s", leaf.Next, leaf.Target)))
		if leaf.Node != ep.InvalidEPNodeID {
			dw.printf("    e%d -> leaf%d [ style = \"dotted\" ]\n", leaf.Node, ii)
		}
	}
	dw.printf("}\n")
	return dw.finish()
}

// Space writes the search space s. The path to the winning plan is drawn in bold.
func Space(w io.Writer, s *search.Space) error {
	dw := newDotWriter(w, "SearchSpace")
	winning := make(map[ep.ID]bool)
	for _, id := range s.Path(s.Winner) {
		winning[id] = true
	}
	statusColors := map[search.Status]string{
		search.Pending:  "white",
		search.Expanded: "lightgrey",
		search.DeadEnd:  "salmon",
		search.Solution: "palegreen",
		search.Pruned:   "khaki",
	}
	for _, n := range s.Nodes() {
		label := fmt.Sprintf("EP#%d %s", n.EP, n.Decision)
		if n.Node != bdd.InvalidNodeID {
			label += fmt.Sprintf("\n#%d on %s", n.Node, n.Target)
		}
		if n.Iteration >= 0 {
			label += fmt.Sprintf("\niteration %d", n.Iteration)
		}
		attrs := ""
		if winning[n.EP] {
			attrs = ` penwidth = "3"`
		}
		dw.printf("    s%d [ shape = \"box\" style = \"filled\" fillcolor = %q label = %s%s ]\n",
			n.EP, statusColors[n.Status], quote(label), attrs)
		if n.Parent != ep.InvalidID {
			attrs = ""
			if winning[n.EP] {
				attrs = ` [ penwidth = "3" ]`
			}
			dw.printf("    s%d -> s%d%s\n", n.Parent, n.EP, attrs)
		}
	}
	dw.printf("}\n")
	return dw.finish()
}

// WriteFile creates path and writes to it with render.
func WriteFile(path string, render func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close %q", path)
		}
	}()
	if err = render(f); err != nil {
		return errors.WithMessagef(err, "failed to write %q", path)
	}
	return nil
}
