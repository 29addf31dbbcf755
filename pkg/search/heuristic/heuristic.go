// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package heuristic defines how execution plans are ranked during the search: a
// Heuristic is an ordered list of metrics, each maximized or minimized, compared
// lexicographically.
package heuristic

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
)

// Objective of a metric.
type Objective int

const (
	Max Objective = iota
	Min
)

// String implements fmt.Stringer.
func (o Objective) String() string {
	if o == Min {
		return "MIN"
	}
	return "MAX"
}

// Metric measures one aspect of an execution plan.
type Metric struct {
	Name string

	// Eval must be a pure function of the plan.
	Eval func(e *ep.EP) int64
}

// Objectives pairs a metric with its objective.
type Objectives struct {
	Metric
	Objective Objective
}

// String implements fmt.Stringer.
func (o Objectives) String() string { return fmt.Sprintf("%s(%s)", o.Objective, o.Name) }

// Built-in metrics.
var (
	// Coverage is the number of diagram nodes processed.
	Coverage = Metric{"Coverage", func(e *ep.EP) int64 { return int64(len(e.Meta().Processed)) }}

	// Throughput is the stable throughput of the plan so far, in packets per second.
	Throughput = Metric{"Throughput", func(e *ep.EP) int64 { return int64(e.Throughput()) }}

	// SpeculativeThroughput is the estimated stable throughput of the completed plan, in
	// packets per second.
	SpeculativeThroughput = Metric{"SpeculativeThroughput", func(e *ep.EP) int64 { return int64(e.SpeculativeThroughput()) }}

	// FastPathNodes counts the plan nodes committed on targets other than the controller.
	FastPathNodes = Metric{"FastPathNodes", func(e *ep.EP) int64 {
		var count int
		for t, n := range e.Meta().NodesPerTarget {
			if t != targets.X86 {
				count += n
			}
		}
		return int64(count)
	}}

	// ControllerNodes counts the plan nodes committed on the controller.
	ControllerNodes = Metric{"ControllerNodes", func(e *ep.EP) int64 { return int64(e.Meta().NodesPerTarget[targets.X86]) }}

	// TargetSwitches counts the moves of processing from one target to another.
	TargetSwitches = Metric{"TargetSwitches", func(e *ep.EP) int64 { return int64(e.Meta().TargetSwitches) }}

	Depth       = Metric{"Depth", func(e *ep.EP) int64 { return int64(e.Meta().Depth) }}
	Nodes       = Metric{"Nodes", func(e *ep.EP) int64 { return int64(e.NumNodes()) }}
	Reorderings = Metric{"Reorderings", func(e *ep.EP) int64 { return int64(e.Meta().Reorderings) }}
)

// Score of an execution plan: one value per metric of the heuristic, minimized metrics
// negated so that higher is always better.
type Score []int64

// Compare returns -1 if s is worse than other, +1 if it's better and 0 if they tie.
// Scores of different lengths compare their common prefix first; the shorter is worse.
func (s Score) Compare(other Score) int {
	for ii := range min(len(s), len(other)) {
		switch {
		case s[ii] < other[ii]:
			return -1
		case s[ii] > other[ii]:
			return 1
		}
	}
	switch {
	case len(s) < len(other):
		return -1
	case len(s) > len(other):
		return 1
	}
	return 0
}

// Heuristic ranks execution plans.
type Heuristic struct {
	Name    string
	Metrics []Objectives

	// TerminateOnFirstSolution stops the search at the first complete plan.
	TerminateOnFirstSolution bool
}

// New creates a heuristic with no metrics, to be configured with Maximize and Minimize.
func New(name string) *Heuristic {
	return &Heuristic{Name: name}
}

// Maximize appends a metric to maximize. It returns the heuristic, so calls can be cascaded.
func (h *Heuristic) Maximize(m Metric) *Heuristic {
	h.Metrics = append(h.Metrics, Objectives{m, Max})
	return h
}

// Minimize appends a metric to minimize. It returns the heuristic, so calls can be cascaded.
func (h *Heuristic) Minimize(m Metric) *Heuristic {
	h.Metrics = append(h.Metrics, Objectives{m, Min})
	return h
}

// TerminateOnFirst sets TerminateOnFirstSolution. It returns the heuristic, so calls can be cascaded.
func (h *Heuristic) TerminateOnFirst() *Heuristic {
	h.TerminateOnFirstSolution = true
	return h
}

// Score evaluates every metric once on e.
func (h *Heuristic) Score(e *ep.EP) Score {
	score := make(Score, len(h.Metrics))
	for ii, m := range h.Metrics {
		value := m.Eval(e)
		if m.Objective == Min {
			value = -value
		}
		score[ii] = value
	}
	return score
}

// Describe returns a description of a score, with the name of each metric.
func (h *Heuristic) Describe(s Score) string {
	parts := make([]string, 0, len(s))
	for ii, value := range s {
		if ii >= len(h.Metrics) {
			break
		}
		m := h.Metrics[ii]
		if m.Objective == Min {
			value = -value
		}
		parts = append(parts, fmt.Sprintf("%s=%d", m.Name, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// String implements fmt.Stringer.
func (h *Heuristic) String() string {
	parts := make([]string, len(h.Metrics))
	for ii, m := range h.Metrics {
		parts[ii] = m.String()
	}
	s := fmt.Sprintf("%s[%s]", h.Name, strings.Join(parts, ", "))
	if h.TerminateOnFirstSolution {
		s += " (first solution)"
	}
	return s
}

// KnownHeuristics maps the names of the built-in heuristics to their constructors.
var KnownHeuristics = map[string]func() *Heuristic{
	"dfs": func() *Heuristic {
		return New("dfs").Maximize(Depth).TerminateOnFirst()
	},
	"bfs": func() *Heuristic {
		return New("bfs").Minimize(Depth).TerminateOnFirst()
	},
	"most-compact": func() *Heuristic {
		return New("most-compact").Maximize(Coverage).Minimize(Nodes).Minimize(Reorderings)
	},
	"least-reordered": func() *Heuristic {
		return New("least-reordered").Minimize(Reorderings).Maximize(Coverage).Minimize(Nodes)
	},
	"max-throughput": func() *Heuristic {
		return New("max-throughput").Maximize(SpeculativeThroughput).Maximize(Coverage).Minimize(TargetSwitches)
	},
	"gallium": func() *Heuristic {
		return New("gallium").Maximize(FastPathNodes).Minimize(ControllerNodes).Minimize(TargetSwitches).Maximize(Coverage)
	},
}

// DefaultName is the heuristic used when none is given.
const DefaultName = "max-throughput"

// Names returns the names of the built-in heuristics, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(KnownHeuristics))
}

// Get returns a new instance of the built-in heuristic with the given name.
func Get(name string) (*Heuristic, error) {
	constructor, found := KnownHeuristics[name]
	if !found {
		return nil, errors.Errorf("unknown heuristic %q, valid values are %q", name, Names())
	}
	return constructor(), nil
}
