// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/solver"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// fakeContext models a target processing capacity/(1+ops) packets per second.
type fakeContext struct {
	target   targets.Target
	capacity float64
	ops      int
}

func (c *fakeContext) Target() targets.Target { return c.target }

func (c *fakeContext) Clone() targets.Context {
	cc := *c
	return &cc
}

func (c *fakeContext) Egress(ingressPPS float64) float64 {
	return targets.SaturatingCurve(c.capacity/float64(1+c.ops), ingressPPS)
}

// fakeModule realizes nodes of the given kind (and, for calls, the given functions) on
// its target. Calls to a function in `places` place the called object.
type fakeModule struct {
	target    targets.Target
	name      string
	kind      bdd.Kind
	functions sets.Set[string]
	places    targets.DS
}

func (m *fakeModule) Type() targets.ModuleType { return targets.ModuleType{Target: m.target, Name: m.name} }

func (m *fakeModule) accepts(e *EP, node *bdd.Node, ctx *Context) bool {
	if node.Kind != m.kind {
		return false
	}
	if node.Kind == bdd.KindCall {
		if !m.functions.Has(node.Call.Function) {
			return false
		}
		if addr, ok := node.Call.Object(); ok && !ctx.CanPlace(addr, Placement{m.target, m.places}) {
			return false
		}
	}
	return true
}

func (m *fakeModule) leaves(node *bdd.Node) []NextLeaf {
	switch node.Kind {
	case bdd.KindBranch:
		return []NextLeaf{{node.OnTrue, m.target}, {node.OnFalse, m.target}}
	case bdd.KindCall:
		return []NextLeaf{{node.Next, m.target}}
	}
	return nil
}

func (m *fakeModule) Process(e *EP, node *bdd.Node) []*EP {
	if !Applicable(m, e) || !m.accepts(e, node, e.Context()) {
		return nil
	}
	next := e.Commit(Decision{
		Module: ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.target},
		Leaves: m.leaves(node),
	})
	if node.Kind == bdd.KindCall {
		if addr, ok := node.Call.Object(); ok {
			next.Context().Place(addr, Placement{m.target, m.places})
		}
		next.Context().TargetContext(m.target).(*fakeContext).ops++
	}
	return []*EP{next}
}

func (m *fakeModule) Speculate(e *EP, node *bdd.Node, ctx *Context) (*Speculation, bool) {
	if !m.accepts(e, node, ctx) {
		return nil, false
	}
	ctx = ctx.Clone()
	if node.Kind == bdd.KindCall {
		if addr, ok := node.Call.Object(); ok {
			ctx.Place(addr, Placement{m.target, m.places})
		}
		ctx.TargetContext(m.target).(*fakeContext).ops++
	}
	return &Speculation{Ctx: ctx}, true
}

// handoffModule sends any node from one target to another.
type handoffModule struct {
	from, to targets.Target
}

func (m *handoffModule) Type() targets.ModuleType {
	return targets.ModuleType{Target: m.from, Name: "SendTo" + m.to.String()}
}

func (m *handoffModule) HandoffTarget() targets.Target { return m.to }

func (m *handoffModule) Process(e *EP, node *bdd.Node) []*EP {
	if !Applicable(m, e) {
		return nil
	}
	return []*EP{e.Commit(Decision{
		Module: ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.to},
		Keep:   true,
		Leaves: []NextLeaf{{node.ID, m.to}},
	})}
}

func (m *handoffModule) Speculate(e *EP, node *bdd.Node, ctx *Context) (*Speculation, bool) {
	return &Speculation{Ctx: ctx.Clone(), Handoff: true, NextTarget: m.to}, true
}

// testPlatform has a fast switch that can't call "g" nor touch vectors, and a slow CPU
// that does everything.
func testPlatform() *Platform {
	everything := sets.MakeWith("f", "g", "map_get", "vector_borrow", "dchain_rejuvenate_index", "current_time")
	switchFunctions := sets.MakeWith("f", "map_get", "dchain_rejuvenate_index", "current_time")
	return &Platform{
		Targets: []TargetSpec{
			{
				Target: targets.Tofino,
				Modules: []Module{
					&fakeModule{target: targets.Tofino, name: "If", kind: bdd.KindBranch},
					&fakeModule{target: targets.Tofino, name: "Call", kind: bdd.KindCall, functions: switchFunctions, places: targets.Table},
					&fakeModule{target: targets.Tofino, name: "Forward", kind: bdd.KindReturnProcess},
					&handoffModule{from: targets.Tofino, to: targets.X86},
				},
				Context: &fakeContext{target: targets.Tofino, capacity: 1e9},
			},
			{
				Target: targets.X86,
				Modules: []Module{
					&fakeModule{target: targets.X86, name: "If", kind: bdd.KindBranch},
					&fakeModule{target: targets.X86, name: "Call", kind: bdd.KindCall, functions: everything, places: targets.Map},
					&fakeModule{target: targets.X86, name: "Forward", kind: bdd.KindReturnProcess},
				},
				Context: &fakeContext{target: targets.X86, capacity: 1e6},
			},
		},
		Solver:    solver.Structural{},
		Estimator: DefaultEstimator(),
	}
}

// expand returns the successors of e produced by all applicable modules.
func expand(e *EP) []*EP {
	var successors []*EP
	node := e.Next()
	for _, spec := range e.Platform().Targets {
		for _, m := range spec.Modules {
			successors = append(successors, m.Process(e, node)...)
		}
	}
	return successors
}

// firstOf returns the successor of e produced by the named module of the active target.
func firstOf(e *EP, name string) *EP {
	for _, m := range e.Platform().Modules(e.ActiveTarget()) {
		if m.Type().Name == name {
			if successors := m.Process(e, e.Next()); len(successors) > 0 {
				return successors[0]
			}
		}
	}
	return nil
}
