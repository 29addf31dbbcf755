// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// Module realizes decision diagram nodes on one target.
//
// Modules are stateless: everything they decide is recorded in the execution plans
// they return.
type Module interface {
	// Type returns the target and name of the module.
	Type() targets.ModuleType

	// Process returns the execution plans obtained by realizing node with this module
	// on top of e, or nothing if the module doesn't handle node in this plan.
	//
	// e must not be modified: successors are built from clones (see EP.Commit and
	// EP.Ignore).
	Process(e *EP, node *bdd.Node) []*EP

	// Speculate estimates the effect of realizing node with this module on top of the
	// context ctx, without building any plan. It returns false if the module doesn't
	// handle the node.
	//
	// ctx must not be modified: a Speculation changing the context carries its own clone.
	Speculate(e *EP, node *bdd.Node, ctx *Context) (*Speculation, bool)
}

// Handoff is implemented by modules that only move the processing of the pending node
// to another target. Platform.Validate rejects platforms where handoffs form a cycle.
type Handoff interface {
	HandoffTarget() targets.Target
}

// Applicable returns whether the module may process the next node of e: only modules of
// the active target run.
func Applicable(m Module, e *EP) bool {
	return m.Type().Target == e.ActiveTarget()
}

// Speculation is the outcome of Module.Speculate.
type Speculation struct {
	// Ctx is the context after the speculated decision.
	Ctx *Context

	// Handoff is set if the decision only moves the processing to NextTarget: the
	// speculated node itself is then still pending, on NextTarget.
	Handoff    bool
	NextTarget targets.Target

	// Skip holds the nodes, other than the speculated one, the decision subsumes.
	Skip sets.Set[bdd.NodeID]
}

// ModuleInstance is a module committed in an execution plan.
type ModuleInstance struct {
	Type targets.ModuleType

	// Node is the diagram node realized.
	Node bdd.NodeID

	// NextTarget is the target processing continues on after this module.
	NextTarget targets.Target

	// Data holds module specific, immutable, information (e.g. the table realizing a map).
	Data any
}

// NextLeaf describes one successor of a committed module.
type NextLeaf struct {
	// Next is the diagram node to process next, or bdd.InvalidNodeID if processing ends
	// on this side.
	Next bdd.NodeID

	// Target that will process Next.
	Target targets.Target
}

// Decision is a module commitment applied to the active leaf of an execution plan with
// EP.ProcessLeafWith.
type Decision struct {
	Module ModuleInstance

	// Keep leaves the diagram node pending: used by modules that only hand the
	// processing over to another target.
	Keep bool

	// Subsumed lists the diagram nodes, besides Module.Node, realized by this module.
	Subsumed []bdd.NodeID

	// Leaves are the successors of the committed node: one per child of the new
	// execution plan node.
	Leaves []NextLeaf
}
