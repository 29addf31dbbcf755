// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package ep implements execution plans: trees of module decisions, each realizing a
// node of a decision diagram on a target, plus the frontier of diagram nodes still
// waiting for a decision.
//
// Plans are built by cloning and then committing a decision on the clone: once handed
// over to the search (published), a plan is never modified again.
package ep

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gomlx/exceptions"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/profiler"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// ID identifies an execution plan within one search.
type ID int64

// InvalidID is the parent id of the initial plan.
const InvalidID = ID(-1)

// EPNodeID identifies a node within one plan, it is the index of the node in the plan arena.
type EPNodeID int

// InvalidEPNodeID marks a missing plan node.
const InvalidEPNodeID = EPNodeID(-1)

// EPNode is a committed module in a plan.
type EPNode struct {
	ID     EPNodeID
	Module ModuleInstance
	Prev   EPNodeID

	// Children has one slot per successor of the module. Slots are InvalidEPNodeID
	// until a node is committed there.
	Children []EPNodeID

	// Constraint is the condition discriminating the children of a two-way node.
	Constraint *bdd.Expr

	// Depth of the node in the plan tree, the root has depth 1.
	Depth int
}

// Leaf is a point of the plan where a diagram node waits for a decision.
type Leaf struct {
	// Node is the plan node the next decision will be attached to, and Slot the child
	// slot of Node it goes in. Node is InvalidEPNodeID before the first decision.
	Node EPNodeID
	Slot int

	// Next is the pending diagram node.
	Next bdd.NodeID

	// Target that processes Next.
	Target targets.Target
}

// Meta holds the bookkeeping of a plan.
type Meta struct {
	// Processed holds the diagram nodes already realized.
	Processed sets.Set[bdd.NodeID]

	// NodesPerTarget counts the plan nodes committed on each target.
	NodesPerTarget map[targets.Target]int

	// Roots lists, per target, the diagram nodes where processing enters that target.
	Roots map[targets.Target][]bdd.NodeID

	// Depth of the plan tree.
	Depth int

	// Reorderings counts the diagram reorderings applied to reach this plan.
	Reorderings int

	// TargetSwitches counts the leaves created on a target different from their parent's.
	TargetSwitches int
}

func (m *Meta) clone() Meta {
	c := *m
	c.Processed = m.Processed.Clone()
	c.NodesPerTarget = maps.Clone(m.NodesPerTarget)
	c.Roots = make(map[targets.Target][]bdd.NodeID, len(m.Roots))
	for t, roots := range m.Roots {
		c.Roots[t] = slices.Clone(roots)
	}
	return c
}

// idAllocator hands out plan ids. It is shared by all plans of one search.
type idAllocator struct {
	next atomic.Int64
}

func (a *idAllocator) allocate() ID {
	return ID(a.next.Add(1) - 1)
}

// EP is an execution plan.
type EP struct {
	id       ID
	parent   ID
	lastNode EPNodeID
	ids      *idAllocator

	platform *Platform
	diagram  *bdd.Diagram
	nodes    []*EPNode
	root     EPNodeID
	leaves   []Leaf
	ctx      *Context
	meta     Meta
}

// New returns the initial plan for the diagram: no decision is made, and the single
// leaf points to the diagram root on the platform's initial target.
//
// If prof is nil, the profile is built from the diagram.
func New(p *Platform, d *bdd.Diagram, prof *profiler.Profiler) *EP {
	if prof == nil {
		prof = profiler.FromDiagram(d, p.Solver)
	}
	initial := p.Initial()
	e := &EP{
		parent:   InvalidID,
		lastNode: InvalidEPNodeID,
		ids:      &idAllocator{},
		platform: p,
		diagram:  d,
		root:     InvalidEPNodeID,
		ctx:      NewContext(p, prof),
		meta: Meta{
			Processed:      sets.Make[bdd.NodeID](),
			NodesPerTarget: make(map[targets.Target]int),
			Roots:          map[targets.Target][]bdd.NodeID{initial: {d.RootID()}},
		},
	}
	e.id = e.ids.allocate()
	e.ctx.owner = e.id
	if d.Root() != nil {
		e.leaves = []Leaf{{Node: InvalidEPNodeID, Next: d.RootID(), Target: initial}}
	}
	return e
}

// ID of the plan, unique within a search.
func (e *EP) ID() ID { return e.id }

// Parent returns the id of the plan this one was cloned from.
func (e *EP) Parent() ID { return e.parent }

// LastNode returns the last plan node committed, or InvalidEPNodeID.
func (e *EP) LastNode() EPNodeID { return e.lastNode }

// Platform the plan is built for.
func (e *EP) Platform() *Platform { return e.platform }

// Diagram the plan realizes. It must not be modified.
func (e *EP) Diagram() *bdd.Diagram { return e.diagram }

// Context of the plan. It must only be modified on unpublished plans.
func (e *EP) Context() *Context { return e.ctx }

// Meta returns the plan bookkeeping. It must not be modified.
func (e *EP) Meta() *Meta { return &e.meta }

// Root returns the root plan node, or nil.
func (e *EP) Root() *EPNode { return e.Node(e.root) }

// Node returns the plan node with the given id, or nil.
func (e *EP) Node(id EPNodeID) *EPNode {
	if id < 0 || int(id) >= len(e.nodes) {
		return nil
	}
	return e.nodes[id]
}

// NumNodes returns the number of committed plan nodes.
func (e *EP) NumNodes() int { return len(e.nodes) }

// Nodes returns all plan nodes in commit order. They must not be modified.
func (e *EP) Nodes() []*EPNode { return e.nodes }

// Leaves returns the pending leaves, the active one first. They must not be modified.
func (e *EP) Leaves() []Leaf { return e.leaves }

// Terminal returns whether the plan has no pending diagram nodes.
func (e *EP) Terminal() bool { return len(e.leaves) == 0 }

// ActiveLeaf returns the leaf the next decision applies to. It panics on terminal plans.
func (e *EP) ActiveLeaf() Leaf {
	if len(e.leaves) == 0 {
		exceptions.Panicf("plan #%d is terminal, it has no active leaf", e.id)
	}
	return e.leaves[0]
}

// ActiveTarget returns the target of the active leaf, or the initial target for
// terminal plans.
func (e *EP) ActiveTarget() targets.Target {
	if len(e.leaves) == 0 {
		return e.platform.Initial()
	}
	return e.leaves[0].Target
}

// Next returns the diagram node pending on the active leaf, or nil for terminal plans.
func (e *EP) Next() *bdd.Node {
	if len(e.leaves) == 0 {
		return nil
	}
	return e.diagram.Node(e.leaves[0].Next)
}

// LeafConstraints returns the path constraints of the diagram node pending on the leaf.
func (e *EP) LeafConstraints(leaf Leaf) []*bdd.Expr {
	return e.diagram.PathConstraints(leaf.Next)
}

// LeafHitRate returns the estimated fraction of the traffic reaching the leaf.
func (e *EP) LeafHitRate(leaf Leaf) float64 {
	return e.ctx.HitRate(e.LeafConstraints(leaf))
}

// Clone returns a copy of the plan with a new id, whose parent is e. Plan nodes and the
// context are copied. If deep is set, the diagram is copied too, keeping node ids.
func (e *EP) Clone(deep bool) *EP {
	c := &EP{
		id:       e.ids.allocate(),
		parent:   e.id,
		lastNode: e.lastNode,
		ids:      e.ids,
		platform: e.platform,
		diagram:  e.diagram,
		nodes:    make([]*EPNode, len(e.nodes)),
		root:     e.root,
		leaves:   slices.Clone(e.leaves),
		ctx:      e.ctx.Clone(),
		meta:     e.meta.clone(),
	}
	c.ctx.owner = c.id
	for ii, n := range e.nodes {
		nodeCopy := *n
		nodeCopy.Children = slices.Clone(n.Children)
		c.nodes[ii] = &nodeCopy
	}
	if deep {
		c.diagram = e.diagram.Clone()
		for _, leaf := range c.leaves {
			if !c.diagram.Has(leaf.Next) {
				exceptions.Panicf("plan #%d: leaf points to diagram node #%d, missing from the cloned diagram", c.id, leaf.Next)
			}
		}
	}
	return c
}

// Commit returns a clone of e with the decision applied to its active leaf.
func (e *EP) Commit(d Decision) *EP {
	c := e.Clone(false)
	c.ProcessLeafWith(d)
	return c
}

// Ignore returns a clone of e where the pending diagram node of the active leaf is
// processed without committing any module, and processing continues at next.
func (e *EP) Ignore(next bdd.NodeID) *EP {
	c := e.Clone(false)
	c.ProcessLeaf(next)
	return c
}

// popLeaf removes the active leaf and marks its diagram node as processed.
func (e *EP) popLeaf(keep bool) Leaf {
	leaf := e.ActiveLeaf()
	e.leaves = e.leaves[1:]
	if !keep {
		if e.meta.Processed.Has(leaf.Next) {
			exceptions.Panicf("plan #%d: diagram node #%d processed twice", e.id, leaf.Next)
		}
		e.meta.Processed.Insert(leaf.Next)
	}
	return leaf
}

// ProcessLeaf marks the diagram node of the active leaf as processed without committing
// any module. If next is valid, a leaf for it replaces the active leaf; otherwise this
// branch of the plan ends.
func (e *EP) ProcessLeaf(next bdd.NodeID) {
	leaf := e.popLeaf(false)
	e.ctx.invalidate()
	if next == bdd.InvalidNodeID {
		return
	}
	leaf.Next = next
	e.pushLeaves([]Leaf{leaf})
}

// ProcessLeafWith commits the decision on the active leaf: a new plan node is attached
// where the leaf points, the diagram nodes realized are marked as processed and the
// decision leaves with a valid next node become pending.
//
// Leaves moving to another target take the traffic reaching them along.
func (e *EP) ProcessLeafWith(d Decision) *EPNode {
	leaf := e.popLeaf(d.Keep)
	if !e.platform.Has(d.Module.Type.Target) {
		exceptions.Panicf("plan #%d: module %s is not part of the platform", e.id, d.Module.Type)
	}
	for _, id := range d.Subsumed {
		if e.meta.Processed.Has(id) {
			exceptions.Panicf("plan #%d: module %s subsumes diagram node #%d, already processed", e.id, d.Module.Type, id)
		}
		e.meta.Processed.Insert(id)
	}

	n := &EPNode{
		ID:       EPNodeID(len(e.nodes)),
		Module:   d.Module,
		Prev:     leaf.Node,
		Children: slices.Repeat([]EPNodeID{InvalidEPNodeID}, len(d.Leaves)),
		Depth:    1,
	}
	if len(d.Leaves) == 2 {
		if cond := e.diagram.Node(d.Module.Node); cond != nil && cond.Kind == bdd.KindBranch {
			n.Constraint = cond.Condition
		}
	}
	if parent := e.Node(leaf.Node); parent != nil {
		if parent.Children[leaf.Slot] != InvalidEPNodeID {
			exceptions.Panicf("plan #%d: slot %d of plan node #%d already taken by #%d",
				e.id, leaf.Slot, parent.ID, parent.Children[leaf.Slot])
		}
		parent.Children[leaf.Slot] = n.ID
		n.Depth = parent.Depth + 1
	} else {
		if e.root != InvalidEPNodeID {
			exceptions.Panicf("plan #%d: leaf without plan node, but root #%d already exists", e.id, e.root)
		}
		e.root = n.ID
	}
	e.nodes = append(e.nodes, n)
	e.lastNode = n.ID
	e.meta.Depth = max(e.meta.Depth, n.Depth)
	e.meta.NodesPerTarget[d.Module.Type.Target]++
	e.ctx.SetConstraints(n.ID, e.diagram.PathConstraints(d.Module.Node))
	e.ctx.invalidate()

	newLeaves := make([]Leaf, 0, len(d.Leaves))
	for slot, next := range d.Leaves {
		if next.Next == bdd.InvalidNodeID {
			continue
		}
		if !e.platform.Has(next.Target) {
			exceptions.Panicf("plan #%d: module %s hands over to target %s, not part of the platform",
				e.id, d.Module.Type, next.Target)
		}
		newLeaf := Leaf{Node: n.ID, Slot: slot, Next: next.Next, Target: next.Target}
		if next.Target != leaf.Target {
			e.meta.TargetSwitches++
			e.meta.Roots[next.Target] = append(e.meta.Roots[next.Target], next.Next)
			e.ctx.MoveTraffic(leaf.Target, next.Target, e.LeafHitRate(newLeaf))
		}
		newLeaves = append(newLeaves, newLeaf)
	}
	e.pushLeaves(newLeaves)
	return n
}

// pushLeaves inserts new leaves ahead of the existing ones and restores the leaf order:
// leaves on targets earlier in the platform first, then leaves with higher hit rate.
// The sort is stable, so among equals the newest leaves come first.
func (e *EP) pushLeaves(newLeaves []Leaf) {
	if len(newLeaves) == 0 {
		return
	}
	e.leaves = append(newLeaves, e.leaves...)
	if len(e.leaves) == 1 {
		return
	}
	rates := make(map[bdd.NodeID]float64, len(e.leaves))
	for _, leaf := range e.leaves {
		rates[leaf.Next] = e.LeafHitRate(leaf)
	}
	slices.SortStableFunc(e.leaves, func(a, b Leaf) int {
		ra, rb := e.platform.Rank(a.Target), e.platform.Rank(b.Target)
		if ra != rb {
			return ra - rb
		}
		switch ha, hb := rates[a.Next], rates[b.Next]; {
		case ha > hb:
			return -1
		case ha < hb:
			return 1
		}
		return 0
	})
}

// String returns a one-line summary of the plan.
func (e *EP) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "EP#%d(parent=#%d, nodes=%d, leaves=%d, depth=%d, reorderings=%d",
		e.id, e.parent, len(e.nodes), len(e.leaves), e.meta.Depth, e.meta.Reorderings)
	if len(e.leaves) > 0 {
		_, _ = fmt.Fprintf(&sb, ", next=#%d@%s", e.leaves[0].Next, e.leaves[0].Target)
	}
	sb.WriteByte(')')
	return sb.String()
}
