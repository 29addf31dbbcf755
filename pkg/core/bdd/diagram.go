// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package bdd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/oleiade/lane"
	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// Diagram is a decision diagram: a tree of Branch, Call and Return nodes stored in an
// arena keyed by NodeID.
//
// A Diagram is built once (with the Add* and Link* methods, or with Load) and then
// treated as read-only. The only restructuring operation, MoveBefore, is meant to be
// applied to a fresh clone.
type Diagram struct {
	nodes  map[NodeID]*Node
	root   NodeID
	nextID NodeID

	// profile maps Branch node ids to the fraction of traffic taking the true side.
	profile map[NodeID]float64
}

// New returns an empty diagram.
func New() *Diagram {
	return &Diagram{
		nodes:   make(map[NodeID]*Node),
		root:    InvalidNodeID,
		profile: make(map[NodeID]float64),
	}
}

func (d *Diagram) add(id NodeID, kind Kind) *Node {
	if id < 0 {
		id = d.nextID
	}
	if _, found := d.nodes[id]; found {
		panic(errors.Errorf("bdd: duplicate node id #%d", id))
	}
	n := newNode(id, kind)
	d.nodes[id] = n
	if id >= d.nextID {
		d.nextID = id + 1
	}
	return n
}

// AddBranch adds a Branch node on the given condition and returns its id.
// Use LinkBranch to connect its successors.
func (d *Diagram) AddBranch(condition *Expr) NodeID {
	n := d.add(InvalidNodeID, KindBranch)
	n.Condition = condition
	return n.ID
}

// AddCall adds a Call node and returns its id. Use Link to connect its successor.
func (d *Diagram) AddCall(call *Call) NodeID {
	n := d.add(InvalidNodeID, KindCall)
	n.Call = call
	return n.ID
}

// AddReturnInit adds a ReturnInit node and returns its id.
func (d *Diagram) AddReturnInit(result InitResult) NodeID {
	n := d.add(InvalidNodeID, KindReturnInit)
	n.Init = result
	return n.ID
}

// AddReturnProcess adds a ReturnProcess node and returns its id.
func (d *Diagram) AddReturnProcess(op ProcessOp, port int) NodeID {
	n := d.add(InvalidNodeID, KindReturnProcess)
	n.Op = op
	n.Port = port
	return n.ID
}

func (d *Diagram) mustNode(id NodeID) *Node {
	n := d.nodes[id]
	if n == nil {
		panic(errors.Errorf("bdd: unknown node id #%d", id))
	}
	return n
}

// Link sets `next` as the successor of the Call node `from`.
func (d *Diagram) Link(from, next NodeID) {
	f := d.mustNode(from)
	if f.Kind != KindCall {
		panic(errors.Errorf("bdd: Link(#%d, #%d) requires a call, got a %s", from, next, f.Kind))
	}
	f.Next = next
	d.mustNode(next).Prev = from
}

// LinkBranch sets the successors of the Branch node `branch`.
func (d *Diagram) LinkBranch(branch, onTrue, onFalse NodeID) {
	b := d.mustNode(branch)
	if b.Kind != KindBranch {
		panic(errors.Errorf("bdd: LinkBranch(#%d) requires a branch, got a %s", branch, b.Kind))
	}
	b.OnTrue, b.OnFalse = onTrue, onFalse
	d.mustNode(onTrue).Prev = branch
	d.mustNode(onFalse).Prev = branch
}

// SetRoot sets the root node of the diagram.
func (d *Diagram) SetRoot(id NodeID) {
	d.mustNode(id)
	d.root = id
}

// Root returns the root node, or nil for an empty diagram.
func (d *Diagram) Root() *Node {
	return d.nodes[d.root]
}

// RootID returns the id of the root node, or InvalidNodeID for an empty diagram.
func (d *Diagram) RootID() NodeID { return d.root }

// Node returns the node with the given id, or nil if there is none.
func (d *Diagram) Node(id NodeID) *Node {
	return d.nodes[id]
}

// Has returns whether the diagram holds a node with the given id.
func (d *Diagram) Has(id NodeID) bool {
	_, found := d.nodes[id]
	return found
}

// Len returns the number of nodes in the arena.
func (d *Diagram) Len() int { return len(d.nodes) }

// NextID returns the id the next added node will get. All current ids are smaller.
func (d *Diagram) NextID() NodeID { return d.nextID }

// IDs returns all node ids in ascending order.
func (d *Diagram) IDs() []NodeID {
	return slices.Sorted(maps.Keys(d.nodes))
}

// Next returns the successor of a Call node, or nil.
func (d *Diagram) Next(n *Node) *Node { return d.nodes[n.Next] }

// True returns the true-side successor of a Branch node, or nil.
func (d *Diagram) True(n *Node) *Node { return d.nodes[n.OnTrue] }

// False returns the false-side successor of a Branch node, or nil.
func (d *Diagram) False(n *Node) *Node { return d.nodes[n.OnFalse] }

// Children returns the ids of the valid successors of a node: the true and false
// sides for a Branch, the next node for a Call and nothing for a return.
func (d *Diagram) Children(id NodeID) []NodeID {
	n := d.nodes[id]
	if n == nil {
		return nil
	}
	var children []NodeID
	switch n.Kind {
	case KindBranch:
		for _, c := range []NodeID{n.OnTrue, n.OnFalse} {
			if c != InvalidNodeID {
				children = append(children, c)
			}
		}
	case KindCall:
		if n.Next != InvalidNodeID {
			children = append(children, n.Next)
		}
	}
	return children
}

// Walk visits the nodes reachable from `from` (included) in breadth-first order.
// If fn returns false, the successors of the visited node are not walked.
func (d *Diagram) Walk(from NodeID, fn func(n *Node) bool) {
	if !d.Has(from) {
		return
	}
	visited := sets.Make[NodeID]()
	q := lane.NewQueue()
	for q.Enqueue(from); !q.Empty(); {
		id := q.Dequeue().(NodeID)
		if visited.Has(id) {
			continue
		}
		visited.Insert(id)
		if !fn(d.nodes[id]) {
			continue
		}
		for _, c := range d.Children(id) {
			if !visited.Has(c) && d.Has(c) {
				q.Enqueue(c)
			}
		}
	}
}

// Reachable returns the ids of all nodes reachable from `from`, `from` included.
func (d *Diagram) Reachable(from NodeID) sets.Set[NodeID] {
	reached := sets.Make[NodeID]()
	d.Walk(from, func(n *Node) bool {
		reached.Insert(n.ID)
		return true
	})
	return reached
}

// CountReachable returns the number of nodes reachable from `from`, `from` included.
func (d *Diagram) CountReachable(from NodeID) int {
	var count int
	d.Walk(from, func(*Node) bool {
		count++
		return true
	})
	return count
}

// PathConstraints returns the branch decisions taken from the root down to the node
// `id` (excluded), in root-to-node order: the branch condition when the path goes
// through the true side and its negation otherwise.
func (d *Diagram) PathConstraints(id NodeID) []*Expr {
	var constraints []*Expr
	child := d.nodes[id]
	for child != nil && child.Prev != InvalidNodeID {
		parent := d.nodes[child.Prev]
		if parent == nil {
			break
		}
		if parent.Kind == KindBranch {
			if parent.OnTrue == child.ID {
				constraints = append(constraints, parent.Condition)
			} else {
				constraints = append(constraints, Not(parent.Condition))
			}
		}
		child = parent
	}
	slices.Reverse(constraints)
	return constraints
}

// HitRate returns the profiled fraction of traffic taking the true side of a Branch node.
func (d *Diagram) HitRate(branch NodeID) (float64, bool) {
	f, found := d.profile[branch]
	return f, found
}

// SetHitRate records the profiled fraction of traffic taking the true side of a Branch node.
func (d *Diagram) SetHitRate(branch NodeID, fraction float64) {
	n := d.mustNode(branch)
	if n.Kind != KindBranch {
		panic(errors.Errorf("bdd: SetHitRate(#%d) requires a branch, got a %s", branch, n.Kind))
	}
	if fraction < 0 || fraction > 1 {
		panic(errors.Errorf("bdd: SetHitRate(#%d, %g): fraction out of [0,1]", branch, fraction))
	}
	d.profile[branch] = fraction
}

// Clone returns a copy of the diagram with the same node ids.
// Expressions and calls are immutable and thus shared.
func (d *Diagram) Clone() *Diagram {
	c := &Diagram{
		nodes:   make(map[NodeID]*Node, len(d.nodes)),
		root:    d.root,
		nextID:  d.nextID,
		profile: maps.Clone(d.profile),
	}
	for id, n := range d.nodes {
		nodeCopy := *n
		c.nodes[id] = &nodeCopy
	}
	return c
}

// CloneWithRenumbering returns a copy of the diagram whose node ids are disjoint from
// the ids of d: the old ids, in ascending order, are mapped to NextID(), NextID()+1, ...
// The returned map translates every old id to its new id.
func (d *Diagram) CloneWithRenumbering() (*Diagram, map[NodeID]NodeID) {
	mapping := make(map[NodeID]NodeID, len(d.nodes))
	for ii, id := range d.IDs() {
		mapping[id] = d.nextID + NodeID(ii)
	}
	translate := func(id NodeID) NodeID {
		if id == InvalidNodeID {
			return InvalidNodeID
		}
		return mapping[id]
	}
	c := &Diagram{
		nodes:   make(map[NodeID]*Node, len(d.nodes)),
		root:    translate(d.root),
		nextID:  d.nextID + NodeID(len(d.nodes)),
		profile: make(map[NodeID]float64, len(d.profile)),
	}
	for id, n := range d.nodes {
		nodeCopy := *n
		nodeCopy.ID = mapping[id]
		nodeCopy.Prev = translate(n.Prev)
		nodeCopy.Next = translate(n.Next)
		nodeCopy.OnTrue = translate(n.OnTrue)
		nodeCopy.OnFalse = translate(n.OnFalse)
		c.nodes[nodeCopy.ID] = &nodeCopy
	}
	for id, f := range d.profile {
		c.profile[mapping[id]] = f
	}
	return c, mapping
}

// MoveBefore detaches the Call node `moved` from its position and re-inserts it right
// before `anchor`. The nodes from `anchor` down to the parent of `moved` must form a
// linear chain of calls: this guarantees that the move does not change which outcomes
// are reachable, only the order in which the calls happen.
func (d *Diagram) MoveBefore(anchor, moved NodeID) error {
	a, m := d.nodes[anchor], d.nodes[moved]
	if a == nil || m == nil {
		return errors.Errorf("bdd: MoveBefore(#%d, #%d): unknown node", anchor, moved)
	}
	if m.Kind != KindCall {
		return errors.Errorf("bdd: MoveBefore(#%d, #%d): only calls can be moved, got a %s", anchor, moved, m.Kind)
	}
	if anchor == moved {
		return errors.Errorf("bdd: MoveBefore(#%d, #%d): cannot move a node before itself", anchor, moved)
	}
	for id := m.Prev; ; {
		n := d.nodes[id]
		if n == nil {
			return errors.Errorf("bdd: MoveBefore(#%d, #%d): #%d is not an ancestor of #%d", anchor, moved, anchor, moved)
		}
		if n.Kind != KindCall {
			return errors.Errorf("bdd: MoveBefore(#%d, #%d): #%d in between is a %s", anchor, moved, id, n.Kind)
		}
		if id == anchor {
			break
		}
		id = n.Prev
	}

	// Detach moved: its parent is a call by construction.
	parent := d.nodes[m.Prev]
	parent.Next = m.Next
	if next := d.nodes[m.Next]; next != nil {
		next.Prev = parent.ID
	}

	// Re-insert it above anchor.
	m.Prev = a.Prev
	if above := d.nodes[a.Prev]; above != nil {
		switch {
		case above.Kind == KindCall:
			above.Next = moved
		case above.OnTrue == anchor:
			above.OnTrue = moved
		default:
			above.OnFalse = moved
		}
	} else {
		d.root = moved
	}
	m.Next = anchor
	a.Prev = moved
	return nil
}

// String pretty-prints the diagram, one node per line, indented by depth.
func (d *Diagram) String() string {
	var sb strings.Builder
	var visit func(id NodeID, depth int, prefix string)
	visit = func(id NodeID, depth int, prefix string) {
		n := d.nodes[id]
		if n == nil {
			return
		}
		_, _ = fmt.Fprintf(&sb, "%s%s%s\n", strings.Repeat("  ", depth), prefix, n)
		switch n.Kind {
		case KindBranch:
			visit(n.OnTrue, depth+1, "T: ")
			visit(n.OnFalse, depth+1, "F: ")
		case KindCall:
			visit(n.Next, depth, "")
		}
	}
	visit(d.root, 0, "")
	return sb.String()
}
