// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"slices"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
)

// Status of a plan in the search space.
type Status int

const (
	// Pending plans are still in the frontier.
	Pending Status = iota
	Expanded
	DeadEnd
	Solution

	// Pruned plans were discarded as duplicates of plans already seen.
	Pruned
)

var statusNames = []string{"pending", "expanded", "dead-end", "solution", "pruned"}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// SpaceNode is a plan generated during the search.
type SpaceNode struct {
	EP     ep.ID
	Parent ep.ID
	Score  heuristic.Score

	// Decision describes how the plan was derived from its parent: the module committed,
	// "ignore" or "reorder".
	Decision string

	// Node is the diagram node the decision was about, and Target the target processing it.
	Node   bdd.NodeID
	Target string

	Status Status

	// Iteration at which the plan was popped from the frontier, or -1 if it never was.
	Iteration int

	Children []ep.ID
}

// Space records the plans generated during a search, as a tree rooted at the initial
// plan.
type Space struct {
	nodes map[ep.ID]*SpaceNode
	order []ep.ID
	root  ep.ID

	// Winner is the best solution, or ep.InvalidID if there is none.
	Winner ep.ID
}

func newSpace() *Space {
	return &Space{nodes: make(map[ep.ID]*SpaceNode), root: ep.InvalidID, Winner: ep.InvalidID}
}

// decisionOf describes how child was derived from parent.
func decisionOf(parent, child *ep.EP) string {
	switch {
	case child.Meta().Reorderings > parent.Meta().Reorderings:
		return "reorder"
	case child.NumNodes() > parent.NumNodes():
		return child.Node(child.LastNode()).Module.Type.String()
	}
	return "ignore"
}

// add records a plan derived from parent (nil for the initial plan).
func (s *Space) add(parent, child *ep.EP, score heuristic.Score) *SpaceNode {
	n := &SpaceNode{EP: child.ID(), Parent: ep.InvalidID, Score: score, Node: bdd.InvalidNodeID, Iteration: -1}
	if parent == nil {
		n.Decision = "start"
		s.root = n.EP
	} else {
		n.Parent = parent.ID()
		n.Decision = decisionOf(parent, child)
		if !parent.Terminal() {
			n.Node = parent.Next().ID
			n.Target = parent.ActiveTarget().String()
		}
		if p := s.nodes[n.Parent]; p != nil {
			p.Children = append(p.Children, n.EP)
		}
	}
	s.nodes[n.EP] = n
	s.order = append(s.order, n.EP)
	return n
}

func (s *Space) mark(id ep.ID, status Status) {
	if n := s.nodes[id]; n != nil {
		n.Status = status
	}
}

// Root returns the initial plan.
func (s *Space) Root() *SpaceNode { return s.nodes[s.root] }

// Node returns the node of the plan id, or nil.
func (s *Space) Node(id ep.ID) *SpaceNode { return s.nodes[id] }

// Len returns the number of plans recorded.
func (s *Space) Len() int { return len(s.order) }

// Nodes returns all nodes, in the order they were generated.
func (s *Space) Nodes() []*SpaceNode {
	nodes := make([]*SpaceNode, len(s.order))
	for ii, id := range s.order {
		nodes[ii] = s.nodes[id]
	}
	return nodes
}

// Path returns the plans from the initial one to id, inclusive. It's empty if id is unknown.
func (s *Space) Path(id ep.ID) []ep.ID {
	var path []ep.ID
	for n := s.nodes[id]; n != nil; n = s.nodes[n.Parent] {
		path = append(path, n.EP)
	}
	slices.Reverse(path)
	return path
}
