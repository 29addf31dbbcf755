// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package profiler keeps track of how traffic splits over the branches of a decision
// diagram.
//
// A Profiler is a binary tree: each internal node splits the traffic reaching it by a
// condition, and every node stores the absolute fraction of the total traffic that
// reaches it. The fraction of an internal node is always the sum of the fractions of
// its two children, and the root carries all the traffic (fraction 1).
package profiler

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/solver"
)

// DefaultHitRate is the fraction of traffic assumed to take the true side of a branch
// that was not profiled.
const DefaultHitRate = 0.5

// epsilon is the tolerance used when checking fraction sums.
const epsilon = 1e-9

type node struct {
	// condition splitting the traffic, nil for leaves.
	condition       *bdd.Expr
	fraction        float64
	onTrue, onFalse *node
}

func (n *node) isLeaf() bool { return n.condition == nil }

func (n *node) clone() *node {
	if n == nil {
		return nil
	}
	return &node{condition: n.condition, fraction: n.fraction, onTrue: n.onTrue.clone(), onFalse: n.onFalse.clone()}
}

func (n *node) scale(factor float64) {
	if n == nil {
		return
	}
	n.fraction *= factor
	n.onTrue.scale(factor)
	n.onFalse.scale(factor)
}

// Profiler is the traffic split tree. Create it with New or FromDiagram.
type Profiler struct {
	root   *node
	solver solver.Solver
}

// New returns a Profiler where all the traffic reaches a single leaf.
func New(s solver.Solver) *Profiler {
	return &Profiler{root: &node{fraction: 1}, solver: s}
}

// FromDiagram builds a Profiler mirroring the branches of the diagram. Branches use the
// hit rate recorded in the diagram profile, or DefaultHitRate if there is none.
func FromDiagram(d *bdd.Diagram, s solver.Solver) *Profiler {
	p := New(s)
	var build func(id bdd.NodeID, fraction float64) *node
	build = func(id bdd.NodeID, fraction float64) *node {
		for {
			n := d.Node(id)
			if n == nil || n.IsReturn() {
				return &node{fraction: fraction}
			}
			if n.Kind == bdd.KindCall {
				id = n.Next
				continue
			}
			rate, found := d.HitRate(id)
			if !found {
				rate = DefaultHitRate
			}
			return &node{
				condition: n.Condition,
				fraction:  fraction,
				onTrue:    build(n.OnTrue, fraction*rate),
				onFalse:   build(n.OnFalse, fraction*(1-rate)),
			}
		}
	}
	p.root = build(d.RootID(), 1)
	return p
}

// Clone returns a deep copy of the profiler.
func (p *Profiler) Clone() *Profiler {
	return &Profiler{root: p.root.clone(), solver: p.solver}
}

// find walks the tree following the constraints. It returns the path of nodes visited
// (root first) and the side taken at each internal node. ok is false if some
// constraint could not be matched.
func (p *Profiler) find(constraints []*bdd.Expr) (path []*node, sides []bool, ok bool) {
	remaining := append([]*bdd.Expr(nil), constraints...)
	var taken []*bdd.Expr
	current := p.root
	path = []*node{current}
	for {
		// Drop constraints already implied by the path taken.
		kept := remaining[:0]
		for _, c := range remaining {
			if !p.solver.AlwaysTrue(taken, c) {
				kept = append(kept, c)
			}
		}
		remaining = kept
		if len(remaining) == 0 {
			return path, sides, true
		}
		if current.isLeaf() {
			return path, sides, false
		}
		matched, side := -1, false
		for ii, c := range remaining {
			if p.solver.AlwaysEqual(c, current.condition) {
				matched, side = ii, true
				break
			}
			if p.solver.AlwaysEqual(c, bdd.Not(current.condition)) {
				matched, side = ii, false
				break
			}
		}
		if matched < 0 {
			return path, sides, false
		}
		taken = append(taken, remaining[matched])
		remaining = append(remaining[:matched], remaining[matched+1:]...)
		sides = append(sides, side)
		if side {
			current = current.onTrue
		} else {
			current = current.onFalse
		}
		path = append(path, current)
	}
}

// GetFraction returns the fraction of the total traffic satisfying all the constraints.
// It returns false if the constraints don't match the profiled conditions.
func (p *Profiler) GetFraction(constraints []*bdd.Expr) (float64, bool) {
	path, _, ok := p.find(constraints)
	if !ok {
		return 0, false
	}
	return path[len(path)-1].fraction, true
}

// leafFor returns the leaf reached by the given constraints.
func (p *Profiler) leafFor(constraints []*bdd.Expr) (*node, error) {
	path, _, ok := p.find(constraints)
	if !ok {
		return nil, errors.Errorf("profiler: constraints %v don't match the profile", constraints)
	}
	leaf := path[len(path)-1]
	if !leaf.isLeaf() {
		return nil, errors.Errorf("profiler: constraints %v already split on %s", constraints, leaf.condition)
	}
	return leaf, nil
}

// Insert splits the traffic matching constraints[:len-1] by the last constraint: the
// traffic also satisfying it gets the absolute fraction `fraction`, the rest goes to the
// other side. The prefix must lead to a leaf of the tree.
func (p *Profiler) Insert(constraints []*bdd.Expr, fraction float64) error {
	if len(constraints) == 0 {
		return errors.New("profiler: Insert requires at least one constraint")
	}
	last := constraints[len(constraints)-1]
	leaf, err := p.leafFor(constraints[:len(constraints)-1])
	if err != nil {
		return err
	}
	if fraction < 0 || fraction > leaf.fraction+epsilon {
		return errors.Errorf("profiler: cannot insert fraction %g under %v, which only carries %g",
			fraction, constraints[:len(constraints)-1], leaf.fraction)
	}
	fraction = math.Min(fraction, leaf.fraction)
	leaf.condition = last
	leaf.onTrue = &node{fraction: fraction}
	leaf.onFalse = &node{fraction: leaf.fraction - fraction}
	return nil
}

// InsertRelative is like Insert, but `relative` is the fraction, in [0, 1], of the traffic
// matching constraints[:len-1] that also satisfies the last constraint.
func (p *Profiler) InsertRelative(constraints []*bdd.Expr, relative float64) error {
	if relative < 0 || relative > 1 {
		return errors.Errorf("profiler: relative fraction %g out of [0,1]", relative)
	}
	if len(constraints) == 0 {
		return errors.New("profiler: InsertRelative requires at least one constraint")
	}
	leaf, err := p.leafFor(constraints[:len(constraints)-1])
	if err != nil {
		return err
	}
	return p.Insert(constraints, relative*leaf.fraction)
}

// Scale multiplies the traffic matching constraints by factor. The difference is taken
// from (or given to) the sibling sub-tree, so the fraction of every ancestor is unchanged.
// The factor is clamped so the scaled node carries at most its parent's traffic.
func (p *Profiler) Scale(constraints []*bdd.Expr, factor float64) error {
	if factor < 0 {
		return errors.Errorf("profiler: negative scale factor %g", factor)
	}
	path, sides, ok := p.find(constraints)
	if !ok {
		return errors.Errorf("profiler: constraints %v don't match the profile", constraints)
	}
	if len(path) < 2 {
		return errors.New("profiler: cannot scale the root of the profile")
	}
	target, parent := path[len(path)-1], path[len(path)-2]
	sibling := parent.onFalse
	if !sides[len(sides)-1] {
		sibling = parent.onTrue
	}
	if target.fraction <= 0 {
		return nil
	}
	newFraction := math.Min(target.fraction*factor, parent.fraction)
	target.scale(newFraction / target.fraction)
	siblingFraction := parent.fraction - newFraction
	if sibling.fraction > 0 {
		sibling.scale(siblingFraction / sibling.fraction)
	} else {
		sibling.onTrue, sibling.onFalse, sibling.condition = nil, nil, nil
		sibling.fraction = siblingFraction
	}
	return nil
}

// Remove deletes the sub-tree matching constraints, together with the split leading to
// it: its parent is replaced by the sibling sub-tree, scaled to carry the parent's
// traffic.
func (p *Profiler) Remove(constraints []*bdd.Expr) error {
	path, sides, ok := p.find(constraints)
	if !ok {
		return errors.Errorf("profiler: constraints %v don't match the profile", constraints)
	}
	if len(path) < 2 {
		return errors.New("profiler: cannot remove the root of the profile")
	}
	parent := path[len(path)-2]
	sibling := parent.onFalse
	if !sides[len(sides)-1] {
		sibling = parent.onTrue
	}
	if sibling.fraction > 0 {
		sibling.scale(parent.fraction / sibling.fraction)
		*parent = *sibling
	} else {
		*parent = node{fraction: parent.fraction}
	}
	return nil
}

// Check verifies that every internal node carries the sum of its children, and that
// the root carries all the traffic.
func (p *Profiler) Check() error {
	if math.Abs(p.root.fraction-1) > epsilon {
		return errors.Errorf("profiler: root fraction is %g, not 1", p.root.fraction)
	}
	var check func(n *node) error
	check = func(n *node) error {
		if n.fraction < -epsilon {
			return errors.Errorf("profiler: negative fraction %g", n.fraction)
		}
		if n.isLeaf() {
			return nil
		}
		if sum := n.onTrue.fraction + n.onFalse.fraction; math.Abs(sum-n.fraction) > epsilon {
			return errors.Errorf("profiler: split on %s carries %g but its children sum to %g", n.condition, n.fraction, sum)
		}
		if err := check(n.onTrue); err != nil {
			return err
		}
		return check(n.onFalse)
	}
	return check(p.root)
}

// NumLeaves returns the number of leaves of the tree.
func (p *Profiler) NumLeaves() int {
	var count func(n *node) int
	count = func(n *node) int {
		if n.isLeaf() {
			return 1
		}
		return count(n.onTrue) + count(n.onFalse)
	}
	return count(p.root)
}

// String pretty-prints the tree.
func (p *Profiler) String() string {
	var sb strings.Builder
	var write func(n *node, depth int, label string)
	write = func(n *node, depth int, label string) {
		_, _ = fmt.Fprintf(&sb, "%s%s%.4f", strings.Repeat("  ", depth), label, n.fraction)
		if !n.isLeaf() {
			_, _ = fmt.Fprintf(&sb, " split on %s", n.condition)
		}
		sb.WriteByte('\n')
		if !n.isLeaf() {
			write(n.onTrue, depth+1, "T: ")
			write(n.onFalse, depth+1, "F: ")
		}
	}
	write(p.root, 0, "")
	return sb.String()
}
