// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package solver defines the expression-equivalence oracle used to match path
// constraints, and a structural implementation of it.
//
// A full SMT backed oracle can be plugged in by implementing Solver.
package solver

import (
	"slices"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
)

// Solver answers equivalence and implication queries over boolean expressions.
//
// Answers must be sound: returning false when unsure is always acceptable.
type Solver interface {
	// AlwaysEqual returns whether a and b evaluate to the same value under every assignment.
	AlwaysEqual(a, b *bdd.Expr) bool

	// AlwaysTrue returns whether e holds whenever all the constraints hold.
	AlwaysTrue(constraints []*bdd.Expr, e *bdd.Expr) bool
}

// Structural is a Solver that compares expressions after bringing them to a canonical form:
//
//   - operands of commutative operations are sorted;
//   - `(not (eq a b))` becomes `(ne a b)` and `(not (ne a b))` becomes `(eq a b)`;
//   - double negations are removed.
//
// It is sound but incomplete: it never reports different expressions as equal, but
// misses equivalences that require reasoning about values.
type Structural struct{}

// Assert Structural implements Solver.
var _ Solver = Structural{}

var commutative = map[string]bool{
	"eq": true, "ne": true, "and": true, "or": true, "add": true, "mul": true,
	"bvand": true, "bvor": true, "bvxor": true,
}

var negated = map[string]string{"eq": "ne", "ne": "eq"}

// Canonical returns the canonical form of e.
func Canonical(e *bdd.Expr) *bdd.Expr {
	if e == nil || e.Kind() != bdd.ExprOp {
		return e
	}
	if e.Name() == "not" && e.NumArgs() == 1 {
		inner := e.Arg(0)
		if inner.Kind() == bdd.ExprOp {
			if inner.Name() == "not" && inner.NumArgs() == 1 {
				return Canonical(inner.Arg(0))
			}
			if flipped, found := negated[inner.Name()]; found && inner.NumArgs() == 2 {
				return Canonical(bdd.Op(flipped, inner.Arg(0), inner.Arg(1)))
			}
		}
		if inner.Kind() == bdd.ExprConst {
			return bdd.Not(inner)
		}
		return bdd.Op("not", Canonical(inner))
	}
	args := make([]*bdd.Expr, e.NumArgs())
	for ii := range args {
		args[ii] = Canonical(e.Arg(ii))
	}
	if commutative[e.Name()] {
		slices.SortFunc(args, func(a, b *bdd.Expr) int {
			sa, sb := a.String(), b.String()
			switch {
			case sa < sb:
				return -1
			case sa > sb:
				return 1
			}
			return 0
		})
	}
	return bdd.Op(e.Name(), args...)
}

// AlwaysEqual implements Solver.
func (Structural) AlwaysEqual(a, b *bdd.Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return Canonical(a).String() == Canonical(b).String()
}

// AlwaysTrue implements Solver.
func (s Structural) AlwaysTrue(constraints []*bdd.Expr, e *bdd.Expr) bool {
	if e == nil {
		return false
	}
	e = Canonical(e)
	if e.IsTrue() {
		return true
	}
	if e.Kind() == bdd.ExprOp && e.Name() == "and" {
		for ii := range e.NumArgs() {
			if !s.AlwaysTrue(constraints, e.Arg(ii)) {
				return false
			}
		}
		return true
	}
	key := e.String()
	for _, c := range constraints {
		c = Canonical(c)
		if c.String() == key {
			return true
		}
		if c.Kind() == bdd.ExprOp && c.Name() == "and" {
			for ii := range c.NumArgs() {
				if c.Arg(ii).String() == key {
					return true
				}
			}
		}
	}
	return false
}

// AlwaysFalse returns whether e can never hold when all the constraints hold.
func AlwaysFalse(s Solver, constraints []*bdd.Expr, e *bdd.Expr) bool {
	return s.AlwaysTrue(constraints, bdd.Not(e))
}
