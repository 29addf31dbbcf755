// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package bddtest holds decision diagram fixtures for tests of the packages that
// consume diagrams.
package bddtest

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
)

// Fn returns a Call to `function` with the given symbol arguments, generating `generated`.
func Fn(function string, generated ...string) *bdd.Call {
	return &bdd.Call{Function: function, Args: map[string]*bdd.Expr{}, Generated: generated}
}

// ObjCall returns a Call to a known function operating on the object `addr`, with
// its remaining arguments set to the symbols named after them.
func ObjCall(function string, addr bdd.Addr, generated ...string) *bdd.Call {
	c := Fn(function, generated...)
	effect, known := c.Effect()
	if !known || effect.Object == "" {
		panic(fmt.Sprintf("bddtest: %q has no object argument", function))
	}
	if effect.Family == "packet" {
		c.Args[effect.Object] = bdd.Symbol("packet")
	} else {
		c.Args[effect.Object] = bdd.Const(int64(addr))
	}
	return c
}

// Chain returns a diagram executing calls in sequence and then forwarding to port 0.
func Chain(calls ...*bdd.Call) *bdd.Diagram {
	d := bdd.New()
	prev := bdd.InvalidNodeID
	for _, c := range calls {
		id := d.AddCall(c)
		if prev == bdd.InvalidNodeID {
			d.SetRoot(id)
		} else {
			d.Link(prev, id)
		}
		prev = id
	}
	ret := d.AddReturnProcess(bdd.OpForward, 0)
	if prev == bdd.InvalidNodeID {
		d.SetRoot(ret)
	} else {
		d.Link(prev, ret)
	}
	return d
}

// Diamond returns the diagram `if cond { onTrue; fwd(0) } else { onFalse; fwd(0) }`.
//
// Node ids: 0 is the branch, 1 and 2 the true-side call and return, 3 and 4 the
// false-side call and return.
func Diamond(cond *bdd.Expr, onTrue, onFalse *bdd.Call) *bdd.Diagram {
	d := bdd.New()
	b := d.AddBranch(cond)
	t := d.AddCall(onTrue)
	tRet := d.AddReturnProcess(bdd.OpForward, 0)
	f := d.AddCall(onFalse)
	fRet := d.AddReturnProcess(bdd.OpForward, 0)
	d.SetRoot(b)
	d.LinkBranch(b, t, f)
	d.Link(t, tRet)
	d.Link(f, fRet)
	return d
}

// randomFunctions are the functions Random picks calls from.
var randomFunctions = []string{
	"packet_borrow_next_chunk",
	"map_get",
	"map_put",
	"vector_borrow",
	"vector_return",
	"dchain_rejuvenate_index",
	"dchain_allocate_new_index",
	"current_time",
}

// Random builds a random well-formed diagram with at least one node, using faker as
// its source of randomness. numCalls bounds the number of Call and Branch nodes on
// any root-to-return path.
//
// Branches get a profiled hit rate with probability 1/2.
func Random(faker *gofakeit.Faker, numCalls int) *bdd.Diagram {
	d := bdd.New()
	var symbolCount int
	newSymbol := func() string {
		symbolCount++
		return fmt.Sprintf("%s_%d", faker.Word(), symbolCount)
	}
	var build func(budget int) bdd.NodeID
	build = func(budget int) bdd.NodeID {
		if budget <= 0 {
			switch faker.IntRange(0, 3) {
			case 0:
				return d.AddReturnProcess(bdd.OpDrop, 0)
			case 1:
				return d.AddReturnProcess(bdd.OpBroadcast, 0)
			default:
				return d.AddReturnProcess(bdd.OpForward, faker.IntRange(0, 7))
			}
		}
		if faker.IntRange(0, 3) == 0 {
			cond := bdd.Eq(bdd.Symbol(newSymbol()), bdd.Const(int64(faker.IntRange(0, 1024))))
			b := d.AddBranch(cond)
			t := build(budget - 1)
			f := build(budget - 1)
			d.LinkBranch(b, t, f)
			if faker.Bool() {
				d.SetHitRate(b, float64(faker.IntRange(0, 100))/100)
			}
			return b
		}
		function := randomFunctions[faker.IntRange(0, len(randomFunctions)-1)]
		var c *bdd.Call
		if function == "current_time" {
			c = Fn(function, newSymbol())
		} else {
			c = ObjCall(function, bdd.Addr(faker.IntRange(1, 4)), newSymbol())
			c.Args["key"] = bdd.Symbol(newSymbol())
		}
		id := d.AddCall(c)
		d.Link(id, build(budget-1))
		return id
	}
	d.SetRoot(build(numCalls))
	return d
}
