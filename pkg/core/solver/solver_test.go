// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
)

func TestCanonical(t *testing.T) {
	x, y := bdd.Symbol("x"), bdd.Symbol("y")
	assert.Equal(t, "(eq 1 x)", Canonical(bdd.Eq(x, bdd.Const(1))).String())
	assert.Equal(t, "(ne x y)", Canonical(bdd.Op("not", bdd.Eq(y, x))).String())
	assert.Equal(t, "(eq x y)", Canonical(bdd.Op("not", bdd.Op("ne", x, y))).String())
	assert.Equal(t, "x", Canonical(bdd.Op("not", bdd.Op("not", x))).String())
	assert.Equal(t, "(lt y x)", Canonical(bdd.Op("lt", y, x)).String(), "non-commutative operands keep their order")
}

func TestStructural(t *testing.T) {
	var s Solver = Structural{}
	x, y := bdd.Symbol("x"), bdd.Symbol("y")
	c := bdd.Eq(x, bdd.Const(80))

	t.Run("AlwaysEqual", func(t *testing.T) {
		assert.True(t, s.AlwaysEqual(c, bdd.Eq(bdd.Const(80), x)))
		assert.True(t, s.AlwaysEqual(bdd.Not(c), bdd.Op("ne", bdd.Const(80), x)))
		assert.False(t, s.AlwaysEqual(c, bdd.Not(c)))
		assert.False(t, s.AlwaysEqual(bdd.Op("lt", x, y), bdd.Op("lt", y, x)))
	})

	t.Run("AlwaysTrue", func(t *testing.T) {
		assert.True(t, s.AlwaysTrue(nil, bdd.Bool(true)))
		assert.False(t, s.AlwaysTrue(nil, c))
		assert.True(t, s.AlwaysTrue([]*bdd.Expr{y, bdd.Eq(bdd.Const(80), x)}, c))
		assert.True(t, s.AlwaysTrue([]*bdd.Expr{bdd.Op("and", y, c)}, c))
		assert.True(t, s.AlwaysTrue([]*bdd.Expr{y, c}, bdd.Op("and", c, y)))
		assert.False(t, s.AlwaysTrue([]*bdd.Expr{y}, bdd.Op("and", c, y)))
		assert.True(t, AlwaysFalse(s, []*bdd.Expr{bdd.Not(c)}, c))
		assert.False(t, AlwaysFalse(s, []*bdd.Expr{c}, c))
	})
}
