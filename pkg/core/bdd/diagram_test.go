// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package bdd_test

import (
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd/bddtest"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

func TestDiamond(t *testing.T) {
	d := bddtest.Diamond(Symbol("cond"), bddtest.Fn("f"), bddtest.Fn("g"))
	require.NoError(t, d.Validate())
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, NodeID(0), d.RootID())
	assert.Equal(t, []NodeID{1, 3}, d.Children(0))
	assert.Equal(t, []NodeID{2}, d.Children(1))
	assert.Empty(t, d.Children(2))
	assert.Equal(t, "f", d.True(d.Root()).Call.Function)
	assert.Equal(t, "g", d.False(d.Root()).Call.Function)
	assert.Equal(t, 5, d.CountReachable(d.RootID()))
	assert.True(t, d.Reachable(3).Equal(sets.MakeWith[NodeID](3, 4)))

	var order []NodeID
	d.Walk(d.RootID(), func(n *Node) bool {
		order = append(order, n.ID)
		return n.Kind != KindBranch || len(order) > 1
	})
	assert.Equal(t, []NodeID{0}, order, "walk must not descend when fn returns false")

	assert.Empty(t, d.PathConstraints(0))
	assert.Equal(t, "[cond]", fmt.Sprint(d.PathConstraints(2)))
	assert.Equal(t, "[(not cond)]", fmt.Sprint(d.PathConstraints(4)))
}

func TestValidate(t *testing.T) {
	t.Run("BranchMissingChild", func(t *testing.T) {
		d := New()
		b := d.AddBranch(Symbol("c"))
		d.SetRoot(b)
		require.ErrorIs(t, d.Validate(), ErrMalformed)
	})
	t.Run("CallWithoutReturn", func(t *testing.T) {
		d := New()
		c := d.AddCall(bddtest.Fn("f"))
		d.SetRoot(c)
		require.ErrorIs(t, d.Validate(), ErrMalformed)
	})
	t.Run("Unreachable", func(t *testing.T) {
		d := bddtest.Chain(bddtest.Fn("f"))
		d.AddReturnProcess(OpDrop, 0)
		err := d.Validate()
		require.ErrorIs(t, err, ErrMalformed)
		assert.Contains(t, err.Error(), "reachable")
	})
	t.Run("NoRoot", func(t *testing.T) {
		require.ErrorIs(t, New().Validate(), ErrMalformed)
	})
}

func TestClone(t *testing.T) {
	d := bddtest.Diamond(Symbol("cond"), bddtest.Fn("f"), bddtest.Fn("g"))
	d.SetHitRate(0, 0.25)
	c := d.Clone()
	require.NoError(t, c.Validate())
	assert.Equal(t, d.String(), c.String())
	assert.Equal(t, d.IDs(), c.IDs())
	assert.NotSame(t, d.Root(), c.Root())
	rate, found := c.HitRate(0)
	require.True(t, found)
	assert.Equal(t, 0.25, rate)

	// Changing the clone leaves the original untouched.
	c.SetHitRate(0, 0.5)
	rate, _ = d.HitRate(0)
	assert.Equal(t, 0.25, rate)
}

func TestCloneWithRenumbering(t *testing.T) {
	d := bddtest.Diamond(Symbol("cond"), bddtest.Fn("f"), bddtest.Fn("g"))
	d.SetHitRate(0, 0.75)
	c, mapping := d.CloneWithRenumbering()
	require.NoError(t, c.Validate())
	require.Len(t, mapping, d.Len())
	oldIDs := sets.MakeWith(d.IDs()...)
	for oldID, newID := range mapping {
		assert.False(t, oldIDs.Has(newID), "new id #%d overlaps the old id space", newID)
		assert.Equal(t, d.Node(oldID).Kind, c.Node(newID).Kind)
	}
	assert.Equal(t, mapping[d.RootID()], c.RootID())
	assert.Equal(t, NodeID(5), c.RootID())
	assert.Equal(t, NodeID(10), c.NextID())
	rate, found := c.HitRate(mapping[0])
	require.True(t, found)
	assert.Equal(t, 0.75, rate)
	assert.Equal(t, mapping[3], c.Root().OnFalse)
}

func TestMoveBefore(t *testing.T) {
	d := bddtest.Chain(bddtest.Fn("a"), bddtest.Fn("b"), bddtest.Fn("c"))
	// 0:a -> 1:b -> 2:c -> 3:fwd
	require.NoError(t, d.MoveBefore(0, 2))
	require.NoError(t, d.Validate())
	var functions []string
	d.Walk(d.RootID(), func(n *Node) bool {
		if n.Kind == KindCall {
			functions = append(functions, n.Call.Function)
		}
		return true
	})
	assert.Equal(t, []string{"c", "a", "b"}, functions)
	assert.Equal(t, NodeID(2), d.RootID())

	t.Run("UnderBranch", func(t *testing.T) {
		d := New()
		b := d.AddBranch(Symbol("x"))
		c1 := d.AddCall(bddtest.Fn("c1"))
		c2 := d.AddCall(bddtest.Fn("c2"))
		r1 := d.AddReturnProcess(OpForward, 1)
		r2 := d.AddReturnProcess(OpDrop, 0)
		d.SetRoot(b)
		d.LinkBranch(b, c1, r2)
		d.Link(c1, c2)
		d.Link(c2, r1)
		require.NoError(t, d.MoveBefore(c1, c2))
		require.NoError(t, d.Validate())
		assert.Equal(t, c2, d.Root().OnTrue)
		assert.Equal(t, c1, d.Node(c2).Next)
		assert.Equal(t, r1, d.Node(c1).Next)
	})

	t.Run("Invalid", func(t *testing.T) {
		d := bddtest.Diamond(Symbol("cond"), bddtest.Fn("f"), bddtest.Fn("g"))
		assert.Error(t, d.MoveBefore(0, 1), "branch in between")
		assert.Error(t, d.MoveBefore(1, 3), "not an ancestor")
		assert.Error(t, d.MoveBefore(1, 2), "returns cannot be moved")
		assert.Error(t, d.MoveBefore(1, 1))
		require.NoError(t, d.Validate())
	})
}

func TestRandomDiagrams(t *testing.T) {
	faker := gofakeit.New(42)
	for ii := range 50 {
		d := bddtest.Random(faker, 1+ii%8)
		require.NoError(t, d.Validate(), "diagram #%d:\n%s", ii, d)
		c, mapping := d.CloneWithRenumbering()
		require.NoError(t, c.Validate(), "renumbered diagram #%d:\n%s", ii, c)
		assert.Equal(t, d.CountReachable(d.RootID()), c.CountReachable(c.RootID()))
		for _, id := range d.IDs() {
			assert.Equal(t, len(d.PathConstraints(id)), len(c.PathConstraints(mapping[id])))
		}
	}
}
