// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package tofino_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd/bddtest"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	. "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/tofino"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/x86"
)

func TestNew(t *testing.T) {
	spec, err := New(platform.NewOptions(targets.Tofino, map[string]string{"stages": "2", "tables_per_stage": "1"}))
	require.NoError(t, err)
	ctx := spec.Context.(*Context)
	assert.Equal(t, DefaultPPS, ctx.PPS)

	assert.True(t, ctx.Allocate(targets.Table, 0x10))
	assert.True(t, ctx.Allocate(targets.Table, 0x10))
	clone := ctx.Clone().(*Context)
	assert.True(t, ctx.Allocate(targets.Register, 0x20))
	assert.False(t, ctx.Allocate(targets.Table, 0x30))
	assert.True(t, clone.Allocate(targets.Table, 0x30), "clones allocate independently")

	stage, found := ctx.Stage(0x20)
	assert.True(t, found)
	assert.Equal(t, 1, stage)
	assert.Equal(t, 2, ctx.UsedStages())
	assert.Equal(t, 1, clone.UsedStages())
	assert.Equal(t, "tofino(objects=2, stages=2/2)", ctx.String())

	for _, values := range []map[string]string{{"stages": "0"}, {"tables_per_stage": "-1"}, {"pps": "0"}} {
		_, err := New(platform.NewOptions(targets.Tofino, values))
		assert.Error(t, err, "options %v", values)
	}
}

func TestSupportsCondition(t *testing.T) {
	port := bdd.Symbol("port")
	assert.True(t, SupportsCondition(port))
	assert.True(t, SupportsCondition(bdd.Eq(port, bdd.Const(1))))
	assert.True(t, SupportsCondition(bdd.Not(bdd.Eq(port, bdd.Const(1)))))
	assert.False(t, SupportsCondition(bdd.Eq(bdd.Op("mul", port, bdd.Const(3)), bdd.Const(9))))
}

// realize processes e until it is terminal, always taking the first module that
// accepts the next node.
func realize(t *testing.T, e *ep.EP) *ep.EP {
	for !e.Terminal() {
		var next *ep.EP
		for _, m := range e.Platform().Modules(e.ActiveTarget()) {
			if successors := m.Process(e, e.Next()); len(successors) > 0 {
				next = successors[0]
				break
			}
		}
		require.NotNil(t, next, "no module for %s", e.Next())
		next.AssertIntegrity()
		e = next
	}
	return e
}

func TestRealize(t *testing.T) {
	p, err := platform.New("tofino,x86")
	require.NoError(t, err)
	d := bddtest.Chain(
		bddtest.ObjCall("packet_borrow_next_chunk", 0, "hdr"),
		bddtest.ObjCall("map_get", 0x10, "found"),
		bddtest.ObjCall("dchain_rejuvenate_index", 0x30),
		bddtest.ObjCall("map_put", 0x10),
		bddtest.ObjCall("packet_return_chunk", 0),
	)
	e := realize(t, ep.New(p, d, nil))
	require.NoError(t, e.CheckCoverage())

	var names []string
	for _, n := range e.Nodes() {
		names = append(names, n.Module.Type.String())
	}
	assert.Equal(t, []string{
		"tofino.ParserExtraction", "tofino.TableLookup", "tofino.SendToController",
		"x86.Call", "x86.Call", "x86.Forward",
	}, names)
	assert.Equal(t, 1, e.Meta().TargetSwitches)
	assert.Equal(t, []bdd.NodeID{3}, e.Meta().Roots[targets.X86])

	placement, _ := e.Context().Placement(0x10)
	assert.Equal(t, ep.Placement{Target: targets.Tofino, DS: targets.Table}, placement)
	_, found := e.Context().Placement(0x30)
	assert.False(t, found, "rejuvenation is subsumed by the table lookup")
	stage, found := e.Context().TargetContext(targets.Tofino).(*Context).Stage(0x10)
	assert.True(t, found)
	assert.Equal(t, 0, stage)

	// All traffic ends up on the controller.
	assert.InDelta(t, 1.0, e.Context().Traffic(targets.X86), 1e-9)
}
