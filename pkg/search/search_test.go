// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd/bddtest"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/solver"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/generic"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/tofino"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/x86"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// diamondPlatform has a switch that can run f but not g, and a controller running both.
func diamondPlatform(withController bool) *ep.Platform {
	p := &ep.Platform{
		Targets: []ep.TargetSpec{{
			Target: targets.Tofino,
			Modules: []ep.Module{
				&generic.If{Target: targets.Tofino},
				&generic.Call{Target: targets.Tofino, Name: "F", Functions: sets.MakeWith("f")},
				&generic.Return{Target: targets.Tofino, Op: bdd.OpForward},
				&generic.SendTo{Target: targets.Tofino, To: targets.X86, Name: "SendToController"},
			},
			Context: tofino.NewContext(12, 4, 1e9),
		}},
		Solver:    solver.Structural{},
		Estimator: ep.DefaultEstimator(),
	}
	if withController {
		p.Targets = append(p.Targets, ep.TargetSpec{
			Target: targets.X86,
			Modules: []ep.Module{
				&generic.If{Target: targets.X86, Ops: 1},
				&generic.Call{Target: targets.X86, Name: "FG", Functions: sets.MakeWith("f", "g"), Ops: 1},
				&generic.Return{Target: targets.X86, Op: bdd.OpForward},
			},
			Context: &x86.Context{Cores: 1, PPSPerCore: 1e6, OpCost: 0.1},
		})
	}
	return p
}

func diamond() *bdd.Diagram {
	return bddtest.Diamond(bdd.Symbol("cond"), bddtest.Fn("f"), bddtest.Fn("g"))
}

// moduleFor returns the module that realized the diagram node id in e.
func moduleFor(e *ep.EP, id bdd.NodeID) targets.ModuleType {
	for _, n := range e.Nodes() {
		if n.Module.Node == id && n.Module.NextTarget == n.Module.Type.Target {
			return n.Module.Type
		}
	}
	return targets.ModuleType{}
}

func TestDiamondScenario(t *testing.T) {
	engine := New(diamondPlatform(true), diamond(), nil).
		WithHeuristic(must.M1(heuristic.Get("gallium"))).
		WithIntegrityChecks(true).
		WithSpace(true)
	var solutions []*ep.EP
	engine.OnSolution("collect", 0, func(_ *Engine, e *ep.EP) error {
		solutions = append(solutions, e)
		return nil
	})
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Best)
	assert.False(t, result.Stopped)
	assert.Equal(t, len(solutions), result.Solutions)
	assert.Equal(t, result.Iterations, result.Expanded+result.Solutions)
	assert.Zero(t, engine.FrontierSize())

	for _, e := range solutions {
		require.NoError(t, e.CheckCoverage())
		assert.Equal(t, targets.X86, moduleFor(e, 3).Target, "g can only run on the controller")
	}
	// The plan keeping most nodes on the switch branches and runs f there.
	assert.Equal(t, "tofino.If", moduleFor(result.Best, 0).String())
	assert.Equal(t, "tofino.F", moduleFor(result.Best, 1).String())
	assert.Equal(t, 6, result.Best.NumNodes())

	// The search space records the path to the winner.
	space := result.Space
	require.NotNil(t, space)
	assert.Equal(t, result.Best.ID(), space.Winner)
	path := space.Path(space.Winner)
	require.NotEmpty(t, path)
	assert.Equal(t, space.Root().EP, path[0])
	assert.Equal(t, Solution, space.Node(space.Winner).Status)
	assert.Equal(t, "start", space.Root().Decision)
	assert.Equal(t, Expanded, space.Root().Status)
	assert.Positive(t, result.MedianExpansionDuration())
}

func TestTerminateOnFirstSolution(t *testing.T) {
	h := heuristic.New("first-deepest").Maximize(heuristic.Depth).TerminateOnFirst()
	engine := New(diamondPlatform(true), diamond(), nil).WithHeuristic(h)
	var frontierAtEnd int
	engine.OnEnd("frontier", 0, func(engine *Engine, _ *Result) error {
		frontierAtEnd = engine.FrontierSize()
		return nil
	})
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Solutions)
	assert.Positive(t, frontierAtEnd, "other solutions were left unexplored")
	assert.False(t, result.Stopped)
	assert.True(t, result.Best.Terminal())
}

func TestSynthesisFailure(t *testing.T) {
	result, err := New(diamondPlatform(false), diamond(), nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSynthesisFailure))
	assert.ErrorContains(t, err, "root #0")
	require.NotNil(t, result)
	assert.Nil(t, result.Best)
	assert.Positive(t, result.DeadEnds)
	require.NotNil(t, result.BestPartial)
	assert.False(t, result.BestPartial.Terminal())
}

func TestStopping(t *testing.T) {
	t.Run("peek", func(t *testing.T) {
		var peeked *ep.EP
		engine := New(diamondPlatform(true), diamond(), nil)
		engine.OnStep("peek", 0, PeekHook(3, func(_ *Engine, e *ep.EP) error {
			peeked = e
			return nil
		}))
		result, err := engine.Run(context.Background())
		require.NoError(t, err)
		require.NotNil(t, peeked)
		assert.Equal(t, bdd.NodeID(3), peeked.Next().ID)
		assert.True(t, result.Stopped)
		assert.Equal(t, "stopped by hook", result.StopReason)
	})

	t.Run("max_iterations", func(t *testing.T) {
		result, err := New(diamondPlatform(true), diamond(), nil).WithMaxIterations(3).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, result.Iterations)
		assert.True(t, result.Stopped)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := New(diamondPlatform(true), diamond(), nil).Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.Iterations)
		assert.True(t, result.Stopped)
		assert.Nil(t, result.Best)
	})

	t.Run("hook_error", func(t *testing.T) {
		engine := New(diamondPlatform(true), diamond(), nil)
		engine.OnStart("broken", 0, func(*Engine) error { return errors.New("no disk space") })
		_, err := engine.Run(context.Background())
		assert.ErrorContains(t, err, `OnStart(hook "broken")`)
	})
}

// processedTwice is a broken module whose successors point back at the node processed.
type processedTwice struct{}

func (processedTwice) Type() targets.ModuleType {
	return targets.ModuleType{Target: targets.Tofino, Name: "Broken"}
}

func (m processedTwice) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) {
		return nil
	}
	return []*ep.EP{e.Commit(ep.Decision{
		Module: ep.ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: targets.Tofino},
		Leaves: []ep.NextLeaf{{Next: node.ID, Target: targets.Tofino}},
	})}
}

func (processedTwice) Speculate(*ep.EP, *bdd.Node, *ep.Context) (*ep.Speculation, bool) {
	return nil, false
}

func TestInvariantViolation(t *testing.T) {
	p := diamondPlatform(true)
	p.Targets[0].Modules = append(p.Targets[0].Modules, processedTwice{})
	_, err := New(p, diamond(), nil).WithIntegrityChecks(true).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestReordering(t *testing.T) {
	p, err := platform.New("tofino,x86")
	require.NoError(t, err)
	d := bddtest.Chain(
		bddtest.ObjCall("packet_borrow_next_chunk", 0, "hdr"),
		bddtest.ObjCall("map_put", 0x20),
		bddtest.ObjCall("map_get", 0x10, "found"),
	)
	run := func(maxReorderings int) *Result {
		result, err := New(p, d, nil).
			WithHeuristic(must.M1(heuristic.Get("gallium"))).
			WithMaxReorderings(maxReorderings).
			WithIntegrityChecks(true).
			WithPruneDuplicates(true).
			Run(context.Background())
		require.NoError(t, err)
		return result
	}

	plain := run(0)
	assert.Equal(t, 2, int(heuristic.FastPathNodes.Eval(plain.Best)))
	assert.Zero(t, plain.Best.Meta().Reorderings)

	reordered := run(1)
	best := reordered.Best
	assert.Equal(t, 1, best.Meta().Reorderings)
	assert.Equal(t, 3, int(heuristic.FastPathNodes.Eval(best)))
	var names []string
	for _, n := range best.Nodes() {
		names = append(names, n.Module.Type.String())
	}
	assert.Equal(t, []string{
		"tofino.ParserExtraction", "tofino.TableLookup", "tofino.SendToController", "x86.Call", "x86.Forward",
	}, names)
	placement, _ := best.Context().Placement(0x10)
	assert.Equal(t, ep.Placement{Target: targets.Tofino, DS: targets.Table}, placement)
	placement, _ = best.Context().Placement(0x20)
	assert.Equal(t, ep.Placement{Target: targets.X86, DS: targets.Map}, placement)
	assert.NotSame(t, d, best.Diagram(), "reordering works on a copy of the diagram")
	require.NoError(t, d.Validate())
}

// threeTargets has the switch hand traffic over to both the fast-path and the controller,
// so all three targets carry traffic.
func threeTargets(t *testing.T) *ep.Platform {
	p, err := platform.New("tofino,fastpath,x86")
	require.NoError(t, err)
	p.Targets[0].Modules = append(p.Targets[0].Modules,
		&generic.SendTo{Target: targets.Tofino, To: targets.FastPath, Name: "SendToFastPath"})
	require.NoError(t, p.Validate())
	return p
}

func TestParallelDeterminism(t *testing.T) {
	for _, tc := range []struct {
		name     string
		platform func(t *testing.T) *ep.Platform
	}{
		{"TwoTargets", func(t *testing.T) *ep.Platform { return must.M1(platform.New("tofino,x86")) }},
		{"ThreeTargets", threeTargets},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.platform(t)
			for seed := range int64(5) {
				d := bddtest.Random(gofakeit.New(seed), 5)
				run := func(workers int) *Result {
					result, err := New(p, d, nil).
						WithHeuristic(must.M1(heuristic.Get("max-throughput"))).
						WithMaxIterations(200).
						WithWorkers(workers).
						Run(context.Background())
					require.NoError(t, err, "seed %d", seed)
					return result
				}
				sequential := run(0)
				for _, workers := range []int{0, 4} {
					again := run(workers)
					assert.Equal(t, sequential.Iterations, again.Iterations, "seed %d, workers %d", seed, workers)
					assert.Equal(t, sequential.Solutions, again.Solutions, "seed %d, workers %d", seed, workers)
					require.Equal(t, sequential.Best == nil, again.Best == nil, "seed %d, workers %d", seed, workers)
					if sequential.Best != nil {
						assert.Equal(t, sequential.Best.Fingerprint(), again.Best.Fingerprint(), "seed %d, workers %d", seed, workers)
						assert.Equal(t, sequential.BestScore, again.BestScore, "seed %d, workers %d", seed, workers)
					}
				}
			}
		})
	}
}
