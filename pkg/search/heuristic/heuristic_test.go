// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package heuristic_test

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd/bddtest"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	. "github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all"
)

func TestScoreCompare(t *testing.T) {
	assert.Equal(t, 0, Score{1, 2}.Compare(Score{1, 2}))
	assert.Equal(t, 1, Score{1, 3}.Compare(Score{1, 2}))
	assert.Equal(t, -1, Score{0, 9}.Compare(Score{1, 2}))
	assert.Equal(t, -1, Score{1}.Compare(Score{1, 2}))
	assert.Equal(t, 1, Score{1, 2}.Compare(Score{1}))

	// Strict weak ordering over random scores: antisymmetry and transitivity.
	faker := gofakeit.New(42)
	scores := make([]Score, 30)
	for ii := range scores {
		scores[ii] = Score{int64(faker.IntRange(-2, 2)), int64(faker.IntRange(-2, 2)), int64(faker.IntRange(-2, 2))}
	}
	for _, a := range scores {
		assert.Equal(t, 0, a.Compare(a))
		for _, b := range scores {
			require.Equal(t, -a.Compare(b), b.Compare(a), "%v vs %v", a, b)
			for _, c := range scores {
				if a.Compare(b) < 0 && b.Compare(c) < 0 {
					require.Equal(t, -1, a.Compare(c), "%v < %v < %v", a, b, c)
				}
				if a.Compare(b) == 0 && b.Compare(c) == 0 {
					require.Equal(t, 0, a.Compare(c), "%v = %v = %v", a, b, c)
				}
			}
		}
	}
}

func TestGet(t *testing.T) {
	assert.Equal(t, []string{"bfs", "dfs", "gallium", "least-reordered", "max-throughput", "most-compact"}, Names())
	for _, name := range Names() {
		h, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, h.Name)
		assert.NotEmpty(t, h.Metrics)
	}
	h, err := Get("dfs")
	require.NoError(t, err)
	assert.True(t, h.TerminateOnFirstSolution)
	assert.Equal(t, "dfs[MAX(Depth)] (first solution)", h.String())

	// Each call returns a new instance.
	h.Minimize(Nodes)
	h2, _ := Get("dfs")
	assert.Len(t, h2.Metrics, 1)

	_, err = Get("astar")
	assert.ErrorContains(t, err, "unknown heuristic")
}

func TestScore(t *testing.T) {
	p, err := platform.New("tofino,x86")
	require.NoError(t, err)
	d := bddtest.Diamond(bdd.Symbol("hit"), bddtest.ObjCall("map_get", 0x10), bddtest.ObjCall("map_put", 0x10))
	root := ep.New(p, d, nil)

	// Realize the branch on the switch, and send the true side to the controller.
	var tofinoIf, sendTo ep.Module
	for _, m := range p.Modules(targets.Tofino) {
		switch m.Type().Name {
		case "If":
			tofinoIf = m
		case "SendToController":
			sendTo = m
		}
	}
	e := tofinoIf.Process(root, root.Next())[0]
	e = sendTo.Process(e, e.Next())[0]

	h := New("test").Maximize(Coverage).Minimize(TargetSwitches).Maximize(FastPathNodes).Minimize(ControllerNodes).Minimize(Nodes)
	score := h.Score(e)
	assert.Equal(t, Score{1, -1, 2, 0, -2}, score)
	assert.Equal(t, score, h.Score(e), "scores are deterministic")
	assert.Equal(t, "{Coverage=1, TargetSwitches=1, FastPathNodes=2, ControllerNodes=0, Nodes=2}", h.Describe(score))
	assert.Equal(t, -1, h.Score(root).Compare(score), "coverage decides first")

	throughput := New("throughput").Maximize(SpeculativeThroughput)
	assert.Equal(t, throughput.Score(e), throughput.Score(e))
}
