// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package viz

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd/bddtest"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all"
)

func testDiagram() *bdd.Diagram {
	d := bddtest.Diamond(bdd.Symbol("hit"), bddtest.ObjCall("map_get", 0x10), bddtest.Fn("current_time", "now"))
	d.SetHitRate(0, 0.25)
	return d
}

func TestDiagram(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Diagram(&buf, testDiagram()))
	dot := buf.String()
	assert.True(t, strings.HasPrefix(dot, "digraph BDD {\n"))
	assert.Contains(t, dot, `n0 [ shape = "diamond" label = "#0 hit\n(25% true)" ]`)
	assert.Contains(t, dot, `n0 -> n1 [ label = "T" ]`)
	assert.Contains(t, dot, `n0 -> n3 [ label = "F" style = "dashed" ]`)
	assert.Contains(t, dot, "n1 -> n2\n")
	assert.Contains(t, dot, "START -> n0\n")
	assert.True(t, strings.HasSuffix(dot, "}\n"))
}

func TestPlanAndSpace(t *testing.T) {
	p := must.M1(platform.New("tofino,x86"))
	d := testDiagram()

	// A partial plan shows its pending leaves.
	partial := ep.New(p, d, nil)
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, partial))
	assert.Contains(t, buf.String(), `leaf0 [ shape = "box" style = "dashed" label = "pending #0 on tofino" ]`)

	result, err := search.New(p, d, nil).
		WithHeuristic(must.M1(heuristic.Get("gallium"))).
		WithSpace(true).
		Run(context.Background())
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, Plan(&buf, result.Best))
	dot := buf.String()
	assert.Contains(t, dot, `fillcolor = "palegreen" label = "tofino.If\n#0 hit"`)
	assert.Contains(t, dot, `[ label = "T" ]`)
	assert.Contains(t, dot, `[ label = "F" style = "dashed" ]`)
	assert.NotContains(t, dot, "pending")

	buf.Reset()
	require.NoError(t, Space(&buf, result.Space))
	dot = buf.String()
	assert.Contains(t, dot, "digraph SearchSpace {")
	assert.Contains(t, dot, `penwidth = "3"`)
	assert.Equal(t, result.Space.Len(), strings.Count(dot, `shape = "box"`))

	buf.Reset()
	require.NoError(t, Plan(&buf, result.Best))
	path := filepath.Join(t.TempDir(), "plan.dot")
	require.NoError(t, WriteFile(path, func(w io.Writer) error { return Plan(w, result.Best) }))
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(contents))
}
