// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) options {
	return options{
		In:             filepath.Join("testdata", "firewall.json"),
		Targets:        "tofino,x86",
		Heuristic:      "gallium",
		Out:            t.TempDir(),
		MaxReorderings: 1,
		ReorderWindow:  2,
		Peek:           -1,
		Workers:        2,
	}
}

func TestRun(t *testing.T) {
	opts := testOptions(t)
	opts.ShowEP, opts.ShowSS, opts.ShowBDD = true, true, true
	opts.Dedup, opts.Check = true, true
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &stdout))
	assert.Contains(t, stdout.String(), "Search summary")

	tofinoPlan := string(must.M1(os.ReadFile(filepath.Join(opts.Out, "tofino.plan"))))
	assert.Contains(t, tofinoPlan, "# tofino plan of EP#")
	assert.Contains(t, tofinoPlan, "\tParserExtraction\tbdd=#0")
	assert.FileExists(t, filepath.Join(opts.Out, "x86.plan"))
	for _, name := range []string{"bdd.dot", "ep.dot", "ss.dot"} {
		assert.FileExists(t, filepath.Join(opts.Out, name))
	}
	assert.NoFileExists(t, filepath.Join(opts.Out, "peek.txt"))
}

func TestRunPeek(t *testing.T) {
	opts := testOptions(t)
	opts.Peek = 2
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &stdout))
	peeked := string(must.M1(os.ReadFile(filepath.Join(opts.Out, "peek.txt"))))
	assert.Contains(t, peeked, "next node #2")
	assert.FileExists(t, filepath.Join(opts.Out, "peek.dot"))
	assert.FileExists(t, filepath.Join(opts.Out, "peek_ss.dot"))
	// The best partial plan is written instead.
	assert.FileExists(t, filepath.Join(opts.Out, "tofino.plan"))
}

func TestRunErrors(t *testing.T) {
	opts := testOptions(t)
	opts.In = filepath.Join("testdata", "missing.json")
	require.Error(t, run(context.Background(), opts, &bytes.Buffer{}))

	opts = testOptions(t)
	opts.Heuristic = "unknown"
	require.Error(t, run(context.Background(), opts, &bytes.Buffer{}))

	opts = testOptions(t)
	opts.Targets = "tofino:unknown_option=1"
	require.Error(t, run(context.Background(), opts, &bytes.Buffer{}))
}
