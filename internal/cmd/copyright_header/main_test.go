// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddHeader(t *testing.T) {
	h := header("Synapse")

	got, changed := addHeader([]byte("package foo\n"), h)
	require.True(t, changed)
	assert.Equal(t, h+"package foo\n", string(got))

	_, changed = addHeader(got, h)
	assert.False(t, changed)

	got, changed = addHeader([]byte("//go:build linux\n\npackage foo\n"), h)
	require.True(t, changed)
	assert.Equal(t, "//go:build linux\n\n"+h+"package foo\n", string(got))
}

func TestProcessRoots(t *testing.T) {
	root := t.TempDir()
	h := header("Synapse")
	withHeader := filepath.Join(root, "a.go")
	without := filepath.Join(root, "pkg", "b.go")
	hidden := filepath.Join(root, "_examples", "c.go")
	for _, path := range []string{without, hidden} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("package b\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(withHeader, []byte(h+"package a\n"), 0o644))

	missing, err := processRoots([]string{root}, h, false)
	require.NoError(t, err)
	assert.Equal(t, []string{without}, missing)
	assert.Equal(t, "package b\n", string(must.M1(os.ReadFile(without))))

	missing, err = processRoots([]string{root}, h, true)
	require.NoError(t, err)
	assert.Equal(t, []string{without}, missing)
	assert.Equal(t, h+"package b\n", string(must.M1(os.ReadFile(without))))
	assert.Equal(t, "package b\n", string(must.M1(os.ReadFile(hidden))))
}
