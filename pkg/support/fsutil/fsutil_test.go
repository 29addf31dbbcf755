// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ExpandPath("~/nfs/nat.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "nfs", "nat.json"), got)

	got, err = ExpandPath("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), got)

	t.Setenv("SYNAPSE_TEST_DIR", "/tmp/synapse")
	got, err = ExpandPath("$SYNAPSE_TEST_DIR/out")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/synapse/out", got)

	got, err = ExpandPath("relative/path")
	require.NoError(t, err)
	assert.Equal(t, "relative/path", got)

	_, err = ExpandPath("~no_such_user_for_synapse/x")
	require.Error(t, err)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}
