// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package cow

import (
	"maps"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef(t *testing.T) {
	var copies int
	cloneMap := func(m map[string]int) map[string]int {
		copies++
		return maps.Clone(m)
	}
	a := New(map[string]int{"x": 1}, cloneMap)
	require.True(t, a.Valid())
	assert.False(t, a.Shared())

	// Writing to an exclusive value does not copy.
	a.Mutable()["x"] = 2
	assert.Equal(t, 0, copies)

	b := a.Share()
	assert.True(t, a.Shared())
	b.Mutable()["x"] = 3
	assert.Equal(t, 1, copies)
	assert.Equal(t, 2, a.Get()["x"], "write through b must not be visible from a")
	assert.Equal(t, 3, b.Get()["x"])

	// b now owns a private copy: further writes are free.
	b.Mutable()["y"] = 1
	assert.Equal(t, 1, copies)
	_, found := a.Get()["y"]
	assert.False(t, found)
}

func TestRefConcurrentShare(t *testing.T) {
	base := New([]int{1, 2, 3}, func(s []int) []int { return append([]int(nil), s...) })
	var wg sync.WaitGroup
	results := make([][]int, 16)
	for ii := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := base.Share()
			s := r.Mutable()
			s[0] = ii
			results[ii] = r.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, base.Get()[0])
	for ii, s := range results {
		assert.Equal(t, ii, s[0])
	}
}
