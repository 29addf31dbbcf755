// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New(parallelism)
		results := make([]int, 50)
		var running, peak atomic.Int32
		pool.Run(len(results), func(ii int) {
			current := running.Add(1)
			for {
				old := peak.Load()
				if current <= old || peak.CompareAndSwap(old, current) {
					break
				}
			}
			results[ii] = ii * ii
			running.Add(-1)
		})
		for ii, r := range results {
			require.Equal(t, ii*ii, r, "parallelism=%d", parallelism)
		}
		if parallelism > 0 {
			assert.LessOrEqual(t, int(peak.Load()), parallelism)
		}
	}
}

func TestRunPanics(t *testing.T) {
	pool := New(2)
	var finished atomic.Int32
	assert.PanicsWithValue(t, "task 3", func() {
		pool.Run(8, func(ii int) {
			if ii == 3 || ii == 5 {
				panic("task " + string(rune('0'+ii)))
			}
			finished.Add(1)
		})
	})
	assert.Equal(t, int32(6), finished.Load())
}

func TestDefaultParallelism(t *testing.T) {
	assert.Positive(t, DefaultParallelism())
}
