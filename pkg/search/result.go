// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MedianExpansionDuration returns the median duration of the expansions. It returns 1
// millisecond if no expansion was recorded (to avoid potential division by 0).
func (r *Result) MedianExpansionDuration() time.Duration {
	if len(r.ExpansionDurations) == 0 {
		return time.Millisecond
	}
	durations := make([]float64, len(r.ExpansionDurations))
	for ii, d := range r.ExpansionDurations {
		durations[ii] = float64(d)
	}
	slices.Sort(durations)
	return time.Duration(stat.Quantile(0.5, stat.Empirical, durations, nil))
}

// TotalExpansionDuration returns the time spent expanding plans.
func (r *Result) TotalExpansionDuration() time.Duration {
	var total time.Duration
	for _, d := range r.ExpansionDurations {
		total += d
	}
	return total
}
