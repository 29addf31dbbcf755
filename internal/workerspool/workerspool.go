// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent tasks in goroutines, with a soft limit on the
// number of tasks running in parallel.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Pool of workers.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time: 0 runs tasks inline
	// and a negative value removes the limit.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// DefaultParallelism is the number of physical cores, or the number of logical CPUs if
// it can't be detected.
func DefaultParallelism() int {
	if cores := cpuid.CPU.PhysicalCores; cores > 0 {
		return cores
	}
	return runtime.NumCPU()
}

// New returns a Pool running at most maxParallelism tasks at a time.
// If maxParallelism is 0 tasks run inline, and if it's negative parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether tasks run in parallel.
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// MaxParallelism returns the limit of tasks running in parallel.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	return w.maxParallelism >= 0 && w.numRunning >= w.maxParallelism
}

// WaitToStart waits until a worker is available and starts task on it.
//
// If parallelism is disabled, it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// Run calls task(ii) for every ii in [0, n), in parallel as permitted by the pool, and
// returns when all of them are finished.
//
// A panic in a task is re-raised by Run, in the calling goroutine, after all tasks end.
// If more than one task panics, the one with the lowest index wins.
func (w *Pool) Run(n int, task func(ii int)) {
	if !w.IsEnabled() || n <= 1 {
		for ii := range n {
			task(ii)
		}
		return
	}
	var wg sync.WaitGroup
	panics := make([]any, n)
	for ii := range n {
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			defer func() { panics[ii] = recover() }()
			task(ii)
		})
	}
	wg.Wait()
	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}
}
