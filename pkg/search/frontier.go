// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"container/heap"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
)

// TieBreak selects which of two equally scored plans the frontier pops first.
type TieBreak int

const (
	// FIFO pops the plan inserted first.
	FIFO TieBreak = iota

	// LIFO pops the plan inserted last.
	LIFO
)

// String implements fmt.Stringer.
func (tb TieBreak) String() string {
	if tb == LIFO {
		return "lifo"
	}
	return "fifo"
}

type frontierItem struct {
	ep    *ep.EP
	score heuristic.Score
	seq   int64
}

// frontier is a priority queue of plans: best score first, ties broken by insertion
// order. It implements heap.Interface, and should be used with push and pop.
type frontier struct {
	items    []*frontierItem
	tieBreak TieBreak
	nextSeq  int64
}

func (f *frontier) Len() int { return len(f.items) }

func (f *frontier) Less(i, j int) bool {
	a, b := f.items[i], f.items[j]
	if cmp := a.score.Compare(b.score); cmp != 0 {
		return cmp > 0
	}
	if f.tieBreak == LIFO {
		return a.seq > b.seq
	}
	return a.seq < b.seq
}

func (f *frontier) Swap(i, j int) { f.items[i], f.items[j] = f.items[j], f.items[i] }

func (f *frontier) Push(x any) { f.items = append(f.items, x.(*frontierItem)) }

func (f *frontier) Pop() any {
	last := len(f.items) - 1
	item := f.items[last]
	f.items[last] = nil
	f.items = f.items[:last]
	return item
}

func (f *frontier) push(e *ep.EP, score heuristic.Score) {
	heap.Push(f, &frontierItem{ep: e, score: score, seq: f.nextSeq})
	f.nextSeq++
}

func (f *frontier) pop() *frontierItem {
	return heap.Pop(f).(*frontierItem)
}
