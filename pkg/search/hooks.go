// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
)

// ErrStop is returned by hooks to end the search. The engine then returns normally, with
// Result.Stopped set.
var ErrStop = errors.New("search stopped by hook")

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(engine *Engine) error

// OnStepFn is the type of OnStep hooks. They are called with each plan popped from the
// frontier, before it is expanded.
type OnStepFn func(engine *Engine, e *ep.EP) error

// OnSolutionFn is the type of OnSolution hooks, called with each complete plan found.
type OnSolutionFn func(engine *Engine, e *ep.EP) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(engine *Engine, result *Result) error

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks per priority.
type priorityHooks[F any] struct {
	hooks map[Priority][]hookWithName[F]
}

func newPriorityHooks[F any]() *priorityHooks[F] {
	return &priorityHooks[F]{hooks: make(map[Priority][]hookWithName[F])}
}

func (h *priorityHooks[F]) add(priority Priority, name string, fn F) {
	h.hooks[priority] = append(h.hooks[priority], hookWithName[F]{name: name, fn: fn})
}

// run calls each hook, in priority order, until one fails. Errors other than ErrStop are
// annotated with the stage and hook name.
func (h *priorityHooks[F]) run(stage string, call func(fn F) error) error {
	priorities := make([]Priority, 0, len(h.hooks))
	for p := range h.hooks {
		priorities = append(priorities, p)
	}
	slices.Sort(priorities)
	for _, p := range priorities {
		for _, hook := range h.hooks[p] {
			if err := call(hook.fn); err != nil {
				if errors.Is(err, ErrStop) {
					return err
				}
				return errors.WithMessagef(err, "%s(hook %q)", stage, hook.name)
			}
		}
	}
	return nil
}

// OnStart adds a hook with given priority and name (for error reporting), called before
// the first iteration.
func (engine *Engine) OnStart(name string, priority Priority, fn OnStartFn) *Engine {
	engine.onStart.add(priority, name, fn)
	return engine
}

// OnStep adds a hook with given priority and name (for error reporting), called at every
// iteration with the plan popped from the frontier.
func (engine *Engine) OnStep(name string, priority Priority, fn OnStepFn) *Engine {
	engine.onStep.add(priority, name, fn)
	return engine
}

// OnSolution adds a hook with given priority and name (for error reporting), called with
// every complete plan found.
func (engine *Engine) OnSolution(name string, priority Priority, fn OnSolutionFn) *Engine {
	engine.onSolution.add(priority, name, fn)
	return engine
}

// OnEnd adds a hook with given priority and name (for error reporting), called once the
// search is over, even if it failed to find a solution.
func (engine *Engine) OnEnd(name string, priority Priority, fn OnEndFn) *Engine {
	engine.onEnd.add(priority, name, fn)
	return engine
}

// PeekHook returns an OnStep hook that stops the search when the plan popped has the
// diagram node `peek` as its next node to process. fn is called with that plan first,
// typically to dump it together with the search space.
func PeekHook(peek bdd.NodeID, fn func(engine *Engine, e *ep.EP) error) OnStepFn {
	return func(engine *Engine, e *ep.EP) error {
		if e.Terminal() || e.Next().ID != peek {
			return nil
		}
		if fn != nil {
			if err := fn(engine, e); err != nil {
				return err
			}
		}
		return ErrStop
	}
}
