// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/solver"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
)

// TargetSpec is one target of a Platform: its modules, in registration order, and the
// prototype of its context.
type TargetSpec struct {
	Target  targets.Target
	Modules []Module
	Context targets.Context
}

// Platform is the set of targets plans are built for. The first target is where
// processing starts.
type Platform struct {
	Targets   []TargetSpec
	Solver    solver.Solver
	Estimator Estimator
}

// Validate checks that the platform has at least one target, no repeated targets, and
// that every module and context belongs to the target it is listed under.
func (p *Platform) Validate() error {
	if len(p.Targets) == 0 {
		return errors.New("platform has no targets")
	}
	if p.Solver == nil {
		return errors.New("platform has no solver")
	}
	seen := make(map[targets.Target]bool)
	for _, spec := range p.Targets {
		if seen[spec.Target] {
			return errors.Errorf("target %s listed more than once", spec.Target)
		}
		seen[spec.Target] = true
		if spec.Context == nil || spec.Context.Target() != spec.Target {
			return errors.Errorf("target %s has no context of its own", spec.Target)
		}
		for _, m := range spec.Modules {
			if m.Type().Target != spec.Target {
				return errors.Errorf("module %s registered under target %s", m.Type(), spec.Target)
			}
		}
	}
	if err := p.checkHandoffs(); err != nil {
		return err
	}
	return p.Estimator.Validate()
}

// checkHandoffs returns an error if the handoff modules of the platform let processing
// move around a cycle of targets, which would let the search hand a node over forever.
func (p *Platform) checkHandoffs() error {
	next := make(map[targets.Target][]targets.Target, len(p.Targets))
	for _, spec := range p.Targets {
		for _, m := range spec.Modules {
			if h, ok := m.(Handoff); ok && p.Has(h.HandoffTarget()) && !slices.Contains(next[spec.Target], h.HandoffTarget()) {
				next[spec.Target] = append(next[spec.Target], h.HandoffTarget())
			}
		}
	}
	const (
		unvisited = iota
		inPath
		done
	)
	state := make(map[targets.Target]int, len(p.Targets))
	var path []targets.Target
	var visit func(t targets.Target) error
	visit = func(t targets.Target) error {
		state[t] = inPath
		path = append(path, t)
		for _, to := range next[t] {
			switch state[to] {
			case inPath:
				cycle := append(slices.Clone(path[slices.Index(path, to):]), to)
				return errors.Errorf("handoff cycle between targets: %v", cycle)
			case unvisited:
				if err := visit(to); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[t] = done
		return nil
	}
	for _, t := range p.TargetList() {
		if state[t] == unvisited {
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Initial returns the target processing starts on.
func (p *Platform) Initial() targets.Target {
	return p.Targets[0].Target
}

// Has returns whether the platform includes the target.
func (p *Platform) Has(t targets.Target) bool {
	return p.Rank(t) >= 0
}

// Rank returns the position of the target in the platform, or -1.
func (p *Platform) Rank(t targets.Target) int {
	return slices.IndexFunc(p.Targets, func(spec TargetSpec) bool { return spec.Target == t })
}

// Modules returns the modules of a target, in registration order.
func (p *Platform) Modules(t targets.Target) []Module {
	if r := p.Rank(t); r >= 0 {
		return p.Targets[r].Modules
	}
	return nil
}

// TargetList returns the targets of the platform, in order.
func (p *Platform) TargetList() []targets.Target {
	list := make([]targets.Target, len(p.Targets))
	for ii, spec := range p.Targets {
		list[ii] = spec.Target
	}
	return list
}
