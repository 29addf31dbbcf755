// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"fmt"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"k8s.io/klog/v2"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/profiler"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/cow"
)

// trafficTolerance is the tolerance when checking that traffic fractions add up to 1.
const trafficTolerance = 1e-6

// Placement records where a stateful object lives, and the data structure implementing it.
type Placement struct {
	Target targets.Target
	DS     targets.DS
}

// String implements fmt.Stringer.
func (p Placement) String() string {
	return fmt.Sprintf("%s@%s", p.DS, p.Target)
}

// Context is the state of an execution plan besides its structure: object placements,
// per-target contexts, the traffic carried by each target, the path constraints of
// each plan node and the traffic profile.
//
// A Context is owned by exactly one EP. Cloning deep copies the per-target contexts and
// shares the profiler until one of the copies changes it.
type Context struct {
	placements  map[bdd.Addr]Placement
	targetCtxs  map[targets.Target]targets.Context
	traffic     map[targets.Target]float64
	constraints map[EPNodeID][]*bdd.Expr
	profiler    cow.Ref[*profiler.Profiler]

	// order lists the platform targets in a fixed order, shared by all clones.
	order []targets.Target

	// owner is the plan the context belongs to, for diagnostics.
	owner ID

	// throughput caches the last computed stable throughput, reset on every change.
	throughput atomic.Pointer[float64]
}

// NewContext returns the context of an empty plan on platform p: all traffic is on the
// initial target, and nothing is placed.
func NewContext(p *Platform, prof *profiler.Profiler) *Context {
	ctx := &Context{
		placements:  make(map[bdd.Addr]Placement),
		targetCtxs:  make(map[targets.Target]targets.Context, len(p.Targets)),
		traffic:     make(map[targets.Target]float64, len(p.Targets)),
		constraints: make(map[EPNodeID][]*bdd.Expr),
		profiler:    cow.New(prof, (*profiler.Profiler).Clone),
		order:       p.TargetList(),
		owner:       InvalidID,
	}
	for _, spec := range p.Targets {
		ctx.targetCtxs[spec.Target] = spec.Context.Clone()
		ctx.traffic[spec.Target] = 0
	}
	ctx.traffic[p.Initial()] = 1
	return ctx
}

// Clone returns a copy of the context that shares nothing mutable with ctx.
func (ctx *Context) Clone() *Context {
	c := &Context{
		placements:  maps.Clone(ctx.placements),
		targetCtxs:  make(map[targets.Target]targets.Context, len(ctx.targetCtxs)),
		traffic:     maps.Clone(ctx.traffic),
		constraints: maps.Clone(ctx.constraints),
		profiler:    ctx.profiler.Share(),
		order:       ctx.order,
		owner:       ctx.owner,
	}
	for t, tctx := range ctx.targetCtxs {
		c.targetCtxs[t] = tctx.Clone()
	}
	return c
}

func (ctx *Context) invalidate() {
	ctx.throughput.Store(nil)
}

// CanPlace returns whether the object at addr can be placed as p: it is either not
// placed yet, or already placed exactly as p.
func (ctx *Context) CanPlace(addr bdd.Addr, p Placement) bool {
	current, found := ctx.placements[addr]
	return !found || current == p
}

// Place records the placement of the object at addr. Placing an object differently
// from an earlier decision is an invariant violation: callers must check CanPlace first.
func (ctx *Context) Place(addr bdd.Addr, p Placement) {
	if current, found := ctx.placements[addr]; found {
		if current != p {
			exceptions.Panicf("EP#%d: object 0x%x already placed on %s as %s, cannot place it on %s as %s",
				ctx.owner, uint64(addr), current.Target, current.DS, p.Target, p.DS)
		}
		return
	}
	ctx.placements[addr] = p
	ctx.invalidate()
}

// Placement returns the placement of the object at addr.
func (ctx *Context) Placement(addr bdd.Addr) (Placement, bool) {
	p, found := ctx.placements[addr]
	return p, found
}

// Placements returns a copy of all placement decisions.
func (ctx *Context) Placements() map[bdd.Addr]Placement {
	return maps.Clone(ctx.placements)
}

// TargetContext returns the context of target t, or nil if t is not in the platform.
//
// It may be modified, but only on contexts of plans not yet published.
func (ctx *Context) TargetContext(t targets.Target) targets.Context {
	ctx.invalidate()
	return ctx.targetCtxs[t]
}

// peekTargetContext is TargetContext without invalidating the throughput cache.
func (ctx *Context) peekTargetContext(t targets.Target) targets.Context {
	return ctx.targetCtxs[t]
}

// Traffic returns the fraction of the total traffic carried by target t.
func (ctx *Context) Traffic(t targets.Target) float64 {
	return ctx.traffic[t]
}

// MoveTraffic moves `fraction` of the total traffic from target `from` to target `to`.
// The fraction is clamped to what `from` carries.
func (ctx *Context) MoveTraffic(from, to targets.Target, fraction float64) {
	if from == to || fraction <= 0 {
		return
	}
	if _, found := ctx.traffic[to]; !found {
		exceptions.Panicf("cannot move traffic to target %s, which is not part of the platform", to)
	}
	fraction = min(fraction, ctx.traffic[from])
	ctx.traffic[from] -= fraction
	ctx.traffic[to] += fraction
	ctx.checkTraffic()
	ctx.invalidate()
}

func (ctx *Context) checkTraffic() {
	fractions := make([]float64, 0, len(ctx.order))
	for _, t := range ctx.order {
		f := ctx.traffic[t]
		if f < -trafficTolerance {
			exceptions.Panicf("negative traffic fraction in %s", ctx.TrafficString())
		}
		fractions = append(fractions, f)
	}
	if sum := floats.Sum(fractions); !scalar.EqualWithinAbs(sum, 1, trafficTolerance) {
		exceptions.Panicf("traffic fractions add up to %g: %s", sum, ctx.TrafficString())
	}
}

// TrafficString returns the traffic fractions per target, in target order.
func (ctx *Context) TrafficString() string {
	parts := make([]string, len(ctx.order))
	for ii, t := range ctx.order {
		parts[ii] = fmt.Sprintf("%s=%.4f", t, ctx.traffic[t])
	}
	return strings.Join(parts, ", ")
}

// SetConstraints records the path constraints leading to the plan node id.
func (ctx *Context) SetConstraints(id EPNodeID, constraints []*bdd.Expr) {
	ctx.constraints[id] = constraints
}

// Constraints returns the path constraints leading to the plan node id.
func (ctx *Context) Constraints(id EPNodeID) []*bdd.Expr {
	return ctx.constraints[id]
}

// Profiler returns the traffic profile. It must not be modified: use InsertProfile,
// ScaleProfile and RemoveProfile.
func (ctx *Context) Profiler() *profiler.Profiler {
	return ctx.profiler.Get()
}

// updateProfile applies update to a profiler owned by this context only, then checks
// the profile invariants: a broken invariant panics, other errors are returned.
func (ctx *Context) updateProfile(op string, update func(prof *profiler.Profiler) error) error {
	prof := ctx.profiler.Mutable()
	ctx.invalidate()
	err := update(prof)
	if checkErr := prof.Check(); checkErr != nil {
		exceptions.Panicf("EP#%d: profile invariant broken by %s: %v", ctx.owner, op, checkErr)
	}
	return err
}

// InsertProfile splits the traffic matching constraints[:len-1] by the last constraint,
// giving `fraction` of the total traffic to its true side. See profiler.Profiler.Insert.
func (ctx *Context) InsertProfile(constraints []*bdd.Expr, fraction float64) error {
	return ctx.updateProfile("insert", func(prof *profiler.Profiler) error {
		return prof.Insert(constraints, fraction)
	})
}

// ScaleProfile multiplies the traffic matching constraints by factor. See
// profiler.Profiler.Scale.
func (ctx *Context) ScaleProfile(constraints []*bdd.Expr, factor float64) error {
	return ctx.updateProfile("scale", func(prof *profiler.Profiler) error {
		return prof.Scale(constraints, factor)
	})
}

// RemoveProfile deletes the traffic split leading to constraints. See
// profiler.Profiler.Remove.
func (ctx *Context) RemoveProfile(constraints []*bdd.Expr) error {
	return ctx.updateProfile("remove", func(prof *profiler.Profiler) error {
		return prof.Remove(constraints)
	})
}

// HitRate returns the fraction of the total traffic satisfying the constraints. If the
// profile doesn't know the constraints, the longest known prefix is used.
func (ctx *Context) HitRate(constraints []*bdd.Expr) float64 {
	prof := ctx.profiler.Get()
	for n := len(constraints); n >= 0; n-- {
		if f, ok := prof.GetFraction(constraints[:n]); ok {
			if n < len(constraints) {
				klog.Warningf("profile has no data for %v, using the fraction of its prefix %v", constraints, constraints[:n])
			}
			return f
		}
	}
	return 1
}
