// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// Estimator converts the traffic split and target contexts of a plan into a projected
// throughput.
//
// The platform egress for an offered ingress rate I is the sum, over targets, of the
// target capacity curve applied to the traffic it carries: egress(I) = Σ curve_t(I·f_t).
// The stable throughput is the egress at the highest ingress rate the platform sustains,
// that is, the highest I with egress(I) >= (1-Tolerance)·I. Beyond it overloaded
// targets drop traffic, and offering more load doesn't help.
type Estimator struct {
	// MaxIngressPPS is the highest ingress rate considered, in packets per second.
	MaxIngressPPS float64

	// Tolerance is the fraction of the ingress that may be lost at the stable point.
	Tolerance float64

	// Steps is the number of binary search steps.
	Steps int
}

// DefaultEstimator returns an Estimator searching up to 100 Gpps with 0.1% tolerance.
func DefaultEstimator() Estimator {
	return Estimator{MaxIngressPPS: 100e9, Tolerance: 1e-3, Steps: 64}
}

// Validate checks the estimator parameters.
func (est Estimator) Validate() error {
	if est.MaxIngressPPS <= 0 {
		return errors.Errorf("estimator MaxIngressPPS must be positive, got %g", est.MaxIngressPPS)
	}
	if est.Tolerance < 0 || est.Tolerance >= 1 {
		return errors.Errorf("estimator Tolerance must be in [0, 1), got %g", est.Tolerance)
	}
	if est.Steps <= 0 {
		return errors.Errorf("estimator Steps must be positive, got %d", est.Steps)
	}
	return nil
}

// Egress returns the platform egress when offered ingressPPS. Targets are summed in
// platform order, so the result is the same for equal contexts.
func (est Estimator) Egress(ctx *Context, ingressPPS float64) float64 {
	var egress float64
	for _, t := range ctx.order {
		fraction := ctx.traffic[t]
		if fraction <= 0 {
			continue
		}
		egress += ctx.peekTargetContext(t).Egress(ingressPPS * fraction)
	}
	return egress
}

func (est Estimator) sustains(ctx *Context, ingressPPS float64) bool {
	return est.Egress(ctx, ingressPPS) >= (1-est.Tolerance)*ingressPPS
}

// Stable returns the stable throughput of the context, in packets per second.
func (est Estimator) Stable(ctx *Context) float64 {
	if cached := ctx.throughput.Load(); cached != nil {
		return *cached
	}
	low, high := 0.0, est.MaxIngressPPS
	var stable float64
	if est.sustains(ctx, high) {
		stable = est.Egress(ctx, high)
	} else {
		for range est.Steps {
			mid := (low + high) / 2
			if est.sustains(ctx, mid) {
				low = mid
			} else {
				high = mid
			}
		}
		stable = est.Egress(ctx, low)
	}
	ctx.throughput.Store(&stable)
	return stable
}

// Throughput returns the stable throughput of the plan as built so far.
func (e *EP) Throughput() float64 {
	return e.platform.Estimator.Stable(e.ctx)
}

// SpeculativeThroughput estimates the stable throughput the plan would reach once
// completed: the pending diagram nodes are speculated with the modules of the target
// they would run on.
//
// When several modules can realize a node, the candidates are compared by replaying,
// on each, the nodes the other one subsumes and it doesn't, and the one with the
// higher stable throughput is kept. Ties keep the module registered first.
func (e *EP) SpeculativeThroughput() float64 {
	ctx := e.speculate()
	return e.platform.Estimator.Stable(ctx)
}

// specItem is a pending diagram node in the speculation walk.
type specItem struct {
	id     bdd.NodeID
	target targets.Target
}

// speculate walks the pending nodes of all leaves and returns the resulting context.
func (e *EP) speculate() *Context {
	ctx := e.ctx.Clone()
	skip := sets.Make[bdd.NodeID]()
	stack := make([]specItem, 0, len(e.leaves))
	for ii := len(e.leaves) - 1; ii >= 0; ii-- {
		stack = append(stack, specItem{e.leaves[ii].Next, e.leaves[ii].Target})
	}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := e.diagram.Node(item.id)
		if node == nil {
			continue
		}
		target := item.target
		if !skip.Has(item.id) {
			var spec *Speculation
			spec, target = e.speculateNode(node, target, ctx)
			if spec != nil {
				ctx = spec.Ctx
				for id := range spec.Skip {
					skip.Insert(id)
				}
			} else {
				klog.V(2).Infof("EP#%d: no module speculates %s on %s", e.id, node, target)
			}
		}
		children := e.diagram.Children(item.id)
		for ii := len(children) - 1; ii >= 0; ii-- {
			stack = append(stack, specItem{children[ii], target})
		}
	}
	return ctx
}

// speculateNode speculates node starting on target, following handoffs to other
// targets. It returns the best speculation (nil if none) and the target node ends on.
func (e *EP) speculateNode(node *bdd.Node, target targets.Target, ctx *Context) (*Speculation, targets.Target) {
	visited := sets.Make[targets.Target]()
	for !visited.Has(target) {
		visited.Insert(target)
		best := e.bestSpeculation(node, target, ctx)
		if best == nil {
			return nil, target
		}
		if !best.Handoff {
			return best, target
		}
		ctx = best.Ctx
		ctx.MoveTraffic(target, best.NextTarget, ctx.HitRate(e.diagram.PathConstraints(node.ID)))
		target = best.NextTarget
	}
	return nil, target
}

// bestSpeculation returns the best speculation of node among the modules of target.
func (e *EP) bestSpeculation(node *bdd.Node, target targets.Target, ctx *Context) *Speculation {
	var best *Speculation
	for _, m := range e.platform.Modules(target) {
		spec, ok := m.Speculate(e, node, ctx)
		if !ok {
			continue
		}
		if spec.Skip == nil {
			spec.Skip = sets.Make[bdd.NodeID]()
		}
		if best == nil || e.speculationBetter(spec, best, target) {
			best = spec
		}
	}
	return best
}

// speculationBetter returns whether a leads to a strictly higher stable throughput than
// b, once each has replayed the nodes only the other one subsumes.
func (e *EP) speculationBetter(a, b *Speculation, target targets.Target) bool {
	if a.Handoff != b.Handoff {
		// Realizing the node beats handing it over.
		return !a.Handoff
	}
	est := e.platform.Estimator
	ctxA := e.replay(a.Ctx, b.Skip.Sub(a.Skip), target)
	ctxB := e.replay(b.Ctx, a.Skip.Sub(b.Skip), target)
	return est.Stable(ctxA) > est.Stable(ctxB)
}

// replay speculates the given nodes, in id order, with the first module of target
// accepting each.
func (e *EP) replay(ctx *Context, nodes sets.Set[bdd.NodeID], target targets.Target) *Context {
	if len(nodes) == 0 {
		return ctx
	}
	for _, id := range sets.Sorted(nodes) {
		node := e.diagram.Node(id)
		if node == nil {
			continue
		}
		for _, m := range e.platform.Modules(target) {
			if spec, ok := m.Speculate(e, node, ctx); ok && !spec.Handoff {
				ctx = spec.Ctx
				break
			}
		}
	}
	return ctx
}
