// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// ReorderCandidate is a diagram call that can be moved right before the pending node of
// the active leaf.
type ReorderCandidate struct {
	// Anchor is the pending node of the active leaf.
	Anchor bdd.NodeID

	// Moved is the call moved before Anchor.
	Moved bdd.NodeID
}

// Conflicts returns whether the relative order of two calls matters because they touch
// the same object and at least one of them writes it. Calls to unknown functions
// conflict with everything.
func Conflicts(a, b *bdd.Call) bool {
	ea, knownA := a.Effect()
	eb, knownB := b.Effect()
	if !knownA || !knownB {
		return true
	}
	if ea.Family == "" || eb.Family == "" || (!ea.Writes && !eb.Writes) {
		return false
	}
	if ea.Family != eb.Family {
		return false
	}
	addrA, okA := a.Object()
	addrB, okB := b.Object()
	if !okA || !okB {
		// Packet operations, or objects with symbolic addresses.
		return true
	}
	return addrA == addrB
}

// ReorderCandidates returns the calls that can be moved before the pending node N of
// the active leaf: calls C within `window` steps down a chain of calls starting at N,
// that neither read symbols generated between N and C nor conflict with any call
// between N and C.
//
// Only profitable candidates are returned: no module of the active target can
// speculate N, while some module can speculate C.
func ReorderCandidates(e *EP, window int) []ReorderCandidate {
	if e.Terminal() || window <= 0 {
		return nil
	}
	anchor := e.Next()
	if anchor == nil || anchor.Kind != bdd.KindCall {
		return nil
	}
	if e.speculatable(anchor) {
		return nil
	}
	var candidates []ReorderCandidate
	generated := sets.MakeWith(anchor.Call.Generated...)
	between := []*bdd.Call{anchor.Call}
	for current, steps := e.diagram.Next(anchor), 0; current != nil && steps < window; current, steps = e.diagram.Next(current), steps+1 {
		if current.Kind != bdd.KindCall {
			break
		}
		if independent(current.Call, between, generated) && e.speculatable(current) {
			candidates = append(candidates, ReorderCandidate{Anchor: anchor.ID, Moved: current.ID})
		}
		between = append(between, current.Call)
		generated.Insert(current.Call.Generated...)
	}
	return candidates
}

func independent(c *bdd.Call, between []*bdd.Call, generated sets.Set[string]) bool {
	for _, symbol := range c.Reads() {
		if generated.Has(symbol) {
			return false
		}
	}
	for _, other := range between {
		if Conflicts(c, other) {
			return false
		}
	}
	return true
}

// speculatable returns whether some module of the active target realizes node.
func (e *EP) speculatable(node *bdd.Node) bool {
	for _, m := range e.platform.Modules(e.ActiveTarget()) {
		if spec, ok := m.Speculate(e, node, e.ctx); ok && !spec.Handoff {
			return true
		}
	}
	return false
}

// Reorder returns a clone of e working on a renumbered copy of its diagram, where the
// candidate call is moved before the pending node of the active leaf. All diagram ids
// recorded in the plan are translated, and the moved call becomes the pending node.
func Reorder(e *EP, c ReorderCandidate) (*EP, error) {
	if e.Terminal() || e.ActiveLeaf().Next != c.Anchor {
		return nil, errors.Errorf("EP#%d: reorder anchor #%d is not the pending node", e.id, c.Anchor)
	}
	d, mapping := e.diagram.CloneWithRenumbering()
	if err := d.MoveBefore(mapping[c.Anchor], mapping[c.Moved]); err != nil {
		return nil, errors.WithMessagef(err, "EP#%d: failed to reorder", e.id)
	}
	r := e.Clone(false)
	r.diagram = d
	translate := func(id bdd.NodeID) bdd.NodeID {
		if newID, found := mapping[id]; found {
			return newID
		}
		return id
	}
	for _, n := range r.nodes {
		n.Module.Node = translate(n.Module.Node)
	}
	processed := sets.Make[bdd.NodeID](len(r.meta.Processed))
	for id := range r.meta.Processed {
		processed.Insert(translate(id))
	}
	r.meta.Processed = processed
	for ii := range r.leaves {
		r.leaves[ii].Next = translate(r.leaves[ii].Next)
	}
	movedID, anchorID := mapping[c.Moved], mapping[c.Anchor]
	r.leaves[0].Next = movedID
	for t, roots := range r.meta.Roots {
		for ii, id := range roots {
			id = translate(id)
			if id == anchorID {
				id = movedID
			}
			roots[ii] = id
		}
		r.meta.Roots[t] = roots
	}
	r.meta.Reorderings++
	r.ctx.invalidate()
	klog.V(2).Infof("EP#%d: reordered #%d before #%d into EP#%d", e.id, c.Moved, c.Anchor, r.id)
	return r, nil
}
