// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package ep

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/davecgh/go-spew/spew"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// AssertIntegrity checks the structural invariants of the plan, and panics (with
// exceptions.Panicf) describing the first violation found:
//
//   - every plan node realizes a diagram node that exists;
//   - parent and child links of plan nodes agree, and every node but the root has a parent;
//   - every pending diagram node is reachable from the diagram root and not processed;
//   - pending sub-diagrams of different leaves don't overlap;
//   - object placements are on targets of the platform.
func (e *EP) AssertIntegrity() {
	for ii, n := range e.nodes {
		if n.ID != EPNodeID(ii) {
			exceptions.Panicf("EP#%d: plan node at index %d has id #%d", e.id, ii, n.ID)
		}
		if !e.diagram.Has(n.Module.Node) {
			exceptions.Panicf("EP#%d: plan node #%d (%s) realizes diagram node #%d, missing from the diagram",
				e.id, n.ID, n.Module.Type, n.Module.Node)
		}
		for _, child := range n.Children {
			if child == InvalidEPNodeID {
				continue
			}
			c := e.Node(child)
			if c == nil || c.Prev != n.ID {
				exceptions.Panicf("EP#%d: plan node #%d lists #%d as child, which doesn't point back to it", e.id, n.ID, child)
			}
		}
		if n.ID == e.root {
			if n.Prev != InvalidEPNodeID {
				exceptions.Panicf("EP#%d: root plan node #%d has parent #%d", e.id, n.ID, n.Prev)
			}
			continue
		}
		parent := e.Node(n.Prev)
		if parent == nil || !slices.Contains(parent.Children, n.ID) {
			exceptions.Panicf("EP#%d: plan node #%d is not a child of its parent #%d", e.id, n.ID, n.Prev)
		}
	}

	reachable := e.diagram.Reachable(e.diagram.RootID())
	pending := sets.Make[bdd.NodeID]()
	for _, leaf := range e.leaves {
		if !reachable.Has(leaf.Next) {
			exceptions.Panicf("EP#%d: leaf points to diagram node #%d, not reachable from the diagram root", e.id, leaf.Next)
		}
		if e.meta.Processed.Has(leaf.Next) {
			exceptions.Panicf("EP#%d: leaf points to diagram node #%d, already processed", e.id, leaf.Next)
		}
		if leaf.Node != InvalidEPNodeID {
			n := e.Node(leaf.Node)
			if n == nil || leaf.Slot < 0 || leaf.Slot >= len(n.Children) || n.Children[leaf.Slot] != InvalidEPNodeID {
				exceptions.Panicf("EP#%d: leaf of diagram node #%d points to an invalid slot %d of plan node #%d",
					e.id, leaf.Next, leaf.Slot, leaf.Node)
			}
		}
		sub := e.diagram.Reachable(leaf.Next)
		if sub.Intersects(pending) {
			exceptions.Panicf("EP#%d: diagram node #%d is pending in more than one leaf", e.id, leaf.Next)
		}
		pending = pending.Union(sub)
	}
	for addr, p := range e.ctx.placements {
		if !e.platform.Has(p.Target) {
			exceptions.Panicf("EP#%d: object 0x%x placed on %s, not part of the platform", e.id, uint64(addr), p.Target)
		}
	}
}

// CheckCoverage verifies that a terminal plan processed exactly the diagram nodes
// reachable from the root. It returns an error describing the mismatch otherwise.
func (e *EP) CheckCoverage() error {
	reachable := e.diagram.Reachable(e.diagram.RootID())
	if missing := reachable.Sub(e.meta.Processed); len(missing) > 0 {
		return errors.Errorf("EP#%d: diagram nodes %v not processed", e.id, sets.Sorted(missing))
	}
	if extra := e.meta.Processed.Sub(reachable); len(extra) > 0 {
		return errors.Errorf("EP#%d: processed diagram nodes %v are not reachable", e.id, sets.Sorted(extra))
	}
	return nil
}

// Fingerprint returns a structural hash of the plan: two plans with the same plan
// tree, pending leaves, processed nodes, placements, traffic split and target contexts
// have the same fingerprint, regardless of their ids.
func (e *EP) Fingerprint() uint64 {
	var sb strings.Builder
	var writeNode func(id EPNodeID)
	writeNode = func(id EPNodeID) {
		n := e.Node(id)
		if n == nil {
			sb.WriteString("_")
			return
		}
		_, _ = fmt.Fprintf(&sb, "(%s:%d>%s", n.Module.Type, n.Module.Node, n.Module.NextTarget)
		if n.Module.Data != nil {
			_, _ = fmt.Fprintf(&sb, "[%v]", n.Module.Data)
		}
		for _, child := range n.Children {
			sb.WriteByte(' ')
			writeNode(child)
		}
		sb.WriteByte(')')
	}
	writeNode(e.root)
	sb.WriteString("|leaves:")
	for _, leaf := range e.leaves {
		_, _ = fmt.Fprintf(&sb, "%d@%s,", leaf.Next, leaf.Target)
	}
	sb.WriteString("|processed:")
	for _, id := range sets.Sorted(e.meta.Processed) {
		_, _ = fmt.Fprintf(&sb, "%d,", id)
	}
	sb.WriteString("|placements:")
	for _, addr := range slices.Sorted(maps.Keys(e.ctx.placements)) {
		_, _ = fmt.Fprintf(&sb, "%x=%s,", uint64(addr), e.ctx.placements[addr])
	}
	sb.WriteString("|targets:")
	for _, t := range e.ctx.order {
		_, _ = fmt.Fprintf(&sb, "%s=%v:", t, e.ctx.traffic[t])
		fingerprintSpew.Fprint(&sb, e.ctx.targetCtxs[t])
		sb.WriteByte(',')
	}
	_, _ = fmt.Fprintf(&sb, "|reorderings:%d", e.meta.Reorderings)
	return xxhash3.HashString(sb.String())
}

// fingerprintSpew prints target contexts field by field, ignoring their String methods,
// with map keys sorted.
var fingerprintSpew = spew.ConfigState{
	SortKeys:                true,
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}
