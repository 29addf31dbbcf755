// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package bdd

import (
	"github.com/pkg/errors"
)

// ErrMalformed is wrapped by all errors reporting a structurally invalid diagram.
var ErrMalformed = errors.New("malformed decision diagram")

// Validate checks the structural invariants of the diagram:
//
//   - it has a root, and the root has no parent;
//   - every Branch has both successors, and every Call has a successor;
//   - returns have no successors;
//   - every successor points back to its parent (tree shape);
//   - every node is reachable from the root, hence every path ends in a return.
//
// Errors wrap ErrMalformed.
func (d *Diagram) Validate() error {
	root := d.Root()
	if root == nil {
		return errors.Wrap(ErrMalformed, "diagram has no root")
	}
	if root.Prev != InvalidNodeID {
		return errors.Wrapf(ErrMalformed, "root #%d has a parent #%d", root.ID, root.Prev)
	}
	for _, id := range d.IDs() {
		n := d.nodes[id]
		var succs []NodeID
		switch n.Kind {
		case KindBranch:
			if n.Condition == nil {
				return errors.Wrapf(ErrMalformed, "branch #%d has no condition", id)
			}
			if n.OnTrue == InvalidNodeID || n.OnFalse == InvalidNodeID {
				return errors.Wrapf(ErrMalformed, "branch #%d is missing a child", id)
			}
			if n.OnTrue == n.OnFalse {
				return errors.Wrapf(ErrMalformed, "branch #%d has the same node #%d on both sides", id, n.OnTrue)
			}
			succs = []NodeID{n.OnTrue, n.OnFalse}
		case KindCall:
			if n.Call == nil || n.Call.Function == "" {
				return errors.Wrapf(ErrMalformed, "call #%d has no function", id)
			}
			if n.Next == InvalidNodeID {
				return errors.Wrapf(ErrMalformed, "call #%d (%s) does not lead to a return", id, n.Call.Function)
			}
			succs = []NodeID{n.Next}
		case KindReturnInit, KindReturnProcess:
			if n.Next != InvalidNodeID || n.OnTrue != InvalidNodeID || n.OnFalse != InvalidNodeID {
				return errors.Wrapf(ErrMalformed, "return #%d has a successor", id)
			}
		default:
			return errors.Wrapf(ErrMalformed, "node #%d has an invalid kind %s", id, n.Kind)
		}
		for _, s := range succs {
			child := d.nodes[s]
			if child == nil {
				return errors.Wrapf(ErrMalformed, "node #%d points to unknown node #%d", id, s)
			}
			if child.Prev != id {
				return errors.Wrapf(ErrMalformed, "node #%d is a child of #%d but records #%d as parent", s, id, child.Prev)
			}
		}
	}
	for id, f := range d.profile {
		n := d.nodes[id]
		if n == nil || n.Kind != KindBranch {
			return errors.Wrapf(ErrMalformed, "profile refers to #%d, which is not a branch", id)
		}
		if f < 0 || f > 1 {
			return errors.Wrapf(ErrMalformed, "profile of branch #%d is %g, out of [0,1]", id, f)
		}
	}
	if reached := d.CountReachable(d.root); reached != len(d.nodes) {
		return errors.Wrapf(ErrMalformed, "only %d out of %d nodes are reachable from the root #%d", reached, len(d.nodes), d.root)
	}
	return nil
}
