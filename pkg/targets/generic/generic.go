// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package generic implements the modules shared by all targets: branching, calls
// realized with an optional object placement, returns, ignored calls and handoffs to
// another target.
//
// Target packages instantiate these modules with their own names, functions and data
// structures.
package generic

import (
	"fmt"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// OpCounter is implemented by target contexts whose capacity depends on the number of
// operations they run.
type OpCounter interface {
	AddOps(n int)
}

// Allocator is implemented by target contexts with bounded resources for stateful objects.
type Allocator interface {
	// Allocate reserves the resources to implement the object at addr as ds. It returns
	// false, leaving the context unchanged, if there are not enough resources.
	// Allocating an object already allocated is a no-op.
	Allocate(ds targets.DS, addr bdd.Addr) bool
}

// account registers ops operations on the target context, if it counts them.
func account(ctx *ep.Context, target targets.Target, ops int) {
	if ops == 0 {
		return
	}
	if counter, ok := ctx.TargetContext(target).(OpCounter); ok {
		counter.AddOps(ops)
	}
}

// If realizes Branch nodes.
type If struct {
	Target targets.Target

	// Supports, if set, restricts the conditions the target can branch on.
	Supports func(cond *bdd.Expr) bool

	// Ops is the cost of the branch on targets counting operations.
	Ops int
}

// Type implements ep.Module.
func (m *If) Type() targets.ModuleType { return targets.ModuleType{Target: m.Target, Name: "If"} }

func (m *If) accepts(node *bdd.Node) bool {
	return node.Kind == bdd.KindBranch && (m.Supports == nil || m.Supports(node.Condition))
}

// Process implements ep.Module.
func (m *If) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) || !m.accepts(node) {
		return nil
	}
	next := e.Commit(ep.Decision{
		Module: ep.ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.Target, Data: node.Condition.String()},
		Leaves: []ep.NextLeaf{{Next: node.OnTrue, Target: m.Target}, {Next: node.OnFalse, Target: m.Target}},
	})
	account(next.Context(), m.Target, m.Ops)
	return []*ep.EP{next}
}

// Speculate implements ep.Module.
func (m *If) Speculate(e *ep.EP, node *bdd.Node, ctx *ep.Context) (*ep.Speculation, bool) {
	if !m.accepts(node) {
		return nil, false
	}
	if m.Ops > 0 {
		ctx = ctx.Clone()
		account(ctx, m.Target, m.Ops)
	}
	return &ep.Speculation{Ctx: ctx}, true
}

// Return realizes ReturnProcess nodes with a given operation: Forward, Drop or Broadcast.
type Return struct {
	Target targets.Target
	Op     bdd.ProcessOp
}

var returnNames = map[bdd.ProcessOp]string{bdd.OpForward: "Forward", bdd.OpDrop: "Drop", bdd.OpBroadcast: "Broadcast"}

// Type implements ep.Module.
func (m *Return) Type() targets.ModuleType {
	return targets.ModuleType{Target: m.Target, Name: returnNames[m.Op]}
}

func (m *Return) accepts(node *bdd.Node) bool {
	return node.Kind == bdd.KindReturnProcess && node.Op == m.Op
}

// Process implements ep.Module.
func (m *Return) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) || !m.accepts(node) {
		return nil
	}
	var data any
	if m.Op == bdd.OpForward {
		data = node.Port
	}
	return []*ep.EP{e.Commit(ep.Decision{
		Module: ep.ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.Target, Data: data},
	})}
}

// Speculate implements ep.Module.
func (m *Return) Speculate(e *ep.EP, node *bdd.Node, ctx *ep.Context) (*ep.Speculation, bool) {
	if !m.accepts(node) {
		return nil, false
	}
	return &ep.Speculation{Ctx: ctx}, true
}

// InitReturn realizes ReturnInit nodes, ending the initialization of the program.
type InitReturn struct {
	Target targets.Target
}

// Type implements ep.Module.
func (m *InitReturn) Type() targets.ModuleType {
	return targets.ModuleType{Target: m.Target, Name: "InitReturn"}
}

// Process implements ep.Module.
func (m *InitReturn) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) || node.Kind != bdd.KindReturnInit {
		return nil
	}
	return []*ep.EP{e.Commit(ep.Decision{
		Module: ep.ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.Target, Data: node.Init.String()},
	})}
}

// Speculate implements ep.Module.
func (m *InitReturn) Speculate(e *ep.EP, node *bdd.Node, ctx *ep.Context) (*ep.Speculation, bool) {
	if node.Kind != bdd.KindReturnInit {
		return nil, false
	}
	return &ep.Speculation{Ctx: ctx}, true
}

// Ignore skips calls that have no effect on the target (e.g. reading the clock on a
// switch), without committing any module.
type Ignore struct {
	Target    targets.Target
	Functions sets.Set[string]
}

// Type implements ep.Module.
func (m *Ignore) Type() targets.ModuleType {
	return targets.ModuleType{Target: m.Target, Name: "Ignore"}
}

func (m *Ignore) accepts(node *bdd.Node) bool {
	return node.Kind == bdd.KindCall && m.Functions.Has(node.Call.Function)
}

// Process implements ep.Module.
func (m *Ignore) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) || !m.accepts(node) {
		return nil
	}
	return []*ep.EP{e.Ignore(node.Next)}
}

// Speculate implements ep.Module.
func (m *Ignore) Speculate(e *ep.EP, node *bdd.Node, ctx *ep.Context) (*ep.Speculation, bool) {
	if !m.accepts(node) {
		return nil, false
	}
	return &ep.Speculation{Ctx: ctx}, true
}

// SendTo hands the processing of the pending node over to another target.
type SendTo struct {
	Target targets.Target
	To     targets.Target
	Name   string
}

// Type implements ep.Module.
func (m *SendTo) Type() targets.ModuleType {
	return targets.ModuleType{Target: m.Target, Name: m.Name}
}

// HandoffTarget implements ep.Handoff.
func (m *SendTo) HandoffTarget() targets.Target { return m.To }

// Process implements ep.Module.
func (m *SendTo) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) || !e.Platform().Has(m.To) {
		return nil
	}
	return []*ep.EP{e.Commit(ep.Decision{
		Module: ep.ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.To},
		Keep:   true,
		Leaves: []ep.NextLeaf{{Next: node.ID, Target: m.To}},
	})}
}

// Speculate implements ep.Module.
func (m *SendTo) Speculate(e *ep.EP, node *bdd.Node, ctx *ep.Context) (*ep.Speculation, bool) {
	if !e.Platform().Has(m.To) {
		return nil, false
	}
	return &ep.Speculation{Ctx: ctx.Clone(), Handoff: true, NextTarget: m.To}, true
}

// CallData describes a call committed in a plan.
type CallData struct {
	Function string
	Object   bdd.Addr

	// Placed is set if the call operates on an object placed on the module target.
	// Remote is set instead if the object lives on another target, RemoteTarget.
	Placed, Remote bool
	RemoteTarget   targets.Target
	DS             targets.DS
}

// String implements fmt.Stringer.
func (d CallData) String() string {
	switch {
	case d.Placed:
		return fmt.Sprintf("%s(%s 0x%x)", d.Function, d.DS, uint64(d.Object))
	case d.Remote:
		return fmt.Sprintf("%s(%s 0x%x on %s)", d.Function, d.DS, uint64(d.Object), d.RemoteTarget)
	}
	return d.Function
}

// Call realizes calls to a set of functions. If Places is set, the object the call
// operates on is placed on the target as DS, provided no earlier decision placed it
// differently and the target context has resources for it.
type Call struct {
	Target    targets.Target
	Name      string
	Functions sets.Set[string]

	// AnyFunction accepts calls to every function, known or not.
	AnyFunction bool

	Places bool
	DS     targets.DS

	// DSForFamily, if set, chooses the data structure from the object family instead of DS.
	DSForFamily func(family string) (targets.DS, bool)

	// Remote allows operating on objects already placed on other targets (e.g. the
	// controller writing the entries of a switch table), instead of placing them.
	Remote bool

	// Ops is the cost of the call on targets counting operations.
	Ops int

	// SubsumeNext lists functions that, when called right after this call, are realized
	// together with it.
	SubsumeNext sets.Set[string]
}

// Type implements ep.Module.
func (m *Call) Type() targets.ModuleType {
	return targets.ModuleType{Target: m.Target, Name: m.Name}
}

// plan checks whether the module realizes node under ctx, and returns what the call
// places (if anything) and the nodes it subsumes.
func (m *Call) plan(e *ep.EP, node *bdd.Node, ctx *ep.Context) (data CallData, subsumed []bdd.NodeID, next bdd.NodeID, ok bool) {
	if node.Kind != bdd.KindCall || !(m.AnyFunction || m.Functions.Has(node.Call.Function)) {
		return
	}
	data.Function = node.Call.Function
	if m.Places {
		if addr, hasObject := node.Call.Object(); hasObject {
			if current, placed := ctx.Placement(addr); placed && current.Target != m.Target && m.Remote {
				data.Object, data.Remote, data.RemoteTarget, data.DS = addr, true, current.Target, current.DS
				return m.subsume(e, node, data)
			}
			ds := m.DS
			if m.DSForFamily != nil {
				effect, _ := node.Call.Effect()
				var supported bool
				if ds, supported = m.DSForFamily(effect.Family); !supported {
					return
				}
			}
			if !ctx.CanPlace(addr, ep.Placement{Target: m.Target, DS: ds}) {
				return
			}
			data.Object, data.Placed, data.DS = addr, true, ds
		}
	}
	return m.subsume(e, node, data)
}

// subsume completes plan with the nodes following node that the module realizes too.
func (m *Call) subsume(e *ep.EP, node *bdd.Node, data CallData) (CallData, []bdd.NodeID, bdd.NodeID, bool) {
	var subsumed []bdd.NodeID
	next := node.Next
	if following := e.Diagram().Node(next); following != nil && following.Kind == bdd.KindCall &&
		m.SubsumeNext.Has(following.Call.Function) {
		subsumed = append(subsumed, following.ID)
		next = following.Next
	}
	return data, subsumed, next, true
}

// apply records the placement and costs of the call on ctx. It returns false if the
// target has no resources left for the object.
func (m *Call) apply(ctx *ep.Context, data CallData) bool {
	if data.Placed {
		if alloc, isAllocator := ctx.TargetContext(m.Target).(Allocator); isAllocator && !alloc.Allocate(data.DS, data.Object) {
			return false
		}
		ctx.Place(data.Object, ep.Placement{Target: m.Target, DS: data.DS})
	}
	account(ctx, m.Target, m.Ops)
	return true
}

// Process implements ep.Module.
func (m *Call) Process(e *ep.EP, node *bdd.Node) []*ep.EP {
	if !ep.Applicable(m, e) {
		return nil
	}
	data, subsumed, next, ok := m.plan(e, node, e.Context())
	if !ok {
		return nil
	}
	successor := e.Commit(ep.Decision{
		Module:   ep.ModuleInstance{Type: m.Type(), Node: node.ID, NextTarget: m.Target, Data: data},
		Subsumed: subsumed,
		Leaves:   []ep.NextLeaf{{Next: next, Target: m.Target}},
	})
	if !m.apply(successor.Context(), data) {
		return nil
	}
	return []*ep.EP{successor}
}

// Speculate implements ep.Module.
func (m *Call) Speculate(e *ep.EP, node *bdd.Node, ctx *ep.Context) (*ep.Speculation, bool) {
	data, subsumed, _, ok := m.plan(e, node, ctx)
	if !ok {
		return nil, false
	}
	ctx = ctx.Clone()
	if !m.apply(ctx, data) {
		return nil, false
	}
	return &ep.Speculation{Ctx: ctx, Skip: sets.MakeWith(subsumed...)}, true
}
