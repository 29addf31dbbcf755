// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

package bdd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// NodeID identifies a node within a Diagram. Ids are stable across Diagram.Clone, and
// Diagram.CloneWithRenumbering maps them to a disjoint id space.
type NodeID int

// InvalidNodeID marks the absence of a node: no parent, no successor.
const InvalidNodeID = NodeID(-1)

// Kind of diagram node.
type Kind int

const (
	KindBranch Kind = iota
	KindCall
	KindReturnInit
	KindReturnProcess
)

var kindNames = []string{"branch", "call", "return_init", "return_process"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts the serialized name of a Kind.
func ParseKind(name string) (Kind, error) {
	idx := slices.Index(kindNames, name)
	if idx < 0 {
		return 0, errors.Errorf("unknown node kind %q, valid values are %q", name, kindNames)
	}
	return Kind(idx), nil
}

// InitResult is the outcome of a ReturnInit node.
type InitResult int

const (
	InitSuccess InitResult = iota
	InitFailure
)

// String implements fmt.Stringer.
func (r InitResult) String() string {
	if r == InitSuccess {
		return "success"
	}
	return "failure"
}

// ProcessOp is the packet outcome of a ReturnProcess node.
type ProcessOp int

const (
	OpForward ProcessOp = iota
	OpDrop
	OpBroadcast
)

var processOpNames = []string{"fwd", "drop", "bcast"}

// String implements fmt.Stringer.
func (op ProcessOp) String() string {
	if op < 0 || int(op) >= len(processOpNames) {
		return fmt.Sprintf("ProcessOp(%d)", int(op))
	}
	return processOpNames[op]
}

// ParseProcessOp converts the serialized name of a ProcessOp.
func ParseProcessOp(name string) (ProcessOp, error) {
	idx := slices.Index(processOpNames, name)
	if idx < 0 {
		return 0, errors.Errorf("unknown process operation %q, valid values are %q", name, processOpNames)
	}
	return ProcessOp(idx), nil
}

// Addr is the address of a stateful object (a map, a vector, ...) manipulated by calls.
type Addr uint64

// Call is a symbolic function invocation, with its arguments and the symbols it generates.
type Call struct {
	Function  string
	Args      map[string]*Expr
	Generated []string
}

// Arg returns the argument with the given name, or nil.
func (c *Call) Arg(name string) *Expr {
	return c.Args[name]
}

// Effect returns the effect of the call, and whether the function is known.
func (c *Call) Effect() (Effect, bool) {
	effect, found := knownEffects[c.Function]
	return effect, found
}

// Object returns the address of the stateful object the call operates on, if the
// function is known and the object argument is a constant.
func (c *Call) Object() (Addr, bool) {
	effect, found := knownEffects[c.Function]
	if !found || effect.Object == "" {
		return 0, false
	}
	arg := c.Args[effect.Object]
	if arg == nil || arg.Kind() != ExprConst {
		return 0, false
	}
	return Addr(arg.Value()), true
}

// Reads returns the symbols read by the call arguments.
func (c *Call) Reads() []string {
	var symbols []string
	for _, name := range sortedArgNames(c.Args) {
		for s := range c.Args[name].Symbols() {
			symbols = append(symbols, s)
		}
	}
	slices.Sort(symbols)
	return slices.Compact(symbols)
}

// String returns the call in a `function(arg=value, ...)` form.
func (c *Call) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, name := range sortedArgNames(c.Args) {
		parts = append(parts, fmt.Sprintf("%s=%s", name, c.Args[name]))
	}
	return fmt.Sprintf("%s(%s)", c.Function, strings.Join(parts, ", "))
}

func sortedArgNames(args map[string]*Expr) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Effect describes how a known function touches program state.
type Effect struct {
	// Family of the touched object: "map", "vector", "dchain", "sketch", "cht", "packet"
	// or "" for pure functions.
	Family string

	// Object is the name of the argument holding the object address (or the packet).
	Object string

	// Writes is true if the call modifies the object.
	Writes bool
}

var knownEffects = map[string]Effect{
	"current_time":                         {},
	"packet_borrow_next_chunk":             {Family: "packet", Object: "p", Writes: true},
	"packet_return_chunk":                  {Family: "packet", Object: "p", Writes: true},
	"packet_get_unread_length":             {Family: "packet", Object: "p"},
	"nf_set_rte_ipv4_udptcp_checksum":      {Family: "packet", Object: "p", Writes: true},
	"rte_ether_addr_hash":                  {},
	"map_get":                              {Family: "map", Object: "map"},
	"map_put":                              {Family: "map", Object: "map", Writes: true},
	"map_erase":                            {Family: "map", Object: "map", Writes: true},
	"expire_items_single_map":              {Family: "map", Object: "map", Writes: true},
	"vector_borrow":                        {Family: "vector", Object: "vector"},
	"vector_return":                        {Family: "vector", Object: "vector", Writes: true},
	"dchain_allocate_new_index":            {Family: "dchain", Object: "chain", Writes: true},
	"dchain_rejuvenate_index":              {Family: "dchain", Object: "chain", Writes: true},
	"dchain_is_index_allocated":            {Family: "dchain", Object: "chain"},
	"dchain_free_index":                    {Family: "dchain", Object: "chain", Writes: true},
	"sketch_compute_hashes":                {Family: "sketch", Object: "sketch"},
	"sketch_refresh":                       {Family: "sketch", Object: "sketch", Writes: true},
	"sketch_fetch":                         {Family: "sketch", Object: "sketch"},
	"sketch_touch_buckets":                 {Family: "sketch", Object: "sketch", Writes: true},
	"cht_find_preferred_available_backend": {Family: "cht", Object: "cht"},
}

// KnownFunctions returns the sorted names of the functions with a known Effect.
func KnownFunctions() []string {
	names := make([]string, 0, len(knownEffects))
	for name := range knownEffects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Node of a decision diagram. Which fields are meaningful depends on Kind.
//
// Nodes returned by a Diagram are read-only: use the Diagram methods to build or
// restructure a diagram.
type Node struct {
	ID   NodeID
	Kind Kind
	Prev NodeID

	// Next successor of a Call node.
	Next NodeID

	// OnTrue and OnFalse successors, and the Condition, of a Branch node.
	OnTrue, OnFalse NodeID
	Condition       *Expr

	// Call of a Call node.
	Call *Call

	// Init outcome of a ReturnInit node.
	Init InitResult

	// Op and Port of a ReturnProcess node. Port is only meaningful for OpForward.
	Op   ProcessOp
	Port int
}

// IsReturn returns whether the node terminates a path.
func (n *Node) IsReturn() bool {
	return n.Kind == KindReturnInit || n.Kind == KindReturnProcess
}

// String returns a short one-line description of the node.
func (n *Node) String() string {
	switch n.Kind {
	case KindBranch:
		return fmt.Sprintf("#%d if %s", n.ID, n.Condition)
	case KindCall:
		return fmt.Sprintf("#%d %s", n.ID, n.Call)
	case KindReturnInit:
		return fmt.Sprintf("#%d init %s", n.ID, n.Init)
	default:
		if n.Op == OpForward {
			return fmt.Sprintf("#%d fwd(%d)", n.ID, n.Port)
		}
		return fmt.Sprintf("#%d %s", n.ID, n.Op)
	}
}

func newNode(id NodeID, kind Kind) *Node {
	return &Node{
		ID:      id,
		Kind:    kind,
		Prev:    InvalidNodeID,
		Next:    InvalidNodeID,
		OnTrue:  InvalidNodeID,
		OnFalse: InvalidNodeID,
	}
}
