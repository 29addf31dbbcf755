// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package tofino implements the programmable switch dataplane target.
//
// The switch processes packets at line rate, but only a subset of the calls: header
// parsing and modification, lookups of maps implemented as match-action tables, and
// vector accesses implemented as registers. Tables and registers take slots of the
// pipeline stages, and a plan needing more slots than available is rejected. Anything
// else is sent to the controller.
//
// It registers itself with the platform package on import, under the name "tofino".
// Options:
//
//   - stages: number of pipeline stages (default 12).
//   - tables_per_stage: tables or registers per stage (default 4).
//   - pps: line rate in packets per second (default 3e9).
package tofino

import (
	"fmt"
	"maps"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/generic"
)

func init() {
	platform.Register(targets.Tofino, New)
}

// Default option values.
const (
	DefaultStages         = 12
	DefaultTablesPerStage = 4
	DefaultPPS            = 3e9
)

// Context of the switch: the objects allocated on its pipeline.
type Context struct {
	Stages         int
	TablesPerStage int
	PPS            float64

	// objects maps allocated objects to their slot in the pipeline.
	objects map[bdd.Addr]int
}

var (
	_ targets.Context   = (*Context)(nil)
	_ generic.Allocator = (*Context)(nil)
)

// NewContext returns an empty pipeline.
func NewContext(stages, tablesPerStage int, pps float64) *Context {
	return &Context{Stages: stages, TablesPerStage: tablesPerStage, PPS: pps, objects: make(map[bdd.Addr]int)}
}

// Target implements targets.Context.
func (c *Context) Target() targets.Target { return targets.Tofino }

// Clone implements targets.Context.
func (c *Context) Clone() targets.Context {
	cc := *c
	cc.objects = maps.Clone(c.objects)
	return &cc
}

// Egress implements targets.Context.
func (c *Context) Egress(ingressPPS float64) float64 {
	return targets.SaturatingCurve(c.PPS, ingressPPS)
}

// Allocate implements generic.Allocator: objects take the next free slot, filling the
// stages in order.
func (c *Context) Allocate(ds targets.DS, addr bdd.Addr) bool {
	if _, found := c.objects[addr]; found {
		return true
	}
	if len(c.objects) >= c.Stages*c.TablesPerStage {
		return false
	}
	c.objects[addr] = len(c.objects)
	return true
}

// Stage returns the pipeline stage of an allocated object.
func (c *Context) Stage(addr bdd.Addr) (int, bool) {
	slot, found := c.objects[addr]
	return slot / c.TablesPerStage, found
}

// UsedStages returns the number of stages holding at least one object.
func (c *Context) UsedStages() int {
	return (len(c.objects) + c.TablesPerStage - 1) / c.TablesPerStage
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("tofino(objects=%d, stages=%d/%d)", len(c.objects), c.UsedStages(), c.Stages)
}

// unsupportedOps are the operations match-action units can't evaluate.
var unsupportedOps = sets.MakeWith("mul", "div", "udiv", "sdiv", "rem", "urem", "srem")

// SupportsCondition returns whether the pipeline can branch on cond.
func SupportsCondition(cond *bdd.Expr) bool {
	if cond.Kind() != bdd.ExprOp {
		return true
	}
	if unsupportedOps.Has(cond.Name()) {
		return false
	}
	for ii := range cond.NumArgs() {
		if !SupportsCondition(cond.Arg(ii)) {
			return false
		}
	}
	return true
}

// Modules returns the modules of the switch, in registration order.
func Modules() []ep.Module {
	return []ep.Module{
		&generic.If{Target: targets.Tofino, Supports: SupportsCondition},
		&generic.Call{Target: targets.Tofino, Name: "ParserExtraction", Functions: sets.MakeWith("packet_borrow_next_chunk")},
		&generic.Call{Target: targets.Tofino, Name: "ModifyHeader", Functions: sets.MakeWith("packet_return_chunk")},
		&generic.Call{
			Target: targets.Tofino, Name: "TableLookup", Functions: sets.MakeWith("map_get"),
			Places: true, DS: targets.Table, SubsumeNext: sets.MakeWith("dchain_rejuvenate_index"),
		},
		&generic.Call{Target: targets.Tofino, Name: "RegisterRead", Functions: sets.MakeWith("vector_borrow"), Places: true, DS: targets.Register},
		&generic.Call{Target: targets.Tofino, Name: "RegisterWrite", Functions: sets.MakeWith("vector_return"), Places: true, DS: targets.Register},
		&generic.Return{Target: targets.Tofino, Op: bdd.OpForward},
		&generic.Return{Target: targets.Tofino, Op: bdd.OpDrop},
		&generic.Return{Target: targets.Tofino, Op: bdd.OpBroadcast},
		&generic.Ignore{
			Target:    targets.Tofino,
			Functions: sets.MakeWith("current_time", "packet_get_unread_length", "nf_set_rte_ipv4_udptcp_checksum"),
		},
		&generic.SendTo{Target: targets.Tofino, To: targets.X86, Name: "SendToController"},
	}
}

// New builds the switch target from its options.
func New(options *platform.Options) (ep.TargetSpec, error) {
	stages, err := options.Int("stages", DefaultStages)
	if err != nil {
		return ep.TargetSpec{}, err
	}
	tablesPerStage, err := options.Int("tables_per_stage", DefaultTablesPerStage)
	if err != nil {
		return ep.TargetSpec{}, err
	}
	pps, err := options.Float("pps", DefaultPPS)
	if err != nil {
		return ep.TargetSpec{}, err
	}
	if stages < 1 || tablesPerStage < 1 {
		return ep.TargetSpec{}, errors.Errorf("tofino needs at least one stage and one table per stage, got stages=%d, tables_per_stage=%d",
			stages, tablesPerStage)
	}
	if pps <= 0 {
		return ep.TargetSpec{}, errors.Errorf("tofino pps must be positive, got %g", pps)
	}
	return ep.TargetSpec{Target: targets.Tofino, Modules: Modules(), Context: NewContext(stages, tablesPerStage, pps)}, nil
}
