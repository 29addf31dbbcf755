// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package x86 implements the control-plane CPU target: it can run any call, keeping
// stateful objects in software data structures, at a cost that grows with the number of
// operations it performs per packet.
//
// It registers itself with the platform package on import, under the name "x86". Options:
//
//   - cores: number of cores processing packets (default 1).
//   - pps_per_core: packets per second a core processes when doing no work (default 1e6).
//   - op_cost: relative cost of each operation (default 0.1), the capacity being
//     cores*pps_per_core/(1+op_cost*ops).
package x86

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/generic"
)

func init() {
	platform.Register(targets.X86, New)
}

// Default option values.
const (
	DefaultCores      = 1
	DefaultPPSPerCore = 1e6
	DefaultOpCost     = 0.1
)

// Context of the CPU target.
type Context struct {
	Cores      int
	PPSPerCore float64
	OpCost     float64

	// Ops is the number of operations run per packet.
	Ops int
}

var (
	_ targets.Context   = (*Context)(nil)
	_ generic.OpCounter = (*Context)(nil)
)

// Target implements targets.Context.
func (c *Context) Target() targets.Target { return targets.X86 }

// Clone implements targets.Context.
func (c *Context) Clone() targets.Context {
	cc := *c
	return &cc
}

// Capacity returns the packets per second the CPU sustains.
func (c *Context) Capacity() float64 {
	return float64(c.Cores) * c.PPSPerCore / (1 + c.OpCost*float64(c.Ops))
}

// Egress implements targets.Context.
func (c *Context) Egress(ingressPPS float64) float64 {
	return targets.SaturatingCurve(c.Capacity(), ingressPPS)
}

// AddOps implements generic.OpCounter.
func (c *Context) AddOps(n int) { c.Ops += n }

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("x86(cores=%d, ops=%d, capacity=%.3g pps)", c.Cores, c.Ops, c.Capacity())
}

// softwareDS maps object families to the software data structure implementing them.
var softwareDS = map[string]targets.DS{
	"map":    targets.Map,
	"vector": targets.Vector,
	"dchain": targets.DChain,
	"sketch": targets.Sketch,
	"cht":    targets.CHT,
}

// DSForFamily returns the software data structure for the given object family.
func DSForFamily(family string) (targets.DS, bool) {
	ds, found := softwareDS[family]
	return ds, found
}

// Modules returns the modules of the target, in registration order.
func Modules() []ep.Module {
	return []ep.Module{
		&generic.If{Target: targets.X86, Ops: 1},
		&generic.Call{
			Target: targets.X86, Name: "Call", AnyFunction: true,
			Places: true, DSForFamily: DSForFamily, Remote: true, Ops: 1,
		},
		&generic.Return{Target: targets.X86, Op: bdd.OpForward},
		&generic.Return{Target: targets.X86, Op: bdd.OpDrop},
		&generic.Return{Target: targets.X86, Op: bdd.OpBroadcast},
		&generic.InitReturn{Target: targets.X86},
	}
}

// New builds the CPU target from its options.
func New(options *platform.Options) (ep.TargetSpec, error) {
	ctx := &Context{}
	var err error
	if ctx.Cores, err = options.Int("cores", DefaultCores); err != nil {
		return ep.TargetSpec{}, err
	}
	if ctx.PPSPerCore, err = options.Float("pps_per_core", DefaultPPSPerCore); err != nil {
		return ep.TargetSpec{}, err
	}
	if ctx.OpCost, err = options.Float("op_cost", DefaultOpCost); err != nil {
		return ep.TargetSpec{}, err
	}
	switch {
	case ctx.Cores < 1:
		return ep.TargetSpec{}, errors.Errorf("x86 needs at least one core, got cores=%d", ctx.Cores)
	case ctx.PPSPerCore <= 0:
		return ep.TargetSpec{}, errors.Errorf("x86 pps_per_core must be positive, got %g", ctx.PPSPerCore)
	case ctx.OpCost < 0:
		return ep.TargetSpec{}, errors.Errorf("x86 op_cost must not be negative, got %g", ctx.OpCost)
	}
	return ep.TargetSpec{Target: targets.X86, Modules: Modules(), Context: ctx}, nil
}
