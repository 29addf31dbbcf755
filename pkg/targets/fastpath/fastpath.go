// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package fastpath implements a fixed-function fast-path ASIC: it parses and rewrites
// headers and looks maps up in a bounded number of exact-match flow caches. Everything
// else goes to the controller.
//
// It registers itself with the platform package on import, under the name "fastpath".
// Options:
//
//   - flow_caches: number of flow caches available (default 2).
//   - pps: packets per second processed (default 1e9).
package fastpath

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/generic"
)

func init() {
	platform.Register(targets.FastPath, New)
}

// Default option values.
const (
	DefaultFlowCaches = 2
	DefaultPPS        = 1e9
)

// Context of the fast-path: the maps cached so far.
type Context struct {
	FlowCaches int
	PPS        float64
	caches     sets.Set[bdd.Addr]
}

var (
	_ targets.Context   = (*Context)(nil)
	_ generic.Allocator = (*Context)(nil)
)

// NewContext returns a context with no flow cache in use.
func NewContext(flowCaches int, pps float64) *Context {
	return &Context{FlowCaches: flowCaches, PPS: pps, caches: sets.Make[bdd.Addr]()}
}

// Target implements targets.Context.
func (c *Context) Target() targets.Target { return targets.FastPath }

// Clone implements targets.Context.
func (c *Context) Clone() targets.Context {
	cc := *c
	cc.caches = c.caches.Clone()
	return &cc
}

// Egress implements targets.Context.
func (c *Context) Egress(ingressPPS float64) float64 {
	return targets.SaturatingCurve(c.PPS, ingressPPS)
}

// Allocate implements generic.Allocator.
func (c *Context) Allocate(ds targets.DS, addr bdd.Addr) bool {
	if c.caches.Has(addr) {
		return true
	}
	if len(c.caches) >= c.FlowCaches {
		return false
	}
	c.caches.Insert(addr)
	return true
}

// UsedCaches returns the number of flow caches in use.
func (c *Context) UsedCaches() int { return len(c.caches) }

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("fastpath(caches=%d/%d)", len(c.caches), c.FlowCaches)
}

// Modules returns the modules of the fast-path, in registration order.
func Modules() []ep.Module {
	return []ep.Module{
		&generic.If{Target: targets.FastPath},
		&generic.Call{Target: targets.FastPath, Name: "ParserExtraction", Functions: sets.MakeWith("packet_borrow_next_chunk")},
		&generic.Call{Target: targets.FastPath, Name: "ModifyHeader", Functions: sets.MakeWith("packet_return_chunk")},
		&generic.Call{
			Target: targets.FastPath, Name: "FlowCacheLookup", Functions: sets.MakeWith("map_get"),
			Places: true, DS: targets.FlowCache,
		},
		&generic.Return{Target: targets.FastPath, Op: bdd.OpForward},
		&generic.Return{Target: targets.FastPath, Op: bdd.OpDrop},
		&generic.Ignore{Target: targets.FastPath, Functions: sets.MakeWith("current_time", "packet_get_unread_length")},
		&generic.SendTo{Target: targets.FastPath, To: targets.X86, Name: "SendToController"},
	}
}

// New builds the fast-path target from its options.
func New(options *platform.Options) (ep.TargetSpec, error) {
	flowCaches, err := options.Int("flow_caches", DefaultFlowCaches)
	if err != nil {
		return ep.TargetSpec{}, err
	}
	pps, err := options.Float("pps", DefaultPPS)
	if err != nil {
		return ep.TargetSpec{}, err
	}
	if flowCaches < 0 {
		return ep.TargetSpec{}, errors.Errorf("fastpath flow_caches must not be negative, got %d", flowCaches)
	}
	if pps <= 0 {
		return ep.TargetSpec{}, errors.Errorf("fastpath pps must be positive, got %g", pps)
	}
	return ep.TargetSpec{Target: targets.FastPath, Modules: Modules(), Context: NewContext(flowCaches, pps)}, nil
}
