// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package targets enumerates the execution targets a decision diagram can be compiled to,
// and defines the per-target state carried by execution plans.
package targets

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Target is one of the execution environments of the platform.
type Target int

const (
	// X86 is the general-purpose control-plane CPU.
	X86 Target = iota

	// Tofino is the programmable switch dataplane.
	Tofino

	// FastPath is the fixed-function fast-path ASIC.
	FastPath

	// NumTargets is the number of valid targets.
	NumTargets
)

var targetNames = []string{"x86", "tofino", "fastpath"}

// String implements fmt.Stringer.
func (t Target) String() string {
	if t < 0 || t >= NumTargets {
		return fmt.Sprintf("Target(%d)", int(t))
	}
	return targetNames[t]
}

// Parse converts a target name (case-insensitive) into a Target.
func Parse(name string) (Target, error) {
	idx := slices.Index(targetNames, strings.ToLower(strings.TrimSpace(name)))
	if idx < 0 {
		return 0, errors.Errorf("unknown target %q, valid targets are %q", name, targetNames)
	}
	return Target(idx), nil
}

// All returns all valid targets.
func All() []Target {
	all := make([]Target, NumTargets)
	for ii := range all {
		all[ii] = Target(ii)
	}
	return all
}

// DS is the kind of data structure a stateful object is implemented with.
type DS int

const (
	// Software data structures, available on x86.
	Map DS = iota
	Vector
	DChain
	Sketch
	CHT

	// Hardware data structures.
	Table
	Register
	FlowCache
)

var dsNames = []string{"map", "vector", "dchain", "sketch", "cht", "table", "register", "flow_cache"}

// String implements fmt.Stringer.
func (ds DS) String() string {
	if ds < 0 || int(ds) >= len(dsNames) {
		return fmt.Sprintf("DS(%d)", int(ds))
	}
	return dsNames[ds]
}

// ModuleType identifies a module: the target it runs on and its name.
type ModuleType struct {
	Target Target
	Name   string
}

// String implements fmt.Stringer.
func (mt ModuleType) String() string {
	return mt.Target.String() + "." + mt.Name
}

// Context is the target-specific state of an execution plan: resource allocators and
// the capacity model of the target.
//
// Contexts are cloned along with the plan owning them, and a clone must never share
// mutable state with the original.
type Context interface {
	// Target this context belongs to.
	Target() Target

	// Clone returns a deep copy of the context.
	Clone() Context

	// Egress returns the rate (in packets per second) the target can process when offered
	// ingressPPS. It must satisfy Egress(x) <= x, and Egress(x)/x must not increase with x.
	Egress(ingressPPS float64) float64
}

// SaturatingCurve is the capacity curve of a target that processes everything up to
// its capacity and nothing beyond: min(ingress, capacity).
func SaturatingCurve(capacityPPS, ingressPPS float64) float64 {
	if ingressPPS <= 0 {
		return 0
	}
	return math.Min(ingressPPS, math.Max(capacityPPS, 0))
}
