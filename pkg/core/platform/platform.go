// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package platform assembles an ep.Platform from a configuration string, using the
// targets registered by the target packages.
//
// Targets register themselves on import, so to use all of them simply include:
//
//	import _ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all"
//
// The configuration string lists targets, separated by commas, each optionally followed
// by a colon and `key=value` options, e.g. "tofino:stages=12,tables_per_stage=8,x86:cores=4".
// Processing starts on the first target listed.
package platform

import (
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/solver"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/targets"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/sets"
)

// ErrUnknownTarget is wrapped by errors about targets that are not registered.
var ErrUnknownTarget = errors.New("unknown target")

// Constructor builds the modules and the initial context of a target from its options.
type Constructor func(options *Options) (ep.TargetSpec, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[targets.Target]Constructor)
)

// Register the constructor of a target. It is called by the target packages on init.
func Register(target targets.Target, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registeredConstructors[target] = constructor
}

// Registered returns the registered targets, in target order.
func Registered() []targets.Target {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	var list []targets.Target
	for _, t := range targets.All() {
		if _, found := registeredConstructors[t]; found {
			list = append(list, t)
		}
	}
	return list
}

// EnvTargets is the environment variable with the default platform configuration.
const EnvTargets = "SYNAPSE_TARGETS"

// DefaultConfig is used by FromEnv when EnvTargets is not set.
var DefaultConfig = "tofino,x86"

// FromEnv returns the platform configured by the environment variable SYNAPSE_TARGETS,
// or by DefaultConfig if it's not set.
func FromEnv() (*ep.Platform, error) {
	if config, found := os.LookupEnv(EnvTargets); found {
		return New(config)
	}
	return New(DefaultConfig)
}

// targetConfig is one target of a configuration string.
type targetConfig struct {
	target  targets.Target
	options map[string]string
}

func parseConfig(config string) ([]targetConfig, error) {
	var parsed []targetConfig
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, options, hasOptions := strings.Cut(part, ":")
		if !hasOptions && strings.Contains(part, "=") {
			// Extra option of the previous target.
			if len(parsed) == 0 {
				return nil, errors.Errorf("option %q given before any target in %q", part, config)
			}
			name, options = "", part
		}
		if name != "" {
			t, err := targets.Parse(name)
			if err != nil {
				return nil, errors.Wrapf(ErrUnknownTarget, "%v", err)
			}
			parsed = append(parsed, targetConfig{target: t, options: make(map[string]string)})
		}
		if options == "" {
			continue
		}
		key, value, found := strings.Cut(options, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, errors.Errorf("invalid option %q for target %s, expected key=value", options, parsed[len(parsed)-1].target)
		}
		parsed[len(parsed)-1].options[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(parsed) == 0 {
		return nil, errors.Errorf("no targets configured in %q", config)
	}
	return parsed, nil
}

// New builds the platform described by the configuration string (see package
// documentation), with the structural solver and the default throughput estimator.
func New(config string) (*ep.Platform, error) {
	parsed, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	p := &ep.Platform{Solver: solver.Structural{}, Estimator: ep.DefaultEstimator()}
	seen := sets.Make[targets.Target]()
	for _, tc := range parsed {
		if seen.Has(tc.target) {
			return nil, errors.Errorf("target %s configured more than once in %q", tc.target, config)
		}
		seen.Insert(tc.target)
		muRegistry.Lock()
		constructor, found := registeredConstructors[tc.target]
		muRegistry.Unlock()
		if !found {
			return nil, errors.Wrapf(ErrUnknownTarget, "target %s is not registered, maybe import _ %q?",
				tc.target, "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all")
		}
		options := &Options{target: tc.target, values: tc.options, used: sets.Make[string]()}
		spec, err := constructor(options)
		if err != nil {
			return nil, errors.WithMessagef(err, "while configuring target %s", tc.target)
		}
		if err := options.checkAllUsed(); err != nil {
			return nil, err
		}
		klog.V(1).Infof("platform: %s with %d modules, %v", tc.target, len(spec.Modules), spec.Context)
		p.Targets = append(p.Targets, spec)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid platform %q", config)
	}
	return p, nil
}

// Options of one target, as given in the configuration string.
type Options struct {
	target targets.Target
	values map[string]string
	used   sets.Set[string]
}

// NewOptions returns options with the given values, for use in tests and by callers
// building a single target.
func NewOptions(target targets.Target, values map[string]string) *Options {
	if values == nil {
		values = make(map[string]string)
	}
	return &Options{target: target, values: values, used: sets.Make[string]()}
}

// Int returns the integer option key, or defaultValue if not set.
func (o *Options) Int(key string, defaultValue int) (int, error) {
	o.used.Insert(key)
	raw, found := o.values[key]
	if !found {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "option %s=%q of target %s is not an integer", key, raw, o.target)
	}
	return v, nil
}

// Float returns the float option key, or defaultValue if not set. NaN and infinities
// are rejected.
func (o *Options) Float(key string, defaultValue float64) (float64, error) {
	o.used.Insert(key)
	raw, found := o.values[key]
	if !found {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "option %s=%q of target %s is not a number", key, raw, o.target)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("option %s=%q of target %s must be a finite number", key, raw, o.target)
	}
	return v, nil
}

func (o *Options) checkAllUsed() error {
	var unknown []string
	for key := range o.values {
		if !o.used.Has(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return errors.Errorf("unknown options %q for target %s", unknown, o.target)
	}
	return nil
}
