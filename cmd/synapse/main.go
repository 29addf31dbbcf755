// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// synapse searches the best execution plan of a network function, given as a decision
// diagram in JSON format, over a platform of heterogeneous targets.
//
// It writes one plan file per target (<target>.plan) listing the plan nodes realized on
// it, optionally DOT renderings of the diagram, the plan and the search space, and prints
// a summary of the search.
//
// Example:
//
//	synapse -in=nat.json -targets=tofino:stages=10,x86:cores=4 -heuristic=gallium -out=/tmp/nat -show_ep
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/snaplab-dpss/synapse-project-sub003/internal/workerspool"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/platform"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/support/fsutil"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/ui/commandline"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/viz"
)

var (
	flagIn      = flag.String("in", "", "Decision diagram of the network function, in JSON format.")
	flagTargets = flag.String("targets", "",
		fmt.Sprintf("Comma-separated list of targets, the first one being the initial target. Targets take "+
			"options after a colon, e.g. \"tofino:stages=10,x86:cores=4\". If empty, it is taken from $%s, "+
			"or defaults to %q.", platform.EnvTargets, platform.DefaultConfig))
	flagHeuristic = flag.String("heuristic", heuristic.DefaultName,
		fmt.Sprintf("Heuristic ranking the plans. One of %v.", heuristic.Names()))
	flagMaxReorderings = flag.Int("max_reorderings", 1, "Maximum number of diagram reorderings per plan. 0 disables reordering.")
	flagReorderWindow  = flag.Int("reorder_window", 2, "Number of calls past the next node considered for reordering.")
	flagMaxIterations  = flag.Int("max_iterations", 0, "Maximum number of plans popped from the frontier. 0 means no limit.")
	flagPeek           = flag.Int("peek", -1, "Stop the search at the first plan whose next node is this diagram node id, and dump it.")
	flagWorkers        = flag.Int("workers", workerspool.DefaultParallelism(), "Number of workers expanding plans in parallel. 0 runs sequentially.")
	flagTimeout        = flag.Duration("timeout", 0, "Stop the search after this long. 0 means no timeout.")
	flagOut            = flag.String("out", ".", "Directory where plan and DOT files are written.")
	flagShowEP         = flag.Bool("show_ep", false, "Write the DOT rendering of the best plan to ep.dot.")
	flagShowSS         = flag.Bool("show_ss", false, "Write the DOT rendering of the search space to ss.dot.")
	flagShowBDD        = flag.Bool("show_bdd", false, "Write the DOT rendering of the input diagram to bdd.dot.")
	flagProgress       = flag.Bool("progress", false, "Display a progress bar with search statistics.")
	flagDedup          = flag.Bool("dedup", false, "Prune plans structurally identical to one already generated.")
	flagCheck          = flag.Bool("check", false, "Check the integrity of every plan generated. Slow.")
)

// options of one run of the tool.
type options struct {
	In, Targets, Heuristic, Out string
	MaxReorderings              int
	ReorderWindow               int
	MaxIterations               int
	Peek                        int
	Workers                     int
	Timeout                     time.Duration
	ShowEP, ShowSS, ShowBDD     bool
	Progress, Dedup, Check      bool
}

func optionsFromFlags() options {
	return options{
		In:             *flagIn,
		Targets:        *flagTargets,
		Heuristic:      *flagHeuristic,
		Out:            *flagOut,
		MaxReorderings: *flagMaxReorderings,
		ReorderWindow:  *flagReorderWindow,
		MaxIterations:  *flagMaxIterations,
		Peek:           *flagPeek,
		Workers:        *flagWorkers,
		Timeout:        *flagTimeout,
		ShowEP:         *flagShowEP,
		ShowSS:         *flagShowSS,
		ShowBDD:        *flagShowBDD,
		Progress:       *flagProgress,
		Dedup:          *flagDedup,
		Check:          *flagCheck,
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagIn == "" {
		klog.Errorf("Missing decision diagram to read from, see 'synapse -help'.")
		os.Exit(1)
	}
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %v, see 'synapse -help'.", flag.Args())
		os.Exit(1)
	}
	if err := run(context.Background(), optionsFromFlags(), os.Stdout); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func loadPlatform(config string) (*ep.Platform, error) {
	if config == "" {
		return platform.FromEnv()
	}
	return platform.New(config)
}

// run loads the diagram, searches the best plan and writes the outputs.
func run(ctx context.Context, opts options, stdout io.Writer) (err error) {
	if opts.In, err = fsutil.ExpandPath(opts.In); err != nil {
		return err
	}
	if opts.Out, err = fsutil.ExpandPath(opts.Out); err != nil {
		return err
	}
	d, err := bdd.LoadFile(opts.In)
	if err != nil {
		return err
	}
	p, err := loadPlatform(opts.Targets)
	if err != nil {
		return err
	}
	h, err := heuristic.Get(opts.Heuristic)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.Out, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %q", opts.Out)
	}
	if opts.ShowBDD {
		if err := viz.WriteFile(filepath.Join(opts.Out, "bdd.dot"), func(w io.Writer) error { return viz.Diagram(w, d) }); err != nil {
			return err
		}
	}

	engine := search.New(p, d, nil).
		WithHeuristic(h).
		WithMaxReorderings(opts.MaxReorderings).
		WithReorderWindow(opts.ReorderWindow).
		WithMaxIterations(opts.MaxIterations).
		WithWorkers(opts.Workers).
		WithPruneDuplicates(opts.Dedup).
		WithIntegrityChecks(opts.Check).
		WithSpace(opts.ShowSS || opts.Peek >= 0)
	if opts.Peek >= 0 {
		engine.OnStep("peek", -1, search.PeekHook(bdd.NodeID(opts.Peek), func(engine *search.Engine, e *ep.EP) error {
			return peek(opts.Out, engine, e)
		}))
	}
	if opts.Progress {
		commandline.AttachProgressBarTo(engine, stdout)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	klog.V(1).Infof("searching plans for %q on %v with %s", opts.In, p.TargetList(), h)
	result, err := engine.Run(ctx)
	if err != nil {
		if result != nil && result.BestPartial != nil {
			klog.Warningf("best partial plan: %s", result.BestPartial)
		}
		return err
	}
	_, _ = fmt.Fprintln(stdout, commandline.Summary(result, h))

	plan := result.Best
	if plan == nil {
		klog.Warningf("search stopped (%s) before finding a complete plan, writing the best partial plan", result.StopReason)
		plan = result.BestPartial
	}
	if plan == nil {
		return nil
	}
	return writeOutputs(opts, result, plan)
}

// writeOutputs writes the plan file of each target, and the requested renderings.
func writeOutputs(opts options, result *search.Result, plan *ep.EP) error {
	for _, t := range plan.Platform().TargetList() {
		path := filepath.Join(opts.Out, t.String()+".plan")
		listing := commandline.PlanListing(plan, t)
		if exists, err := fsutil.FileExists(path); err != nil {
			return err
		} else if exists {
			klog.V(1).Infof("overwriting %s", path)
		}
		if err := os.WriteFile(path, []byte(listing), 0o644); err != nil {
			return errors.Wrapf(err, "failed to write plan of %s", t)
		}
		klog.V(1).Infof("wrote %s", path)
	}
	if opts.ShowEP {
		if err := viz.WriteFile(filepath.Join(opts.Out, "ep.dot"), func(w io.Writer) error { return viz.Plan(w, plan) }); err != nil {
			return err
		}
	}
	if opts.ShowSS && result.Space != nil {
		if err := viz.WriteFile(filepath.Join(opts.Out, "ss.dot"), func(w io.Writer) error { return viz.Space(w, result.Space) }); err != nil {
			return err
		}
	}
	return nil
}

var spewConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// peek dumps the plan where the search was stopped: its bookkeeping, its pending leaves
// and renderings of the plan and of the search space so far.
func peek(out string, engine *search.Engine, e *ep.EP) error {
	path := filepath.Join(out, "peek.txt")
	err := viz.WriteFile(path, func(w io.Writer) error {
		_, _ = fmt.Fprintf(w, "%s at iteration %d, next node #%d on %s\n",
			e, engine.Iteration(), e.Next().ID, e.ActiveTarget())
		_, _ = fmt.Fprintf(w, "traffic: %s\n", e.Context().TrafficString())
		spewConfig.Fdump(w, e.Meta())
		spewConfig.Fdump(w, e.Leaves())
		return nil
	})
	if err != nil {
		return err
	}
	if err := viz.WriteFile(filepath.Join(out, "peek.dot"), func(w io.Writer) error { return viz.Plan(w, e) }); err != nil {
		return err
	}
	if space := engine.Result().Space; space != nil {
		if err := viz.WriteFile(filepath.Join(out, "peek_ss.dot"), func(w io.Writer) error { return viz.Space(w, space) }); err != nil {
			return err
		}
	}
	klog.Infof("peeked %s, see %s", e, path)
	return nil
}
