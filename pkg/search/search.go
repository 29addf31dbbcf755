// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package search implements the execution plan search: starting from a plan with the
// whole diagram pending, the Engine repeatedly pops the best plan of its frontier,
// expands its next diagram node with every module of the platform and pushes the
// successors back, until no plan has work left.
//
// A typical use:
//
//	p := must.M1(platform.New("tofino,x86"))
//	engine := search.New(p, diagram, nil).WithHeuristic(must.M1(heuristic.Get("gallium")))
//	result, err := engine.Run(ctx)
//	if err != nil { ... }
//	fmt.Println(result.Best)
package search

import (
	"context"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/snaplab-dpss/synapse-project-sub003/internal/workerspool"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/bdd"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/ep"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/core/profiler"
	"github.com/snaplab-dpss/synapse-project-sub003/pkg/search/heuristic"
)

var (
	// ErrSynthesisFailure is returned when the frontier is exhausted without any complete
	// plan: no assignment of the diagram to the configured targets exists.
	ErrSynthesisFailure = errors.New("synthesis failure")

	// ErrInvariantViolation is returned when a plan breaks one of the execution plan
	// invariants. It signals a bug in a module or in the engine.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Config of the search.
type Config struct {
	// Heuristic ranks the plans in the frontier.
	Heuristic *heuristic.Heuristic

	// MaxReorderings is the maximum number of diagram reorderings in any plan. 0 disables
	// reordering.
	MaxReorderings int

	// ReorderWindow is how many calls past the next node are considered for reordering.
	ReorderWindow int

	// MaxIterations bounds the number of plans popped from the frontier. 0 means no limit.
	MaxIterations int

	// Workers expanding and scoring plans in parallel. 0 does everything inline.
	Workers int

	// PruneDuplicates discards plans structurally identical to one already generated.
	PruneDuplicates bool

	// CheckIntegrity asserts the integrity of every plan generated.
	CheckIntegrity bool

	// TieBreak among equally scored plans.
	TieBreak TieBreak

	// RecordSpace keeps the tree of generated plans in Result.Space.
	RecordSpace bool
}

// DefaultConfig returns the default configuration: the default heuristic, up to one
// reordering looking two calls ahead, sequential and unbounded search.
func DefaultConfig() Config {
	h, err := heuristic.Get(heuristic.DefaultName)
	if err != nil {
		panic(err)
	}
	return Config{
		Heuristic:      h,
		MaxReorderings: 1,
		ReorderWindow:  2,
	}
}

// Result of a search.
type Result struct {
	// RunID identifies the run in logs and output files.
	RunID uuid.UUID

	// Best is the best complete plan found, or nil if none was.
	Best      *ep.EP
	BestScore heuristic.Score

	// BestPartial is the best scored plan popped, complete or not. It is the plan to
	// inspect when the search is stopped before finding a solution.
	BestPartial      *ep.EP
	BestPartialScore heuristic.Score

	// Solutions counts the complete plans found.
	Solutions int

	// Iterations counts the plans popped from the frontier, Expanded those expanded and
	// DeadEnds those without successors. Pruned counts duplicate plans discarded.
	Iterations, Expanded, DeadEnds, Pruned int

	// Stopped is set if the search ended before exhausting the frontier, for StopReason.
	Stopped    bool
	StopReason string

	// Space is the tree of generated plans, if Config.RecordSpace is set.
	Space *Space

	// ExpansionDurations holds the time taken by each expansion.
	ExpansionDurations []time.Duration
}

// Engine searches execution plans. Create one with New, configure it and call Run.
type Engine struct {
	platform *ep.Platform
	diagram  *bdd.Diagram
	profiler *profiler.Profiler
	config   Config

	onStart    *priorityHooks[OnStartFn]
	onStep     *priorityHooks[OnStepFn]
	onSolution *priorityHooks[OnSolutionFn]
	onEnd      *priorityHooks[OnEndFn]

	// State of the current run.
	frontier  *frontier
	result    *Result
	seen      map[uint64]struct{}
	iteration int
}

// New creates an engine searching plans for diagram on platform, with the default
// configuration. If prof is nil, one is built from the hit rates recorded in the diagram.
func New(p *ep.Platform, d *bdd.Diagram, prof *profiler.Profiler) *Engine {
	return &Engine{
		platform:   p,
		diagram:    d,
		profiler:   prof,
		config:     DefaultConfig(),
		onStart:    newPriorityHooks[OnStartFn](),
		onStep:     newPriorityHooks[OnStepFn](),
		onSolution: newPriorityHooks[OnSolutionFn](),
		onEnd:      newPriorityHooks[OnEndFn](),
	}
}

// WithConfig replaces the whole configuration. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithConfig(config Config) *Engine {
	engine.config = config
	return engine
}

// WithHeuristic sets Config.Heuristic. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithHeuristic(h *heuristic.Heuristic) *Engine {
	engine.config.Heuristic = h
	return engine
}

// WithMaxReorderings sets Config.MaxReorderings. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithMaxReorderings(n int) *Engine {
	engine.config.MaxReorderings = n
	return engine
}

// WithReorderWindow sets Config.ReorderWindow. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithReorderWindow(n int) *Engine {
	engine.config.ReorderWindow = n
	return engine
}

// WithMaxIterations sets Config.MaxIterations. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithMaxIterations(n int) *Engine {
	engine.config.MaxIterations = n
	return engine
}

// WithWorkers sets Config.Workers. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithWorkers(n int) *Engine {
	engine.config.Workers = n
	return engine
}

// WithPruneDuplicates sets Config.PruneDuplicates. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithPruneDuplicates(prune bool) *Engine {
	engine.config.PruneDuplicates = prune
	return engine
}

// WithIntegrityChecks sets Config.CheckIntegrity. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithIntegrityChecks(check bool) *Engine {
	engine.config.CheckIntegrity = check
	return engine
}

// WithTieBreak sets Config.TieBreak. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithTieBreak(tb TieBreak) *Engine {
	engine.config.TieBreak = tb
	return engine
}

// WithSpace sets Config.RecordSpace. It returns the engine, so calls can be cascaded.
func (engine *Engine) WithSpace(record bool) *Engine {
	engine.config.RecordSpace = record
	return engine
}

// Config returns the current configuration.
func (engine *Engine) Config() Config { return engine.config }

// Platform returns the platform plans are built for.
func (engine *Engine) Platform() *ep.Platform { return engine.platform }

// Diagram returns the diagram being compiled.
func (engine *Engine) Diagram() *bdd.Diagram { return engine.diagram }

// Iteration returns the number of plans popped so far in the current run.
func (engine *Engine) Iteration() int { return engine.iteration }

// FrontierSize returns the number of plans waiting in the frontier.
func (engine *Engine) FrontierSize() int {
	if engine.frontier == nil {
		return 0
	}
	return engine.frontier.Len()
}

// Result returns the result of the current run so far. It's meant for hooks, and must
// not be modified.
func (engine *Engine) Result() *Result { return engine.result }

// Run searches for the best plan, according to the configured heuristic.
//
// The search ends when the frontier is exhausted, on the first solution if the heuristic
// asks so, when MaxIterations is reached, when ctx is done or when a hook returns ErrStop.
// In the last three cases Result.Stopped is set and the best plans so far are returned.
//
// If no solution exists it returns the result with an error wrapping ErrSynthesisFailure.
// Invariant violations abort the run with an error wrapping ErrInvariantViolation.
func (engine *Engine) Run(ctx context.Context) (*Result, error) {
	if engine.config.Heuristic == nil || len(engine.config.Heuristic.Metrics) == 0 {
		return nil, errors.New("search needs a heuristic with at least one metric")
	}
	if err := engine.platform.Validate(); err != nil {
		return nil, err
	}
	engine.result = &Result{RunID: uuid.New()}
	if engine.config.RecordSpace {
		engine.result.Space = newSpace()
	}
	engine.frontier = &frontier{tieBreak: engine.config.TieBreak}
	engine.seen = make(map[uint64]struct{})
	engine.iteration = 0

	var runErr error
	caught := exceptions.TryCatch[error](func() { runErr = engine.run(ctx) })
	result := engine.result
	if caught != nil {
		return result, errors.Wrapf(ErrInvariantViolation, "search run %s aborted: %v", result.RunID, caught)
	}
	if runErr != nil {
		return result, runErr
	}
	if result.Best == nil && !result.Stopped {
		return result, errors.Wrapf(ErrSynthesisFailure, "no execution plan found for diagram with root #%d on targets %v (%d plans expanded, %d dead ends)",
			engine.diagram.RootID(), engine.platform.TargetList(), result.Expanded, result.DeadEnds)
	}
	return result, nil
}

// stop marks the result as stopped.
func (engine *Engine) stop(reason string) {
	engine.result.Stopped = true
	engine.result.StopReason = reason
	klog.V(1).Infof("search %s stopped after %d iterations: %s", engine.result.RunID, engine.iteration, reason)
}

func (engine *Engine) run(ctx context.Context) error {
	result := engine.result
	h := engine.config.Heuristic
	pool := workerspool.New(engine.config.Workers)

	root := ep.New(engine.platform, engine.diagram, engine.profiler)
	if engine.config.CheckIntegrity {
		root.AssertIntegrity()
	}
	rootScore := h.Score(root)
	engine.frontier.push(root, rootScore)
	engine.seen[root.Fingerprint()] = struct{}{}
	if result.Space != nil {
		result.Space.add(nil, root, rootScore)
	}

	err := engine.onStart.run("OnStart", func(fn OnStartFn) error { return fn(engine) })
	if err != nil && !errors.Is(err, ErrStop) {
		return err
	}
	if err == nil {
		err = engine.loop(ctx, pool)
		if err != nil && !errors.Is(err, ErrStop) {
			return err
		}
	}
	if errors.Is(err, ErrStop) {
		engine.stop("stopped by hook")
	}
	if result.Space != nil && result.Best != nil {
		result.Space.Winner = result.Best.ID()
	}
	return engine.onEnd.run("OnEnd", func(fn OnEndFn) error {
		if err := fn(engine, result); !errors.Is(err, ErrStop) {
			return err
		}
		return nil
	})
}

// loop runs iterations until the frontier is exhausted or the search is stopped.
func (engine *Engine) loop(ctx context.Context, pool *workerspool.Pool) error {
	result := engine.result
	h := engine.config.Heuristic
	for engine.frontier.Len() > 0 {
		if err := ctx.Err(); err != nil {
			engine.stop(err.Error())
			return nil
		}
		if engine.config.MaxIterations > 0 && engine.iteration >= engine.config.MaxIterations {
			engine.stop("maximum number of iterations reached")
			return nil
		}
		item := engine.frontier.pop()
		e := item.ep
		engine.iteration++
		result.Iterations++
		if result.BestPartial == nil || item.score.Compare(result.BestPartialScore) > 0 {
			result.BestPartial, result.BestPartialScore = e, item.score
		}
		if result.Space != nil {
			result.Space.nodes[e.ID()].Iteration = engine.iteration
		}
		if err := engine.onStep.run("OnStep", func(fn OnStepFn) error { return fn(engine, e) }); err != nil {
			return err
		}

		if e.Terminal() {
			if err := engine.solution(e, item.score); err != nil {
				return err
			}
			if h.TerminateOnFirstSolution {
				return nil
			}
			continue
		}

		start := time.Now()
		successors := engine.expand(e, pool)
		result.Expanded++
		if len(successors) == 0 {
			result.DeadEnds++
			klog.V(2).Infof("EP#%d: dead end at %s on %s", e.ID(), e.Next(), e.ActiveTarget())
			if result.Space != nil {
				result.Space.mark(e.ID(), DeadEnd)
			}
			result.ExpansionDurations = append(result.ExpansionDurations, time.Since(start))
			continue
		}
		if result.Space != nil {
			result.Space.mark(e.ID(), Expanded)
		}
		engine.publish(e, successors, pool)
		result.ExpansionDurations = append(result.ExpansionDurations, time.Since(start))
	}
	return nil
}

// solution records a complete plan.
func (engine *Engine) solution(e *ep.EP, score heuristic.Score) error {
	result := engine.result
	if err := e.CheckCoverage(); err != nil {
		exceptions.Panicf("complete plan #%d: %v", e.ID(), err)
	}
	result.Solutions++
	if result.Space != nil {
		result.Space.mark(e.ID(), Solution)
	}
	better := result.Best == nil
	if !better {
		switch cmp := score.Compare(result.BestScore); {
		case cmp > 0:
			better = true
		case cmp == 0:
			better = e.Meta().Depth < result.Best.Meta().Depth
		}
	}
	if better {
		result.Best, result.BestScore = e, score
		klog.V(1).Infof("search %s: new best plan EP#%d with score %s", result.RunID, e.ID(),
			engine.config.Heuristic.Describe(score))
	}
	return engine.onSolution.run("OnSolution", func(fn OnSolutionFn) error { return fn(engine, e) })
}

// expand returns the successors of e: the plans returned by every module of every
// target processing the next node of e, in registration order, followed by their
// reordered variants.
func (engine *Engine) expand(e *ep.EP, pool *workerspool.Pool) []*ep.EP {
	node := e.Next()
	var modules []ep.Module
	for _, spec := range engine.platform.Targets {
		modules = append(modules, spec.Modules...)
	}
	perModule := make([][]*ep.EP, len(modules))
	pool.Run(len(modules), func(ii int) {
		perModule[ii] = modules[ii].Process(e, node)
	})
	var successors []*ep.EP
	for ii, list := range perModule {
		if len(list) > 0 {
			klog.V(2).Infof("EP#%d: %s realizes %s in %d ways", e.ID(), modules[ii].Type(), node, len(list))
		}
		successors = append(successors, list...)
	}
	if engine.config.MaxReorderings <= 0 {
		return successors
	}
	numDirect := len(successors)
	for _, s := range successors[:numDirect] {
		if s.Terminal() || s.Meta().Reorderings >= engine.config.MaxReorderings {
			continue
		}
		for _, candidate := range ep.ReorderCandidates(s, engine.config.ReorderWindow) {
			reordered, err := ep.Reorder(s, candidate)
			if err != nil {
				klog.V(2).Infof("EP#%d: reordering %v failed: %v", s.ID(), candidate, err)
				continue
			}
			klog.V(2).Infof("EP#%d: reordered variant EP#%d brings #%d before #%d", s.ID(), reordered.ID(),
				candidate.Moved, candidate.Anchor)
			successors = append(successors, reordered)
		}
	}
	return successors
}

// publish checks, scores and pushes the successors of parent to the frontier.
func (engine *Engine) publish(parent *ep.EP, successors []*ep.EP, pool *workerspool.Pool) {
	result := engine.result
	h := engine.config.Heuristic
	scores := make([]heuristic.Score, len(successors))
	fingerprints := make([]uint64, len(successors))
	pool.Run(len(successors), func(ii int) {
		s := successors[ii]
		if engine.config.CheckIntegrity {
			s.AssertIntegrity()
		}
		if engine.config.PruneDuplicates {
			fingerprints[ii] = s.Fingerprint()
		}
		scores[ii] = h.Score(s)
	})
	for ii, s := range successors {
		var spaceNode *SpaceNode
		if result.Space != nil {
			spaceNode = result.Space.add(parent, s, scores[ii])
		}
		if engine.config.PruneDuplicates {
			if _, found := engine.seen[fingerprints[ii]]; found {
				result.Pruned++
				if spaceNode != nil {
					spaceNode.Status = Pruned
				}
				continue
			}
			engine.seen[fingerprints[ii]] = struct{}{}
		}
		engine.frontier.push(s, scores[ii])
	}
}
