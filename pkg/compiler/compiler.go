// Package compiler drives a full build: it loads items and persistent stores,
// decides which reps are outdated, compiles every rep through the phase
// pipeline, writes the results and persists the caches for the next run.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/google/uuid"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/compiler/phases"
	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/rules"
	"github.com/aretw0/kiln/pkg/store"
)

// Stage names, as published in stage events.
const (
	StageLoadStores            = "load_stores"
	StageDetermineOutdatedness = "determine_outdatedness"
	StageCompileReps           = "compile_reps"
	StageWriteReps             = "write_reps"
	StagePrune                 = "prune"
	StageStoreCaches           = "store_caches"
)

// Oracle decides which reps are outdated and learns the dependencies
// between reps while they compile.
type Oracle interface {
	store.DependencyRecorder
	Load() error
	Compute(reps []*core.Rep) error
	Outdated(rep *core.Rep) bool
	Store(compiled []*core.Rep) error
}

// OutputWriter persists compiled reps and returns how many outputs changed.
type OutputWriter interface {
	Write(ctx context.Context, reps []*core.Rep, contents *store.CompiledContentStore) (int, error)
}

// Config holds the collaborators of a Compiler.
type Config struct {
	Items core.ItemSource
	Rules *rules.RuleSet // nil means rules.Default()
	Cache cache.ContentCache

	// Oracle is optional; without it every rep is outdated.
	Oracle Oracle

	// Output builds the writer for a run's plan. Nil skips the write stage.
	Output func(plan *rules.Plan) OutputWriter

	// Prune removes cache entries of items that no longer exist.
	Prune bool

	Events *notify.Center
	Logger *slog.Logger
}

// Result summarises one run.
type Result struct {
	RunID       string
	Reps        int
	Compiled    []core.RepKey
	Cached      []core.RepKey
	Recomputed  []core.RepKey
	Suspensions int
	Written     int
	Duration    time.Duration
}

// Compiler runs builds. Runs are serialised.
type Compiler struct {
	cfg    Config
	events *notify.Center
	logger *slog.Logger

	runMu sync.Mutex

	mu    sync.RWMutex
	stage string
	last  *Result
}

// New creates a compiler.
func New(cfg Config) (*Compiler, error) {
	if cfg.Items == nil {
		return nil, errors.New("compiler: item source is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("compiler: content cache is required")
	}
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}

	events := cfg.Events
	if events == nil {
		events = notify.NewCenter()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Compiler{cfg: cfg, events: events, logger: logger}, nil
}

// Events returns the notification center runs publish on.
func (c *Compiler) Events() *notify.Center {
	return c.events
}

// run is the state of a single build.
type run struct {
	id       string
	logger   *slog.Logger
	items    []*core.Item
	plan     *rules.Plan
	contents *store.CompiledContentStore
	result   *Result

	mu     sync.Mutex
	cached map[core.RepKey]bool
}

// Compile runs a full build.
func (c *Compiler) Compile(ctx context.Context) (*Result, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	start := time.Now()
	r := &run{
		id:       uuid.NewString(),
		contents: store.New(),
		cached:   make(map[core.RepKey]bool),
	}
	r.logger = c.logger.With("run_id", r.id)
	r.result = &Result{RunID: r.id}

	unsubscribe := c.events.SubscribeAll(r.observe)
	defer unsubscribe()
	defer c.setStage("")

	r.logger.Info("compilation started")

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{StageLoadStores, c.loadStores},
		{StageDetermineOutdatedness, c.determineOutdatedness},
		{StageCompileReps, c.compileReps},
		{StageWriteReps, c.writeReps},
		{StagePrune, c.prune},
		{StageStoreCaches, c.storeCaches},
	}
	for _, st := range stages {
		if err := c.runStage(ctx, r, st.name, st.fn); err != nil {
			r.logger.Error("compilation failed", "stage", st.name, "error", err)
			return nil, err
		}
	}

	r.finish(time.Since(start))
	c.mu.Lock()
	c.last = r.result
	c.mu.Unlock()

	r.logger.Info("compilation finished",
		"reps", r.result.Reps,
		"cached", len(r.result.Cached),
		"recomputed", len(r.result.Recomputed),
		"suspensions", r.result.Suspensions,
		"written", r.result.Written,
		"duration", r.result.Duration)
	return r.result, nil
}

func (c *Compiler) runStage(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	if err := ctx.Err(); err != nil {
		c.events.Publish(notify.Event{Name: notify.StageAborted, Stage: name, Err: err}).Sync()
		return fmt.Errorf("stage %s: %w", name, err)
	}

	c.setStage(name)
	c.events.Publish(notify.Event{Name: notify.StageStarted, Stage: name}).Sync()

	t0 := time.Now()
	err := fn(ctx, r)
	r.logger.Debug("stage finished", "stage", name, "duration", time.Since(t0), "error", err)

	if err != nil {
		c.events.Publish(notify.Event{Name: notify.StageAborted, Stage: name, Err: err}).Sync()
		return fmt.Errorf("stage %s: %w", name, err)
	}
	c.events.Publish(notify.Event{Name: notify.StageEnded, Stage: name}).Sync()
	return nil
}

func (c *Compiler) loadStores(ctx context.Context, r *run) error {
	items, err := c.cfg.Items.Items(ctx)
	if err != nil {
		return err
	}
	plan, err := c.cfg.Rules.Plan(items)
	if err != nil {
		return err
	}
	r.items = items
	r.plan = plan
	r.result.Reps = len(plan.Reps)

	if err := c.cfg.Cache.Load(); err != nil {
		return fmt.Errorf("load content cache: %w", err)
	}
	if c.cfg.Oracle != nil {
		if err := c.cfg.Oracle.Load(); err != nil {
			return fmt.Errorf("load checksums: %w", err)
		}
	}
	return nil
}

func (c *Compiler) determineOutdatedness(_ context.Context, r *run) error {
	if c.cfg.Oracle == nil {
		return nil
	}
	return c.cfg.Oracle.Compute(r.plan.Reps)
}

func (c *Compiler) outdated(rep *core.Rep) bool {
	if c.cfg.Oracle == nil {
		return true
	}
	return c.cfg.Oracle.Outdated(rep)
}

func (c *Compiler) compileReps(ctx context.Context, r *run) error {
	var recorder store.DependencyRecorder
	if c.cfg.Oracle != nil {
		recorder = c.cfg.Oracle
	}

	pipeline := phases.NewPipeline(phases.Config{
		Recomputer: rules.NewExecutor(r.plan, r.contents, c.events),
		Store:      r.contents,
		Cache:      c.cfg.Cache,
		Events:     c.events,
		Recorder:   recorder,
		Logger:     r.logger,
	})
	// Computations still parked when the stage ends (cycle, failure,
	// cancellation) will never be resumed.
	defer pipeline.Abandon()

	sel := newSelector(r.plan.Reps)
	return sel.each(ctx, func(rep *core.Rep) error {
		return pipeline.Run(ctx, rep, c.outdated(rep))
	})
}

func (c *Compiler) writeReps(ctx context.Context, r *run) error {
	if c.cfg.Output == nil {
		return nil
	}
	n, err := c.cfg.Output(r.plan).Write(ctx, r.plan.Reps, r.contents)
	r.result.Written = n
	return err
}

func (c *Compiler) prune(_ context.Context, r *run) error {
	if !c.cfg.Prune {
		return nil
	}
	return c.cfg.Cache.Prune(r.items)
}

func (c *Compiler) storeCaches(_ context.Context, r *run) error {
	var errs []error
	if err := c.cfg.Cache.Store(); err != nil {
		errs = append(errs, fmt.Errorf("store content cache: %w", err))
	}
	if c.cfg.Oracle != nil {
		if err := c.cfg.Oracle.Store(r.compiledReps()); err != nil {
			errs = append(errs, fmt.Errorf("store checksums: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Prune loads the content cache, prunes the entries of items that no longer
// exist and stores it again, without compiling anything.
func (c *Compiler) Prune(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	items, err := c.cfg.Items.Items(ctx)
	if err != nil {
		return err
	}
	if err := c.cfg.Cache.Load(); err != nil {
		return fmt.Errorf("load content cache: %w", err)
	}
	if err := c.cfg.Cache.Prune(items); err != nil {
		return fmt.Errorf("prune content cache: %w", err)
	}
	return c.cfg.Cache.Store()
}

func (r *run) observe(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Name {
	case notify.CachedContentUsed:
		r.cached[e.Rep.Key()] = true
	case notify.CompilationSuspended:
		r.result.Suspensions++
	}
}

func (r *run) compiledReps() []*core.Rep {
	var out []*core.Rep
	for _, rep := range r.plan.Reps {
		if rep.Compiled() {
			out = append(out, rep)
		}
	}
	return out
}

func (r *run) finish(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rep := range r.compiledReps() {
		key := rep.Key()
		r.result.Compiled = append(r.result.Compiled, key)
		if r.cached[key] {
			r.result.Cached = append(r.result.Cached, key)
		} else {
			r.result.Recomputed = append(r.result.Recomputed, key)
		}
	}
	r.result.Duration = d
}

func (c *Compiler) setStage(name string) {
	c.mu.Lock()
	c.stage = name
	c.mu.Unlock()
}

// CompilerState exposes internal state for observability.
type CompilerState struct {
	Stage   string  `json:"stage,omitempty"`
	LastRun *Result `json:"last_run,omitempty"`
}

// State implements introspection.Introspectable.
func (c *Compiler) State() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CompilerState{Stage: c.stage, LastRun: c.last}
}

// ComponentType implements introspection.Component.
func (c *Compiler) ComponentType() string {
	return "compiler"
}

var (
	_ introspection.Introspectable = (*Compiler)(nil)
	_ introspection.Component      = (*Compiler)(nil)
)
