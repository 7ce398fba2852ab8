package phases

import (
	"context"
	"log/slog"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/store"
)

// Config holds the collaborators of a Pipeline.
type Config struct {
	Recomputer Recomputer
	Store      *store.CompiledContentStore
	Cache      cache.ContentCache
	Events     *notify.Center
	Recorder   store.DependencyRecorder // optional
	Logger     *slog.Logger
}

// Pipeline is the assembled phase chain.
type Pipeline struct {
	head   Phase
	resume *Resume
}

// NewPipeline assembles Notify -> Cache -> Resume -> Recalculate.
func NewPipeline(cfg Config) *Pipeline {
	recalculate := NewRecalculate(cfg.Recomputer, cfg.Store, cfg.Recorder)
	resume := NewResume(recalculate, cfg.Events, cfg.Logger)
	cached := NewCache(resume, cfg.Cache, cfg.Store, cfg.Events, cfg.Logger)
	head := NewNotify(cached, cfg.Events)

	return &Pipeline{head: head, resume: resume}
}

// Run implements Phase.
func (p *Pipeline) Run(ctx context.Context, rep *core.Rep, isOutdated bool) error {
	return p.head.Run(ctx, rep, isOutdated)
}

// Suspended returns the reps whose computation is parked on a dependency.
func (p *Pipeline) Suspended() []core.RepKey {
	return p.resume.Suspended()
}

// Abandon stops every suspended computation.
func (p *Pipeline) Abandon() {
	p.resume.Abandon()
}
