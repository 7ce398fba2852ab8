// Package phases implements the per-rep compilation pipeline.
//
// Each phase wraps the next one and decides whether, and how, to call it:
//
//	Notify -> Cache -> Resume -> Recalculate -> Recomputer
//
// Notify brackets the attempt with events, Cache reuses persisted content for
// reps that are not outdated, Resume runs the computation on a fiber that can
// be suspended on unmet dependencies, and Recalculate invokes the actual
// recomputation and checks its result.
package phases

import (
	"context"

	"github.com/aretw0/kiln/pkg/core"
)

// Phase compiles one rep.
type Phase interface {
	Run(ctx context.Context, rep *core.Rep, isOutdated bool) error
}

// PhaseFunc adapts a function to Phase.
type PhaseFunc func(ctx context.Context, rep *core.Rep, isOutdated bool) error

// Run implements Phase.
func (f PhaseFunc) Run(ctx context.Context, rep *core.Rep, isOutdated bool) error {
	return f(ctx, rep, isOutdated)
}

// Recomputer performs the actual transformation of a rep, writing snapshot
// content into the compiled content store. It may read other reps through
// store.CompiledContent, which suspends the computation when the content is
// not there yet.
type Recomputer interface {
	Recompute(ctx context.Context, rep *core.Rep) error
}

// RecomputerFunc adapts a function to Recomputer.
type RecomputerFunc func(ctx context.Context, rep *core.Rep) error

// Recompute implements Recomputer.
func (f RecomputerFunc) Recompute(ctx context.Context, rep *core.Rep) error {
	return f(ctx, rep)
}
