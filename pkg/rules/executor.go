package rules

import (
	"context"
	"fmt"

	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/fiber"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/store"
)

// Executor recomputes reps by running their rule's filters, writing each
// snapshot into the compiled content store as it is produced.
type Executor struct {
	plan    *Plan
	store   *store.CompiledContentStore
	events  *notify.Center
	filters map[string]Filter
}

// NewExecutor creates an executor for plan.
func NewExecutor(plan *Plan, contents *store.CompiledContentStore, events *notify.Center) *Executor {
	return &Executor{
		plan:   plan,
		store:  contents,
		events: events,
		filters: map[string]Filter{
			FilterInclude:  includeFilter(plan, contents),
			FilterMarkdown: markdownFilter(newMarkdown()),
			FilterTrim:     trimFilter,
		},
	}
}

// Recompute implements phases.Recomputer.
func (e *Executor) Recompute(ctx context.Context, rep *core.Rep) error {
	rule, ok := e.plan.Rule(rep)
	if !ok {
		return fmt.Errorf("no rule compiles %s", rep)
	}

	content := rep.Item.Content
	e.snapshot(ctx, rep, core.SnapshotRaw, content)

	for _, step := range rule.Filters {
		if name, ok := cutSnapshot(step); ok {
			e.snapshot(ctx, rep, name, content)
			continue
		}

		text, ok := content.(core.TextualContent)
		if !ok {
			return fmt.Errorf("filter %s cannot run on binary content of %s", step, rep)
		}
		filter, ok := e.filters[step]
		if !ok {
			return fmt.Errorf("unknown filter %q for %s", step, rep)
		}
		out, err := filter(ctx, rep, text.String)
		if err != nil {
			return err
		}
		content = core.TextualContent{String: out}
	}

	e.snapshot(ctx, rep, core.SnapshotLast, content)
	return nil
}

// snapshot stores content and announces it. Listeners run on the driving
// goroutine, never inside the computation.
func (e *Executor) snapshot(ctx context.Context, rep *core.Rep, name string, content core.Content) {
	e.store.Set(rep, name, content)
	fiber.Defer(ctx, func() any {
		e.events.Publish(notify.Event{Name: notify.SnapshotCreated, Rep: rep, Snapshot: name}).Sync()
		return nil
	})
}
