package phases

import (
	"context"

	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/notify"
)

// Notify publishes compilation_started before every attempt and
// compilation_ended once an attempt succeeds.
type Notify struct {
	wrapped Phase
	events  *notify.Center
}

// NewNotify wraps a phase.
func NewNotify(wrapped Phase, events *notify.Center) *Notify {
	return &Notify{wrapped: wrapped, events: events}
}

// Run implements Phase.
func (p *Notify) Run(ctx context.Context, rep *core.Rep, isOutdated bool) error {
	p.events.Publish(notify.Event{Name: notify.CompilationStarted, Rep: rep}).Sync()

	if err := p.wrapped.Run(ctx, rep, isOutdated); err != nil {
		return err
	}

	p.events.Publish(notify.Event{Name: notify.CompilationEnded, Rep: rep}).Sync()
	return nil
}
