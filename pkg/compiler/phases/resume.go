package phases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/fiber"
	"github.com/aretw0/kiln/pkg/notify"
)

// done is returned by a fiber body that ran to completion.
type done struct{}

// failure is returned by a fiber body whose computation failed.
type failure struct{ err error }

// Resume runs the wrapped phase on a fiber per rep. When the computation
// needs a snapshot that does not exist yet, the fiber stays suspended and
// the unmet dependency is returned; the next Run for the same rep picks up
// where the computation left off.
//
// Resume does not know why a dependency is unmet and does not detect cycles.
// Callers must not run the same rep from two goroutines at once.
type Resume struct {
	wrapped Phase
	events  *notify.Center
	logger  *slog.Logger

	mu      sync.Mutex
	fibers  map[core.RepKey]*fiber.Fiber
	running map[core.RepKey]bool
}

// NewResume wraps a phase.
func NewResume(wrapped Phase, events *notify.Center, logger *slog.Logger) *Resume {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resume{
		wrapped: wrapped,
		events:  events,
		logger:  logger,
		fibers:  make(map[core.RepKey]*fiber.Fiber),
		running: make(map[core.RepKey]bool),
	}
}

// Run implements Phase.
//
// The context and outdatedness of the first Run for a rep are the ones the
// computation sees for its whole lifetime.
func (p *Resume) Run(ctx context.Context, rep *core.Rep, isOutdated bool) error {
	f, err := p.acquire(ctx, rep, isOutdated)
	if err != nil {
		return err
	}
	defer p.release(rep)

	var in any
	for f.Alive() {
		out := f.Resume(in)
		in = nil

		switch v := out.(type) {
		case *core.UnmetDependencyError:
			p.events.Publish(notify.Event{
				Name:       notify.CompilationSuspended,
				Rep:        rep,
				Dependency: v.Rep,
				Snapshot:   v.Snapshot,
			}).Sync()
			return v

		case fiber.Deferred:
			in = v()

		case done:
			p.forget(rep)

		case failure:
			p.forget(rep)
			return v.err

		case fiber.Panic:
			p.forget(rep)
			p.logger.Debug("compilation panicked", "rep", rep.String(), "panic", v.Value, "stack", string(v.Stack))
			return &core.InternalInconsistencyError{
				Msg: fmt.Sprintf("compilation of %s panicked: %v", rep, v.Value),
			}

		default:
			p.forget(rep)
			f.Abandon()
			return &core.InternalInconsistencyError{
				Msg: fmt.Sprintf("fiber yielded object of unexpected type %T", out),
			}
		}
	}
	return nil
}

func (p *Resume) acquire(ctx context.Context, rep *core.Rep, isOutdated bool) (*fiber.Fiber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := rep.Key()
	if p.running[key] {
		return nil, &core.InternalInconsistencyError{
			Msg: fmt.Sprintf("%s is already being compiled", rep),
		}
	}

	f, ok := p.fibers[key]
	if !ok {
		f = fiber.New(ctx, func(ctx context.Context) any {
			if err := p.wrapped.Run(ctx, rep, isOutdated); err != nil {
				return failure{err: err}
			}
			return done{}
		})
		p.fibers[key] = f
	}
	p.running[key] = true
	return f, nil
}

func (p *Resume) release(rep *core.Rep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, rep.Key())
}

func (p *Resume) forget(rep *core.Rep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fibers, rep.Key())
}

// Suspended returns the reps whose computation is parked on a dependency.
func (p *Resume) Suspended() []core.RepKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]core.RepKey, 0, len(p.fibers))
	for key := range p.fibers {
		keys = append(keys, key)
	}
	return keys
}

// Abandon permanently stops every suspended computation. Used when a run
// ends early, e.g. on a dependency cycle.
func (p *Resume) Abandon() {
	p.mu.Lock()
	fibers := p.fibers
	p.fibers = make(map[core.RepKey]*fiber.Fiber)
	p.mu.Unlock()

	for _, f := range fibers {
		f.Abandon()
	}
}
