package phases

import (
	"context"
	"log/slog"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/store"
)

// Cache reuses persisted content for reps that are not outdated and refreshes
// the cache from the compiled content store afterwards.
type Cache struct {
	wrapped Phase
	cache   cache.ContentCache
	store   *store.CompiledContentStore
	events  *notify.Center
	logger  *slog.Logger
}

// NewCache wraps a phase.
func NewCache(wrapped Phase, contentCache cache.ContentCache, contents *store.CompiledContentStore, events *notify.Center, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		wrapped: wrapped,
		cache:   contentCache,
		store:   contents,
		events:  events,
		logger:  logger,
	}
}

// Run implements Phase.
//
// Outdated reps are always recomputed and the cache is not consulted. When
// the wrapped phase fails, including on an unmet dependency, the rep is left
// uncompiled and the cache untouched.
func (p *Cache) Run(ctx context.Context, rep *core.Rep, isOutdated bool) error {
	if snaps, ok := p.reusable(rep, isOutdated); ok {
		p.events.Publish(notify.Event{Name: notify.CachedContentUsed, Rep: rep}).Sync()
		p.store.SetAll(rep, snaps)
	} else if err := p.wrapped.Run(ctx, rep, isOutdated); err != nil {
		return err
	}

	rep.SetCompiled(true)

	// The store is the source of truth from here on; the cache is only an
	// accelerator for the next run.
	if _, err := p.cache.Set(rep, p.store.GetAll(rep)); err != nil {
		p.logger.Warn("failed to update compiled content cache", "rep", rep.String(), "error", err)
	}
	return nil
}

func (p *Cache) reusable(rep *core.Rep, isOutdated bool) (core.Snapshots, bool) {
	if isOutdated {
		return nil, false
	}
	return p.cache.Get(rep)
}
