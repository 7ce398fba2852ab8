// Package lifecycle exposes kiln change feeds as lifecycle event sources.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/kiln/pkg/adapters/fs"
)

type changeSource struct {
	changes <-chan fs.Change
	out     chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that emits content change batches.
func NewSource(changes <-chan fs.Change) lifecycle.Source {
	return &changeSource{
		changes: changes,
		out:     make(chan lifecycle.Event),
	}
}

func (s *changeSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *changeSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case c, ok := <-s.changes:
				if !ok {
					return nil
				}
				select {
				case s.out <- c:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
