// Package store holds compiled snapshot content for the duration of a single
// build. It is the source of truth while compiling: phases read and write
// it, and the persistent cache is refreshed from it.
package store

import (
	"context"
	"sync"

	"github.com/aretw0/introspection"

	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/fiber"
)

// DependencyRecorder learns which reps read which other reps while compiling.
type DependencyRecorder interface {
	// StartRecording is called when rep's computation begins; dependencies
	// recorded earlier for rep are discarded.
	StartRecording(rep *core.Rep)

	// RecordDependency notes that dependent read a snapshot of dependency.
	RecordDependency(dependent, dependency *core.Rep)
}

type accessKey struct{}

type access struct {
	recorder  DependencyRecorder
	dependent *core.Rep
}

// WithDependent returns a context under which every CompiledContent call is
// recorded as a dependency of dependent.
func WithDependent(ctx context.Context, recorder DependencyRecorder, dependent *core.Rep) context.Context {
	if recorder == nil {
		return ctx
	}
	return context.WithValue(ctx, accessKey{}, access{recorder: recorder, dependent: dependent})
}

// CompiledContentStore maps (rep, snapshot name) to content.
// Entries are never removed during a run.
type CompiledContentStore struct {
	mu       sync.RWMutex
	contents map[core.RepKey]core.Snapshots
}

// New creates an empty store.
func New() *CompiledContentStore {
	return &CompiledContentStore{
		contents: make(map[core.RepKey]core.Snapshots),
	}
}

// Get returns the content of one snapshot.
func (s *CompiledContentStore) Get(rep *core.Rep, snapshot string) (core.Content, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contents[rep.Key()][snapshot]
	return c, ok
}

// GetAll returns a copy of every snapshot stored for rep. The result is empty,
// never nil, when nothing is stored.
func (s *CompiledContentStore) GetAll(rep *core.Rep) core.Snapshots {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, ok := s.contents[rep.Key()]
	if !ok {
		return core.Snapshots{}
	}
	return snaps.Clone()
}

// Set stores the content of one snapshot, leaving the rep's other snapshots intact.
func (s *CompiledContentStore) Set(rep *core.Rep, snapshot string, content core.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rep.Key()
	snaps, ok := s.contents[key]
	if !ok {
		snaps = make(core.Snapshots)
		s.contents[key] = snaps
	}
	snaps[snapshot] = content
}

// SetAll replaces every snapshot of rep. Other reps are untouched.
func (s *CompiledContentStore) SetAll(rep *core.Rep, snapshots core.Snapshots) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contents[rep.Key()] = snapshots.Clone()
}

// CompiledContent returns the text of rep's snapshot, as seen by a filter
// compiling some other rep. An empty snapshot name means "last".
//
// Errors:
//   - the snapshot is not declared on rep: *core.NoSuchSnapshotError.
//   - the snapshot is declared but not yet produced: inside a fiber the
//     fiber yields a *core.UnmetDependencyError and retries once resumed;
//     outside a fiber the error is returned.
//   - the snapshot holds binary content: *core.BinaryContentAccessError.
func (s *CompiledContentStore) CompiledContent(ctx context.Context, rep *core.Rep, snapshot string) (string, error) {
	if snapshot == "" {
		snapshot = core.SnapshotLast
	}

	if _, ok := rep.SnapshotDef(snapshot); !ok {
		return "", &core.NoSuchSnapshotError{Rep: rep, Snapshot: snapshot}
	}

	if a, ok := ctx.Value(accessKey{}).(access); ok {
		a.recorder.RecordDependency(a.dependent, rep)
	}

	var content core.Content
	for {
		c, ok := s.Get(rep, snapshot)
		if ok {
			content = c
			break
		}

		unmet := &core.UnmetDependencyError{Rep: rep, Snapshot: snapshot}
		if _, inFiber := fiber.Current(ctx); !inFiber {
			return "", unmet
		}
		fiber.Yield(ctx, unmet)
	}

	text, ok := content.(core.TextualContent)
	if !ok {
		return "", &core.BinaryContentAccessError{Rep: rep}
	}
	return text.String, nil
}

// StoreState exposes internal state for observability.
type StoreState struct {
	Reps      int `json:"reps"`
	Snapshots int `json:"snapshots"`
}

// State implements introspection.Introspectable.
func (s *CompiledContentStore) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := StoreState{Reps: len(s.contents)}
	for _, snaps := range s.contents {
		state.Snapshots += len(snaps)
	}
	return state
}

// ComponentType implements introspection.Component.
func (s *CompiledContentStore) ComponentType() string {
	return "compiled_content_store"
}

var _ introspection.Introspectable = (*CompiledContentStore)(nil)
var _ introspection.Component = (*CompiledContentStore)(nil)
