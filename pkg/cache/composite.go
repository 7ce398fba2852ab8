package cache

import (
	"errors"

	"github.com/aretw0/introspection"

	"github.com/aretw0/kiln/pkg/core"
)

// Composite routes textual snapshots to one tier and binary snapshots to
// another. It reports a hit only when the union of both tiers covers every
// snapshot the rep declares.
type Composite struct {
	Textual ContentCache
	Binary  ContentCache
}

// NewComposite combines a textual and a binary tier.
func NewComposite(textual, binary ContentCache) *Composite {
	return &Composite{Textual: textual, Binary: binary}
}

// Get implements ContentCache.
func (c *Composite) Get(rep *core.Rep) (core.Snapshots, bool) {
	union := make(core.Snapshots)

	// Each tier is trusted only for the content kind it owns.
	if snaps, ok := c.Textual.Get(rep); ok {
		for name, content := range filterByKind(snaps, false) {
			union[name] = content
		}
	}
	if snaps, ok := c.Binary.Get(rep); ok {
		for name, content := range filterByKind(snaps, true) {
			union[name] = content
		}
	}

	if len(union) == 0 {
		return nil, false
	}
	for _, name := range rep.SnapshotNames() {
		if _, ok := union[name]; !ok {
			return nil, false
		}
	}
	return union, true
}

// Set writes through to both tiers. Each tier keeps only the kind of content
// it owns.
func (c *Composite) Set(rep *core.Rep, snapshots core.Snapshots) (core.Snapshots, error) {
	out := make(core.Snapshots, len(snapshots))

	textual, errT := c.Textual.Set(rep, snapshots)
	for name, content := range textual {
		out[name] = content
	}
	binary, errB := c.Binary.Set(rep, snapshots)
	for name, content := range binary {
		out[name] = content
	}

	return out, errors.Join(errT, errB)
}

// Prune implements ContentCache.
func (c *Composite) Prune(items []*core.Item) error {
	return errors.Join(c.Textual.Prune(items), c.Binary.Prune(items))
}

// Load implements ContentCache.
func (c *Composite) Load() error {
	return errors.Join(c.Textual.Load(), c.Binary.Load())
}

// Store implements ContentCache.
func (c *Composite) Store() error {
	return errors.Join(c.Textual.Store(), c.Binary.Store())
}

// CompositeState exposes the state of both tiers.
type CompositeState struct {
	Textual any `json:"textual,omitempty"`
	Binary  any `json:"binary,omitempty"`
}

// State implements introspection.Introspectable.
func (c *Composite) State() any {
	var state CompositeState
	if i, ok := c.Textual.(introspection.Introspectable); ok {
		state.Textual = i.State()
	}
	if i, ok := c.Binary.(introspection.Introspectable); ok {
		state.Binary = i.State()
	}
	return state
}

// ComponentType implements introspection.Component.
func (c *Composite) ComponentType() string {
	return "composite_cache"
}

var (
	_ ContentCache                 = (*Composite)(nil)
	_ introspection.Introspectable = (*Composite)(nil)
	_ introspection.Component      = (*Composite)(nil)
)
