// Package cache persists compiled snapshot content across runs.
//
// Content is split by kind: textual snapshots live in a single serialized
// file read and written wholesale at run boundaries, binary snapshots live as
// individual files under a directory tree. A Composite stitches both tiers
// together and only ever reports complete results.
package cache

import (
	"github.com/aretw0/kiln/pkg/core"
)

// ContentCache is the capability set shared by every cache tier.
type ContentCache interface {
	// Get returns the cached snapshots of rep, if any.
	Get(rep *core.Rep) (core.Snapshots, bool)

	// Set stores the snapshots of rep the tier is responsible for and
	// returns what was stored.
	Set(rep *core.Rep, snapshots core.Snapshots) (core.Snapshots, error)

	// Prune drops entries belonging to items not in items.
	Prune(items []*core.Item) error

	// Load and Store are bulk persistence hooks. Tiers that persist on
	// every write implement them as no-ops.
	Load() error
	Store() error
}

// liveIdentifiers returns the set of item identifiers in items.
func liveIdentifiers(items []*core.Item) map[string]bool {
	live := make(map[string]bool, len(items))
	for _, item := range items {
		live[item.Identifier] = true
	}
	return live
}

// filterByKind returns the snapshots whose content binary-ness equals binary.
func filterByKind(snapshots core.Snapshots, binary bool) core.Snapshots {
	out := make(core.Snapshots, len(snapshots))
	for name, content := range snapshots {
		if content != nil && content.IsBinary() == binary {
			out[name] = content
		}
	}
	return out
}
