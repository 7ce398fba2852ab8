// Package core holds the compilation domain: items, their representations,
// the snapshots a representation must produce and the content those
// snapshots carry.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
)

// Well-known snapshot names.
const (
	SnapshotRaw  = "raw"
	SnapshotPre  = "pre"
	SnapshotLast = "last"
)

// DefaultRepName is the representation name used when a rule does not name one.
const DefaultRepName = "default"

// Metadata represents the flexible key-value pairs associated with an item.
type Metadata map[string]any

// Item is a piece of source content identified by a path-like identifier
// (e.g. "/about.md"). Items are immutable once loaded.
type Item struct {
	Identifier string
	Content    Content
	Attributes Metadata
}

// NewItem creates an item. A nil attribute map is replaced by an empty one.
func NewItem(content Content, attributes Metadata, identifier string) *Item {
	if attributes == nil {
		attributes = Metadata{}
	}
	return &Item{
		Identifier: identifier,
		Content:    content,
		Attributes: attributes,
	}
}

// SnapshotDef declares a snapshot that a representation must produce.
type SnapshotDef struct {
	Name   string
	Binary bool
}

// RepKey identifies a representation: (item identifier, representation name).
// It is comparable and used as a map key throughout the compiler.
type RepKey struct {
	Item string
	Name string
}

func (k RepKey) String() string {
	return fmt.Sprintf("%s (rep name :%s)", k.Item, k.Name)
}

// Rep is one compiled variant of an item.
type Rep struct {
	Item         *Item
	Name         string
	SnapshotDefs []SnapshotDef

	// Fingerprint summarises the rule that compiles this rep. A changed
	// fingerprint makes the rep outdated.
	Fingerprint string

	compiled atomic.Bool
}

// NewRep creates a representation of item with the given snapshot definitions.
func NewRep(item *Item, name string, defs ...SnapshotDef) *Rep {
	return &Rep{
		Item:         item,
		Name:         name,
		SnapshotDefs: defs,
	}
}

// Key returns the identity of the rep.
func (r *Rep) Key() RepKey {
	return RepKey{Item: r.Item.Identifier, Name: r.Name}
}

// String renders the rep the way it appears in messages:
// "/foo.md (rep name :default)".
func (r *Rep) String() string {
	return r.Key().String()
}

// Compiled reports whether the phase pipeline has completed for this rep.
func (r *Rep) Compiled() bool {
	return r.compiled.Load()
}

// SetCompiled marks the rep as compiled (or not).
func (r *Rep) SetCompiled(compiled bool) {
	r.compiled.Store(compiled)
}

// SnapshotDef returns the last definition with the given name.
func (r *Rep) SnapshotDef(name string) (SnapshotDef, bool) {
	for i := len(r.SnapshotDefs) - 1; i >= 0; i-- {
		if r.SnapshotDefs[i].Name == name {
			return r.SnapshotDefs[i], true
		}
	}
	return SnapshotDef{}, false
}

// SnapshotNames returns the declared snapshot names in declaration order,
// without duplicates.
func (r *Rep) SnapshotNames() []string {
	seen := make(map[string]bool, len(r.SnapshotDefs))
	names := make([]string, 0, len(r.SnapshotDefs))
	for _, def := range r.SnapshotDefs {
		if seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		names = append(names, def.Name)
	}
	return names
}

// BinarySnapshotNames returns the set of snapshot names declared as binary.
func (r *Rep) BinarySnapshotNames() map[string]bool {
	out := make(map[string]bool)
	for _, name := range r.SnapshotNames() {
		if def, _ := r.SnapshotDef(name); def.Binary {
			out[name] = true
		}
	}
	return out
}

// Snapshots maps snapshot names to their content.
type Snapshots map[string]Content

// Clone returns a shallow copy. Content values are immutable, so this is
// enough to isolate callers from each other.
func (s Snapshots) Clone() Snapshots {
	out := make(Snapshots, len(s))
	for name, c := range s {
		out[name] = c
	}
	return out
}

// Names returns the snapshot names in sorted order.
func (s Snapshots) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ItemSource supplies the items of a site before compilation starts.
// Adhering to this interface keeps the compiler independent of where
// content is stored (filesystem, database, memory).
type ItemSource interface {
	// Items returns every item of the site.
	Items(ctx context.Context) ([]*Item, error)
}
