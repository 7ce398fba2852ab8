package cache

import (
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/aretw0/introspection"

	"github.com/aretw0/kiln/pkg/core"
)

const textualFormatVersion = 1

// textualIndex is the persisted shape of the textual cache:
// item identifier -> rep name -> snapshot name -> text.
type textualIndex struct {
	Version int                                     `cbor:"version"`
	Entries map[string]map[string]map[string]string `cbor:"entries"`
}

// Textual keeps the non-binary snapshots of every rep in memory and persists
// them as one envelope file.
type Textual struct {
	Path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]map[string]map[string]string
	dirty   bool
}

// NewTextual creates an empty textual cache backed by path.
func NewTextual(path string, logger *slog.Logger) *Textual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Textual{
		Path:    path,
		logger:  logger,
		entries: make(map[string]map[string]map[string]string),
	}
}

// Load reads the cache from disk. A missing or damaged file leaves the cache
// empty and is not an error, so a torn write costs a recompile and nothing
// more.
func (c *Textual) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var idx textualIndex
	found, err := ReadEnvelopeFile(c.Path, &idx)
	switch {
	case errors.Is(err, ErrCorrupt):
		c.logger.Warn("discarding unreadable textual cache", "path", c.Path, "error", err)
		c.entries = make(map[string]map[string]map[string]string)
		c.dirty = true
		return nil
	case err != nil:
		return err
	case !found:
		c.entries = make(map[string]map[string]map[string]string)
		c.dirty = false
		return nil
	}

	if idx.Version != textualFormatVersion || idx.Entries == nil {
		c.logger.Debug("textual cache format changed, starting fresh", "path", c.Path, "version", idx.Version)
		c.entries = make(map[string]map[string]map[string]string)
		c.dirty = true
		return nil
	}

	c.entries = idx.Entries
	c.dirty = false
	return nil
}

// Store persists the cache if it changed since the last Load or Store.
func (c *Textual) Store() error {
	c.mu.RLock()
	if !c.dirty {
		c.mu.RUnlock()
		return nil
	}
	data, err := EncodeEnvelope(textualIndex{Version: textualFormatVersion, Entries: c.entries})
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := writeFile(c.Path, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// Get returns the cached textual snapshots of rep.
func (c *Textual) Get(rep *core.Rep) (core.Snapshots, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snaps, ok := c.entries[rep.Item.Identifier][rep.Name]
	if !ok {
		return nil, false
	}

	out := make(core.Snapshots, len(snaps))
	for name, text := range snaps {
		out[name] = core.TextualContent{String: text}
	}
	return out, true
}

// Set replaces the cached textual snapshots of rep. Binary content is
// ignored. Writing back what is already cached leaves the cache clean.
func (c *Textual) Set(rep *core.Rep, snapshots core.Snapshots) (core.Snapshots, error) {
	kept := filterByKind(snapshots, false)

	texts := make(map[string]string, len(kept))
	for name, content := range kept {
		texts[name] = content.(core.TextualContent).String
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byRep, ok := c.entries[rep.Item.Identifier]
	if !ok {
		byRep = make(map[string]map[string]string)
		c.entries[rep.Item.Identifier] = byRep
	}
	if old, had := byRep[rep.Name]; had && maps.Equal(old, texts) {
		return kept, nil
	}
	byRep[rep.Name] = texts
	c.dirty = true

	return kept, nil
}

// Prune removes entries of items that are no longer present.
func (c *Textual) Prune(items []*core.Item) error {
	live := liveIdentifiers(items)

	c.mu.Lock()
	defer c.mu.Unlock()

	for identifier := range c.entries {
		if !live[identifier] {
			delete(c.entries, identifier)
			c.dirty = true
		}
	}
	return nil
}

// Len returns the number of cached reps.
func (c *Textual) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, byRep := range c.entries {
		n += len(byRep)
	}
	return n
}

// TextualState exposes internal state for observability.
type TextualState struct {
	Path  string `json:"path"`
	Reps  int    `json:"reps"`
	Dirty bool   `json:"dirty"`
}

// State implements introspection.Introspectable.
func (c *Textual) State() any {
	n := c.Len()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return TextualState{Path: c.Path, Reps: n, Dirty: c.dirty}
}

// ComponentType implements introspection.Component.
func (c *Textual) ComponentType() string {
	return "textual_cache"
}

var (
	_ ContentCache                 = (*Textual)(nil)
	_ introspection.Introspectable = (*Textual)(nil)
	_ introspection.Component      = (*Textual)(nil)
)
