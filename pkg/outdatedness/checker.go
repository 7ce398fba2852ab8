// Package outdatedness decides which reps must be recompiled.
//
// A rep is outdated when its own inputs changed since the last successful
// run, or when any rep it read during that run is outdated or gone. Inputs
// are summarised as a BLAKE3 checksum over the item identifier, the rep name
// and rule fingerprint, the raw content and the attributes.
package outdatedness

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/aretw0/introspection"
	"github.com/zeebo/blake3"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/store"
)

const formatVersion = 1

type record struct {
	Checksum     string
	Dependencies []core.RepKey
}

type persistedRep struct {
	Item         string         `cbor:"item"`
	Rep          string         `cbor:"rep"`
	Checksum     string         `cbor:"checksum"`
	Dependencies []persistedKey `cbor:"deps,omitempty"`
}

type persistedKey struct {
	Item string `cbor:"item"`
	Rep  string `cbor:"rep"`
}

type persisted struct {
	Version int            `cbor:"version"`
	Reps    []persistedRep `cbor:"reps"`
}

// Checker computes checksums, answers outdatedness queries and records the
// dependencies discovered while compiling.
type Checker struct {
	Path   string
	logger *slog.Logger

	mu       sync.Mutex
	previous map[core.RepKey]record
	current  map[core.RepKey]string
	recorded map[core.RepKey][]core.RepKey
	memo     map[core.RepKey]bool
}

// New creates a checker persisting to path.
func New(path string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		Path:     path,
		logger:   logger,
		previous: make(map[core.RepKey]record),
		current:  make(map[core.RepKey]string),
		recorded: make(map[core.RepKey][]core.RepKey),
	}
}

// Load reads the checksums of the previous run. A missing or unreadable file
// makes every rep outdated.
func (c *Checker) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.previous = make(map[core.RepKey]record)
	c.recorded = make(map[core.RepKey][]core.RepKey)
	c.memo = nil

	var p persisted
	found, err := cache.ReadEnvelopeFile(c.Path, &p)
	switch {
	case errors.Is(err, cache.ErrCorrupt):
		c.logger.Warn("discarding unreadable checksum store", "path", c.Path, "error", err)
		return nil
	case err != nil:
		return err
	case !found || p.Version != formatVersion:
		return nil
	}

	for _, r := range p.Reps {
		deps := make([]core.RepKey, len(r.Dependencies))
		for i, d := range r.Dependencies {
			deps[i] = core.RepKey{Item: d.Item, Name: d.Rep}
		}
		c.previous[core.RepKey{Item: r.Item, Name: r.Rep}] = record{Checksum: r.Checksum, Dependencies: deps}
	}
	return nil
}

// Compute calculates the current checksum of every rep. It must be called
// before Outdated.
func (c *Checker) Compute(reps []*core.Rep) error {
	itemSums := make(map[*core.Item][]byte)
	current := make(map[core.RepKey]string, len(reps))

	for _, rep := range reps {
		itemSum, ok := itemSums[rep.Item]
		if !ok {
			var err error
			itemSum, err = ItemChecksum(rep.Item)
			if err != nil {
				return err
			}
			itemSums[rep.Item] = itemSum
		}

		h := blake3.New()
		writeField(h, itemSum)
		writeField(h, []byte(rep.Name))
		writeField(h, []byte(rep.Fingerprint))
		current[rep.Key()] = hex.EncodeToString(h.Sum(nil))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = current
	c.memo = nil
	return nil
}

// ItemChecksum summarises an item's identifier, content and attributes.
func ItemChecksum(item *core.Item) ([]byte, error) {
	h := blake3.New()
	writeField(h, []byte(item.Identifier))

	switch content := item.Content.(type) {
	case core.TextualContent:
		writeField(h, []byte("text"))
		writeField(h, []byte(content.String))
	case core.BinaryContent:
		writeField(h, []byte("binary"))
		if err := writeFile(h, content.Filename); err != nil {
			return nil, fmt.Errorf("checksum %s: %w", item.Identifier, err)
		}
	default:
		writeField(h, []byte("none"))
	}

	attrs, err := cache.MarshalCanonical(map[string]any(item.Attributes))
	if err != nil {
		return nil, fmt.Errorf("checksum attributes of %s: %w", item.Identifier, err)
	}
	writeField(h, attrs)

	return h.Sum(nil), nil
}

func writeField(h hash.Hash, data []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(data)))
	h.Write(size[:])
	h.Write(data)
}

func writeFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(info.Size()))
	h.Write(size[:])
	_, err = io.Copy(h, f)
	return err
}

// Outdated reports whether rep must be recompiled.
func (c *Checker) Outdated(rep *core.Rep) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memo == nil {
		c.memo = c.propagate()
	}
	if _, ok := c.current[rep.Key()]; !ok {
		return true
	}
	return c.memo[rep.Key()]
}

// propagate marks reps whose own checksum changed, or whose previous
// dependencies are gone, then spreads outdatedness to every rep that
// depended on an outdated one.
func (c *Checker) propagate() map[core.RepKey]bool {
	outdated := make(map[core.RepKey]bool)
	dependents := make(map[core.RepKey][]core.RepKey)
	var queue []core.RepKey

	for key, sum := range c.current {
		prev, ok := c.previous[key]
		direct := !ok || prev.Checksum != sum
		for _, dep := range prev.Dependencies {
			if _, exists := c.current[dep]; !exists {
				direct = true
			}
			dependents[dep] = append(dependents[dep], key)
		}
		if direct {
			outdated[key] = true
			queue = append(queue, key)
		}
	}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, dependent := range dependents[key] {
			if !outdated[dependent] {
				outdated[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}
	return outdated
}

// StartRecording implements store.DependencyRecorder.
func (c *Checker) StartRecording(rep *core.Rep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded[rep.Key()] = []core.RepKey{}
}

// RecordDependency implements store.DependencyRecorder.
func (c *Checker) RecordDependency(dependent, dependency *core.Rep) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, dep := dependent.Key(), dependency.Key()
	for _, existing := range c.recorded[key] {
		if existing == dep {
			return
		}
	}
	c.recorded[key] = append(c.recorded[key], dep)
}

// Dependencies returns what rep depends on: the dependencies recorded this
// run if it was recomputed, otherwise those of the previous run.
func (c *Checker) Dependencies(rep *core.Rep) []core.RepKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.RepKey(nil), c.dependencies(rep.Key())...)
}

func (c *Checker) dependencies(key core.RepKey) []core.RepKey {
	if deps, ok := c.recorded[key]; ok {
		return deps
	}
	return c.previous[key].Dependencies
}

// Store persists checksums and dependencies of the compiled reps. Reps that
// did not compile keep no record, so they are outdated next time.
func (c *Checker) Store(compiled []*core.Rep) error {
	c.mu.Lock()
	p := persisted{Version: formatVersion, Reps: make([]persistedRep, 0, len(compiled))}
	for _, rep := range compiled {
		key := rep.Key()
		sum, ok := c.current[key]
		if !ok {
			continue
		}
		deps := c.dependencies(key)
		pk := make([]persistedKey, len(deps))
		for i, d := range deps {
			pk[i] = persistedKey{Item: d.Item, Rep: d.Name}
		}
		p.Reps = append(p.Reps, persistedRep{Item: key.Item, Rep: key.Name, Checksum: sum, Dependencies: pk})
	}
	c.mu.Unlock()

	sort.Slice(p.Reps, func(i, j int) bool {
		if p.Reps[i].Item != p.Reps[j].Item {
			return p.Reps[i].Item < p.Reps[j].Item
		}
		return p.Reps[i].Rep < p.Reps[j].Rep
	})

	return cache.WriteEnvelopeFile(c.Path, p)
}

// CheckerState exposes internal state for observability.
type CheckerState struct {
	Path     string `json:"path"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
	Recorded int    `json:"recorded"`
}

// State implements introspection.Introspectable.
func (c *Checker) State() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CheckerState{
		Path:     c.Path,
		Previous: len(c.previous),
		Current:  len(c.current),
		Recorded: len(c.recorded),
	}
}

// ComponentType implements introspection.Component.
func (c *Checker) ComponentType() string {
	return "outdatedness_checker"
}

var (
	_ store.DependencyRecorder     = (*Checker)(nil)
	_ introspection.Introspectable = (*Checker)(nil)
	_ introspection.Component      = (*Checker)(nil)
)
