package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/introspection"

	"github.com/aretw0/kiln/internal/fsutil"
	"github.com/aretw0/kiln/pkg/core"
)

// Binary keeps binary snapshots as files at
// root/<item identifier>/<rep name>/<snapshot name>. Every write is durable on
// its own, so Load and Store do nothing.
type Binary struct {
	Root   string
	logger *slog.Logger
}

// NewBinary creates a binary cache rooted at root.
func NewBinary(root string, logger *slog.Logger) *Binary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binary{Root: root, logger: logger}
}

// Load implements ContentCache.
func (c *Binary) Load() error { return nil }

// Store implements ContentCache.
func (c *Binary) Store() error { return nil }

func (c *Binary) repDir(rep *core.Rep) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(rep.Item.Identifier, "/"))
	if rel == "" || !filepath.IsLocal(rel) || !filepath.IsLocal(rep.Name) {
		return "", fmt.Errorf("cannot cache %s: identifier escapes the cache root", rep)
	}
	return filepath.Join(c.Root, rel, rep.Name), nil
}

// Get scans the rep's directory and returns one binary content per file.
func (c *Binary) Get(rep *core.Rep) (core.Snapshots, bool) {
	dir, err := c.repDir(rep)
	if err != nil {
		return nil, false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}

	out := make(core.Snapshots)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), fsutil.TempFilePrefix) {
			continue
		}
		out[entry.Name()] = core.BinaryContent{Filename: filepath.Join(dir, entry.Name())}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Set copies every binary snapshot of rep into its slot. A slot already
// holding the same file, or a byte-identical one, is left untouched. Files of
// snapshots no longer produced are removed.
func (c *Binary) Set(rep *core.Rep, snapshots core.Snapshots) (core.Snapshots, error) {
	dir, err := c.repDir(rep)
	if err != nil {
		return nil, err
	}

	kept := filterByKind(snapshots, true)
	stored := make(core.Snapshots, len(kept))

	if len(kept) > 0 {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create binary cache dir: %w", err)
		}
	}

	for _, name := range kept.Names() {
		if !filepath.IsLocal(name) || strings.ContainsRune(name, filepath.Separator) {
			return stored, fmt.Errorf("cannot cache snapshot %q of %s: invalid name", name, rep)
		}
		src := kept[name].(core.BinaryContent).Filename
		dst := filepath.Join(dir, name)

		if fsutil.SameFile(src, dst) || fsutil.IdenticalFiles(src, dst) {
			stored[name] = core.BinaryContent{Filename: dst}
			continue
		}
		if err := fsutil.CopyFileAtomic(src, dst, 0644); err != nil {
			return stored, fmt.Errorf("cache snapshot %s of %s: %w", name, rep, err)
		}
		stored[name] = core.BinaryContent{Filename: dst}
	}

	if err := c.removeStale(dir, stored); err != nil {
		return stored, err
	}
	return stored, nil
}

func (c *Binary) removeStale(dir string, keep core.Snapshots) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := keep[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove stale snapshot: %w", err)
		}
	}
	if len(keep) == 0 {
		c.removeEmptyParents(dir)
	}
	return nil
}

// Prune removes the rep directories of items that are not in items.
//
// A rep directory is any directory holding snapshot files; its parent path,
// relative to the root, is the item identifier. Matching is done on whole
// identifiers, so /foo being live keeps nothing of /foobar alive and the
// other way round.
//
// The layout is ambiguous when a stale identifier plus a rep name spells a
// live identifier or one of its parent directories (stale /foo with rep
// default against live /foo/default). Such a directory only loses its own
// snapshot files; the walk keeps descending into it.
func (c *Binary) Prune(items []*core.Item) error {
	live := liveIdentifiers(items)
	protected := liveDirs(live)

	var stale, staleFiles []string
	err := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == c.Root {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() || path == c.Root {
			return nil
		}
		if !holdsFiles(path) {
			return nil
		}

		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		own := "/" + filepath.ToSlash(rel)
		if live[pathParent(own)] {
			return nil
		}
		if protected[own] {
			staleFiles = append(staleFiles, path)
			return nil
		}
		stale = append(stale, path)
		return filepath.SkipDir
	})
	if err != nil {
		return fmt.Errorf("scan binary cache: %w", err)
	}

	var errs []error
	for _, dir := range staleFiles {
		c.logger.Debug("pruning binary cache snapshots", "path", dir)
		if err := removeFiles(dir); err != nil {
			errs = append(errs, err)
		}
	}
	for _, dir := range stale {
		c.logger.Debug("pruning binary cache entry", "path", dir)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		c.removeEmptyParents(filepath.Dir(dir))
	}
	return errors.Join(errs...)
}

// liveDirs returns every live identifier together with all of its parent
// directories, e.g. /a/b/c.png yields /a, /a/b and /a/b/c.png.
func liveDirs(live map[string]bool) map[string]bool {
	dirs := make(map[string]bool, len(live))
	for id := range live {
		for p := id; p != "/" && p != "" && !dirs[p]; p = pathParent(p) {
			dirs[p] = true
		}
	}
	return dirs
}

// pathParent returns the slash-separated parent of an identifier.
func pathParent(id string) string {
	i := strings.LastIndex(id, "/")
	if i <= 0 {
		return "/"
	}
	return id[:i]
}

func removeFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeEmptyParents removes dir and its ancestors while they are empty,
// stopping at the root.
func (c *Binary) removeEmptyParents(dir string) {
	root := filepath.Clean(c.Root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func holdsFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return true
		}
	}
	return false
}

// BinaryState exposes internal state for observability.
type BinaryState struct {
	Root string `json:"root"`
}

// State implements introspection.Introspectable.
func (c *Binary) State() any {
	return BinaryState{Root: c.Root}
}

// ComponentType implements introspection.Component.
func (c *Binary) ComponentType() string {
	return "binary_cache"
}

var (
	_ ContentCache                 = (*Binary)(nil)
	_ introspection.Introspectable = (*Binary)(nil)
	_ introspection.Component      = (*Binary)(nil)
)
