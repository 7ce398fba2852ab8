package fs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/kiln/internal/fsutil"
	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/store"
)

// ExtResolver returns the output extension of a rep, or "" to keep the
// item's own extension.
type ExtResolver interface {
	Ext(rep *core.Rep) string
}

// Writer writes the last snapshot of compiled reps below Root.
//
// The default rep of /posts/hello.md with extension "html" lands at
// Root/posts/hello.html; a rep named "amp" lands at Root/amp/posts/hello.html.
type Writer struct {
	Root   string
	exts   ExtResolver
	logger *slog.Logger
}

// NewWriter creates a writer. exts may be nil.
func NewWriter(root string, exts ExtResolver, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Root: root, exts: exts, logger: logger}
}

// OutputPath returns where rep is written.
func (w *Writer) OutputPath(rep *core.Rep) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(rep.Item.Identifier, "/"))
	if w.exts != nil {
		if ext := w.exts.Ext(rep); ext != "" {
			rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + "." + strings.TrimPrefix(ext, ".")
		}
	}
	if rep.Name != core.DefaultRepName {
		rel = filepath.Join(rep.Name, rel)
	}
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("output path of %s escapes %s", rep, w.Root)
	}
	return filepath.Join(w.Root, rel), nil
}

// Write writes every compiled rep and returns how many files changed.
// Files whose content is already up to date are left untouched.
func (w *Writer) Write(ctx context.Context, reps []*core.Rep, contents *store.CompiledContentStore) (int, error) {
	written := 0
	for _, rep := range reps {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if !rep.Compiled() {
			continue
		}

		content, ok := contents.Get(rep, core.SnapshotLast)
		if !ok {
			return written, &core.MissingSnapshotsError{Rep: rep, Snapshots: []string{core.SnapshotLast}}
		}

		path, err := w.OutputPath(rep)
		if err != nil {
			return written, err
		}
		changed, err := w.writeOne(path, content)
		if err != nil {
			return written, fmt.Errorf("write %s: %w", rep, err)
		}
		if changed {
			written++
			w.logger.Debug("output written", "rep", rep.String(), "path", path)
		}
	}
	return written, nil
}

func (w *Writer) writeOne(path string, content core.Content) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}

	switch c := content.(type) {
	case core.TextualContent:
		if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, []byte(c.String)) {
			return false, nil
		}
		return true, fsutil.WriteFileAtomic(path, []byte(c.String), 0644)
	case core.BinaryContent:
		if fsutil.IdenticalFiles(c.Filename, path) {
			return false, nil
		}
		return true, fsutil.CopyFileAtomic(c.Filename, path, 0644)
	default:
		return false, fmt.Errorf("unsupported content %T", content)
	}
}
