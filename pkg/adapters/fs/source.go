// Package fs connects the compiler to the filesystem: it loads items from a
// content directory, writes compiled reps to an output directory and watches
// the content directory for changes.
package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/introspection"

	"github.com/aretw0/kiln/internal/fsutil"
	"github.com/aretw0/kiln/pkg/core"
)

// DefaultTextExtensions lists the extensions loaded as text.
var DefaultTextExtensions = []string{".md", ".markdown", ".html", ".htm", ".txt", ".css", ".js", ".json", ".yaml", ".yml", ".xml", ".csv"}

// SourceConfig holds the configuration of a Source.
type SourceConfig struct {
	Root           string
	TextExtensions []string // nil means DefaultTextExtensions
	Logger         *slog.Logger
}

// Source loads the items of a content directory.
//
// Text files become textual items, with their YAML frontmatter as
// attributes. Every other file becomes a binary item referring to the file
// itself. Identifiers are the slash-separated path relative to the root with
// a leading slash ("/posts/hello.md").
type Source struct {
	Root   string
	text   map[string]bool
	logger *slog.Logger
}

// NewSource creates a source for cfg.Root.
func NewSource(cfg SourceConfig) *Source {
	exts := cfg.TextExtensions
	if exts == nil {
		exts = DefaultTextExtensions
	}
	text := make(map[string]bool, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		text[strings.ToLower(ext)] = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{Root: cfg.Root, text: text, logger: logger}
}

// Items implements core.ItemSource.
func (s *Source) Items(ctx context.Context) ([]*core.Item, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}

	var items []*core.Item
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			// Skip hidden directories (.git and friends)
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isScratch(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		identifier := "/" + filepath.ToSlash(rel)

		item, err := s.load(path, identifier)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load items from %s: %w", s.Root, err)
	}

	s.logger.Debug("items loaded", "root", s.Root, "count", len(items))
	return items, nil
}

func (s *Source) load(path, identifier string) (*core.Item, error) {
	if !s.text[strings.ToLower(filepath.Ext(path))] {
		return core.NewItem(core.BinaryContent{Filename: path}, nil, identifier), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, body, err := ParseFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", identifier, err)
	}
	return core.NewItem(core.TextualContent{String: body}, meta, identifier), nil
}

// isScratch reports editor and atomic-write leftovers that are not content.
func isScratch(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasPrefix(name, fsutil.TempFilePrefix)
}

// SourceState exposes internal state for observability.
type SourceState struct {
	Root           string   `json:"root"`
	TextExtensions []string `json:"text_extensions"`
}

// State implements introspection.Introspectable.
func (s *Source) State() any {
	exts := make([]string, 0, len(s.text))
	for ext := range s.text {
		exts = append(exts, ext)
	}
	return SourceState{Root: s.Root, TextExtensions: exts}
}

// ComponentType implements introspection.Component.
func (s *Source) ComponentType() string {
	return "fs_source"
}

var (
	_ core.ItemSource              = (*Source)(nil)
	_ introspection.Introspectable = (*Source)(nil)
	_ introspection.Component      = (*Source)(nil)
)
