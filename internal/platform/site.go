package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/introspection"

	kilnfs "github.com/aretw0/kiln/pkg/adapters/fs"
	kilnlifecycle "github.com/aretw0/kiln/pkg/adapters/lifecycle"
	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/compiler"
	"github.com/aretw0/kiln/pkg/config"
	"github.com/aretw0/kiln/pkg/metrics"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/outdatedness"
)

// Site is an assembled site: its configuration, compiler and caches.
type Site struct {
	Root   string
	Config config.Config

	compiler *compiler.Compiler
	cache    *cache.Composite
	checker  *outdatedness.Checker
	events   *notify.Center
	metrics  *metrics.Recorder
	printer  *notify.DebugPrinter
	logger   *slog.Logger
	opts     *options
}

// Events returns the notification center of the site.
func (s *Site) Events() *notify.Center {
	return s.events
}

// Metrics returns the metrics recorder of the site.
func (s *Site) Metrics() *metrics.Recorder {
	return s.metrics
}

// Compile runs a full build and, when configured, exports metrics.
func (s *Site) Compile(ctx context.Context) (*compiler.Result, error) {
	res, err := s.compiler.Compile(ctx)
	if s.Config.MetricsFile != "" {
		if mErr := s.metrics.WriteTextfile(s.Config.MetricsFile); mErr != nil {
			s.logger.Warn("failed to export metrics", "path", s.Config.MetricsFile, "error", mErr)
		}
	}
	return res, err
}

// Prune removes cached content of items that no longer exist.
func (s *Site) Prune(ctx context.Context) error {
	return s.compiler.Prune(ctx)
}

// Watch compiles once, then again after every batch of content changes,
// until ctx is done. onBuild receives the outcome of every build.
func (s *Site) Watch(ctx context.Context, onBuild func(*compiler.Result, error)) error {
	if onBuild == nil {
		onBuild = func(*compiler.Result, error) {}
	}

	watcher := kilnfs.NewWatcher(kilnfs.WatcherConfig{
		Root:         s.Config.ContentDir,
		Debounce:     s.opts.debounce,
		Ignore:       []string{s.Config.OutputDir, s.Config.CacheDir},
		Logger:       s.logger,
		ErrorHandler: s.opts.errorHandler,
	})
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.Config.ContentDir, err)
	}

	onBuild(s.Compile(ctx))

	src := kilnlifecycle.NewSource(changes)
	if err := src.Start(ctx); err != nil {
		return err
	}
	for ev := range src.Events() {
		s.logger.Info("rebuilding", "reason", ev.String())
		if ctx.Err() != nil {
			break
		}
		onBuild(s.Compile(ctx))
	}
	return nil
}

// Close stops the debug printer, if any.
func (s *Site) Close() {
	if s.printer != nil {
		s.printer.Stop()
	}
}

// SiteState exposes internal state for observability.
type SiteState struct {
	Root     string `json:"root"`
	Compiler any    `json:"compiler"`
	Cache    any    `json:"cache"`
	Checker  any    `json:"checker"`
}

// State implements introspection.Introspectable.
func (s *Site) State() any {
	return SiteState{
		Root:     s.Root,
		Compiler: s.compiler.State(),
		Cache:    s.cache.State(),
		Checker:  s.checker.State(),
	}
}

// ComponentType implements introspection.Component.
func (s *Site) ComponentType() string {
	return "site"
}

var (
	_ introspection.Introspectable = (*Site)(nil)
	_ introspection.Component      = (*Site)(nil)
)
