package kiln

import (
	"io"
	"log/slog"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/kiln/internal/platform"
	"github.com/aretw0/kiln/pkg/compiler"
	"github.com/aretw0/kiln/pkg/config"
	"github.com/aretw0/kiln/pkg/core"
)

// --- Types ---

// Site is an assembled site ready to compile.
type Site = platform.Site

// Result summarises one compilation run.
type Result = compiler.Result

// Config holds the settings of a site (kiln.yaml).
type Config = config.Config

// --- Configuration ---

// Option defines a functional option for configuring a site.
type Option = platform.Option

// WithLogger sets the logger for the site.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithConfig uses cfg instead of reading kiln.yaml and the environment.
func WithConfig(cfg Config) Option {
	return platform.WithConfig(cfg)
}

// WithItemSource replaces the content directory as the source of items.
func WithItemSource(src core.ItemSource) Option {
	return platform.WithItemSource(src)
}

// WithDebugOutput prints every compiler notification to w.
func WithDebugOutput(w io.Writer) Option {
	return platform.WithDebugOutput(w)
}

// WithRegistry registers compiler metrics on reg.
func WithRegistry(reg *prom.Registry) Option {
	return platform.WithRegistry(reg)
}

// WithPrune overrides the configured prune setting.
func WithPrune(enabled bool) Option {
	return platform.WithPrune(enabled)
}

// WithMetricsFile writes metrics in the Prometheus text format after every build.
func WithMetricsFile(path string) Option {
	return platform.WithMetricsFile(path)
}

// WithDebounce sets how long watch mode waits for changes to settle.
func WithDebounce(d time.Duration) Option {
	return platform.WithDebounce(d)
}

// WithWatcherErrorHandler registers a callback for watch loop errors.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// --- Factory ---

// New assembles the site rooted at dir.
func New(dir string, opts ...Option) (*Site, error) {
	return platform.New(dir, opts...)
}

// FindRoot looks upwards from dir for a directory holding kiln.yaml or
// rules.yaml.
func FindRoot(dir string) (string, error) {
	return platform.FindRoot(dir)
}
