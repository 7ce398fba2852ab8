package platform

import (
	"io"
	"log/slog"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/kiln/pkg/config"
	"github.com/aretw0/kiln/pkg/core"
)

// options holds the internal configuration for a site.
type options struct {
	logger       *slog.Logger
	config       *config.Config
	items        core.ItemSource
	debug        io.Writer
	registry     *prom.Registry
	prune        *bool
	metricsFile  string
	debounce     time.Duration
	errorHandler func(error)
}

// Option defines a functional option for configuring a site.
type Option func(*options)

func defaultOptions() *options {
	return &options{}
}

// WithLogger sets the logger for the site.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConfig uses cfg instead of reading kiln.yaml and the environment.
// Relative paths in cfg are resolved against the site directory.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithItemSource replaces the filesystem content directory as the source
// of items (e.g. an in-memory source in tests).
func WithItemSource(src core.ItemSource) Option {
	return func(o *options) {
		o.items = src
	}
}

// WithDebugOutput prints every compiler notification to w.
func WithDebugOutput(w io.Writer) Option {
	return func(o *options) {
		o.debug = w
	}
}

// WithRegistry registers compiler metrics on reg.
func WithRegistry(reg *prom.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithPrune overrides the configured prune setting.
func WithPrune(enabled bool) Option {
	return func(o *options) {
		o.prune = &enabled
	}
}

// WithMetricsFile overrides the configured metrics textfile path.
func WithMetricsFile(path string) Option {
	return func(o *options) {
		o.metricsFile = path
	}
}

// WithDebounce sets how long watch mode waits for changes to settle.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}

// WithWatcherErrorHandler registers a callback for errors of the watch loop
// (e.g. permission denied), which are otherwise only logged.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}
