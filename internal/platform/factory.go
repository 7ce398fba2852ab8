package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	kilnfs "github.com/aretw0/kiln/pkg/adapters/fs"
	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/compiler"
	"github.com/aretw0/kiln/pkg/config"
	"github.com/aretw0/kiln/pkg/metrics"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/outdatedness"
	"github.com/aretw0/kiln/pkg/rules"
)

// Cache file and directory names below the cache directory.
const (
	TextualCacheFile = "compiled_content"
	BinaryCacheDir   = "binary_content"
	ChecksumsFile    = "checksums"
)

// New assembles the site rooted at dir.
//
//	site, err := platform.New("./mysite", platform.WithLogger(logger))
func New(dir string, opts ...Option) (*Site, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(root, o)
	if err != nil {
		return nil, err
	}

	rs, err := loadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	items := o.items
	if items == nil {
		items = kilnfs.NewSource(kilnfs.SourceConfig{
			Root:           cfg.ContentDir,
			TextExtensions: cfg.TextExtensions,
			Logger:         logger,
		})
	}

	contentCache := cache.NewComposite(
		cache.NewTextual(filepath.Join(cfg.CacheDir, TextualCacheFile), logger),
		cache.NewBinary(filepath.Join(cfg.CacheDir, BinaryCacheDir), logger),
	)
	checker := outdatedness.New(filepath.Join(cfg.CacheDir, ChecksumsFile), logger)

	events := notify.NewCenter()
	events.SubscribeAll(notify.LogListener(logger))

	var printer *notify.DebugPrinter
	if o.debug != nil {
		printer = notify.NewDebugPrinter(o.debug)
		printer.Start(events)
	}

	recorder := metrics.NewRecorder(o.registry)
	recorder.Attach(events)

	comp, err := compiler.New(compiler.Config{
		Items:  items,
		Rules:  rs,
		Cache:  contentCache,
		Oracle: checker,
		Output: func(plan *rules.Plan) compiler.OutputWriter {
			return kilnfs.NewWriter(cfg.OutputDir, plan, logger)
		},
		Prune:  cfg.Prune,
		Events: events,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("site assembled",
		"root", root,
		"content_dir", cfg.ContentDir,
		"output_dir", cfg.OutputDir,
		"cache_dir", cfg.CacheDir,
		"rules", len(rs.Rules))

	return &Site{
		Root:     root,
		Config:   cfg,
		compiler: comp,
		cache:    contentCache,
		checker:  checker,
		events:   events,
		metrics:  recorder,
		printer:  printer,
		logger:   logger,
		opts:     o,
	}, nil
}

func loadConfig(root string, o *options) (config.Config, error) {
	var cfg config.Config
	if o.config != nil {
		cfg = *o.config
	} else {
		var err error
		cfg, err = config.Load(filepath.Join(root, config.DefaultFile))
		if err != nil {
			return cfg, err
		}
	}

	if o.prune != nil {
		cfg.Prune = *o.prune
	}
	if o.metricsFile != "" {
		cfg.MetricsFile = o.metricsFile
	}
	return cfg.Resolve(root), nil
}

// loadRules reads the rules file. Without one every item is copied through.
func loadRules(path string) (*rules.RuleSet, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return rules.Default(), nil
	}
	rs, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	return rs, nil
}
