// Package config loads kiln settings from kiln.yaml and KILN_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the site directory.
const DefaultFile = "kiln.yaml"

// Config holds the settings of a site.
type Config struct {
	ContentDir     string   `yaml:"content_dir" env:"CONTENT_DIR"`
	OutputDir      string   `yaml:"output_dir" env:"OUTPUT_DIR"`
	CacheDir       string   `yaml:"cache_dir" env:"CACHE_DIR"`
	RulesFile      string   `yaml:"rules_file" env:"RULES_FILE"`
	TextExtensions []string `yaml:"text_extensions" env:"TEXT_EXTENSIONS" envSeparator:","`
	Prune          bool     `yaml:"prune" env:"PRUNE"`
	MetricsFile    string   `yaml:"metrics_file" env:"METRICS_FILE"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ContentDir: "content",
		OutputDir:  "output",
		CacheDir:   filepath.Join("tmp", "kiln"),
		RulesFile:  "rules.yaml",
		Prune:      true,
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseEnv applies KILN_* environment variables to target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: "KILN_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve makes the directories of cfg absolute relative to base.
func (c Config) Resolve(base string) Config {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.ContentDir = abs(c.ContentDir)
	c.OutputDir = abs(c.OutputDir)
	c.CacheDir = abs(c.CacheDir)
	c.RulesFile = abs(c.RulesFile)
	c.MetricsFile = abs(c.MetricsFile)
	return c
}
