// Package rules maps items to the reps they compile into and performs the
// recomputation of a rep by running its filters.
//
// Rules are read from a YAML file:
//
//	compile:
//	  - pattern: "/posts/**/*.md"
//	    filters: [include, snapshot:pre, markdown]
//	    ext: html
//	  - pattern: "/**/*.md"
//	    rep: raw
//	    filters: [trim]
//
// For every (item, rep name) pair the first matching rule wins.
package rules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/kiln/internal/fsutil"
	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/core"
)

// SnapshotFilterPrefix marks a filter step that takes a snapshot instead of
// transforming content: "snapshot:pre".
const SnapshotFilterPrefix = "snapshot:"

// ErrInvalidRule is returned for rules that cannot be used.
var ErrInvalidRule = errors.New("invalid rule")

// Rule describes how items matching Pattern compile into the rep named Rep.
type Rule struct {
	Pattern string   `yaml:"pattern" cbor:"pattern"`
	Rep     string   `yaml:"rep,omitempty" cbor:"rep"`
	Filters []string `yaml:"filters,omitempty" cbor:"filters"`
	Ext     string   `yaml:"ext,omitempty" cbor:"ext"`
}

// RepName returns the rep name, defaulting to core.DefaultRepName.
func (r Rule) RepName() string {
	if r.Rep == "" {
		return core.DefaultRepName
	}
	return r.Rep
}

// Matches reports whether identifier matches the rule pattern.
func (r Rule) Matches(identifier string) bool {
	ok, err := doublestar.Match(r.Pattern, identifier)
	return err == nil && ok
}

// Snapshots returns the names of the snapshot steps, in filter order.
func (r Rule) Snapshots() []string {
	var out []string
	for _, f := range r.Filters {
		if name, ok := strings.CutPrefix(f, SnapshotFilterPrefix); ok {
			out = append(out, name)
		}
	}
	return out
}

// Fingerprint summarises the rule. Editing a rule changes the fingerprint of
// every rep it compiles, which makes those reps outdated.
func (r Rule) Fingerprint() string {
	data, err := cache.MarshalCanonical(r)
	if err != nil {
		// A struct of strings always encodes.
		panic("rules: fingerprint encoding failed: " + err.Error())
	}
	d := fsutil.DigestBytes(data)
	return hex.EncodeToString(d[:])
}

func (r Rule) validate(filters map[string]bool) error {
	if r.Pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidRule)
	}
	if !doublestar.ValidatePattern(r.Pattern) {
		return fmt.Errorf("%w: bad pattern %q", ErrInvalidRule, r.Pattern)
	}
	if strings.ContainsAny(r.RepName(), `/\`) {
		return fmt.Errorf("%w: rep name %q may not contain path separators", ErrInvalidRule, r.RepName())
	}
	for _, f := range r.Filters {
		if name, ok := strings.CutPrefix(f, SnapshotFilterPrefix); ok {
			if name == "" || name == core.SnapshotRaw || name == core.SnapshotLast || strings.ContainsAny(name, `/\`) {
				return fmt.Errorf("%w: bad snapshot step %q in %q", ErrInvalidRule, f, r.Pattern)
			}
			continue
		}
		if !filters[f] {
			return fmt.Errorf("%w: unknown filter %q in %q", ErrInvalidRule, f, r.Pattern)
		}
	}
	return nil
}

// RuleSet is an ordered list of rules.
type RuleSet struct {
	Rules []Rule `yaml:"compile"`
}

// Parse reads a rule set from YAML.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	known := make(map[string]bool)
	for _, name := range FilterNames() {
		known[name] = true
	}
	for _, r := range rs.Rules {
		if err := r.validate(known); err != nil {
			return nil, err
		}
	}
	return &rs, nil
}

// Load reads a rule set from a file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Default returns the rule set used when no rules file exists: every item
// is copied through unchanged.
func Default() *RuleSet {
	return &RuleSet{Rules: []Rule{{Pattern: "/**/*"}}}
}
