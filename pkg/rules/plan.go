package rules

import (
	"fmt"
	"sort"

	"github.com/aretw0/kiln/pkg/core"
)

// Plan is the result of applying a rule set to the items of a site: every
// rep to compile together with the rule that compiles it.
type Plan struct {
	Items []*core.Item
	Reps  []*core.Rep

	rules map[core.RepKey]Rule
	reps  map[core.RepKey]*core.Rep
}

// Plan builds the reps of items. Items matched by no rule produce no reps.
func (rs *RuleSet) Plan(items []*core.Item) (*Plan, error) {
	p := &Plan{
		Items: items,
		rules: make(map[core.RepKey]Rule),
		reps:  make(map[core.RepKey]*core.Rep),
	}

	for _, item := range items {
		for _, rule := range rs.Rules {
			if !rule.Matches(item.Identifier) {
				continue
			}
			key := core.RepKey{Item: item.Identifier, Name: rule.RepName()}
			if _, taken := p.reps[key]; taken {
				continue
			}

			rep, err := newRep(item, rule)
			if err != nil {
				return nil, err
			}
			p.reps[key] = rep
			p.rules[key] = rule
			p.Reps = append(p.Reps, rep)
		}
	}

	sort.SliceStable(p.Reps, func(i, j int) bool {
		a, b := p.Reps[i].Key(), p.Reps[j].Key()
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		return a.Name < b.Name
	})
	return p, nil
}

func newRep(item *core.Item, rule Rule) (*core.Rep, error) {
	binary := item.Content != nil && item.Content.IsBinary()
	if binary {
		for _, f := range rule.Filters {
			if _, isSnapshot := cutSnapshot(f); !isSnapshot {
				return nil, fmt.Errorf("%w: filter %q cannot run on binary item %s", ErrInvalidRule, f, item.Identifier)
			}
		}
	}

	defs := []core.SnapshotDef{{Name: core.SnapshotRaw, Binary: binary}}
	for _, name := range rule.Snapshots() {
		defs = append(defs, core.SnapshotDef{Name: name, Binary: binary})
	}
	defs = append(defs, core.SnapshotDef{Name: core.SnapshotLast, Binary: binary})

	rep := core.NewRep(item, rule.RepName(), defs...)
	rep.Fingerprint = rule.Fingerprint()
	return rep, nil
}

// Rep looks up a rep by item identifier and rep name.
func (p *Plan) Rep(identifier, name string) (*core.Rep, bool) {
	if name == "" {
		name = core.DefaultRepName
	}
	rep, ok := p.reps[core.RepKey{Item: identifier, Name: name}]
	return rep, ok
}

// Rule returns the rule compiling rep.
func (p *Plan) Rule(rep *core.Rep) (Rule, bool) {
	r, ok := p.rules[rep.Key()]
	return r, ok
}

// Ext returns the output extension configured for rep, or "" to keep the
// item's own extension.
func (p *Plan) Ext(rep *core.Rep) string {
	return p.rules[rep.Key()].Ext
}
