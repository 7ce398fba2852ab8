package compiler

import (
	"context"
	"errors"

	"github.com/aretw0/kiln/pkg/core"
)

// selector yields reps in an order that satisfies their dependencies.
//
// Reps are tried in plan order. When a rep reports an unmet dependency the
// dependency is pushed on top of it and compiled first; the waiting rep is
// retried once the dependency is done. A dependency already waiting further
// down the stack closes a cycle.
type selector struct {
	reps []*core.Rep
}

func newSelector(reps []*core.Rep) *selector {
	return &selector{reps: reps}
}

func (s *selector) each(ctx context.Context, compile func(rep *core.Rep) error) error {
	for _, rep := range s.reps {
		stack := []*core.Rep{rep}

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}

			cur := stack[len(stack)-1]
			if cur.Compiled() {
				stack = stack[:len(stack)-1]
				continue
			}

			err := compile(cur)

			var unmet *core.UnmetDependencyError
			switch {
			case err == nil:
				stack = stack[:len(stack)-1]
			case errors.As(err, &unmet):
				dep := unmet.Rep
				if dep.Compiled() {
					return &core.MissingSnapshotsError{Rep: dep, Snapshots: []string{unmet.Snapshot}}
				}
				if i := indexOf(stack, dep); i >= 0 {
					return cycleError(stack[i:], dep)
				}
				stack = append(stack, dep)
			default:
				return err
			}
		}
	}
	return nil
}

func indexOf(stack []*core.Rep, rep *core.Rep) int {
	key := rep.Key()
	for i, r := range stack {
		if r.Key() == key {
			return i
		}
	}
	return -1
}

func cycleError(waiting []*core.Rep, closing *core.Rep) error {
	path := make([]core.RepKey, 0, len(waiting)+1)
	for _, r := range waiting {
		path = append(path, r.Key())
	}
	path = append(path, closing.Key())
	return &core.DependencyCycleError{Path: path}
}
