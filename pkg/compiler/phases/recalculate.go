package phases

import (
	"context"

	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/store"
)

// Recalculate runs the recomputation of a rep and verifies that every
// declared snapshot was produced.
type Recalculate struct {
	recomputer Recomputer
	store      *store.CompiledContentStore
	recorder   store.DependencyRecorder
}

// NewRecalculate creates the innermost phase. recorder may be nil.
func NewRecalculate(recomputer Recomputer, contents *store.CompiledContentStore, recorder store.DependencyRecorder) *Recalculate {
	return &Recalculate{recomputer: recomputer, store: contents, recorder: recorder}
}

// Run implements Phase.
func (p *Recalculate) Run(ctx context.Context, rep *core.Rep, _ bool) error {
	if p.recorder != nil {
		p.recorder.StartRecording(rep)
	}
	ctx = store.WithDependent(ctx, p.recorder, rep)

	if err := p.recomputer.Recompute(ctx, rep); err != nil {
		return err
	}

	var missing []string
	for _, name := range rep.SnapshotNames() {
		if _, ok := p.store.Get(rep, name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &core.MissingSnapshotsError{Rep: rep, Snapshots: missing}
	}
	return nil
}
