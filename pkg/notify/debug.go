package notify

import (
	"fmt"
	"io"
	"sync"
)

// DebugPrinter writes a human readable line for every notification.
type DebugPrinter struct {
	w io.Writer

	mu    sync.Mutex
	unsub func()
}

// NewDebugPrinter creates a printer writing to w.
func NewDebugPrinter(w io.Writer) *DebugPrinter {
	return &DebugPrinter{w: w}
}

// Start subscribes the printer to every event on c.
func (p *DebugPrinter) Start(c *Center) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsub != nil {
		return
	}
	p.unsub = c.SubscribeAll(p.Print)
}

// Stop unsubscribes the printer.
func (p *DebugPrinter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
}

// Print writes the line for e. Unknown events are ignored.
func (p *DebugPrinter) Print(e Event) {
	if msg := Describe(e); msg != "" {
		fmt.Fprintf(p.w, "*** %s\n", msg)
	}
}

// Describe renders e as a sentence, or returns "" for unknown events.
func Describe(e Event) string {
	switch e.Name {
	case SnapshotCreated:
		return fmt.Sprintf("Snapshot %s created for %s", e.Snapshot, e.Rep)
	case CachedContentUsed:
		return fmt.Sprintf("Used cached compiled content for %s instead of recompiling", e.Rep)
	case StageStarted:
		return "Stage started: " + e.Stage
	case StageEnded:
		return "Stage ended: " + e.Stage
	case StageAborted:
		if e.Err != nil {
			return fmt.Sprintf("Stage aborted: %s (%v)", e.Stage, e.Err)
		}
		return "Stage aborted: " + e.Stage
	case CompilationSuspended:
		return fmt.Sprintf("Suspended compilation of %s: depends on %s, snapshot %s", e.Rep, e.Dependency, e.Snapshot)
	case CompilationStarted:
		return fmt.Sprintf("Started compilation of %s", e.Rep)
	case CompilationEnded:
		return fmt.Sprintf("Ended compilation of %s", e.Rep)
	default:
		return ""
	}
}
