package notify

import (
	"context"
	"log/slog"
)

// LogListener returns a listener that logs every event at debug level.
func LogListener(logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}

		attrs := []any{"event", string(e.Name)}
		if e.Rep != nil {
			attrs = append(attrs, "rep", e.Rep.String())
		}
		if e.Dependency != nil {
			attrs = append(attrs, "dependency", e.Dependency.String())
		}
		if e.Snapshot != "" {
			attrs = append(attrs, "snapshot", e.Snapshot)
		}
		if e.Stage != "" {
			attrs = append(attrs, "stage", e.Stage)
		}
		if e.Err != nil {
			attrs = append(attrs, "error", e.Err)
		}
		logger.Debug(Describe(e), attrs...)
	}
}
