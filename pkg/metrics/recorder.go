// Package metrics turns compiler notifications into Prometheus metrics.
package metrics

import (
	"fmt"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/kiln/pkg/notify"
)

const namespace = "kiln"

// Recorder listens on a notification center and maintains Prometheus
// metrics for stages and rep compilation.
type Recorder struct {
	registry *prom.Registry

	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	events        *prom.CounterVec
	cacheHits     prom.Counter
	suspensions   prom.Counter
	snapshots     *prom.CounterVec

	mu          sync.Mutex
	stageStarts map[string]time.Time
	now         func() time.Time
}

// NewRecorder creates a recorder with metrics registered on reg. A nil reg
// gets a private registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry:    reg,
		stageStarts: make(map[string]time.Time),
		now:         time.Now,
	}

	r.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of compiler stages",
		Buckets:   prom.DefBuckets,
	}, []string{"stage"})
	r.stageResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stage_results_total",
		Help:      "Stage results by outcome",
	}, []string{"stage", "result"})
	r.events = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications published by the compiler",
	}, []string{"name"})
	r.cacheHits = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "cached_content_used_total",
		Help:      "Reps served from the compiled content cache",
	})
	r.suspensions = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "compilation_suspensions_total",
		Help:      "Times a rep computation waited on another rep",
	})
	r.snapshots = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_created_total",
		Help:      "Snapshots produced by recomputation",
	}, []string{"snapshot"})

	reg.MustRegister(r.stageDuration, r.stageResults, r.events, r.cacheHits, r.suspensions, r.snapshots)
	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prom.Registry {
	return r.registry
}

// Attach subscribes the recorder to c and returns the unsubscribe function.
func (r *Recorder) Attach(c *notify.Center) func() {
	return c.SubscribeAll(r.Observe)
}

// Observe records one notification.
func (r *Recorder) Observe(e notify.Event) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(string(e.Name)).Inc()

	switch e.Name {
	case notify.CachedContentUsed:
		r.cacheHits.Inc()
	case notify.CompilationSuspended:
		r.suspensions.Inc()
	case notify.SnapshotCreated:
		r.snapshots.WithLabelValues(e.Snapshot).Inc()
	case notify.StageStarted:
		r.mu.Lock()
		r.stageStarts[e.Stage] = r.now()
		r.mu.Unlock()
	case notify.StageEnded:
		r.endStage(e.Stage, "success")
	case notify.StageAborted:
		r.endStage(e.Stage, "aborted")
	}
}

func (r *Recorder) endStage(stage, result string) {
	r.mu.Lock()
	start, ok := r.stageStarts[stage]
	delete(r.stageStarts, stage)
	r.mu.Unlock()

	if ok {
		r.stageDuration.WithLabelValues(stage).Observe(r.now().Sub(start).Seconds())
	}
	r.stageResults.WithLabelValues(stage, result).Inc()
}

// WriteTextfile writes the current metrics in the text exposition format,
// as consumed by the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
