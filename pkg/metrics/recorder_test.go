package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/kiln/pkg/notify"
)

func TestRecorder_CountsNotifications(t *testing.T) {
	r := NewRecorder(nil)
	c := notify.NewCenter()
	unsubscribe := r.Attach(c)

	c.Publish(notify.Event{Name: notify.CachedContentUsed}).Sync()
	c.Publish(notify.Event{Name: notify.CachedContentUsed}).Sync()
	c.Publish(notify.Event{Name: notify.CompilationSuspended}).Sync()
	c.Publish(notify.Event{Name: notify.SnapshotCreated, Snapshot: "last"}).Sync()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.suspensions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.snapshots.WithLabelValues("last")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues(string(notify.CachedContentUsed))))

	unsubscribe()
	c.Publish(notify.Event{Name: notify.CachedContentUsed}).Sync()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheHits))
}

func TestRecorder_StageDurations(t *testing.T) {
	r := NewRecorder(nil)
	clock := time.Unix(0, 0)
	r.now = func() time.Time { return clock }

	r.Observe(notify.Event{Name: notify.StageStarted, Stage: "compile_reps"})
	clock = clock.Add(2 * time.Second)
	r.Observe(notify.Event{Name: notify.StageEnded, Stage: "compile_reps"})

	r.Observe(notify.Event{Name: notify.StageStarted, Stage: "prune"})
	r.Observe(notify.Event{Name: notify.StageAborted, Stage: "prune"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageResults.WithLabelValues("compile_reps", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageResults.WithLabelValues("prune", "aborted")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.stageDuration))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder(nil)
	r.Observe(notify.Event{Name: notify.CachedContentUsed})

	path := filepath.Join(t.TempDir(), "kiln.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kiln_cached_content_used_total 1")
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.Observe(notify.Event{Name: notify.StageStarted}) })
}
