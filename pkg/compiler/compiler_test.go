package compiler_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/compiler"
	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/notify"
	"github.com/aretw0/kiln/pkg/outdatedness"
	"github.com/aretw0/kiln/pkg/rules"
	"github.com/aretw0/kiln/pkg/store"
)

// memSource serves items built from a mutable identifier -> text map.
type memSource struct {
	mu    sync.Mutex
	texts map[string]string
}

func (s *memSource) set(identifier, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[identifier] = text
}

func (s *memSource) Items(context.Context) ([]*core.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*core.Item, 0, len(s.texts))
	for id, text := range s.texts {
		items = append(items, core.NewItem(core.TextualContent{String: text}, nil, id))
	}
	return items, nil
}

// memWriter collects the last snapshot of every written rep.
type memWriter struct {
	out map[string]string
}

func (w *memWriter) Write(_ context.Context, reps []*core.Rep, contents *store.CompiledContentStore) (int, error) {
	n := 0
	for _, rep := range reps {
		if c, ok := contents.Get(rep, core.SnapshotLast); ok {
			w.out[rep.Item.Identifier] = c.(core.TextualContent).String
			n++
		}
	}
	return n, nil
}

const includeRules = `
compile:
  - pattern: "/**/*.md"
    filters: [include, trim]
`

type fixture struct {
	src      *memSource
	out      *memWriter
	events   *notify.Center
	compiler *compiler.Compiler
	dir      string
}

func newFixture(t *testing.T, texts map[string]string, withOracle bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	rs, err := rules.Parse([]byte(includeRules))
	require.NoError(t, err)

	f := &fixture{
		src:    &memSource{texts: texts},
		out:    &memWriter{out: make(map[string]string)},
		events: notify.NewCenter(),
		dir:    dir,
	}

	cfg := compiler.Config{
		Items: f.src,
		Rules: rs,
		Cache: cache.NewComposite(
			cache.NewTextual(filepath.Join(dir, "compiled_content"), nil),
			cache.NewBinary(filepath.Join(dir, "binary_content"), nil),
		),
		Output: func(*rules.Plan) compiler.OutputWriter { return f.out },
		Prune:  true,
		Events: f.events,
	}
	if withOracle {
		cfg.Oracle = outdatedness.New(filepath.Join(dir, "checksums"), nil)
	}

	f.compiler, err = compiler.New(cfg)
	require.NoError(t, err)
	return f
}

func keys(ids ...string) []core.RepKey {
	out := make([]core.RepKey, len(ids))
	for i, id := range ids {
		out[i] = core.RepKey{Item: id, Name: core.DefaultRepName}
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := compiler.New(compiler.Config{})
	assert.Error(t, err)

	_, err = compiler.New(compiler.Config{Items: &memSource{}})
	assert.Error(t, err)
}

func TestCompile_Incremental(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/a.md": `A[{{ include "/b.md" }}]`,
		"/b.md": "B \n",
		"/c.md": "C",
	}, true)
	ctx := context.Background()

	t.Run("First Run Recomputes Everything", func(t *testing.T) {
		res, err := f.compiler.Compile(ctx)
		require.NoError(t, err)

		assert.NotEmpty(t, res.RunID)
		assert.Equal(t, 3, res.Reps)
		assert.ElementsMatch(t, keys("/a.md", "/b.md", "/c.md"), res.Recomputed)
		assert.Empty(t, res.Cached)
		assert.Equal(t, 1, res.Suspensions, "a waits for b once")
		assert.Equal(t, 3, res.Written)
		assert.Equal(t, "A[B]", f.out.out["/a.md"])
	})

	t.Run("Unchanged Run Uses Cache", func(t *testing.T) {
		res, err := f.compiler.Compile(ctx)
		require.NoError(t, err)

		assert.ElementsMatch(t, keys("/a.md", "/b.md", "/c.md"), res.Cached)
		assert.Empty(t, res.Recomputed)
		assert.Zero(t, res.Suspensions)
		assert.Equal(t, "A[B]", f.out.out["/a.md"])
	})

	t.Run("Changed Dependency Recomputes Dependents", func(t *testing.T) {
		f.src.set("/b.md", "B2")

		res, err := f.compiler.Compile(ctx)
		require.NoError(t, err)

		assert.ElementsMatch(t, keys("/a.md", "/b.md"), res.Recomputed)
		assert.ElementsMatch(t, keys("/c.md"), res.Cached)
		assert.Equal(t, "A[B2]", f.out.out["/a.md"])
	})

	t.Run("State Reports Last Run", func(t *testing.T) {
		state, ok := f.compiler.State().(compiler.CompilerState)
		require.True(t, ok)
		require.NotNil(t, state.LastRun)
		assert.Empty(t, state.Stage)
		assert.Equal(t, 3, state.LastRun.Reps)
		assert.Equal(t, "compiler", f.compiler.ComponentType())
	})
}

func TestCompile_WithoutOracleAlwaysRecomputes(t *testing.T) {
	f := newFixture(t, map[string]string{"/a.md": "A"}, false)

	for i := 0; i < 2; i++ {
		res, err := f.compiler.Compile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, keys("/a.md"), res.Recomputed)
		assert.Empty(t, res.Cached)
	}
}

func TestCompile_StageEvents(t *testing.T) {
	f := newFixture(t, map[string]string{"/a.md": "A"}, true)

	var got []string
	f.events.SubscribeAll(func(e notify.Event) {
		switch e.Name {
		case notify.StageStarted, notify.StageEnded:
			got = append(got, string(e.Name)+":"+e.Stage)
		}
	})

	_, err := f.compiler.Compile(context.Background())
	require.NoError(t, err)

	var want []string
	for _, st := range []string{
		compiler.StageLoadStores,
		compiler.StageDetermineOutdatedness,
		compiler.StageCompileReps,
		compiler.StageWriteReps,
		compiler.StagePrune,
		compiler.StageStoreCaches,
	} {
		want = append(want, string(notify.StageStarted)+":"+st, string(notify.StageEnded)+":"+st)
	}
	assert.Equal(t, want, got)
}

func TestCompile_DependencyCycle(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/a.md": `{{ include "/b.md" }}`,
		"/b.md": `{{ include "/a.md" }}`,
	}, true)

	var aborted []notify.Event
	f.events.Subscribe(notify.StageAborted, func(e notify.Event) { aborted = append(aborted, e) })

	_, err := f.compiler.Compile(context.Background())
	require.Error(t, err)

	var cycle *core.DependencyCycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, keys("/a.md", "/b.md", "/a.md"), cycle.Path)
	assert.ErrorIs(t, err, core.ErrDependencyCycle)
	assert.Contains(t, err.Error(), "stage compile_reps")
	assert.Contains(t, err.Error(), "/a.md (rep name :default) -> /b.md (rep name :default) -> /a.md (rep name :default)")

	require.Len(t, aborted, 1)
	assert.Equal(t, compiler.StageCompileReps, aborted[0].Stage)
	assert.Empty(t, f.out.out, "nothing is written after a failed stage")
}

func TestCompile_SelfInclusionIsACycle(t *testing.T) {
	f := newFixture(t, map[string]string{"/a.md": `{{ include "/a.md" }}`}, false)

	_, err := f.compiler.Compile(context.Background())
	var cycle *core.DependencyCycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, keys("/a.md", "/a.md"), cycle.Path)
}

func TestCompile_CancelledContext(t *testing.T) {
	f := newFixture(t, map[string]string{"/a.md": "A"}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.compiler.Compile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "stage load_stores")
}

func TestPrune_RemovesDeletedItems(t *testing.T) {
	f := newFixture(t, map[string]string{"/a.md": "A", "/b.md": "B"}, true)
	ctx := context.Background()

	_, err := f.compiler.Compile(ctx)
	require.NoError(t, err)

	textual := cache.NewTextual(filepath.Join(f.dir, "compiled_content"), nil)
	require.NoError(t, textual.Load())
	require.Equal(t, 2, textual.Len())

	f.src.mu.Lock()
	delete(f.src.texts, "/b.md")
	f.src.mu.Unlock()

	require.NoError(t, f.compiler.Prune(ctx))

	textual = cache.NewTextual(filepath.Join(f.dir, "compiled_content"), nil)
	require.NoError(t, textual.Load())
	assert.Equal(t, 1, textual.Len())
}
