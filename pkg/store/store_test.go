package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/kiln/pkg/core"
	"github.com/aretw0/kiln/pkg/fiber"
	"github.com/aretw0/kiln/pkg/store"
)

func newRep(defs ...core.SnapshotDef) *core.Rep {
	item := core.NewItem(core.TextualContent{String: "contentz"}, nil, "/foo.md")
	return core.NewRep(item, "foo", defs...)
}

func text(s string) core.Content { return core.TextualContent{String: s} }

func TestStore_Get(t *testing.T) {
	t.Run("Rep Does Not Exist", func(t *testing.T) {
		s := store.New()
		_, ok := s.Get(newRep(), "donkey")
		assert.False(t, ok)
	})

	t.Run("Snapshot Does Not Exist", func(t *testing.T) {
		s := store.New()
		rep := newRep()
		s.Set(rep, "foobar", text("other content"))

		_, ok := s.Get(rep, "donkey")
		assert.False(t, ok)
	})

	t.Run("Snapshot Exists", func(t *testing.T) {
		s := store.New()
		rep := newRep()
		s.Set(rep, "foobar", text("other content"))
		s.Set(rep, "donkey", text("donkey"))

		got, ok := s.Get(rep, "donkey")
		require.True(t, ok)
		assert.Equal(t, text("donkey"), got)
	})
}

func TestStore_GetAll(t *testing.T) {
	s := store.New()
	rep := newRep()

	assert.Equal(t, core.Snapshots{}, s.GetAll(rep))

	s.Set(rep, "foobar", text("donkey"))
	assert.Equal(t, core.Snapshots{"foobar": text("donkey")}, s.GetAll(rep))

	// Returned maps are copies.
	s.GetAll(rep)["sneaky"] = text("x")
	_, ok := s.Get(rep, "sneaky")
	assert.False(t, ok)
}

func TestStore_SetAll(t *testing.T) {
	s := store.New()
	rep := newRep()
	// Same identity, different value: the store keys by identity.
	otherRep := core.NewRep(core.NewItem(text("contentz"), nil, "/bar.md"), "foo")
	s.Set(otherRep, "donkey", text("untouched"))

	s.SetAll(rep, core.Snapshots{"donkey": text("donkey")})

	got, ok := s.Get(rep, "donkey")
	require.True(t, ok)
	assert.Equal(t, text("donkey"), got)

	t.Run("Leaves Other Reps Intact", func(t *testing.T) {
		got, ok := s.Get(otherRep, "donkey")
		require.True(t, ok)
		assert.Equal(t, text("untouched"), got)
	})

	t.Run("Leaves Other Snapshots Intact", func(t *testing.T) {
		_, ok := s.Get(rep, "giraffe")
		assert.False(t, ok)
	})

	t.Run("Returns Exactly What Was Set", func(t *testing.T) {
		assert.Equal(t, core.Snapshots{"donkey": text("donkey")}, s.GetAll(rep))
	})
}

func TestStore_CompiledContent(t *testing.T) {
	for _, snapshot := range []string{"", "pre", "post", "last", "donkey"} {
		expected := snapshot
		if expected == "" {
			expected = core.SnapshotLast
		}

		t.Run("Snapshot "+expected, func(t *testing.T) {
			t.Run("No Snapshot Def", func(t *testing.T) {
				s := store.New()
				rep := newRep()
				s.SetAll(rep, core.Snapshots{expected: text("hellos")})

				_, err := s.CompiledContent(context.Background(), rep, snapshot)
				assert.True(t, errors.Is(err, core.ErrNoSuchSnapshot))
			})

			t.Run("Content Missing Outside Fiber", func(t *testing.T) {
				s := store.New()
				rep := newRep(core.SnapshotDef{Name: expected})
				s.SetAll(rep, core.Snapshots{})

				_, err := s.CompiledContent(context.Background(), rep, snapshot)
				var unmet *core.UnmetDependencyError
				require.True(t, errors.As(err, &unmet))
				assert.Same(t, rep, unmet.Rep)
				assert.Equal(t, expected, unmet.Snapshot)
			})

			t.Run("Content Missing Inside Fiber Yields", func(t *testing.T) {
				s := store.New()
				rep := newRep(core.SnapshotDef{Name: expected})
				s.SetAll(rep, core.Snapshots{})

				f := fiber.New(context.Background(), func(ctx context.Context) any {
					out, err := s.CompiledContent(ctx, rep, snapshot)
					if err != nil {
						return err
					}
					return out
				})

				yielded := f.Resume(nil)
				unmet, ok := yielded.(*core.UnmetDependencyError)
				require.True(t, ok, "expected unmet dependency, got %T", yielded)
				assert.Equal(t, expected, unmet.Snapshot)

				s.Set(rep, expected, text("late"))
				assert.Equal(t, "late", f.Resume(nil))
			})

			t.Run("Textual Content", func(t *testing.T) {
				s := store.New()
				rep := newRep(core.SnapshotDef{Name: expected})
				s.SetAll(rep, core.Snapshots{expected: text("hellos")})

				got, err := s.CompiledContent(context.Background(), rep, snapshot)
				require.NoError(t, err)
				assert.Equal(t, "hellos", got)
			})

			t.Run("Binary Content", func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "donkey.dat")
				require.NoError(t, os.WriteFile(path, []byte("binary data"), 0644))

				s := store.New()
				rep := newRep(core.SnapshotDef{Name: expected})
				s.SetAll(rep, core.Snapshots{expected: core.BinaryContent{Filename: path}})

				got, err := s.CompiledContent(context.Background(), rep, snapshot)
				require.Error(t, err)
				assert.True(t, errors.Is(err, core.ErrBinaryContentAccess))
				assert.Contains(t, err.Error(), "/foo.md (rep name :foo)")
				assert.NotContains(t, got, path)
			})
		})
	}
}

type recorder struct {
	started []core.RepKey
	edges   [][2]core.RepKey
}

func (r *recorder) StartRecording(rep *core.Rep) { r.started = append(r.started, rep.Key()) }

func (r *recorder) RecordDependency(dependent, dependency *core.Rep) {
	r.edges = append(r.edges, [2]core.RepKey{dependent.Key(), dependency.Key()})
}

func TestStore_RecordsDependencies(t *testing.T) {
	s := store.New()
	dependent := core.NewRep(core.NewItem(text("a"), nil, "/a.md"), "default")
	dependency := core.NewRep(core.NewItem(text("b"), nil, "/b.md"), "default", core.SnapshotDef{Name: core.SnapshotLast})
	s.Set(dependency, core.SnapshotLast, text("B"))

	rec := &recorder{}
	ctx := store.WithDependent(context.Background(), rec, dependent)

	got, err := s.CompiledContent(ctx, dependency, "")
	require.NoError(t, err)
	assert.Equal(t, "B", got)
	assert.Equal(t, [][2]core.RepKey{{dependent.Key(), dependency.Key()}}, rec.edges)
}

func TestStore_State(t *testing.T) {
	s := store.New()
	rep := newRep()
	s.Set(rep, "a", text("1"))
	s.Set(rep, "b", text("2"))

	assert.Equal(t, store.StoreState{Reps: 1, Snapshots: 2}, s.State())
	assert.Equal(t, "compiled_content_store", s.ComponentType())
}
