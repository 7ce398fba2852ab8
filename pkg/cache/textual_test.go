package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/kiln/pkg/core"
)

func textRep(identifier, name string, snapshots ...string) *core.Rep {
	defs := make([]core.SnapshotDef, 0, len(snapshots))
	for _, s := range snapshots {
		defs = append(defs, core.SnapshotDef{Name: s})
	}
	item := core.NewItem(core.TextualContent{String: "source"}, nil, identifier)
	return core.NewRep(item, name, defs...)
}

func text(s string) core.Content { return core.TextualContent{String: s} }

func TestTextual_Load(t *testing.T) {
	t.Run("Starts Empty if File Missing", func(t *testing.T) {
		c := NewTextual(filepath.Join(t.TempDir(), "compiled_content"), nil)

		require.NoError(t, c.Load())
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Loads What Was Stored", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache", "compiled_content")
		rep := textRep("/note1.md", "default", "last")

		first := NewTextual(path, nil)
		_, err := first.Set(rep, core.Snapshots{"last": text("Title 1")})
		require.NoError(t, err)
		require.NoError(t, first.Store())

		second := NewTextual(path, nil)
		require.NoError(t, second.Load())

		got, ok := second.Get(rep)
		require.True(t, ok)
		assert.Equal(t, core.Snapshots{"last": text("Title 1")}, got)
	})

	t.Run("Resets on Corrupted File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "compiled_content")
		require.NoError(t, os.WriteFile(path, []byte("{ invalid"), 0644))

		c := NewTextual(path, nil)
		require.NoError(t, c.Load())
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Resets on Truncated File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "compiled_content")
		rep := textRep("/a.md", "default", "last")

		c := NewTextual(path, nil)
		_, err := c.Set(rep, core.Snapshots{"last": text("a fairly long piece of compiled text")})
		require.NoError(t, err)
		require.NoError(t, c.Store())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0644))

		reloaded := NewTextual(path, nil)
		require.NoError(t, reloaded.Load())
		_, ok := reloaded.Get(rep)
		assert.False(t, ok, "a torn write must read as a miss")
	})
}

func TestTextual_Store(t *testing.T) {
	t.Run("Does Not Store if Not Dirty", func(t *testing.T) {
		c := NewTextual(filepath.Join(t.TempDir(), "compiled_content"), nil)

		require.NoError(t, c.Store())

		_, err := os.Stat(c.Path)
		assert.True(t, os.IsNotExist(err), "expected no cache file")
	})

	t.Run("Stores if Dirty", func(t *testing.T) {
		c := NewTextual(filepath.Join(t.TempDir(), "compiled_content"), nil)
		_, err := c.Set(textRep("/foo.md", "default"), core.Snapshots{"last": text("foo")})
		require.NoError(t, err)

		require.NoError(t, c.Store())

		_, err = os.Stat(c.Path)
		require.NoError(t, err)
		assert.False(t, c.dirty)
	})
}

func TestTextual_Get_Set(t *testing.T) {
	c := NewTextual(filepath.Join(t.TempDir(), "compiled_content"), nil)
	rep := textRep("/test.md", "default", "raw", "last")

	t.Run("Miss Before Set", func(t *testing.T) {
		_, ok := c.Get(rep)
		assert.False(t, ok)
	})

	binPath := filepath.Join(t.TempDir(), "image.png")
	stored, err := c.Set(rep, core.Snapshots{
		"raw":  text("raw text"),
		"last": text("last text"),
		"bin":  core.BinaryContent{Filename: binPath},
	})
	require.NoError(t, err)

	t.Run("Keeps Only Textual Content", func(t *testing.T) {
		assert.Equal(t, core.Snapshots{"raw": text("raw text"), "last": text("last text")}, stored)

		got, ok := c.Get(rep)
		require.True(t, ok)
		assert.Equal(t, stored, got)
	})

	t.Run("Reps Are Independent", func(t *testing.T) {
		_, ok := c.Get(textRep("/test.md", "other"))
		assert.False(t, ok)
	})

	t.Run("Set Replaces", func(t *testing.T) {
		_, err := c.Set(rep, core.Snapshots{"last": text("new")})
		require.NoError(t, err)

		got, ok := c.Get(rep)
		require.True(t, ok)
		assert.Equal(t, core.Snapshots{"last": text("new")}, got)
	})

	t.Run("Unchanged Set Keeps Cache Clean", func(t *testing.T) {
		require.NoError(t, c.Store())
		require.False(t, c.dirty)

		_, err := c.Set(rep, core.Snapshots{"last": text("new")})
		require.NoError(t, err)
		assert.False(t, c.dirty, "writing back the cached snapshots must not dirty the cache")

		_, err = c.Set(rep, core.Snapshots{"last": text("newer")})
		require.NoError(t, err)
		assert.True(t, c.dirty)
	})

	t.Run("Reloaded Cache Is Not Rewritten", func(t *testing.T) {
		require.NoError(t, c.Store())
		info, err := os.Stat(c.Path)
		require.NoError(t, err)
		old := info.ModTime().Add(-time.Hour).Truncate(time.Second)
		require.NoError(t, os.Chtimes(c.Path, old, old))

		fresh := NewTextual(c.Path, nil)
		require.NoError(t, fresh.Load())
		cached, ok := fresh.Get(rep)
		require.True(t, ok)
		_, err = fresh.Set(rep, cached)
		require.NoError(t, err)
		require.NoError(t, fresh.Store())

		info, err = os.Stat(c.Path)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old), "an unchanged cache must not be rewritten")
	})
}

func TestTextual_Prune(t *testing.T) {
	c := NewTextual(filepath.Join(t.TempDir(), "compiled_content"), nil)

	keep := textRep("/keep.md", "default")
	drop := textRep("/drop.md", "default")
	_, _ = c.Set(keep, core.Snapshots{"last": text("keep")})
	_, _ = c.Set(drop, core.Snapshots{"last": text("drop")})

	// Reset dirty manually to test if Prune sets it
	c.dirty = false

	require.NoError(t, c.Prune([]*core.Item{keep.Item}))

	_, ok := c.Get(keep)
	assert.True(t, ok, "expected /keep.md to remain")
	_, ok = c.Get(drop)
	assert.False(t, ok, "expected /drop.md to be removed")
	assert.True(t, c.dirty, "expected dirty after pruning")

	assert.Equal(t, TextualState{Path: c.Path, Reps: 1, Dirty: true}, c.State())
	assert.Equal(t, "textual_cache", c.ComponentType())
}
