package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/kiln/internal/fsutil"
	"github.com/aretw0/kiln/pkg/core"
)

func binaryRep(identifier, name string) *core.Rep {
	item := core.NewItem(core.BinaryContent{Filename: "/dev/null"}, nil, identifier)
	return core.NewRep(item, name, core.SnapshotDef{Name: "last", Binary: true})
}

func writeTemp(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestBinary_Get_Set(t *testing.T) {
	root := t.TempDir()
	c := NewBinary(root, nil)
	rep := binaryRep("/images/logo.png", "default")

	t.Run("Miss Before Set", func(t *testing.T) {
		_, ok := c.Get(rep)
		assert.False(t, ok)
	})

	src := writeTemp(t, "logo.png", "PNG bytes")
	stored, err := c.Set(rep, core.Snapshots{
		"last": core.BinaryContent{Filename: src},
		"text": text("ignored"),
	})
	require.NoError(t, err)

	dst := filepath.Join(root, "images", "logo.png", "default", "last")
	assert.Equal(t, core.Snapshots{"last": core.BinaryContent{Filename: dst}}, stored)

	t.Run("Copies Into Slot", func(t *testing.T) {
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "PNG bytes", string(data))
	})

	t.Run("Get Scans Slot", func(t *testing.T) {
		got, ok := c.Get(rep)
		require.True(t, ok)
		assert.Equal(t, core.Snapshots{"last": core.BinaryContent{Filename: dst}}, got)
	})

	t.Run("Same File Is Not Copied", func(t *testing.T) {
		old := time.Now().Add(-time.Hour).Truncate(time.Second)
		require.NoError(t, os.Chtimes(dst, old, old))

		_, err := c.Set(rep, core.Snapshots{"last": core.BinaryContent{Filename: dst}})
		require.NoError(t, err)

		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old), "mtime must not change")
	})

	t.Run("Identical Bytes Are Not Copied", func(t *testing.T) {
		old := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
		require.NoError(t, os.Chtimes(dst, old, old))

		again := writeTemp(t, "copy.png", "PNG bytes")
		_, err := c.Set(rep, core.Snapshots{"last": core.BinaryContent{Filename: again}})
		require.NoError(t, err)

		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old), "mtime must not change")
	})

	t.Run("Changed Bytes Are Copied", func(t *testing.T) {
		changed := writeTemp(t, "new.png", "new PNG bytes")
		_, err := c.Set(rep, core.Snapshots{"last": core.BinaryContent{Filename: changed}})
		require.NoError(t, err)

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "new PNG bytes", string(data))
	})

	t.Run("Dropped Snapshots Are Removed", func(t *testing.T) {
		extra := writeTemp(t, "thumb.png", "thumb")
		_, err := c.Set(rep, core.Snapshots{
			"last":  core.BinaryContent{Filename: dst},
			"thumb": core.BinaryContent{Filename: extra},
		})
		require.NoError(t, err)

		_, err = c.Set(rep, core.Snapshots{"last": core.BinaryContent{Filename: dst}})
		require.NoError(t, err)

		got, ok := c.Get(rep)
		require.True(t, ok)
		assert.Equal(t, []string{"last"}, got.Names())
	})
}

func TestBinary_RejectsEscapingIdentifier(t *testing.T) {
	c := NewBinary(t.TempDir(), nil)
	src := writeTemp(t, "x", "x")

	_, err := c.Set(binaryRep("/../outside", "default"), core.Snapshots{"last": core.BinaryContent{Filename: src}})
	assert.Error(t, err)
}

func TestBinary_Prune(t *testing.T) {
	root := t.TempDir()
	c := NewBinary(root, nil)
	src := writeTemp(t, "data.bin", "data")
	snaps := core.Snapshots{"last": core.BinaryContent{Filename: src}}

	for _, id := range []string{"/foo", "/foobar", "/foo/bar.png", "/gone/deep/x.png"} {
		_, err := c.Set(binaryRep(id, "default"), snaps)
		require.NoError(t, err)
	}

	t.Run("Matches Whole Identifiers", func(t *testing.T) {
		live := []*core.Item{
			binaryRep("/foo", "default").Item,
			binaryRep("/foo/bar.png", "default").Item,
		}
		require.NoError(t, c.Prune(live))

		_, ok := c.Get(binaryRep("/foo", "default"))
		assert.True(t, ok, "/foo is live")
		_, ok = c.Get(binaryRep("/foo/bar.png", "default"))
		assert.True(t, ok, "/foo/bar.png is live")
		_, ok = c.Get(binaryRep("/foobar", "default"))
		assert.False(t, ok, "/foobar must not survive because /foo is live")
	})

	t.Run("Removes Empty Parents", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(root, "gone"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Missing Root Is Fine", func(t *testing.T) {
		missing := NewBinary(filepath.Join(t.TempDir(), "nope"), nil)
		assert.NoError(t, missing.Prune(nil))
	})

	t.Run("Prefix Does Not Keep Longer Identifier Alive", func(t *testing.T) {
		_, err := c.Set(binaryRep("/foobar", "default"), snaps)
		require.NoError(t, err)

		require.NoError(t, c.Prune([]*core.Item{binaryRep("/foobar", "default").Item}))

		_, ok := c.Get(binaryRep("/foobar", "default"))
		assert.True(t, ok)
		_, ok = c.Get(binaryRep("/foo", "default"))
		assert.False(t, ok, "/foo is not live")
	})

	t.Run("Stale Rep Directory Spelling A Live Identifier", func(t *testing.T) {
		c := NewBinary(t.TempDir(), nil)
		stale := binaryRep("/foo", "default")
		live := binaryRep("/foo/default", "x")

		_, err := c.Set(stale, snaps)
		require.NoError(t, err)
		_, err = c.Set(live, snaps)
		require.NoError(t, err)

		require.NoError(t, c.Prune([]*core.Item{live.Item}))

		got, ok := c.Get(live)
		require.True(t, ok, "live entries must survive")
		data, err := os.ReadFile(got["last"].(core.BinaryContent).Filename)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))

		_, ok = c.Get(stale)
		assert.False(t, ok, "/foo is not live")
	})

	t.Run("Stale Item Under A Live Item's Directory", func(t *testing.T) {
		c := NewBinary(t.TempDir(), nil)
		parent := binaryRep("/docs", "default")
		child := binaryRep("/docs/guide.pdf", "default")

		_, err := c.Set(parent, snaps)
		require.NoError(t, err)
		_, err = c.Set(child, snaps)
		require.NoError(t, err)

		require.NoError(t, c.Prune([]*core.Item{parent.Item}))

		_, ok := c.Get(parent)
		assert.True(t, ok)
		_, ok = c.Get(child)
		assert.False(t, ok)
	})
}

func TestBinary_IgnoresTornWrites(t *testing.T) {
	root := t.TempDir()
	c := NewBinary(root, nil)
	rep := binaryRep("/logo.png", "default")

	dir := filepath.Join(root, "logo.png", "default")
	require.NoError(t, os.MkdirAll(dir, 0755))
	torn := filepath.Join(dir, fsutil.TempFilePrefix+"last-123")
	require.NoError(t, os.WriteFile(torn, []byte("half"), 0644))

	t.Run("Get Skips Temporary Files", func(t *testing.T) {
		_, ok := c.Get(rep)
		assert.False(t, ok, "a torn write must read as a miss")
	})

	t.Run("Next Set Removes Them", func(t *testing.T) {
		src := writeTemp(t, "logo.png", "pixels")
		_, err := c.Set(rep, core.Snapshots{"last": core.BinaryContent{Filename: src}})
		require.NoError(t, err)

		_, err = os.Stat(torn)
		assert.True(t, os.IsNotExist(err))

		got, ok := c.Get(rep)
		require.True(t, ok)
		assert.Equal(t, []string{"last"}, got.Names())
	})
}
