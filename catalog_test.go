package cuteshm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *catalog {
	return &catalog{
		persistent: true,
		entries: []catalogEntry{
			{
				path: []string{"a"},
				meta: ArrayMeta{
					SHMName: "cute-shm.p.11111111-1111-1111-1111-111111111111",
					DType:   Int64,
					Shape:   []int{3, 3},
					Attrs:   Attrs{"unit": "m", "count": int64(4), "calibrated": true},
				},
			},
			{
				path: []string{"b", "b1"},
				meta: ArrayMeta{
					SHMName: "cute-shm.p.22222222-2222-2222-2222-222222222222",
					DType:   Float32,
					Shape:   []int{100},
				},
			},
		},
	}
}

func TestCatalogWriteReadRoundTrip(t *testing.T) {
	store := catalogStore{root: t.TempDir()}

	require.NoError(t, store.write("proj", testCatalog()))
	assert.True(t, store.exists("proj"))

	c, err := store.read("proj")
	require.NoError(t, err)
	assert.True(t, c.persistent)
	require.Len(t, c.entries, 2)

	assert.Equal(t, []string{"a"}, c.entries[0].path)
	assert.Equal(t, Int64, c.entries[0].meta.DType)
	assert.Equal(t, []int{3, 3}, c.entries[0].meta.Shape)
	assert.Equal(t, "m", c.entries[0].meta.Attrs["unit"])
	assert.Equal(t, int64(4), c.entries[0].meta.Attrs["count"])
	assert.Equal(t, true, c.entries[0].meta.Attrs["calibrated"])

	assert.Equal(t, []string{"b", "b1"}, c.entries[1].path)
	assert.Equal(t, Float32, c.entries[1].meta.DType)
	assert.Empty(t, c.entries[1].meta.Attrs)
}

func TestCatalogReadMissing(t *testing.T) {
	store := catalogStore{root: t.TempDir()}
	_, err := store.read("nope")
	require.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestCatalogReadCorrupt(t *testing.T) {
	root := t.TempDir()
	store := catalogStore{root: root}
	path := store.path("broken")
	require.NoError(t, os.WriteFile(path, []byte("this = is [not toml"), 0o600))

	_, err := store.read("broken")
	require.ErrorIs(t, err, ErrCatalogCorrupt)
}

func TestCatalogReadMissingFields(t *testing.T) {
	root := t.TempDir()
	store := catalogStore{root: root}
	doc := "[arrays.x]\nshm_name = \"seg\"\ndtype = \"float64\"\n" // no shape
	require.NoError(t, os.WriteFile(store.path("partial"), []byte(doc), 0o600))

	_, err := store.read("partial")
	require.ErrorIs(t, err, ErrCatalogCorrupt)
}

func TestCatalogReadOverflowingShape(t *testing.T) {
	root := t.TempDir()
	store := catalogStore{root: root}
	doc := "[arrays.x]\nshm_name = \"seg\"\ndtype = \"float64\"\nshape = [4611686018427387904, 4]\n"
	require.NoError(t, os.WriteFile(store.path("huge"), []byte(doc), 0o600))

	_, err := store.read("huge")
	require.ErrorIs(t, err, ErrCatalogCorrupt)
}

func TestCatalogDeleteIdempotent(t *testing.T) {
	store := catalogStore{root: t.TempDir()}
	require.NoError(t, store.write("proj", testCatalog()))

	require.NoError(t, store.delete("proj"))
	assert.False(t, store.exists("proj"))
	require.NoError(t, store.delete("proj"))
}

func TestCatalogList(t *testing.T) {
	root := t.TempDir()
	store := catalogStore{root: root}

	names, err := store.list()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.write("beta", testCatalog()))
	require.NoError(t, store.write("alpha", testCatalog()))

	// Unrelated files at the root are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	names, err = store.list()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestCatalogEmptyProject(t *testing.T) {
	store := catalogStore{root: t.TempDir()}
	require.NoError(t, store.write("empty", &catalog{persistent: false}))

	c, err := store.read("empty")
	require.NoError(t, err)
	assert.False(t, c.persistent)
	assert.Empty(t, c.entries)
}
