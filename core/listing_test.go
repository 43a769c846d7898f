package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxfer/pathsafe"
	"sxfer/protocols"
	"sxfer/wire"
)

func TestList(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	fsys := &protocols.LocalFileSystem{RootPath: root}

	require.NoError(t, os.Mkdir(filepath.Join(root, "b-dir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("12345"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "up.bin.tmp"), []byte("x"), 0644))

	active := NewActiveTransfers()
	active.Add(filepath.Join(root, "up.bin.tmp"))

	listing, err := List(fsys, "", active)
	require.NoError(t, err)
	require.Len(t, listing.Entries, 2)
	assert.Equal(t, wire.Entry{Type: wire.EntryDir, Name: "b-dir", ModifyDate: listing.Entries[0].ModifyDate}, listing.Entries[0])
	assert.Equal(t, "a.txt", listing.Entries[1].Name)
	assert.Equal(t, int64(5), listing.Entries[1].Size)

	// once the upload is no longer registered its temp file is listed
	active.Remove(filepath.Join(root, "up.bin.tmp"))
	listing, err = List(fsys, "", nil)
	require.NoError(t, err)
	assert.Len(t, listing.Entries, 3)

	for _, rel := range []string{"missing", "a.txt"} {
		listing, err = List(fsys, rel, active)
		require.NoError(t, err, rel)
		assert.Empty(t, listing.Entries, rel)
	}

	_, err = List(fsys, "../", active)
	assert.ErrorIs(t, err, pathsafe.ErrPathSecurity)
}

func TestActiveTransfers(t *testing.T) {
	a := NewActiveTransfers()
	a.Add("/srv/x.tmp")
	assert.True(t, a.Has("/srv/x.tmp"))
	_, ok := a.Started("/srv/x.tmp")
	assert.True(t, ok)
	assert.Equal(t, 1, a.Len())
	a.Remove("/srv/x.tmp")
	assert.False(t, a.Has("/srv/x.tmp"))

	var none *ActiveTransfers
	none.Add("/srv/y.tmp")
	assert.False(t, none.Has("/srv/y.tmp"))
	assert.Zero(t, none.Len())
}
