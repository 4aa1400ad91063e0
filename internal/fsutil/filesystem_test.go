package fsutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplacesAndCleansUp(t *testing.T) {
	fs := NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/data/feeds/ofac.json", []byte("old"), 0644))

	require.NoError(t, WriteFileAtomic(fs, "/data/feeds/ofac.json", []byte("new"), 0644))

	got, err := fs.ReadFile("/data/feeds/ofac.json")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.False(t, fs.HasTempFiles())
}

func TestMemoryFileSystemRename(t *testing.T) {
	fs := NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/a", []byte("x"), 0644))

	require.NoError(t, fs.Rename("/a", "/b"))
	assert.False(t, fs.Exists("/a"))
	assert.True(t, fs.Exists("/b"))

	err := fs.Rename("/missing", "/c")
	assert.Error(t, err)
}

func TestMemoryFileSystemStat(t *testing.T) {
	fs := NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/data/feeds", 0755))
	require.NoError(t, fs.WriteFile("/data/feeds/f.json", []byte("abc"), 0644))

	info, err := fs.Stat("/data/feeds/f.json")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	assert.False(t, info.IsDir())

	info, err = fs.Stat("/data/feeds")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = fs.Stat("/nope")
	assert.Error(t, err)
}
