package overlay

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS_WriteReadStatRoundTrip(t *testing.T) {
	dir := t.TempDir()
	o := NewOS(nil, nil)
	require.NoError(t, o.Mount(dir))

	path := filepath.Join(dir, "hello.txt")
	w, err := o.OpenWrite(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	stat, err := o.Stat(path)
	require.NoError(t, err)
	assert.False(t, stat.IsDir)
	assert.EqualValues(t, 5, stat.Size)

	r, err := o.OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOS_MountInjectsProvidedCallback(t *testing.T) {
	called := false
	o := NewOS(func(mountPoint string) error {
		called = true
		return nil
	}, nil)
	require.NoError(t, o.Mount(t.TempDir()))
	assert.True(t, called)
}

func TestOS_UnmountPropagatesCallbackError(t *testing.T) {
	o := NewOS(nil, func() error { return os.ErrClosed })
	require.NoError(t, o.Mount(t.TempDir()))
	assert.ErrorIs(t, o.Unmount(), os.ErrClosed)
}

func TestOS_MkdirRenameUnlink(t *testing.T) {
	dir := t.TempDir()
	o := NewOS(nil, nil)
	require.NoError(t, o.Mount(dir))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, o.Mkdir(sub))

	stat, err := o.Stat(sub)
	require.NoError(t, err)
	assert.True(t, stat.IsDir)

	entries, err := o.ListDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name)

	renamed := filepath.Join(dir, "renamed")
	require.NoError(t, o.Rename(sub, renamed))
	_, err = o.Stat(sub)
	assert.Error(t, err)

	require.NoError(t, o.Unlink(renamed))
	_, err = o.Stat(renamed)
	assert.Error(t, err)

	require.NoError(t, o.Unmount())
}
