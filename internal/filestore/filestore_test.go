package filestore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))
	files := Local{Dir: dir}
	ctx := context.Background()

	ok, err := files.Exists(ctx, "abc.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = files.Exists(ctx, "missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = files.Exists(ctx, "sub.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	path, err := files.Localize(ctx, "abc.pdf", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.pdf"), path)

	_, err = files.Localize(ctx, "missing.pdf", t.TempDir())
	assert.ErrorIs(t, err, fs.ErrNotExist)

	r, err := files.Open(ctx, "abc.pdf")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestLocalStaysInsideDir(t *testing.T) {
	files := Local{Dir: "/var/www/files"}
	assert.Equal(t, "/var/www/files/passwd", files.path("../../../etc/passwd"))
}

func TestGCSObjectName(t *testing.T) {
	g := GCS{Prefix: "original/"}
	assert.Equal(t, "original/abc.pdf", g.object("abc.pdf"))
	assert.Equal(t, "abc.pdf", GCS{}.object("abc.pdf"))
}

func TestLocalPutAndRemove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "artifact.xml")
	require.NoError(t, os.WriteFile(src, []byte("<alto/>"), 0o600))
	files := Local{Dir: dir}
	ctx := context.Background()

	require.NoError(t, files.Put(ctx, src, "abc.xml", "application/alto+xml"))
	data, err := os.ReadFile(filepath.Join(dir, "abc.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<alto/>", string(data))

	assert.ErrorIs(t, files.Put(ctx, src, "abc.xml", ""), fs.ErrExist)

	require.NoError(t, files.Remove(ctx, "abc.xml"))
	require.NoError(t, files.Remove(ctx, "abc.xml"))
	_, err = os.Stat(filepath.Join(dir, "abc.xml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCopyFileOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tsv")
	dst := filepath.Join(dir, "12.tsv")
	require.NoError(t, os.WriteFile(src, []byte("new\t1:1,1,1,1\n"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	require.NoError(t, CopyFile(src, dst, false))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new\t1:1,1,1,1\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCopyFileMissingSource(t *testing.T) {
	err := CopyFile(filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "out"), false)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
