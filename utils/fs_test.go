package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir), "existing directory must not be an error")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDirFailsOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	assert.Error(t, EnsureDir(filepath.Join(file, "sub")))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "tile_0_1", BaseName("/tmp/x/tile_0_1.png"))
	assert.Equal(t, "noext", BaseName("noext"))
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.PNG", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.png"), 0755))

	files, err := ListFiles(dir, ".png")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.png")}, files)

	_, err = ListFiles(filepath.Join(dir, "missing"), ".png")
	assert.Error(t, err)
}

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", BytesMD5([]byte("hello")))

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	sum, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, BytesMD5([]byte("hello")), sum)
}
