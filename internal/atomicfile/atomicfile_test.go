package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(s ...string) func(int) []byte {
	return func(i int) []byte { return []byte(s[i]) }
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	return matches
}

func TestWriteLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	require.NoError(t, WriteLines(path, ".out-*.tmp", 2, lines("a", "b")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))

	require.NoError(t, WriteLines(path, ".out-*.tmp", 0, nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, tempFiles(t, dir))
}

func TestWriteLines_FailedRenameKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	rename = func(string, string) error { return errors.New("disk full") }
	t.Cleanup(func() { rename = os.Rename })

	err := WriteLines(path, ".out-*.tmp", 1, lines("new"))
	require.ErrorContains(t, err, "disk full")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
	assert.Empty(t, tempFiles(t, dir))
}

func TestWriteLines_MissingDir(t *testing.T) {
	err := WriteLines(filepath.Join(t.TempDir(), "nope", "out.txt"), ".out-*.tmp", 1, lines("x"))
	assert.ErrorContains(t, err, "creating temp file")
}
