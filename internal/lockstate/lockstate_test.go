package lockstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0755))
	}
}

func touchSentinel(t *testing.T, root, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(dir), SentinelName), []byte("x"), 0644))
}

func TestFindLockRoot(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "docs/a/b", "plain/c")
	touchSentinel(t, root, "docs")
	s := New(root)

	lockRoot, locked, err := s.FindLockRoot("docs/a/b")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "docs", lockRoot)

	lockRoot, locked, err = s.FindLockRoot("docs")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "docs", lockRoot)

	_, locked, err = s.FindLockRoot("plain/c")
	require.NoError(t, err)
	assert.False(t, locked)

	_, locked, err = s.FindLockRoot("")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestFindLockRootThroughFileAndMissing(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "docs")
	touchSentinel(t, root, "docs")
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "notes.pdf"), []byte("x"), 0644))
	s := New(root)

	lockRoot, locked, err := s.FindLockRoot("docs/notes.pdf")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "docs", lockRoot)

	lockRoot, locked, err = s.FindLockRoot("docs/not/yet/created")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "docs", lockRoot)
}

func TestNestedLockDetected(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "docs/inner/deep")
	touchSentinel(t, root, "docs")
	touchSentinel(t, root, "docs/inner")
	s := New(root)

	_, _, err := s.FindLockRoot("docs/inner/deep")
	assert.ErrorIs(t, err, ErrNestedLock)

	// the shallower lock alone is fine
	lockRoot, locked, err := s.FindLockRoot("docs")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "docs", lockRoot)
}

func TestContainsLockAndHasSentinel(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "projects/a/b", "other")
	touchSentinel(t, root, "projects/a/b")
	s := New(root)

	found, err := s.ContainsLock("projects")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.ContainsLock("other")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.ContainsLock("missing")
	require.NoError(t, err)
	assert.False(t, found)

	assert.True(t, s.HasSentinel("projects/a/b"))
	assert.False(t, s.HasSentinel("projects/a"))
}
