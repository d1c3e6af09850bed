package pathsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	parent := t.TempDir()
	base := filepath.Join(parent, "vault")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "docs", "notes.pdf"), []byte("pdf"), 0644))
	r, err := New(base)
	require.NoError(t, err)
	return r, parent
}

func TestResolveInside(t *testing.T) {
	r, _ := newResolver(t)

	abs, err := r.Resolve("docs/notes.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Base(), "docs", "notes.pdf"), abs)

	abs, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, r.Base(), abs)

	abs, err = r.Resolve("/docs/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Base(), "docs"), abs)
}

func TestResolveTraversal(t *testing.T) {
	r, parent := newResolver(t)
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("s"), 0644))

	for _, p := range []string{"../secret.txt", "docs/../../secret.txt", "../../../../etc/passwd"} {
		_, err := r.Resolve(p)
		assert.ErrorIs(t, err, ErrNotFound, p)
		_, err = r.ResolveNew(p)
		assert.ErrorIs(t, err, ErrNotFound, p)
	}
}

func TestResolveSiblingPrefix(t *testing.T) {
	r, parent := newResolver(t)
	evil := filepath.Join(parent, "vault-evil")
	require.NoError(t, os.MkdirAll(evil, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(evil, "x.txt"), []byte("x"), 0644))

	_, err := r.Resolve("../vault-evil/x.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSymlinkEscape(t *testing.T) {
	r, parent := newResolver(t)
	outside := filepath.Join(parent, "outside")
	require.NoError(t, os.MkdirAll(outside, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "leak.txt"), []byte("leak"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(r.Base(), "link")))

	_, err := r.Resolve("link/leak.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve("link")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.ResolveNew("link/new.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSymlinkInside(t *testing.T) {
	r, _ := newResolver(t)
	require.NoError(t, os.Symlink(filepath.Join(r.Base(), "docs"), filepath.Join(r.Base(), "alias")))

	abs, err := r.Resolve("alias/notes.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Base(), "docs", "notes.pdf"), abs)
}

func TestResolveMissing(t *testing.T) {
	r, _ := newResolver(t)

	_, err := r.Resolve("docs/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	abs, err := r.ResolveNew("docs/new/deeper/file.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Base(), "docs", "new", "deeper", "file.pdf"), abs)
}

func TestRel(t *testing.T) {
	r, parent := newResolver(t)

	rel, err := r.Rel(filepath.Join(r.Base(), "docs", "notes.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "docs/notes.pdf", rel)

	rel, err = r.Rel(r.Base())
	require.NoError(t, err)
	assert.Equal(t, "", rel)

	_, err = r.Rel(parent)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanAndHidden(t *testing.T) {
	assert.Equal(t, "", Clean("/"))
	assert.Equal(t, "a/b", Clean("/a//b/"))
	assert.Equal(t, []string{"a", "b"}, Segments("a/b"))
	assert.Nil(t, Segments(""))
	assert.True(t, IsHidden("docs/.locked"))
	assert.True(t, IsHidden(".git/config"))
	assert.False(t, IsHidden("docs/notes.pdf"))
}
