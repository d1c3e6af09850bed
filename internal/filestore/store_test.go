package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanome-ai/plugin-vault/internal/foldercrypto"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
)

func newStore(t *testing.T, userStorage int64) *Store {
	t.Helper()
	logging.InitNop()
	s, err := New(Options{Root: filepath.Join(t.TempDir(), "vault"), KDFIterations: 1000, UserStorage: userStorage})
	require.NoError(t, err)
	return s
}

func TestNewCreatesShared(t *testing.T) {
	s := newStore(t, 0)
	assert.DirExists(t, filepath.Join(s.Root(), "shared"))
}

func TestAddFileDuplicateNaming(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "docs", ""))

	stored, err := s.AddFile(ctx, "docs", "report.pdf", []byte("one"), "")
	require.NoError(t, err)
	assert.Equal(t, "docs/report.pdf", stored)

	stored, err = s.AddFile(ctx, "docs", "report.pdf", []byte("two"), "")
	require.NoError(t, err)
	assert.Equal(t, "docs/report (2).pdf", stored)

	stored, err = s.AddFile(ctx, "docs", "report.pdf", []byte("three"), "")
	require.NoError(t, err)
	assert.Equal(t, "docs/report (3).pdf", stored)

	stored, err = s.AddFile(ctx, "docs", "report (3).pdf", []byte("four"), "")
	require.NoError(t, err)
	assert.Equal(t, "docs/report (4).pdf", stored)

	data, err := s.ReadFile(ctx, "docs/report (2).pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestAddFileSanitizesAndCreatesSubfolders(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	stored, err := s.AddFile(ctx, "shared", "proteins/1#a?.PDB", []byte("ATOM"), "")
	require.NoError(t, err)
	assert.Equal(t, "shared/proteins/1_a_.pdb", stored)
	assert.FileExists(t, filepath.Join(s.Root(), "shared", "proteins", "1_a_.pdb"))

	_, err = s.AddFile(ctx, "shared", ".hidden.pdb", []byte("x"), "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.AddFile(ctx, "shared", "../escape.pdb", []byte("x"), "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.AddFile(ctx, "missing", "a.pdb", []byte("x"), "")
	assert.ErrorIs(t, err, pathsafe.ErrNotFound)
}

func TestAddFileIntoLockedFolder(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "docs", ""))
	_, err := s.AddFile(ctx, "docs", "a.txt", []byte("a"), "")
	require.NoError(t, err)
	require.NoError(t, s.EncryptFolder(ctx, "docs", "k1"))

	_, err = s.AddFile(ctx, "docs", "notes.pdf", []byte("secret"), "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.AddFile(ctx, "docs", "notes.pdf", []byte("secret"), "wrong")
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := s.AddFile(ctx, "docs", "sub/notes.pdf", []byte("secret"), "k1")
	require.NoError(t, err)
	assert.Equal(t, "docs/sub/notes.pdf", stored)

	raw, err := os.ReadFile(filepath.Join(s.Root(), "docs", "sub", "notes.pdf"))
	require.NoError(t, err)
	assert.NotEqual(t, "secret", string(raw))

	data, err := s.ReadFile(ctx, "docs/sub/notes.pdf", "k1")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(data))

	_, err = s.ReadFile(ctx, "docs/sub/notes.pdf", "")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, s.DecryptFolder(ctx, "docs", "k1"))
	data, err = s.ReadFile(ctx, "docs/sub/notes.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(data))
}

func TestListLockedFolder(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "docs/inner", ""))
	_, err := s.AddFile(ctx, "docs", "Beta.pdf", []byte("b"), "")
	require.NoError(t, err)
	_, err = s.AddFile(ctx, "docs", "alpha.pdf", []byte("a"), "")
	require.NoError(t, err)
	require.NoError(t, s.EncryptFolder(ctx, "docs", "k1"))

	_, err = s.List(ctx, "docs", "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.List(ctx, "docs", "k2")
	assert.ErrorIs(t, err, ErrForbidden)

	listing, err := s.List(ctx, "docs", "k1")
	require.NoError(t, err)
	require.NotNil(t, listing.LockedPath)
	assert.Equal(t, "docs/", *listing.LockedPath)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "alpha.pdf", listing.Files[0].Name)
	assert.Equal(t, "Beta.pdf", listing.Files[1].Name)
	require.Len(t, listing.Folders, 1)
	assert.Equal(t, "inner", listing.Folders[0].Name)

	root, err := s.List(ctx, "", "")
	require.NoError(t, err)
	assert.Nil(t, root.LockedPath)
	assert.Equal(t, []string{"docs"}, root.Locked)
	require.Len(t, root.Folders, 2)
	assert.Equal(t, "docs", root.Folders[0].Name)
	assert.Equal(t, "shared", root.Folders[1].Name)
}

func TestListEntryPresentation(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	_, err := s.AddFile(ctx, "shared", "model.pdb", make([]byte, 2048), "")
	require.NoError(t, err)

	listing, err := s.List(ctx, "shared", "")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	entry := listing.Files[0]
	assert.Equal(t, int64(2048), entry.Size)
	assert.Equal(t, "2.0 KiB", entry.SizeText)
	assert.Len(t, entry.Created, len(createdLayout))
	assert.NotEmpty(t, entry.CreatedText)

	root, err := s.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, root.Folders, 1)
	assert.Equal(t, int64(2048), root.Folders[0].Size)
}

func TestListHidesDotfilesAndRejectsFiles(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "shared", ".secret"), []byte("x"), 0644))
	_, err := s.AddFile(ctx, "shared", "a.pdb", []byte("x"), "")
	require.NoError(t, err)

	listing, err := s.List(ctx, "shared", "")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "a.pdb", listing.Files[0].Name)

	_, err = s.List(ctx, "shared/a.pdb", "")
	assert.ErrorIs(t, err, ErrNotDirectory)
	_, err = s.ReadFile(ctx, "shared/.secret", "")
	assert.ErrorIs(t, err, pathsafe.ErrNotFound)
	_, err = s.List(ctx, "../", "")
	assert.ErrorIs(t, err, pathsafe.ErrNotFound)
}

func TestScopedRootListing(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "user-aaaaaaaa", ""))
	require.NoError(t, s.CreatePath(ctx, "projects", ""))

	listing, err := s.List(WithAccount(ctx, "user-bbbbbbbb"), "", "")
	require.NoError(t, err)
	require.Len(t, listing.Folders, 2)
	assert.Equal(t, "shared", listing.Folders[0].Name)
	assert.Equal(t, "user-bbbbbbbb", listing.Folders[1].Name)
	assert.DirExists(t, filepath.Join(s.Root(), "user-bbbbbbbb"))

	listing, err = s.List(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, listing.Folders, 4)
}

func TestCreateDeleteRename(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.CreatePath(ctx, "a/b/c", ""))
	assert.ErrorIs(t, s.CreatePath(ctx, "a/b", ""), ErrAlreadyExists)
	assert.ErrorIs(t, s.CreatePath(ctx, "a/.git", ""), ErrInvalidName)

	renamed, err := s.RenamePath(ctx, "a/b", "d", "")
	require.NoError(t, err)
	assert.Equal(t, "a/d", renamed)
	assert.DirExists(t, filepath.Join(s.Root(), "a", "d", "c"))

	require.NoError(t, s.CreatePath(ctx, "a/e", ""))
	_, err = s.RenamePath(ctx, "a/d", "e", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = s.RenamePath(ctx, "a/d", "x/y", "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.RenamePath(ctx, "a/d", ".hidden", "")
	assert.ErrorIs(t, err, ErrInvalidName)

	require.NoError(t, s.DeletePath(ctx, "a", ""))
	assert.NoDirExists(t, filepath.Join(s.Root(), "a"))
	assert.ErrorIs(t, s.DeletePath(ctx, "a", ""), pathsafe.ErrNotFound)
}

func TestProtectedPaths(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, s.DeletePath(ctx, "", ""), foldercrypto.ErrProtectedPath)
	assert.ErrorIs(t, s.DeletePath(ctx, "shared", ""), foldercrypto.ErrProtectedPath)
	assert.ErrorIs(t, s.DeletePath(ctx, "/shared/", ""), foldercrypto.ErrProtectedPath)
	_, err := s.RenamePath(ctx, "shared", "other", "")
	assert.ErrorIs(t, err, foldercrypto.ErrProtectedPath)
	assert.ErrorIs(t, s.EncryptFolder(ctx, "shared", "k1"), foldercrypto.ErrProtectedPath)
	assert.DirExists(t, filepath.Join(s.Root(), "shared"))
}

func TestDeleteLockedRequiresKey(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "docs", ""))
	require.NoError(t, s.EncryptFolder(ctx, "docs", "k1"))

	assert.ErrorIs(t, s.DeletePath(ctx, "docs", ""), ErrForbidden)
	require.NoError(t, s.DeletePath(ctx, "docs", "k1"))
}

func TestMovePath(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "src", ""))
	require.NoError(t, s.CreatePath(ctx, "dst", ""))
	require.NoError(t, s.CreatePath(ctx, "vault", ""))
	_, err := s.AddFile(ctx, "src", "a.pdb", []byte("a"), "")
	require.NoError(t, err)
	_, err = s.AddFile(ctx, "src", "b.pdb", []byte("b"), "")
	require.NoError(t, err)
	require.NoError(t, s.EncryptFolder(ctx, "vault", "k1"))

	moved, err := s.MovePath(ctx, "src/a.pdb", "dst", "")
	require.NoError(t, err)
	assert.Equal(t, "dst/a.pdb", moved)

	_, err = s.AddFile(ctx, "src", "a.pdb", []byte("again"), "")
	require.NoError(t, err)
	_, err = s.MovePath(ctx, "src/a.pdb", "dst", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.MovePath(ctx, "src/b.pdb", "vault", "k1")
	assert.ErrorIs(t, err, ErrLockBoundary)

	_, err = s.MovePath(ctx, "src", "src", "")
	assert.ErrorIs(t, err, ErrInvalidName)

	// a locked folder moves as a unit into an unlocked folder
	moved, err = s.MovePath(ctx, "vault", "dst", "k1")
	require.NoError(t, err)
	assert.Equal(t, "dst/vault", moved)
	assert.True(t, s.IsKeyValid(ctx, "dst/vault", "k1"))
}

func TestStorageLimit(t *testing.T) {
	s := newStore(t, 100)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "user-0a1b2c3d", ""))

	_, err := s.AddFile(ctx, "user-0a1b2c3d", "a.pdb", make([]byte, 60), "")
	require.NoError(t, err)
	_, err = s.AddFile(ctx, "user-0a1b2c3d", "b.pdb", make([]byte, 60), "")
	assert.ErrorIs(t, err, ErrStorageLimit)

	// non-account folders are unlimited
	_, err = s.AddFile(ctx, "shared", "big.pdb", make([]byte, 500), "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.CheckStorage("user-0a1b2c3d/sub", 41), ErrStorageLimit)
	assert.NoError(t, s.CheckStorage("user-0a1b2c3d/sub", 40))
}

func TestIsKeyValid(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "docs", ""))
	require.NoError(t, s.EncryptFolder(ctx, "docs", "k1"))

	assert.True(t, s.IsKeyValid(ctx, "shared", ""))
	assert.True(t, s.IsKeyValid(ctx, "docs", "k1"))
	assert.False(t, s.IsKeyValid(ctx, "docs", "nope"))
	assert.False(t, s.IsKeyValid(ctx, "missing", ""))
}

func TestNewFinishesPendingLock(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreatePath(ctx, "docs", ""))
	_, err := s.AddFile(ctx, "docs", "a.pdb", []byte("ATOM"), "")
	require.NoError(t, err)
	require.NoError(t, s.EncryptFolder(ctx, "docs", "k1"))

	// a crash between the last rename and the sentinel write
	sentinel := filepath.Join(s.Root(), "docs", ".locked")
	data, err := os.ReadFile(sentinel)
	require.NoError(t, err)
	require.NoError(t, os.Remove(sentinel))
	journal := filepath.Join(s.Root(), "docs", foldercrypto.JournalName)
	require.NoError(t, os.WriteFile(journal, append([]byte("L"), data...), 0644))

	s, err = New(Options{Root: s.Root(), KDFIterations: 1000})
	require.NoError(t, err)

	assert.NoFileExists(t, journal)
	assert.True(t, s.IsKeyValid(ctx, "docs", "k1"))
	require.NoError(t, s.DecryptFolder(ctx, "docs", "k1"))
	got, err := s.ReadFile(ctx, "docs/a.pdb", "")
	require.NoError(t, err)
	assert.Equal(t, "ATOM", string(got))
}

func TestAddFileStaysInAccountScope(t *testing.T) {
	s := newStore(t, 0)
	ctx := WithAccount(context.Background(), "user-0a1b2c3d")

	_, err := s.AddFile(ctx, "", "user-ffffffff/evil.pdb", []byte("ATOM"), "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoDirExists(t, filepath.Join(s.Root(), "user-ffffffff"))

	stored, err := s.AddFile(ctx, "", "user-0a1b2c3d/mine.pdb", []byte("ATOM"), "")
	require.NoError(t, err)
	assert.Equal(t, "user-0a1b2c3d/mine.pdb", stored)
	assert.True(t, InScope(ctx, "shared/x"))
	assert.True(t, InScope(context.Background(), "user-ffffffff"))
}
