package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/foldercrypto"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{pathsafe.ErrNotFound, ErrNotFound},
		{foldercrypto.ErrInvalidKey, ErrForbidden},
		{foldercrypto.ErrProtectedPath, ErrForbidden},
		{filestore.ErrAlreadyExists, ErrAlreadyExists},
		{filestore.ErrStorageLimit, ErrTooLarge},
		{filestore.ErrLockBoundary, ErrBadRequest},
		{foldercrypto.ErrAlreadyLocked, ErrBadRequest},
	}
	for _, tt := range tests {
		err := mapError(tt.in)
		assert.ErrorIs(t, err, tt.want, tt.in.Error())
		assert.ErrorIs(t, err, tt.in)
	}

	assert.NoError(t, mapError(nil))
	other := errors.New("disk on fire")
	assert.Equal(t, other, mapError(other))
}

func TestOpenLocal(t *testing.T) {
	logging.InitNop()
	root := filepath.Join(t.TempDir(), "vault")
	v, err := OpenLocal(root, 1000)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "shared"))

	ctx := context.Background()
	require.NoError(t, v.CreatePath(ctx, "a/b", ""))
	assert.ErrorIs(t, v.MovePath(ctx, "a/b", "missing", ""), ErrNotFound)

	require.NoError(t, v.EncryptFolder(ctx, "a", "k1"))
	assert.ErrorIs(t, v.MovePath(ctx, "a/b", "shared", "k1"), ErrBadRequest)
}
