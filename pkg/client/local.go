package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/foldercrypto"
	"github.com/nanome-ai/plugin-vault/internal/lockstate"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

// Local is a Vault backed by a store in the same process.
type Local struct {
	store *filestore.Store
}

// NewLocal wraps store.
func NewLocal(store *filestore.Store) *Local {
	return &Local{store: store}
}

// OpenLocal opens the vault rooted at root, creating it if needed.
func OpenLocal(root string, kdfIterations int) (*Local, error) {
	store, err := filestore.New(filestore.Options{Root: root, KDFIterations: kdfIterations})
	if err != nil {
		return nil, err
	}
	return NewLocal(store), nil
}

// mapError tags store errors with the package errors so callers see the
// same errors as over HTTP.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case errors.Is(err, pathsafe.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		sentinel = ErrNotFound
	case errors.Is(err, filestore.ErrForbidden),
		errors.Is(err, foldercrypto.ErrInvalidKey),
		errors.Is(err, foldercrypto.ErrProtectedPath),
		errors.Is(err, lockstate.ErrNestedLock):
		sentinel = ErrForbidden
	case errors.Is(err, filestore.ErrAlreadyExists):
		sentinel = ErrAlreadyExists
	case errors.Is(err, filestore.ErrStorageLimit):
		sentinel = ErrTooLarge
	case errors.Is(err, filestore.ErrInvalidName),
		errors.Is(err, filestore.ErrNotDirectory),
		errors.Is(err, filestore.ErrNotFile),
		errors.Is(err, filestore.ErrLockBoundary),
		errors.Is(err, foldercrypto.ErrAlreadyLocked),
		errors.Is(err, foldercrypto.ErrNotLocked),
		errors.Is(err, foldercrypto.ErrKeyRequired):
		sentinel = ErrBadRequest
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func (l *Local) ListPath(ctx context.Context, rel, key string) (*protocol.Listing, error) {
	listing, err := l.store.List(ctx, rel, key)
	return listing, mapError(err)
}

func (l *Local) GetFile(ctx context.Context, rel, key string) ([]byte, error) {
	data, err := l.store.ReadFile(ctx, rel, key)
	return data, mapError(err)
}

func (l *Local) AddFile(ctx context.Context, rel, filename string, data []byte, key string) (string, error) {
	if !filestore.AllowedExtension(filename) {
		return "", fmt.Errorf("%w: file extension not supported: %s", ErrBadRequest, filename)
	}
	stored, err := l.store.AddFile(ctx, rel, filename, data, key)
	return stored, mapError(err)
}

func (l *Local) CreatePath(ctx context.Context, rel, key string) error {
	return mapError(l.store.CreatePath(ctx, rel, key))
}

func (l *Local) DeletePath(ctx context.Context, rel, key string) error {
	return mapError(l.store.DeletePath(ctx, rel, key))
}

func (l *Local) RenamePath(ctx context.Context, rel, newName, key string) error {
	_, err := l.store.RenamePath(ctx, rel, newName, key)
	return mapError(err)
}

func (l *Local) MovePath(ctx context.Context, rel, folder, key string) error {
	_, err := l.store.MovePath(ctx, rel, folder, key)
	return mapError(err)
}

func (l *Local) IsKeyValid(ctx context.Context, rel, key string) (bool, error) {
	return l.store.IsKeyValid(ctx, rel, key), nil
}

func (l *Local) EncryptFolder(ctx context.Context, rel, key string) error {
	return mapError(l.store.EncryptFolder(ctx, rel, key))
}

func (l *Local) DecryptFolder(ctx context.Context, rel, key string) error {
	return mapError(l.store.DecryptFolder(ctx, rel, key))
}

func (l *Local) ListSupportedExtensions(context.Context) (protocol.Extensions, error) {
	return filestore.Extensions, nil
}
