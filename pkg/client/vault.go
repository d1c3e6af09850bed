// Package client provides access to a vault, over HTTP or in-process.
package client

import (
	"context"

	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

// Vault is the set of operations collaborators use to work with vault files.
// Paths are slash-separated and relative to the vault root. An empty key
// means "no key".
type Vault interface {
	ListPath(ctx context.Context, rel, key string) (*protocol.Listing, error)
	GetFile(ctx context.Context, rel, key string) ([]byte, error)
	AddFile(ctx context.Context, rel, filename string, data []byte, key string) (string, error)
	CreatePath(ctx context.Context, rel, key string) error
	DeletePath(ctx context.Context, rel, key string) error
	RenamePath(ctx context.Context, rel, newName, key string) error
	MovePath(ctx context.Context, rel, folder, key string) error
	IsKeyValid(ctx context.Context, rel, key string) (bool, error)
	EncryptFolder(ctx context.Context, rel, key string) error
	DecryptFolder(ctx context.Context, rel, key string) error
	ListSupportedExtensions(ctx context.Context) (protocol.Extensions, error)
}

var (
	_ Vault = (*Client)(nil)
	_ Vault = (*Local)(nil)
)
