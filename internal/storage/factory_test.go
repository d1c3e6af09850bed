package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanome-ai/plugin-vault/internal/config"
)

func TestNewArchiveFromConfig(t *testing.T) {
	ctx := context.Background()

	b, err := NewArchiveFromConfig(ctx, &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = NewArchiveFromConfig(ctx, &config.Config{
		ArchiveBackend:   "local",
		ArchiveLocalPath: filepath.Join(t.TempDir(), "archive"),
	})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "local", b.Type())
	assert.NoError(t, b.Close())

	_, err = NewArchiveFromConfig(ctx, &config.Config{ArchiveBackend: "smb"})
	assert.Error(t, err)
}
