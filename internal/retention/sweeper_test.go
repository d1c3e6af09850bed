package retention

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanome-ai/plugin-vault/internal/logging"
)

func writeAged(t *testing.T, root, rel string, age time.Duration) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(rel), 0644))
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, when, when))
	return p
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (m *memArchive) PutObject(_ context.Context, key string, body io.Reader, _ int64) error {
	if m.fail {
		return errors.New("archive down")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memArchive) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memArchive) Type() string { return "memory" }
func (m *memArchive) Close() error { return nil }

const day = 24 * time.Hour

func TestRunRemovesExpiredFiles(t *testing.T) {
	logging.InitNop()
	root := t.TempDir()
	old := writeAged(t, root, "shared/old.pdb", 10*day)
	fresh := writeAged(t, root, "shared/fresh.pdb", day)
	sentinel := writeAged(t, root, "docs/.locked", 30*day)

	var expired []string
	s := New(Options{Root: root, Locker: &sync.Mutex{}, OnExpire: func(rel string) { expired = append(expired, rel) }})
	res, err := s.Run(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, sentinel)
	assert.Equal(t, []string{"shared/old.pdb"}, expired)
}

func TestRunCooldown(t *testing.T) {
	logging.InitNop()
	root := t.TempDir()
	s := New(Options{Root: root})
	now := time.Now()
	s.now = func() time.Time { return now }

	res, err := s.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	old := writeAged(t, root, "shared/old.pdb", 10*day)
	now = now.Add(time.Minute)
	res, err = s.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.FileExists(t, old)

	now = now.Add(DefaultCooldown)
	res, err = s.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.NoFileExists(t, old)
}

func TestRunDisabled(t *testing.T) {
	root := t.TempDir()
	old := writeAged(t, root, "shared/old.pdb", 10*day)

	res, err := New(Options{Root: root}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.FileExists(t, old)
}

func TestRunArchivesBeforeRemoval(t *testing.T) {
	logging.InitNop()
	root := t.TempDir()
	old := writeAged(t, root, "user-0a1b2c3d/old.pdb", 10*day)
	archive := &memArchive{objects: map[string][]byte{}}

	res, err := New(Options{Root: root, Archive: archive}).Run(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, 1, res.Removed)
	assert.NoFileExists(t, old)

	ok, err := archive.ObjectExists(context.Background(), "user-0a1b2c3d/old.pdb")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-0a1b2c3d/old.pdb", string(archive.objects["user-0a1b2c3d/old.pdb"]))
}

func TestRunKeepsFileWhenArchiveFails(t *testing.T) {
	logging.InitNop()
	root := t.TempDir()
	old := writeAged(t, root, "shared/old.pdb", 10*day)
	archive := &memArchive{objects: map[string][]byte{}, fail: true}

	res, err := New(Options{Root: root, Archive: archive}).Run(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.FileExists(t, old)
}
