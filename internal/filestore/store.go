// Package filestore implements the vault's file operations on top of the
// path resolver and folder locks.
//
// A store-wide read/write mutex serializes folder encryption against every
// other operation, so a listing or upload never observes a half-locked folder.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/foldercrypto"
	"github.com/nanome-ai/plugin-vault/internal/lockstate"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

var (
	ErrAlreadyExists = errors.New("path already exists")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidName   = errors.New("invalid name")
	ErrNotDirectory  = foldercrypto.ErrNotDirectory
	ErrNotFile       = errors.New("not a file")
	ErrLockBoundary  = errors.New("cannot move across a lock boundary")
	ErrStorageLimit  = errors.New("user storage exceeded")
)

// Options configures a Store.
type Options struct {
	Root          string
	KDFIterations int
	UserStorage   int64 // per-account byte limit, 0 = unlimited
}

// Store is the vault file store.
type Store struct {
	mu          sync.RWMutex
	resolver    *pathsafe.Resolver
	locks       *lockstate.State
	folders     *foldercrypto.Folders
	userStorage int64
}

// New creates the vault root and its shared folder if needed and returns a Store.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("vault root is required")
	}
	if err := os.MkdirAll(filepath.Join(opts.Root, foldercrypto.SharedFolder), 0755); err != nil {
		return nil, fmt.Errorf("create vault root: %w", err)
	}
	resolver, err := pathsafe.New(opts.Root)
	if err != nil {
		return nil, err
	}
	locks := lockstate.New(resolver.Base())
	folders := foldercrypto.New(resolver, locks, opts.KDFIterations)
	if err := folders.Recover(context.Background()); err != nil {
		logging.Error("folder recovery failed", zap.Error(err))
	}
	return &Store{
		resolver:    resolver,
		locks:       locks,
		folders:     folders,
		userStorage: opts.UserStorage,
	}, nil
}

// Root returns the canonical vault root.
func (s *Store) Root() string {
	return s.resolver.Base()
}

// UserStorage returns the per-account storage limit in bytes.
func (s *Store) UserStorage() int64 {
	return s.userStorage
}

// RLocker returns the shared side of the store lock for background jobs that
// delete files.
func (s *Store) RLocker() sync.Locker {
	return s.mu.RLocker()
}

// resolve maps rel to its canonical absolute and relative forms. Hidden
// entries are never reachable.
func (s *Store) resolve(rel string) (string, string, error) {
	if pathsafe.IsHidden(rel) {
		return "", "", pathsafe.ErrNotFound
	}
	abs, err := s.resolver.Resolve(rel)
	if err != nil {
		return "", "", err
	}
	canonical, err := s.resolver.Rel(abs)
	if err != nil {
		return "", "", err
	}
	return abs, canonical, nil
}

// checkKey verifies key for the lock governing rel.
func (s *Store) checkKey(ctx context.Context, rel, key string) error {
	enc, _, err := s.folders.Unlock(ctx, rel, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if enc != nil {
		enc.Destroy()
	}
	return nil
}

// List returns the visible content of the folder at rel.
func (s *Store) List(ctx context.Context, rel, key string) (*protocol.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	abs, rel, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}
	if err := s.checkKey(ctx, rel, key); err != nil {
		return nil, err
	}

	lockRoot, locked, err := s.locks.FindLockRoot(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	listing := &protocol.Listing{
		Locked:  []string{},
		Folders: []protocol.Entry{},
		Files:   []protocol.Entry{},
	}
	if locked {
		p := lockRoot + "/"
		listing.LockedPath = &p
	}

	var filter func(string) bool
	if rel == "" {
		filter, err = s.rootFilter(ctx)
		if err != nil {
			return nil, err
		}
	}
	if err := s.fillListing(listing, abs, rel, filter); err != nil {
		return nil, err
	}
	return listing, nil
}

// rootFilter limits a scoped root listing to shared and the caller's
// account folder, creating the latter on first use.
func (s *Store) rootFilter(ctx context.Context) (func(string) bool, error) {
	account, scoped := AccountFrom(ctx)
	if !scoped {
		return nil, nil
	}
	if IsAccountFolder(account) {
		if err := os.MkdirAll(filepath.Join(s.Root(), account), 0755); err != nil {
			return nil, fmt.Errorf("create account folder: %w", err)
		}
	}
	return func(name string) bool {
		return name == foldercrypto.SharedFolder || (account != "" && name == account)
	}, nil
}

// CreatePath creates the folder at rel and any missing parents.
func (s *Store) CreatePath(ctx context.Context, rel, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel = pathsafe.Clean(rel)
	if rel == "" {
		return ErrAlreadyExists
	}
	if pathsafe.IsHidden(rel) {
		return fmt.Errorf("%w: %q", ErrInvalidName, rel)
	}
	abs, err := s.resolver.ResolveNew(rel)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err == nil {
		return ErrAlreadyExists
	}
	canonical, err := s.resolver.Rel(abs)
	if err != nil {
		return err
	}
	if err := s.checkKey(ctx, canonical, key); err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("create %s: %w", canonical, err)
	}
	logging.WithContext(ctx).Info("path created", zap.String("path", canonical))
	return nil
}

// DeletePath removes the file or folder at rel.
func (s *Store) DeletePath(ctx context.Context, rel, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if foldercrypto.IsProtected(rel) {
		return foldercrypto.ErrProtectedPath
	}
	abs, rel, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if foldercrypto.IsProtected(rel) {
		return foldercrypto.ErrProtectedPath
	}
	if err := s.checkKey(ctx, rel, key); err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	logging.WithContext(ctx).Info("path deleted", zap.String("path", rel))
	return nil
}

// RenamePath gives the item at rel a new name in the same folder and returns
// its new relative path.
func (s *Store) RenamePath(ctx context.Context, rel, newName, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ValidateName(newName); err != nil {
		return "", err
	}
	if foldercrypto.IsProtected(rel) {
		return "", foldercrypto.ErrProtectedPath
	}
	abs, rel, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if foldercrypto.IsProtected(rel) {
		return "", foldercrypto.ErrProtectedPath
	}
	if err := s.checkKey(ctx, rel, key); err != nil {
		return "", err
	}

	target := filepath.Join(filepath.Dir(abs), newName)
	if _, err := os.Lstat(target); err == nil {
		return "", ErrAlreadyExists
	}
	if err := os.Rename(abs, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", rel, err)
	}
	renamed := path.Join(parentOf(rel), newName)
	logging.WithContext(ctx).Info("path renamed", zap.String("path", rel), zap.String("new_path", renamed))
	return renamed, nil
}

// MovePath moves the item at rel into folder and returns its new relative
// path. Source and destination must be governed by the same lock, or both be
// unlocked.
func (s *Store) MovePath(ctx context.Context, rel, folder, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if foldercrypto.IsProtected(rel) {
		return "", foldercrypto.ErrProtectedPath
	}
	abs, rel, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if foldercrypto.IsProtected(rel) {
		return "", foldercrypto.ErrProtectedPath
	}
	dstAbs, dst, err := s.resolve(folder)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dstAbs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", ErrNotDirectory
	}
	if dst == rel || strings.HasPrefix(dst+"/", rel+"/") {
		return "", fmt.Errorf("%w: cannot move %s into itself", ErrInvalidName, rel)
	}

	if err := s.checkKey(ctx, rel, key); err != nil {
		return "", err
	}
	if err := s.checkKey(ctx, dst, key); err != nil {
		return "", err
	}
	srcLock, _, err := s.locks.FindLockRoot(parentOf(rel))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	dstLock, _, err := s.locks.FindLockRoot(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if srcLock != dstLock {
		return "", ErrLockBoundary
	}

	name := filepath.Base(abs)
	target := filepath.Join(dstAbs, name)
	if _, err := os.Lstat(target); err == nil {
		return "", ErrAlreadyExists
	}
	if err := os.Rename(abs, target); err != nil {
		return "", fmt.Errorf("move %s: %w", rel, err)
	}
	moved := path.Join(dst, name)
	logging.WithContext(ctx).Info("path moved", zap.String("path", rel), zap.String("new_path", moved))
	return moved, nil
}

// ReadFile returns the plaintext content of the file at rel.
func (s *Store) ReadFile(ctx context.Context, rel, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	abs, rel, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFile
	}

	enc, _, err := s.folders.Unlock(ctx, rel, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if enc != nil {
		defer enc.Destroy()
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if enc != nil {
		data, err = enc.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", rel, err)
		}
	}
	metrics.RecordDownload(int64(len(data)))
	return data, nil
}

// AddFile stores data as filename inside the folder at rel and returns the
// stored relative path. filename may contain subfolders, which are created.
// When the name is taken, "name (2).ext", "name (3).ext" and so on are tried.
func (s *Store) AddFile(ctx context.Context, rel, filename string, data []byte, key string) (stored string, err error) {
	size := int64(len(data))
	defer func() { metrics.RecordUpload(size, err == nil) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	name, err := SanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	baseAbs, rel, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(baseAbs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", ErrNotDirectory
	}

	dirAbs, err := s.resolver.ResolveNew(path.Join(rel, path.Dir(name)))
	if err != nil {
		return "", err
	}
	dir, err := s.resolver.Rel(dirAbs)
	if err != nil {
		return "", err
	}
	if !InScope(ctx, dir) {
		return "", fmt.Errorf("%w: %s is out of scope", ErrForbidden, dir)
	}
	if err := s.checkStorage(dir, size); err != nil {
		return "", err
	}

	enc, _, err := s.folders.Unlock(ctx, dir, key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if enc != nil {
		defer enc.Destroy()
		data, err = enc.Encrypt(data)
		if err != nil {
			return "", fmt.Errorf("encrypt upload: %w", err)
		}
	}

	if err := os.MkdirAll(dirAbs, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	storedName, err := reserveName(dirAbs, path.Base(name))
	if err != nil {
		return "", fmt.Errorf("reserve name: %w", err)
	}
	target := filepath.Join(dirAbs, storedName)
	if err := writeAtomic(target, data); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("write %s: %w", storedName, err)
	}

	stored = path.Join(dir, storedName)
	logging.WithContext(ctx).Info("file stored",
		zap.String("path", stored),
		zap.Int("size", len(data)),
		zap.Bool("encrypted", enc != nil),
	)
	return stored, nil
}

// EncryptFolder locks the folder at rel.
func (s *Store) EncryptFolder(ctx context.Context, rel, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pathsafe.IsHidden(rel) {
		return pathsafe.ErrNotFound
	}
	return s.folders.Encrypt(ctx, rel, key)
}

// DecryptFolder unlocks the folder at rel.
func (s *Store) DecryptFolder(ctx context.Context, rel, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pathsafe.IsHidden(rel) {
		return pathsafe.ErrNotFound
	}
	return s.folders.Decrypt(ctx, rel, key)
}

// IsKeyValid reports whether key opens the lock governing rel. Unlocked
// paths accept any key.
func (s *Store) IsKeyValid(ctx context.Context, rel, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, canonical, err := s.resolve(rel)
	if err != nil {
		return false
	}
	return s.folders.IsKeyValid(ctx, canonical, key)
}

// Exists reports whether rel resolves to an existing visible entry.
func (s *Store) Exists(rel string) bool {
	_, _, err := s.resolve(rel)
	return err == nil
}

func parentOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".vault-upload-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// dirSize sums the sizes of regular files below dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// CheckStorage reports ErrStorageLimit when adding size bytes under rel
// would exceed its account's storage limit.
func (s *Store) CheckStorage(rel string, size int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkStorage(pathsafe.Clean(rel), size)
}

func (s *Store) checkStorage(rel string, size int64) error {
	if s.userStorage <= 0 {
		return nil
	}
	account, ok := AccountOf(rel)
	if !ok {
		return nil
	}
	used, err := dirSize(filepath.Join(s.Root(), account))
	if err != nil {
		return fmt.Errorf("measure %s: %w", account, err)
	}
	if used+size > s.userStorage {
		metrics.RecordStorageLimitHit()
		return ErrStorageLimit
	}
	return nil
}
