// Package foldercrypto locks and unlocks vault folders in place.
//
// Locking encrypts every visible regular file below a folder and then writes
// the sentinel; unlocking verifies the key against the sentinel, decrypts the
// files and removes the sentinel last. Both run in phases:
//
//  1. transform every file into a hidden temp sibling
//  2. write the journal (direction and sentinel bytes)
//  3. rename temps over the originals
//  4. write (or remove) the sentinel, then remove the journal
//
// A failure before the journal exists leaves the folder exactly as it was.
// Once the journal exists every temp is complete, so an interrupted operation
// is finished by renaming the remaining temps and committing the sentinel.
// That needs no key and happens on the next Encrypt or Decrypt of the folder,
// or in Recover at startup.
package foldercrypto

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/crypto"
	"github.com/nanome-ai/plugin-vault/internal/lockstate"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
)

// SharedFolder is the permanent top-level folder visible to every account.
const SharedFolder = "shared"

const tempSuffix = ".vault-tmp"

var (
	ErrKeyRequired   = errors.New("key is required")
	ErrProtectedPath = errors.New("path cannot be locked")
	ErrAlreadyLocked = errors.New("folder is already locked or contains a locked folder")
	ErrNotLocked     = errors.New("folder is not locked")
	ErrInvalidKey    = errors.New("invalid key")
	ErrNotDirectory  = errors.New("not a directory")
)

// Folders performs folder lock operations under a vault root.
type Folders struct {
	resolver   *pathsafe.Resolver
	locks      *lockstate.State
	iterations int
}

// New creates a Folders. iterations is the PBKDF2 work factor for new locks.
func New(resolver *pathsafe.Resolver, locks *lockstate.State, iterations int) *Folders {
	if iterations < 1 || iterations > crypto.MaxIters {
		iterations = crypto.DefaultIters
	}
	return &Folders{resolver: resolver, locks: locks, iterations: iterations}
}

// IsProtected reports whether rel is the vault root or the shared folder.
func IsProtected(rel string) bool {
	rel = pathsafe.Clean(rel)
	return rel == "" || rel == SharedFolder
}

// Encrypt locks the folder at rel with key.
func (f *Folders) Encrypt(ctx context.Context, rel, key string) (err error) {
	log := logging.WithContext(ctx)
	start := time.Now()
	defer func() { metrics.RecordCryptoOperation("encrypt", time.Since(start), err == nil) }()

	if key == "" {
		return ErrKeyRequired
	}
	rel, abs, err := f.resolveFolder(rel)
	if err != nil {
		return err
	}
	if done, err := f.resume(ctx, rel, abs, opLock, key); done || err != nil {
		return err
	}

	_, locked, err := f.locks.FindLockRoot(rel)
	if err != nil {
		return err
	}
	if locked {
		return ErrAlreadyLocked
	}
	nested, err := f.locks.ContainsLock(rel)
	if err != nil {
		return err
	}
	if nested {
		return ErrAlreadyLocked
	}

	kdf, err := crypto.NewKDF(f.iterations)
	if err != nil {
		return err
	}
	enc, err := kdf.Encryptor(key)
	if err != nil {
		return err
	}
	defer enc.Destroy()

	sentinel, err := encodeSentinel(kdf, enc)
	if err != nil {
		return err
	}
	files, err := collectFiles(abs)
	if err != nil {
		return err
	}
	if err := f.run(rel, opLock, sentinel, files, enc.Encrypt, enc.Decrypt); err != nil {
		return err
	}

	log.Info("folder locked", zap.String("path", rel), zap.Int("files", len(files)))
	return nil
}

// Decrypt unlocks the folder at rel. rel must itself be a lock root.
func (f *Folders) Decrypt(ctx context.Context, rel, key string) (err error) {
	log := logging.WithContext(ctx)
	start := time.Now()
	defer func() { metrics.RecordCryptoOperation("decrypt", time.Since(start), err == nil) }()

	if key == "" {
		return ErrKeyRequired
	}
	rel, abs, err := f.resolveFolder(rel)
	if err != nil {
		return err
	}
	if done, err := f.resume(ctx, rel, abs, opUnlock, key); done || err != nil {
		return err
	}
	if !f.locks.HasSentinel(rel) {
		return ErrNotLocked
	}
	lockRoot, _, err := f.locks.FindLockRoot(rel)
	if err != nil {
		return err
	}
	if lockRoot != rel {
		return ErrNotLocked
	}

	enc, err := f.VerifyLock(rel, key)
	if err != nil {
		return err
	}
	defer enc.Destroy()
	sentinel, err := os.ReadFile(f.locks.SentinelPath(rel))
	if err != nil {
		return fmt.Errorf("read sentinel: %w", err)
	}

	files, err := collectFiles(abs)
	if err != nil {
		return err
	}
	if err := f.run(rel, opUnlock, sentinel, files, enc.Decrypt, enc.Encrypt); err != nil {
		return err
	}

	log.Info("folder unlocked", zap.String("path", rel), zap.Int("files", len(files)))
	return nil
}

// VerifyLock checks key against the sentinel of lockRoot and returns the
// encryptor for the files under it. Every failure is ErrInvalidKey.
func (f *Folders) VerifyLock(lockRoot, key string) (*crypto.Encryptor, error) {
	enc, err := f.verify(lockRoot, key)
	metrics.RecordKeyVerification(err == nil)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return enc, nil
}

func (f *Folders) verify(lockRoot, key string) (*crypto.Encryptor, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	data, err := os.ReadFile(f.locks.SentinelPath(lockRoot))
	if err != nil {
		return nil, err
	}
	return openSentinel(data, key)
}

// openSentinel derives the encryptor for key and checks it against the
// sentinel bytes in data.
func openSentinel(data []byte, key string) (*crypto.Encryptor, error) {
	kdf, blob, err := decodeSentinel(data)
	if err != nil {
		return nil, err
	}
	enc, err := kdf.Encryptor(key)
	if err != nil {
		return nil, err
	}
	plain, err := enc.Decrypt(blob)
	if err != nil {
		enc.Destroy()
		return nil, err
	}
	if !crypto.ConstantTimeCompare(plain, []byte(sentinelPlaintext)) {
		enc.Destroy()
		return nil, errBadSentinel
	}
	return enc, nil
}

// IsKeyValid reports whether key opens the lock governing rel. Unlocked paths
// accept any key; a nested lock violation accepts none.
func (f *Folders) IsKeyValid(ctx context.Context, rel, key string) bool {
	enc, _, err := f.Unlock(ctx, rel, key)
	if err != nil {
		return false
	}
	if enc != nil {
		enc.Destroy()
	}
	return true
}

// Unlock returns the encryptor for the lock governing rel, or nil when rel is
// not locked. The caller must Destroy a non-nil encryptor.
func (f *Folders) Unlock(ctx context.Context, rel, key string) (*crypto.Encryptor, string, error) {
	lockRoot, locked, err := f.locks.FindLockRoot(pathsafe.Clean(rel))
	if err != nil {
		if errors.Is(err, lockstate.ErrNestedLock) {
			logging.WithContext(ctx).Error("lock invariant violated", zap.String("path", rel), zap.Error(err))
		}
		return nil, "", err
	}
	if !locked {
		return nil, "", nil
	}
	enc, err := f.VerifyLock(lockRoot, key)
	if err != nil {
		return nil, lockRoot, err
	}
	return enc, lockRoot, nil
}

func (f *Folders) resolveFolder(rel string) (string, string, error) {
	if IsProtected(rel) {
		return "", "", ErrProtectedPath
	}
	abs, err := f.resolver.Resolve(rel)
	if err != nil {
		return "", "", err
	}
	canonical, err := f.resolver.Rel(abs)
	if err != nil {
		return "", "", err
	}
	if IsProtected(canonical) {
		return "", "", ErrProtectedPath
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", err
	}
	if !info.IsDir() {
		return "", "", ErrNotDirectory
	}
	return canonical, abs, nil
}

type fileEntry struct {
	path string
	temp string
	mode fs.FileMode
}

// collectFiles lists the visible regular files below dir. Hidden entries,
// including stale temps and the sentinel, are skipped.
func collectFiles(dir string) ([]fileEntry, error) {
	var files []fileEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, fileEntry{
			path: p,
			temp: filepath.Join(filepath.Dir(p), "."+d.Name()+tempSuffix),
			mode: info.Mode().Perm(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// run stages every file with fn, journals the operation, swaps the temps in
// and commits the sentinel. A rename or commit failure undoes the replaced
// files; the journal is kept when that undo is incomplete so the operation
// can still be finished later.
func (f *Folders) run(rel string, op byte, sentinel []byte, files []fileEntry, fn, undo func([]byte) ([]byte, error)) error {
	if err := stage(files, fn); err != nil {
		return err
	}
	journal := f.journalPath(rel)
	if err := writeAtomic(journal, encodeJournal(op, sentinel), 0644); err != nil {
		removeTemps(files)
		return fmt.Errorf("write journal: %w", err)
	}

	fail := func(replaced []fileEntry, err error) error {
		removeTemps(files)
		if f.rollback(replaced, undo) {
			os.Remove(journal)
		}
		return err
	}
	for i, file := range files {
		if err := os.Rename(file.temp, file.path); err != nil {
			return fail(files[:i], fmt.Errorf("replace %s: %w", filepath.Base(file.path), err))
		}
	}
	if err := commit(f.locks.SentinelPath(rel), op, sentinel); err != nil {
		return fail(files, err)
	}
	if err := os.Remove(journal); err != nil {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

// stage writes fn of every file to its temp. Nothing is visible until all
// temps are written.
func stage(files []fileEntry, fn func([]byte) ([]byte, error)) error {
	for i, file := range files {
		data, err := os.ReadFile(file.path)
		if err == nil {
			data, err = fn(data)
		}
		if err == nil {
			err = os.WriteFile(file.temp, data, file.mode)
		}
		if err != nil {
			removeTemps(files[:i+1])
			return fmt.Errorf("stage %s: %w", filepath.Base(file.path), err)
		}
	}
	return nil
}

// commit writes the sentinel for a lock and removes it for an unlock.
func commit(sentinelPath string, op byte, sentinel []byte) error {
	if op == opLock {
		if err := writeAtomic(sentinelPath, sentinel, 0644); err != nil {
			return fmt.Errorf("write sentinel: %w", err)
		}
		return nil
	}
	if err := os.Remove(sentinelPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove sentinel: %w", err)
	}
	return nil
}

// rollback reverses files that were already replaced and reports whether
// every file was restored.
func (f *Folders) rollback(files []fileEntry, undo func([]byte) ([]byte, error)) bool {
	ok := true
	for _, file := range files {
		data, err := os.ReadFile(file.path)
		if err == nil {
			data, err = undo(data)
		}
		if err == nil {
			err = writeAtomic(file.path, data, file.mode)
		}
		if err != nil {
			ok = false
			logging.Error("rollback failed", zap.String("file", file.path), zap.Error(err))
		}
	}
	return ok
}

func removeTemps(files []fileEntry) {
	for _, file := range files {
		os.Remove(file.temp)
	}
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+tempSuffix)
	if err := os.WriteFile(tmp, data, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
