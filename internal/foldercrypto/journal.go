package foldercrypto

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/logging"
)

// JournalName is the hidden file recording a lock or unlock in progress.
const JournalName = ".locked.pending"

const (
	opLock   byte = 'L'
	opUnlock byte = 'U'
)

var errBadJournal = errors.New("malformed lock journal")

// Journal layout: op (1 byte) | sentinel bytes
func encodeJournal(op byte, sentinel []byte) []byte {
	buf := make([]byte, 0, 1+len(sentinel))
	buf = append(buf, op)
	return append(buf, sentinel...)
}

func decodeJournal(data []byte) (byte, []byte, error) {
	if len(data) < 2 || (data[0] != opLock && data[0] != opUnlock) {
		return 0, nil, errBadJournal
	}
	if _, _, err := decodeSentinel(data[1:]); err != nil {
		return 0, nil, errBadJournal
	}
	return data[0], data[1:], nil
}

func (f *Folders) journalPath(rel string) string {
	return filepath.Join(filepath.Dir(f.locks.SentinelPath(rel)), JournalName)
}

// resume finishes an interrupted operation on rel before a new one starts.
// It reports done when the interrupted operation was the one requested, in
// which case its outcome is the result: nil when key matches the journaled
// lock, otherwise the error the completed state implies. Without a journal
// it removes stale temps and returns false.
func (f *Folders) resume(ctx context.Context, rel, abs string, op byte, key string) (bool, error) {
	data, err := os.ReadFile(f.journalPath(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return false, removeStaleTemps(abs)
	}
	if err != nil {
		return false, fmt.Errorf("read journal: %w", err)
	}
	pending, sentinel, err := decodeJournal(data)
	if err != nil {
		return false, err
	}
	if err := f.finish(ctx, rel, abs, pending, sentinel); err != nil {
		return false, err
	}
	if pending != op {
		return false, nil
	}

	enc, err := openSentinel(sentinel, key)
	if err != nil {
		if op == opLock {
			return true, ErrAlreadyLocked
		}
		return true, ErrNotLocked
	}
	enc.Destroy()
	return true, nil
}

// finish renames the remaining temps into place, commits the sentinel and
// removes the journal.
func (f *Folders) finish(ctx context.Context, rel, abs string, op byte, sentinel []byte) error {
	renamed, err := rollForward(abs)
	if err != nil {
		return err
	}
	if err := commit(f.locks.SentinelPath(rel), op, sentinel); err != nil {
		return err
	}
	if err := os.Remove(f.journalPath(rel)); err != nil {
		return fmt.Errorf("remove journal: %w", err)
	}
	action := "lock"
	if op == opUnlock {
		action = "unlock"
	}
	logging.WithContext(ctx).Warn("finished interrupted folder "+action,
		zap.String("path", rel), zap.Int("files", renamed))
	return nil
}

// Recover finishes every interrupted lock or unlock under the vault root.
func (f *Folders) Recover(ctx context.Context) error {
	root := f.resolver.Base()
	var folders []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if d.Name() == JournalName {
				folders = append(folders, filepath.Dir(p))
			}
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan for journals: %w", err)
	}

	for _, abs := range folders {
		rel, err := f.resolver.Rel(abs)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(f.journalPath(rel))
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		op, sentinel, err := decodeJournal(data)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		if err := f.finish(ctx, rel, abs, op, sentinel); err != nil {
			return fmt.Errorf("recover %s: %w", rel, err)
		}
	}
	return nil
}

// tempTarget returns the file a staged temp replaces, or "" when name is not
// a file temp. Temps of hidden files (the sentinel, the journal) are not
// file temps.
func tempTarget(name string) string {
	if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempSuffix) {
		return ""
	}
	target := strings.TrimSuffix(strings.TrimPrefix(name, "."), tempSuffix)
	if target == "" || strings.HasPrefix(target, ".") {
		return ""
	}
	return target
}

// walkTemps calls fn for every file temp below dir.
func walkTemps(dir string, fn func(temp, target string) error) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		target := tempTarget(d.Name())
		if target == "" || !d.Type().IsRegular() {
			return nil
		}
		return fn(p, filepath.Join(filepath.Dir(p), target))
	})
}

func rollForward(dir string) (int, error) {
	renamed := 0
	err := walkTemps(dir, func(temp, target string) error {
		if err := os.Rename(temp, target); err != nil {
			return fmt.Errorf("replace %s: %w", filepath.Base(target), err)
		}
		renamed++
		return nil
	})
	return renamed, err
}

// removeStaleTemps deletes temps left by an operation that failed before
// its journal was written.
func removeStaleTemps(dir string) error {
	return walkTemps(dir, func(temp, _ string) error {
		if err := os.Remove(temp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale temp: %w", err)
		}
		return nil
	})
}
