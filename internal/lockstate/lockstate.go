// Package lockstate answers which folder, if any, locks a vault path.
//
// A folder is locked when it directly contains the sentinel file. The answer
// is recomputed from the filesystem on every call.
package lockstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
)

// SentinelName is the hidden file marking the root of a locked subtree.
const SentinelName = ".locked"

// ErrNestedLock means two sentinels exist on one ancestor chain.
var ErrNestedLock = errors.New("nested lock on path")

// State inspects sentinels under a vault root.
type State struct {
	root string
}

// New returns a State for the canonical vault root.
func New(root string) *State {
	return &State{root: root}
}

func (s *State) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// HasSentinel reports whether rel itself carries a sentinel.
func (s *State) HasSentinel(rel string) bool {
	info, err := os.Lstat(filepath.Join(s.abs(rel), SentinelName))
	return err == nil && info.Mode().IsRegular()
}

// SentinelPath returns the absolute sentinel path for a folder.
func (s *State) SentinelPath(rel string) string {
	return filepath.Join(s.abs(rel), SentinelName)
}

// FindLockRoot walks from the vault root down to rel and returns the
// shallowest folder carrying a sentinel. A second sentinel further down the
// same chain is reported as ErrNestedLock.
func (s *State) FindLockRoot(rel string) (string, bool, error) {
	var (
		found  string
		locked bool
	)
	current := ""
	for _, seg := range append([]string{""}, pathsafe.Segments(rel)...) {
		current = path.Join(current, seg)
		info, err := os.Stat(s.abs(current))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return "", false, fmt.Errorf("stat %s: %w", current, err)
		}
		if !info.IsDir() {
			break
		}
		if !s.HasSentinel(current) {
			continue
		}
		if locked {
			return "", false, fmt.Errorf("%w: %s inside %s", ErrNestedLock, current, found)
		}
		found, locked = current, true
	}
	return found, locked, nil
}

// IsLocked reports whether rel is inside a locked subtree.
func (s *State) IsLocked(rel string) (bool, error) {
	_, locked, err := s.FindLockRoot(rel)
	return locked, err
}

// ContainsLock reports whether any folder in the subtree at rel, rel
// included, carries a sentinel.
func (s *State) ContainsLock(rel string) (bool, error) {
	found := false
	err := filepath.WalkDir(s.abs(rel), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == SentinelName {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("walk %s: %w", rel, err)
	}
	return found, nil
}
