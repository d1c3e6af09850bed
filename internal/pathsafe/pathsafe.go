// Package pathsafe confines caller-supplied relative paths to a base directory.
//
// Every path that reaches the filesystem goes through a Resolver. Symlinks are
// resolved before the containment check, so a link inside the base that points
// outside of it is treated exactly like "../" traversal. Escapes and missing
// paths fail with the same ErrNotFound so callers learn nothing about the host.
package pathsafe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned for missing paths and for paths outside the base.
var ErrNotFound = errors.New("path not found")

// Resolver maps relative paths onto a canonical base directory.
type Resolver struct {
	base string
}

// New returns a Resolver rooted at base. The base must exist.
func New(base string) (*Resolver, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("absolute path of %s: %w", base, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve base %s: %w", base, err)
	}
	return &Resolver{base: filepath.Clean(canonical)}, nil
}

// Base returns the canonical base directory.
func (r *Resolver) Base() string {
	return r.base
}

// Resolve returns the canonical absolute path of an existing entry.
func (r *Resolver) Resolve(sub string) (string, error) {
	target := r.join(sub)
	if !r.contains(target) {
		return "", ErrNotFound
	}
	canonical, err := filepath.EvalSymlinks(target)
	if err != nil {
		// missing, dangling or through a regular file
		return "", ErrNotFound
	}
	if !r.contains(canonical) {
		return "", ErrNotFound
	}
	return canonical, nil
}

// ResolveNew returns the canonical absolute path for an entry that may not
// exist yet. The deepest existing ancestor is symlink-resolved and the
// remaining segments are appended to it.
func (r *Resolver) ResolveNew(sub string) (string, error) {
	target := r.join(sub)
	if !r.contains(target) {
		return "", ErrNotFound
	}

	existing := target
	var rest []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		if existing == r.base {
			return "", ErrNotFound
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = filepath.Dir(existing)
	}

	canonical, err := filepath.EvalSymlinks(existing)
	if err != nil {
		// dangling symlink
		return "", ErrNotFound
	}
	full := filepath.Join(append([]string{canonical}, rest...)...)
	if !r.contains(full) {
		return "", ErrNotFound
	}
	return full, nil
}

// Rel converts an absolute path under the base back to a slash-separated
// relative path. The base itself is "".
func (r *Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.base, abs)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", abs, err)
	}
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrNotFound
	}
	return filepath.ToSlash(rel), nil
}

func (r *Resolver) join(sub string) string {
	sub = strings.TrimLeft(filepath.FromSlash(sub), string(filepath.Separator))
	return filepath.Join(r.base, sub)
}

// contains is a separator-aware prefix check: /vault-evil is not under /vault.
func (r *Resolver) contains(p string) bool {
	if p == r.base {
		return true
	}
	prefix := r.base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// Clean normalizes a relative vault path to slash form without leading or
// trailing separators. It does not make the path safe; use a Resolver for that.
func Clean(sub string) string {
	sub = strings.Trim(filepath.ToSlash(sub), "/")
	if sub == "" {
		return ""
	}
	cleaned := filepath.ToSlash(filepath.Clean(sub))
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// Segments splits a cleaned relative path into its components.
func Segments(sub string) []string {
	sub = Clean(sub)
	if sub == "" {
		return nil
	}
	return strings.Split(sub, "/")
}

// IsHidden reports whether any segment of sub starts with a dot.
func IsHidden(sub string) bool {
	for _, seg := range Segments(sub) {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
