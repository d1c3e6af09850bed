package filestore

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

// Extensions is the upload allowlist.
var Extensions = protocol.Extensions{
	Supported: []string{"pdb", "sdf", "cif", "pdf", "png", "jpg", "nanome", "nanosr", "lua", "obj"},
	Extras:    []string{"ccp4", "dcd", "dsn6", "dx", "gro", "mae", "mmcif", "moe", "mol2", "pqr", "pse", "psf", "smiles", "trr", "xtc", "xyz"},
	Converted: []string{"ppt", "pptx", "doc", "docx", "txt", "rtf", "odt", "odp"},
	External:  []string{"map", "map.gz"},
}

var (
	// name (n).ext, where the counter and extension are optional
	duplicatePattern = regexp.MustCompile(`^(.+?)(?: \((\d+)\))?(\.\w+)?$`)
	unsafeChars      = strings.NewReplacer("#", "_", "?", "_")
)

// Extension returns the lower-cased extension of name without the dot.
// Compound extensions from the allowlist, like map.gz, are returned whole.
func Extension(name string) string {
	lower := strings.ToLower(path.Base(name))
	for _, ext := range Extensions.External {
		if strings.Contains(ext, ".") && strings.HasSuffix(lower, "."+ext) {
			return ext
		}
	}
	ext := path.Ext(lower)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

// AllowedExtension reports whether name may be uploaded.
func AllowedExtension(name string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	for _, allowed := range Extensions.All() {
		if ext == allowed {
			return true
		}
	}
	return false
}

// SanitizeFilename cleans an upload filename. The filename may contain
// slash-separated subfolders. '#' and '?' become '_' and the extension is
// lower-cased. Hidden or empty segments are rejected.
func SanitizeFilename(filename string) (string, error) {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = unsafeChars.Replace(filename)
	segments := strings.Split(strings.Trim(filename, "/"), "/")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
		}
	}

	last := segments[len(segments)-1]
	if ext := Extension(last); ext != "" {
		last = last[:len(last)-len(ext)] + ext
	}
	segments[len(segments)-1] = last
	return strings.Join(segments, "/"), nil
}

// ValidateName checks a rename target: one visible path segment.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// candidateNames yields base, then "name (2).ext", "name (3).ext" and so on.
// An input already ending in " (n)" continues counting from n.
type candidateNames struct {
	name    string
	ext     string
	counter int
	first   string
	started bool
}

func newCandidates(base string) *candidateNames {
	c := &candidateNames{first: base, name: base, counter: 1}
	if m := duplicatePattern.FindStringSubmatch(base); m != nil {
		c.name, c.ext = m[1], m[3]
		if m[2] != "" {
			if n, err := strconv.Atoi(m[2]); err == nil {
				c.counter = n
			}
		}
	}
	return c
}

func (c *candidateNames) next() string {
	if !c.started {
		c.started = true
		return c.first
	}
	c.counter++
	return fmt.Sprintf("%s (%d)%s", c.name, c.counter, c.ext)
}

// reserveName creates an empty file under dir with the first free candidate
// name and returns that name. O_EXCL makes the reservation race-free.
func reserveName(dir, base string) (string, error) {
	candidates := newCandidates(base)
	for {
		name := candidates.next()
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			return name, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
}
