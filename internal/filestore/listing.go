package filestore

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

const createdLayout = "2006-01-02 15:04"

// fillListing adds the visible children of dir to listing. keep, when set,
// filters entries by name.
func (s *Store) fillListing(listing *protocol.Listing, dir, rel string, keep func(string) bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}

		var size int64
		switch {
		case info.IsDir():
			size, err = dirSize(filepath.Join(dir, name))
			if err != nil {
				return err
			}
		case info.Mode().IsRegular():
			size = info.Size()
		default:
			// symlinks and special files are not listed
			continue
		}

		entry := protocol.Entry{
			Name:        name,
			Size:        size,
			SizeText:    humanize.IBytes(uint64(size)),
			Created:     info.ModTime().UTC().Format(createdLayout),
			CreatedText: humanize.Time(info.ModTime()),
		}
		if info.IsDir() {
			listing.Folders = append(listing.Folders, entry)
			if s.locks.HasSentinel(path.Join(rel, name)) {
				listing.Locked = append(listing.Locked, name)
			}
		} else {
			listing.Files = append(listing.Files, entry)
		}
	}

	sortEntries(listing.Folders)
	sortEntries(listing.Files)
	sort.Slice(listing.Locked, func(i, j int) bool {
		return strings.ToLower(listing.Locked[i]) < strings.ToLower(listing.Locked[j])
	})
	return nil
}

func sortEntries(entries []protocol.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}
