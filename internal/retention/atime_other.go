//go:build !linux && !darwin && !freebsd

package retention

import (
	"os"
	"time"
)

// accessTime falls back to the modification time where atime is unavailable.
func accessTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
