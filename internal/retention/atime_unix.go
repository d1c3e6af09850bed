//go:build linux || darwin || freebsd

package retention

import (
	"time"

	"golang.org/x/sys/unix"
)

// accessTime returns the last access time of path.
func accessTime(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, err
	}
	sec, nsec := st.Atim.Unix()
	return time.Unix(sec, nsec), nil
}
