// Package retention removes vault files that have not been accessed for a
// configured number of days.
package retention

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/storage"
)

// DefaultCooldown bounds how often a sweep actually walks the vault.
const DefaultCooldown = 5 * time.Minute

// Options configures a Sweeper.
type Options struct {
	Root     string
	Archive  storage.Backend // optional
	Locker   sync.Locker     // held while files are removed, optional
	Cooldown time.Duration
	OnExpire func(rel string) // called for every removed file, optional
}

// Result summarizes one Run.
type Result struct {
	Skipped  bool
	Removed  int
	Archived int
}

// Sweeper removes expired files under a vault root.
type Sweeper struct {
	root     string
	archive  storage.Backend
	locker   sync.Locker
	cooldown time.Duration
	onExpire func(string)
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// New creates a Sweeper.
func New(opts Options) *Sweeper {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	return &Sweeper{
		root:     opts.Root,
		archive:  opts.Archive,
		locker:   opts.Locker,
		cooldown: opts.Cooldown,
		onExpire: opts.OnExpire,
		now:      time.Now,
	}
}

// Run removes every visible regular file whose access time is older than
// maxAgeDays. It does nothing when maxAgeDays <= 0 or when the previous run
// finished less than one cooldown ago. With an archive backend, each file is
// archived first and kept if archiving fails.
func (s *Sweeper) Run(ctx context.Context, maxAgeDays int) (Result, error) {
	if maxAgeDays <= 0 {
		return Result{Skipped: true}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.cooldown {
		return Result{Skipped: true}, nil
	}
	s.lastRun = now

	if s.locker != nil {
		s.locker.Lock()
		defer s.locker.Unlock()
	}

	start := time.Now()
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	var res Result
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		atime, err := accessTime(p)
		if err != nil || !atime.Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if s.archive != nil {
			if err := s.archiveFile(ctx, p, rel); err != nil {
				logging.Warn("archive expired file failed, keeping it",
					zap.String("path", rel), zap.Error(err))
				return nil
			}
			res.Archived++
		}
		if err := os.Remove(p); err != nil {
			logging.Warn("remove expired file failed", zap.String("path", rel), zap.Error(err))
			return nil
		}
		res.Removed++
		if s.onExpire != nil {
			s.onExpire(rel)
		}
		return nil
	})
	metrics.RecordRetentionSweep(res.Removed, res.Archived, time.Since(start))
	if err != nil {
		return res, fmt.Errorf("sweep %s: %w", s.root, err)
	}
	if res.Removed > 0 {
		logging.Info("retention sweep removed expired files",
			zap.Int("removed", res.Removed), zap.Int("archived", res.Archived))
	}
	return res, nil
}

func (s *Sweeper) archiveFile(ctx context.Context, abs, rel string) error {
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return s.archive.PutObject(ctx, rel, f, info.Size())
}

// Start runs the sweep every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, maxAgeDays int, interval time.Duration) {
	if maxAgeDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx, maxAgeDays); err != nil {
					logging.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
