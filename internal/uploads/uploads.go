// Package uploads tracks resumable chunked uploads.
//
// Session records live in a bbolt database next to the partial files; the
// bytes of each upload are appended to <id>.part until the final chunk
// arrives and the file is handed to the store.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
)

const (
	// DefaultExpiry is how long a session may stay idle before it is purged.
	DefaultExpiry   = 10 * time.Minute
	cleanupInterval = time.Minute
	dbName          = "uploads.db"
)

var sessionsBucket = []byte("sessions")

var (
	ErrInvalidUpload    = errors.New("invalid upload")
	ErrInvalidRange     = errors.New(`invalid header: "Content-Range"`)
	ErrInvalidChunk     = errors.New("invalid upload chunk")
	ErrInvalidExtension = errors.New("file extension not supported")
	ErrTooLarge         = errors.New("upload too large")
)

var rangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// Store receives finished uploads.
type Store interface {
	AddFile(ctx context.Context, rel, filename string, data []byte, key string) (string, error)
	CheckStorage(rel string, size int64) error
}

// Session is one chunked upload in progress.
type Session struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Received  int64     `json:"received"`
	Account   string    `json:"account,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress reports the state of a session after a chunk.
type Progress struct {
	Received int64
	Complete bool
	File     string // stored path once complete
}

// Options configures a Manager.
type Options struct {
	Dir     string
	MaxSize int64         // 0 = unlimited
	Expiry  time.Duration // idle time before a session is purged
}

// Manager handles chunked uploads.
type Manager struct {
	db      *bolt.DB
	dir     string
	store   Store
	maxSize int64
	expiry  time.Duration
	now     func() time.Time

	mu sync.Mutex
	// Folder keys are held in memory only and never written to the database.
	keys map[string]string
}

// Open opens or creates the session database under opts.Dir.
func Open(opts Options, store Store) (*Manager, error) {
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(opts.Dir, dbName), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionsBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", sessionsBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	m := &Manager{
		db:      db,
		dir:     opts.Dir,
		store:   store,
		maxSize: opts.MaxSize,
		expiry:  opts.Expiry,
		now:     time.Now,
		keys:    make(map[string]string),
	}
	m.updateGauge()
	return m, nil
}

// Close closes the session database.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) partPath(id string) string {
	return filepath.Join(m.dir, id+".part")
}

// Init opens a session for a file called name of size bytes, to be stored
// in the folder rel.
func (m *Manager) Init(ctx context.Context, rel, name string, size int64, key string) (string, error) {
	name, err := filestore.SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if !filestore.AllowedExtension(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidExtension, name)
	}
	if size <= 0 {
		return "", fmt.Errorf("%w: size must be positive", ErrInvalidUpload)
	}
	if m.maxSize > 0 && size > m.maxSize {
		return "", ErrTooLarge
	}
	// name may carry subfolders, which decide the account it lands in
	dest := path.Join(pathsafe.Clean(rel), path.Dir(name))
	if !filestore.InScope(ctx, dest) {
		return "", fmt.Errorf("%w: %s is out of scope", filestore.ErrForbidden, dest)
	}
	if err := m.store.CheckStorage(dest, size); err != nil {
		return "", err
	}

	account, _ := filestore.AccountFrom(ctx)
	now := m.now()
	s := &Session{
		ID:        uuid.New().String(),
		Path:      rel,
		Name:      name,
		Size:      size,
		Account:   account,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.WriteFile(m.partPath(s.ID), nil, 0600); err != nil {
		return "", fmt.Errorf("create part file: %w", err)
	}
	if err := m.put(s); err != nil {
		os.Remove(m.partPath(s.ID))
		return "", err
	}
	if key != "" {
		m.keys[s.ID] = key
	}
	m.updateGauge()

	logging.WithContext(ctx).Info("upload session opened",
		zap.String("upload_id", s.ID),
		zap.String("path", rel),
		zap.String("name", name),
		zap.Int64("size", size))
	return s.ID, nil
}

// Chunk appends body to the session id. contentRange has the form
// "bytes start-end/total" where start must equal the bytes received so far
// and end == total marks the last chunk. key, when set, replaces the key
// given at Init.
func (m *Manager) Chunk(ctx context.Context, id, name, contentRange string, body io.Reader, key string) (Progress, error) {
	start, end, total, err := ParseContentRange(contentRange)
	if err != nil {
		return Progress{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return Progress{}, err
	}
	if s == nil || !m.owns(ctx, s) || !sameName(s.Name, name) {
		return Progress{}, ErrInvalidUpload
	}
	if total != s.Size || start != s.Received {
		return Progress{}, ErrInvalidChunk
	}

	part := m.partPath(id)
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return Progress{}, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	n, err := io.Copy(f, io.LimitReader(body, end-start+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil || n != end-start {
		os.Truncate(part, start)
		if err != nil {
			return Progress{}, fmt.Errorf("append chunk: %w", err)
		}
		return Progress{}, ErrInvalidChunk
	}

	s.Received = end
	s.UpdatedAt = m.now()
	if key != "" {
		m.keys[id] = key
	}
	if end < total {
		if err := m.put(s); err != nil {
			return Progress{}, err
		}
		return Progress{Received: end}, nil
	}

	stored, err := m.finalize(ctx, s)
	if err != nil {
		return Progress{}, err
	}
	return Progress{Received: end, Complete: true, File: stored}, nil
}

func (m *Manager) finalize(ctx context.Context, s *Session) (string, error) {
	data, err := os.ReadFile(m.partPath(s.ID))
	if err != nil {
		return "", fmt.Errorf("read part file: %w", err)
	}
	key := m.keys[s.ID]
	stored, err := m.store.AddFile(ctx, s.Path, s.Name, data, key)
	// the session is spent either way; the client starts over on failure
	if rerr := m.remove(s.ID); rerr != nil {
		logging.Warn("remove finished upload failed", zap.String("upload_id", s.ID), zap.Error(rerr))
	}
	if err != nil {
		return "", err
	}
	logging.WithContext(ctx).Info("upload complete",
		zap.String("upload_id", s.ID),
		zap.String("file", stored))
	return stored, nil
}

// Cancel discards the session id. Unknown ids are ignored.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	if !m.owns(ctx, s) {
		return ErrInvalidUpload
	}
	return m.remove(id)
}

// Get returns the session id, or nil if there is none.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	var n int
	m.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(sessionsBucket).Stats().KeyN
		return nil
	})
	return n
}

// Purge removes sessions idle for longer than the expiry and returns how
// many were removed.
func (m *Manager) Purge() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.expiry)
	var expired []string
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var s Session
			if err := json.Unmarshal(v, &s); err != nil || s.UpdatedAt.Before(cutoff) {
				expired = append(expired, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	for _, id := range expired {
		if err := m.remove(id); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		logging.Info("purged idle uploads", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// StartCleanup purges idle sessions periodically until ctx is cancelled.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Purge(); err != nil {
					logging.Error("upload cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// ParseContentRange parses "bytes start-end/total". end is exclusive and
// equals total on the last chunk.
func ParseContentRange(header string) (start, end, total int64, err error) {
	match := rangePattern.FindStringSubmatch(header)
	if match == nil {
		return 0, 0, 0, ErrInvalidRange
	}
	nums := make([]int64, 3)
	for i := range nums {
		nums[i], err = strconv.ParseInt(match[i+1], 10, 64)
		if err != nil {
			return 0, 0, 0, ErrInvalidRange
		}
	}
	start, end, total = nums[0], nums[1], nums[2]
	if start >= total || start >= end || end > total {
		return 0, 0, 0, ErrInvalidRange
	}
	return start, end, total, nil
}

func (m *Manager) owns(ctx context.Context, s *Session) bool {
	account, _ := filestore.AccountFrom(ctx)
	return s.Account == "" || s.Account == account
}

func sameName(stored, given string) bool {
	if given == "" {
		return false
	}
	name, err := filestore.SanitizeFilename(given)
	return err == nil && name == stored
}

func (m *Manager) get(id string) (*Session, error) {
	var s *Session
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		s = &Session{}
		return json.Unmarshal(data, s)
	})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (m *Manager) put(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Manager) remove(id string) error {
	delete(m.keys, id)
	if err := os.Remove(m.partPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove part file: %w", err)
	}
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.updateGauge()
	return nil
}

func (m *Manager) updateGauge() {
	metrics.SetUploadSessions(m.Count())
}
