// Package lock persists per-template version locks in .specify/template-lock.yaml.
package lock

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/fsutil"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/pathutil"
)

// Store is a file-backed lock set. Mutations hold an exclusive flock on a
// sidecar file across processes, re-read the lock file, and are made durable
// before the in-memory snapshot is replaced, so readers never see a lock
// that is not yet on disk.
type Store struct {
	path    string
	now     func() time.Time
	log     *logging.Logger
	metrics *metrics.Registry

	mu    sync.RWMutex
	locks map[string]model.Lock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore opens the lock file at path. A missing file is an empty store.
func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrGlobal(s.log)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the lock file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the lock file from disk.
func (s *Store) Reload() error {
	locks, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.locks = locks
	s.mu.Unlock()
	return nil
}

// Lock upserts the lock for name and persists the full lock set.
func (s *Store) Lock(name, version string, hash model.HashValue, lockedBy, reason string, expiresAt *time.Time) (*model.Lock, error) {
	if err := pathutil.ValidateTemplateName(name); err != nil {
		return nil, err
	}
	rec := model.Lock{
		Version:  version,
		SHA256:   hash,
		LockedAt: s.now().UTC(),
		LockedBy: lockedBy,
		Reason:   reason,
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		rec.ExpiresAt = &exp
	}

	err := s.mutate(func(next map[string]model.Lock) bool {
		next[name] = rec
		return true
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLockOp("lock")
	s.log.Info("template locked", map[string]any{"template": name, "version": version, "locked_by": lockedBy})
	return &rec, nil
}

// Unlock removes the lock for name. Unlocking an absent name is a no-op and
// does not touch the file.
func (s *Store) Unlock(name string) error {
	removed := false
	err := s.mutate(func(next map[string]model.Lock) bool {
		_, removed = next[name]
		delete(next, name)
		return removed
	})
	if err != nil {
		return err
	}
	if removed {
		s.metrics.RecordLockOp("unlock")
	}
	return nil
}

// IsLocked reports whether name holds an unexpired lock. An expired lock is
// removed from the store as a side effect.
func (s *Store) IsLocked(name string) (bool, error) {
	rec, err := s.Info(name)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Info returns the lock for name, or nil when absent. Expired locks are
// removed and reported as absent.
func (s *Store) Info(name string) (*model.Lock, error) {
	s.mu.RLock()
	rec, ok := s.locks[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !rec.IsExpired(s.now()) {
		return &rec, nil
	}

	expired := false
	var current *model.Lock
	err := s.mutate(func(next map[string]model.Lock) bool {
		// Another process may have replaced or removed it.
		rec, ok := next[name]
		if !ok {
			return false
		}
		if !rec.IsExpired(s.now()) {
			current = &rec
			return false
		}
		delete(next, name)
		expired = true
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("remove expired lock %s: %w", name, err)
	}
	if expired {
		s.log.Info("lock expired", map[string]any{"template": name, "expires_at": rec.ExpiresAt.Format(time.RFC3339)})
		s.metrics.RecordLockOp("expire")
	}
	return current, nil
}

// Entry is a named lock, as returned by List.
type Entry struct {
	Name string `json:"name"`
	model.Lock
}

// List returns all unexpired locks sorted by name. Expired locks are skipped
// but left for lazy removal.
func (s *Store) List() []Entry {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.locks))
	for name, rec := range s.locks {
		if rec.IsExpired(now) {
			continue
		}
		out = append(out, Entry{Name: name, Lock: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// mutate re-reads the lock file under the sidecar flock, applies fn to a
// copy, and persists and publishes the copy when fn reports a change. The
// refreshed snapshot is published either way.
func (s *Store) mutate(fn func(next map[string]model.Lock) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fsutil.WithLock(s.path+".lock", func() error {
		current, err := readFile(s.path)
		if err != nil {
			return err
		}
		s.locks = current

		next := make(map[string]model.Lock, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		if !fn(next) {
			return nil
		}
		data, err := yaml.Marshal(model.LockFile{Locks: next})
		if err != nil {
			return fmt.Errorf("marshal lock file: %w", err)
		}
		if err := fsutil.AtomicWrite(s.path, data, 0644); err != nil {
			return fmt.Errorf("write lock file: %w", err)
		}
		s.locks = next
		return nil
	})
}

func readFile(path string) (map[string]model.Lock, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]model.Lock{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	var lf model.LockFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lock file %s: %w", path, err)
	}
	if lf.Locks == nil {
		lf.Locks = map[string]model.Lock{}
	}
	return lf.Locks, nil
}
