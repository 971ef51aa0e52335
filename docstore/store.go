/*
store.go - Keyed JSON document store with per-key exclusive access

PURPOSE:
  Every persisted collection (users, wallets, orders, inventory, admins,
  settings, audit) is one named JSON document. The Store is the only code
  that touches a Backend; the ledger, workflow and inventory build on its
  Update combinator.

OPERATIONS:
  Read(key, default)          read-or-init
  Write(key, value)           replace
  Update(key, default, fn)    lock, read-or-init, fn, write, unlock
  Load[T] / Mutate[T]         typed variants of Read / Update

CONCURRENCY:
  One mutex per key, created lazily. Operations on different keys never
  block each other. Operations on the same key (reads included) are
  serialized in mutex arrival order, so Update always sees a consistent
  snapshot and two Updates never interleave.

  The context is checked once, before the key lock is taken. Once an
  operation holds the lock it runs to completion.

DURABILITY:
  Backends make Save atomic (temp file + fsync + rename for FileBackend).
  A failed Save is a StoreIOError and leaves the previous document intact,
  so a failed Update is a no-op and may be retried.

CORRUPTION:
  A record that does not parse (or does not decode into the expected Go
  type) is quarantined through the Backend, logged, and replaced with the
  default. Corruption is never surfaced to callers.

SEE ALSO:
  - file.go:   atomic-rename file backend
  - memory.go: in-memory backend for tests
  - store/sqlite: SQLite backend
*/
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/metrics"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Store serializes access to documents held by a Backend.
type Store struct {
	backend Backend
	log     *logrus.Entry
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for quarantine and write-failure events.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records write latency, results and quarantines.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "docstore")
	return s
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// =============================================================================
// UNTYPED CONTRACT
// =============================================================================

// Read returns the current document for key. An absent record is
// initialized to def; a corrupt one is quarantined and reinitialized.
func (s *Store) Read(ctx context.Context, key string, def any) (json.RawMessage, error) {
	defRaw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode default for %q: %w", key, err)
	}
	return Load(ctx, s, key, func() json.RawMessage { return defRaw })
}

// Write replaces the document for key with value.
func (s *Store) Write(ctx context.Context, key string, value any) error {
	return s.locked(ctx, key, func() error {
		_, err := s.writeLocked(ctx, key, value)
		return err
	})
}

// Update applies fn to the current document under the key's lock and
// persists what it returns. If fn fails nothing is written.
func (s *Store) Update(ctx context.Context, key string, def any, fn func(current json.RawMessage) (any, error)) (json.RawMessage, error) {
	defRaw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode default for %q: %w", key, err)
	}

	var out json.RawMessage
	err = s.locked(ctx, key, func() error {
		cur, err := loadLocked(ctx, s, key, func() json.RawMessage { return defRaw })
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		data, err := s.writeLocked(ctx, key, next)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// TYPED CONTRACT
// =============================================================================

// Load returns the document for key decoded into T.
func Load[T any](ctx context.Context, s *Store, key string, def func() T) (T, error) {
	var out T
	err := s.locked(ctx, key, func() error {
		v, err := loadLocked(ctx, s, key, def)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Mutate decodes the document for key into T, lets fn modify it in place
// and writes the result. It returns the value that was written. An error
// from fn aborts the write and is returned unchanged.
func Mutate[T any](ctx context.Context, s *Store, key string, def func() T, fn func(*T) error) (T, error) {
	var out T
	err := s.locked(ctx, key, func() error {
		cur, err := loadLocked(ctx, s, key, def)
		if err != nil {
			return err
		}
		if err := fn(&cur); err != nil {
			return err
		}
		if _, err := s.writeLocked(ctx, key, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// =============================================================================
// LOCKING AND I/O
// =============================================================================

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) locked(ctx context.Context, key string, fn func() error) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", core.ErrInvalidKey, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func loadLocked[T any](ctx context.Context, s *Store, key string, def func() T) (T, error) {
	var zero T
	data, err := s.backend.Load(ctx, key)
	if errors.Is(err, ErrAbsent) {
		return initLocked(ctx, s, key, def)
	}
	if err != nil {
		return zero, asIOError("load", key, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return recoverLocked(ctx, s, key, err, def)
	}
	return v, nil
}

func initLocked[T any](ctx context.Context, s *Store, key string, def func() T) (T, error) {
	var zero T
	v := def()
	if _, err := s.writeLocked(ctx, key, v); err != nil {
		return zero, err
	}
	return v, nil
}

func recoverLocked[T any](ctx context.Context, s *Store, key string, cause error, def func() T) (T, error) {
	var zero T
	where, err := s.backend.Quarantine(ctx, key)
	if err != nil {
		return zero, asIOError("quarantine", key, err)
	}
	s.metrics.Quarantined(key)
	s.log.WithFields(logrus.Fields{
		"key":         key,
		"quarantined": where,
		"error":       fmt.Errorf("%w: %v", core.ErrCorruptRecord, cause),
	}).Warn("corrupt document quarantined, reinitializing with default")
	return initLocked(ctx, s, key, def)
}

func (s *Store) writeLocked(ctx context.Context, key string, value any) ([]byte, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("docstore: encode %q: %w", key, err)
	}

	started := time.Now()
	err = s.backend.Save(ctx, key, data)
	s.metrics.ObserveWrite(key, started, err)
	if err != nil {
		err = asIOError("write", key, err)
		s.log.WithError(err).WithField("key", key).Error("document write failed")
		return nil, err
	}
	return data, nil
}

func asIOError(op, key string, err error) error {
	var ioErr *core.StoreIOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &core.StoreIOError{Op: op, Key: key, Err: err}
}
