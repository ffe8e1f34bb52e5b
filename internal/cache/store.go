// Package cache provides the bounded on-disk store for rendered audio
// artifacts. Artifacts are addressed by a deterministic content key; one file
// per key lives directly in the store directory, and file modification times
// double as the creation index so the store survives process restarts.
//
// Capacity is enforced synchronously: every insert evicts the oldest entries
// until the entry count is back at or below the configured limit.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultMaxFiles bounds the store when no limit is configured.
const defaultMaxFiles = 50

// artifactExt is the file extension for stored artifacts.
const artifactExt = ".wav"

// Error reports a cache I/O failure during artifact insertion.
type Error struct {
	// Op names the failed step ("write", "scan").
	Op string

	// Key is the content key involved.
	Key string

	// Err is the underlying filesystem error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *Error) Unwrap() error { return e.Err }

// Stats receives cache activity notifications, typically wired to metrics
// counters. Implementations must be safe for concurrent use.
type Stats interface {
	Hit()
	Miss()
	Eviction()
}

// Option configures a Store.
type Option func(*Store)

// WithStats installs an activity observer. Without it the store stays silent.
func WithStats(st Stats) Option {
	return func(s *Store) { s.stats = st }
}

// entry is one indexed artifact.
type entry struct {
	path      string
	createdAt time.Time
	size      int64
}

// Store is the bounded artifact cache. All methods are safe for concurrent
// use. The index lock covers only index mutation; producer invocations run
// outside it so unrelated synthesis work is never serialised behind the store.
type Store struct {
	dir      string
	maxFiles int
	stats    Stats

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group
}

// New opens (or creates) the store directory and rebuilds the entry index
// from the files already present, so identical keys hit across restarts.
func New(dir string, maxFiles int, opts ...Option) (*Store, error) {
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Op: "scan", Key: dir, Err: err}
	}

	s := &Store{
		dir:      dir,
		maxFiles: maxFiles,
		entries:  make(map[string]entry),
	}
	for _, o := range opts {
		o(s)
	}

	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Op: "scan", Key: dir, Err: err}
	}
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), artifactExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(de.Name(), artifactExt)
		s.entries[key] = entry{
			path:      filepath.Join(dir, de.Name()),
			createdAt: info.ModTime(),
			size:      info.Size(),
		}
	}
	s.evictLocked()

	return s, nil
}

// Len returns the current number of indexed artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// GetOrCreate returns the artifact path for key, invoking produce on a miss
// and persisting its output. Concurrent calls for the same key share a single
// producer invocation; every caller observes the same artifact path.
//
// Producer errors are returned to the caller unchanged. A persistence failure
// is returned as a [*Error]; the caller receives no artifact and should treat
// the announcement as skipped.
func (s *Store) GetOrCreate(ctx context.Context, key string, produce func(context.Context) ([]byte, error)) (string, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		if path, ok := s.lookup(key); ok {
			if s.stats != nil {
				s.stats.Hit()
			}
			return path, nil
		}
		if s.stats != nil {
			s.stats.Miss()
		}

		data, err := produce(ctx)
		if err != nil {
			return "", err
		}

		path, err := s.persist(key, data)
		if err != nil {
			return "", err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// lookup returns the stored path for key if the artifact still exists on
// disk. A missing file is treated as a miss and dropped from the index.
func (s *Store) lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(e.path); err != nil {
		delete(s.entries, key)
		return "", false
	}
	return e.path, true
}

// persist writes the artifact atomically (temp file + rename), indexes it,
// and enforces capacity.
func (s *Store) persist(key string, data []byte) (string, error) {
	path := filepath.Join(s.dir, key+artifactExt)

	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", &Error{Op: "write", Key: key, Err: err}
	}

	s.mu.Lock()
	s.entries[key] = entry{path: path, createdAt: time.Now(), size: int64(len(data))}
	s.evictLocked()
	s.mu.Unlock()

	return path, nil
}

// evictLocked removes the oldest entries until the count is at or below the
// limit. File removal is best-effort: a failed unlink is logged and the entry
// is dropped from the index regardless, so capacity accounting stays exact.
// Callers must hold s.mu.
func (s *Store) evictLocked() {
	if len(s.entries) <= s.maxFiles {
		return
	}

	type aged struct {
		key string
		at  time.Time
	}
	order := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		order = append(order, aged{key: k, at: e.createdAt})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].at.Before(order[j].at) })

	for _, a := range order {
		if len(s.entries) <= s.maxFiles {
			break
		}
		e := s.entries[a.key]
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			slog.Warn("cache: eviction unlink failed", "key", a.key, "path", e.path, "err", err)
		} else {
			slog.Debug("cache: evicted artifact", "key", a.key, "path", e.path)
		}
		delete(s.entries, a.key)
		if s.stats != nil {
			s.stats.Eviction()
		}
	}
}
