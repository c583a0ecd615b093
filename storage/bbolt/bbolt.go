// Package bbolt provides a file-backed storage.Store that several processes
// can share.
//
// The database file is opened for the duration of each operation only, so
// the BBolt file lock is held briefly and other processes can take turns.
// Every entry records the handle that last wrote it, and deletions are kept
// as tombstones, so a watcher can tell other handles' writes from its own.
// Change notifications come from fsnotify events on the database file
// followed by a diff against the last snapshot.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessionguard/internal/uuid"
	"github.com/jmcleod/sessionguard/storage"
)

const (
	bucketName         = "sessionguard"
	clearMarker        = "\x00clear"
	defaultLockTimeout = time.Second
)

// entry is the stored form of a value.
type entry struct {
	Value   string `json:"v,omitempty"`
	Writer  string `json:"w"`
	Seq     uint64 `json:"s"`
	Deleted bool   `json:"d,omitempty"`
}

// Store implements storage.Store on a BBolt database file.
type Store struct {
	path        string
	source      string
	lockTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	closed   bool
	watcher  *fsnotify.Watcher
	snapshot map[string]entry
	subs     map[uint64]func(storage.Change)
	nextID   uint64
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSource sets the identifier stamped on this handle's writes.
func WithSource(source string) Option {
	return func(s *Store) {
		s.source = source
	}
}

// WithLockTimeout bounds how long an operation waits for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithLogger sets the logger for watcher errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open returns a handle on the database at path, creating the file and its
// bucket if needed.
func Open(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving bbolt path: %w", err)
	}
	s := &Store{
		path:        abs,
		lockTimeout: defaultLockTimeout,
		subs:        make(map[uint64]func(storage.Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == "" {
		s.source = uuid.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "storage.bbolt", "path", abs)

	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("creating bbolt directory: %w", err)
	}
	err = s.update(func(b *bbolt.Bucket) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Source() string {
	return s.source
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) update(fn func(b *bbolt.Bucket) error) error {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: s.lockTimeout})
	if err != nil {
		return fmt.Errorf("opening bbolt db: %w", err)
	}
	defer db.Close()
	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (s *Store) view(fn func(b *bbolt.Bucket) error) error {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: s.lockTimeout, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("opening bbolt db: %w", err)
	}
	defer db.Close()
	return db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return fn(b)
	})
}

func readEntry(b *bbolt.Bucket, key string) (entry, bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return entry{}, false, nil
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, false, fmt.Errorf("%s: decoding entry: %w", key, err)
	}
	return e, true, nil
}

func (s *Store) putEntry(b *bbolt.Bucket, key string, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	if s.isClosed() {
		return "", storage.ErrClosed
	}
	var (
		value string
		found bool
	)
	err := s.view(func(b *bbolt.Bucket) error {
		e, ok, err := readEntry(b, key)
		if err != nil {
			return err
		}
		if ok && !e.Deleted {
			value, found = e.Value, true
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return value, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	return s.update(func(b *bbolt.Bucket) error {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return s.putEntry(b, key, entry{Value: value, Writer: s.source, Seq: seq})
	})
}

func (s *Store) Delete(_ context.Context, key string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	return s.update(func(b *bbolt.Bucket) error {
		e, ok, err := readEntry(b, key)
		if err != nil || !ok || e.Deleted {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return s.putEntry(b, key, entry{Writer: s.source, Seq: seq, Deleted: true})
	})
}

func (s *Store) Clear(_ context.Context) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	return s.update(func(b *bbolt.Bucket) error {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var live []string
		err = b.ForEach(func(k, v []byte) error {
			var e entry
			if json.Unmarshal(v, &e) == nil && !e.Deleted && string(k) != clearMarker {
				live = append(live, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		tomb := entry{Writer: s.source, Seq: seq, Deleted: true}
		for _, k := range live {
			if err := s.putEntry(b, k, tomb); err != nil {
				return err
			}
		}
		return s.putEntry(b, clearMarker, tomb)
	})
}

// readAll loads every entry, tombstones included.
func (s *Store) readAll() (map[string]entry, error) {
	out := make(map[string]entry)
	err := s.view(func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // skip corrupt entries
			}
			out[string(k)] = e
			return nil
		})
	})
	return out, err
}

func (s *Store) Subscribe(_ context.Context, fn func(storage.Change)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	if s.watcher == nil {
		if err := s.startWatchLocked(); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrWatchUnavailable, err)
		}
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *Store) startWatchLocked() error {
	snap, err := s.readAll()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.snapshot = snap
	go s.watch(w)
	return nil
}

func (s *Store) watch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				s.refresh()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

// refresh reloads the file, diffs it against the previous snapshot and
// delivers the resulting changes.
func (s *Store) refresh() {
	cur, err := s.readAll()
	if err != nil {
		if !errors.Is(err, bbolt.ErrTimeout) {
			s.logger.Warn("reloading snapshot failed", "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.snapshot
	s.snapshot = cur
	subs := make([]func(storage.Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, c := range diff(prev, cur, s.source) {
		for _, fn := range subs {
			fn(c)
		}
	}
}

// diff lists the changes other writers made between two snapshots. A clear
// is reported once instead of once per removed key.
func diff(prev, cur map[string]entry, self string) []storage.Change {
	var changes []storage.Change

	clearSeq := uint64(0)
	if m, ok := cur[clearMarker]; ok && m.Seq != prev[clearMarker].Seq {
		clearSeq = m.Seq
		if m.Writer != self {
			changes = append(changes, storage.Change{Source: m.Writer})
		}
	}

	for k, e := range cur {
		if k == clearMarker {
			continue
		}
		old, existed := prev[k]
		if existed && old.Seq == e.Seq {
			continue
		}
		if e.Writer == self || (clearSeq != 0 && e.Seq == clearSeq) {
			continue
		}
		if e.Deleted && (!existed || old.Deleted) {
			continue
		}
		changes = append(changes, storage.Change{
			Key:     k,
			Value:   e.Value,
			Present: !e.Deleted,
			Source:  e.Writer,
		})
	}
	return changes
}

// Close stops the watcher. Later operations return storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.subs = nil
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
