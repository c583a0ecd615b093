// Package postgres implements storage.Store backed by PostgreSQL.
//
// Values live in the session_kv table keyed by (namespace, key), so several
// independent deployments can share one database. Each write runs in a
// transaction that also calls pg_notify, and subscribers hold a dedicated
// connection that LISTENs on the change channel.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/sessionguard/internal/uuid"
	"github.com/jmcleod/sessionguard/storage"
)

// ChangeChannel is the LISTEN/NOTIFY channel carrying change notices.
const ChangeChannel = "sessionguard_changes"

// notice is the NOTIFY payload.
type notice struct {
	Namespace string `json:"ns"`
	storage.Change
}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	namespace string
	source    string
	logger    *slog.Logger
	ownsPool  bool

	mu      sync.Mutex
	closed  bool
	cancels map[uint64]context.CancelFunc
	nextID  uint64
	wg      sync.WaitGroup
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

// WithLogger sets the logger for listener errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a Store using pool, scoped to namespace.
func New(pool *pgxpool.Pool, namespace string, opts ...Option) *Store {
	s := &Store{
		pool:      pool,
		namespace: namespace,
		cancels:   make(map[uint64]context.CancelFunc),
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
	s.logger = s.logger.With("component", "storage.postgres", "namespace", namespace)
	return s
}

// NewFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a Store that closes the pool on Close.
func NewFromDSN(ctx context.Context, dsn, namespace string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	s := New(pool, namespace, opts...)
	s.ownsPool = true
	return s, nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Source() string {
	return s.source
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) notify(ctx context.Context, tx pgx.Tx, c storage.Change) error {
	c.Source = s.source
	payload, err := json.Marshal(notice{Namespace: s.namespace, Change: c})
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, string(payload))
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.isClosed() {
		return "", storage.ErrClosed
	}
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM session_kv WHERE namespace = $1 AND key = $2`,
		s.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO session_kv (namespace, key, value, writer, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (namespace, key)
			 DO UPDATE SET value = $3, writer = $4, updated_at = now()`,
			s.namespace, key, value, s.source)
		if err != nil {
			return err
		}
		return s.notify(ctx, tx, storage.Change{Key: key, Value: value, Present: true})
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM session_kv WHERE namespace = $1 AND key = $2`,
			s.namespace, key)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		return s.notify(ctx, tx, storage.Change{Key: key})
	})
}

func (s *Store) Clear(ctx context.Context) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM session_kv WHERE namespace = $1`, s.namespace); err != nil {
			return err
		}
		return s.notify(ctx, tx, storage.Change{})
	})
}

// Subscribe takes a connection out of the pool for the lifetime of the
// subscription and LISTENs on ChangeChannel.
func (s *Store) Subscribe(ctx context.Context, fn func(storage.Change)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, storage.ErrClosed
	}
	s.mu.Unlock()

	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrWatchUnavailable, err)
	}
	conn := pc.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("%w: %v", storage.ErrWatchUnavailable, err)
	}

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.cancels[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer conn.Close(context.Background()) //nolint:errcheck
		s.listen(lctx, conn, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		})
	}, nil
}

func (s *Store) listen(ctx context.Context, conn *pgx.Conn, fn func(storage.Change)) {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("listener stopped", "error", err)
			}
			return
		}
		var msg notice
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			s.logger.Warn("dropping malformed notice", "error", err)
			continue
		}
		if msg.Namespace != s.namespace || msg.Source == s.source {
			continue
		}
		fn(msg.Change)
	}
}

// Close ends every subscription, and closes the pool when the Store created
// it.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.mu.Unlock()

	s.wg.Wait()
	if s.ownsPool {
		s.pool.Close()
	}
}
