// Package redis provides a storage.Store on Redis, for instances that run on
// different hosts.
//
// Values live under KeyPrefix+key. Every write also publishes an encoded
// storage.Change on KeyPrefix+"changes", and subscribers drop the messages
// their own handle published.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/sessionguard/internal/uuid"
	"github.com/jmcleod/sessionguard/storage"
)

const scanBatch = 100

// Store implements storage.Store on a Redis client.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	source  string
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*redis.PubSub]struct{}
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

// WithLogger sets the logger for subscription errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a handle using client, with keys under prefix.
func New(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  prefix,
		channel: prefix + "changes",
		subs:    make(map[*redis.PubSub]struct{}),
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
	s.logger = s.logger.With("component", "storage.redis")
	return s
}

func (s *Store) Source() string {
	return s.source
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) publish(ctx context.Context, pipe redis.Cmdable, c storage.Change) error {
	c.Source = s.source
	payload, err := storage.EncodeChange(c)
	if err != nil {
		return err
	}
	return pipe.Publish(ctx, s.channel, payload).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.isClosed() {
		return "", storage.ErrClosed
	}
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.prefix+key, value, 0)
		return s.publish(ctx, pipe, storage.Change{Key: key, Value: value, Present: true})
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, s.client, storage.Change{Key: key})
}

func (s *Store) Clear(ctx context.Context) error {
	if s.isClosed() {
		return storage.ErrClosed
	}
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return s.publish(ctx, pipe, storage.Change{})
	})
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, fn func(storage.Change)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, storage.ErrClosed
	}
	s.mu.Unlock()

	ps := s.client.Subscribe(context.WithoutCancel(ctx), s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrWatchUnavailable, err)
	}

	s.mu.Lock()
	s.subs[ps] = struct{}{}
	s.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			c, err := storage.DecodeChange(msg.Payload)
			if err != nil {
				s.logger.Warn("dropping malformed change", "error", err)
				continue
			}
			if c.Source == s.source {
				continue
			}
			fn(c)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ps)
			s.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

// Close ends every subscription. The client is owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for ps := range s.subs {
		errs = append(errs, ps.Close())
	}
	s.subs = nil
	return errors.Join(errs...)
}
