package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/sessionguard/storage"
	bboltstore "github.com/jmcleod/sessionguard/storage/bbolt"
	"github.com/jmcleod/sessionguard/storage/memory"
	pgstore "github.com/jmcleod/sessionguard/storage/postgres"
	redisstore "github.com/jmcleod/sessionguard/storage/redis"
)

// openStore opens a handle on the configured backend. The returned func
// releases it.
func openStore(ctx context.Context) (storage.Store, func(), error) {
	sc := cfg.Store
	switch sc.Backend {
	case "memory":
		return memory.NewHub().Open(), func() {}, nil

	case "bbolt":
		if err := os.MkdirAll(filepath.Dir(sc.BBoltPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		opts := []bboltstore.Option{
			bboltstore.WithLockTimeout(sc.BBoltLockTimeout),
			bboltstore.WithLogger(logger),
		}
		if sc.Source != "" {
			opts = append(opts, bboltstore.WithSource(sc.Source))
		}
		s, err := bboltstore.Open(sc.BBoltPath, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	case "redis":
		rc := cfg.RedisConfig()
		client, err := redisstore.Connect(ctx, rc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts := []redisstore.Option{redisstore.WithLogger(logger)}
		if sc.Source != "" {
			opts = append(opts, redisstore.WithSource(sc.Source))
		}
		s := redisstore.New(client, rc.KeyPrefix, opts...)
		return s, func() {
			_ = s.Close()
			_ = client.Close()
		}, nil

	case "postgres":
		opts := []pgstore.Option{pgstore.WithLogger(logger)}
		if sc.Source != "" {
			opts = append(opts, pgstore.WithSource(sc.Source))
		}
		s, err := pgstore.NewFromDSN(ctx, sc.PostgresDSN, sc.Namespace, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported backend %q", sc.Backend)
}
