package redis

import "time"

// Config holds the connection settings for the Redis backend.
type Config struct {
	ConnectionURL  string        // ConnectionURL in the form "redis://:password@localhost:6379/0".
	KeyPrefix      string        // KeyPrefix namespaces keys and the change channel.
	RetryAttempts  int           // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration // RetryInterval is the wait between attempts.
	ConnectTimeout time.Duration // ConnectTimeout bounds the whole connect loop.
}

// DefaultConfig returns a Config for a local Redis.
func DefaultConfig() Config {
	return Config{
		ConnectionURL:  "redis://localhost:6379/0",
		KeyPrefix:      "sessionguard:",
		RetryAttempts:  3,
		RetryInterval:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}
