// Package config loads the sessionguard binary's settings.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// SESSIONGUARD_* environment variables (a .env file is read into the
// environment first), then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jmcleod/sessionguard/session"
	"github.com/jmcleod/sessionguard/storage/redis"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SESSIONGUARD_"

// Backends lists the supported store backends.
var Backends = []string{"memory", "bbolt", "redis", "postgres"}

// ErrUnknownBackend is returned for a backend not in Backends.
var ErrUnknownBackend = errors.New("unknown store backend")

// Config is the complete binary configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Session SessionConfig `toml:"session"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

type ServerConfig struct {
	Addr      string `toml:"addr" env:"ADDR"`
	TLSCert   string `toml:"tls_cert" env:"TLS_CERT"`
	TLSKey    string `toml:"tls_key" env:"TLS_KEY"`
	AutoLogin bool   `toml:"auto_login" env:"AUTO_LOGIN"`
}

type StoreConfig struct {
	Backend   string `toml:"backend" env:"BACKEND"`
	Namespace string `toml:"namespace" env:"NAMESPACE"`
	// Source pins the instance id stamped on writes. Empty picks a random one.
	Source string `toml:"source" env:"SOURCE"`

	BBoltPath        string        `toml:"bbolt_path" env:"BBOLT_PATH"`
	BBoltLockTimeout time.Duration `toml:"bbolt_lock_timeout" env:"BBOLT_LOCK_TIMEOUT"`

	PostgresDSN string `toml:"postgres_dsn" env:"POSTGRES_DSN"`

	RedisURL            string        `toml:"redis_url" env:"REDIS_URL"`
	RedisRetryAttempts  int           `toml:"redis_retry_attempts" env:"REDIS_RETRY_ATTEMPTS"`
	RedisRetryInterval  time.Duration `toml:"redis_retry_interval" env:"REDIS_RETRY_INTERVAL"`
	RedisConnectTimeout time.Duration `toml:"redis_connect_timeout" env:"REDIS_CONNECT_TIMEOUT"`
}

type SessionConfig struct {
	InactivityTimeout time.Duration `toml:"inactivity_timeout" env:"INACTIVITY_TIMEOUT"`
	ModalTimeout      time.Duration `toml:"modal_timeout" env:"MODAL_TIMEOUT"`
	TokenKey          string        `toml:"token_key" env:"TOKEN_KEY"`
	TokenDebounce     time.Duration `toml:"token_debounce" env:"TOKEN_DEBOUNCE"`
	ActivityThrottle  time.Duration `toml:"activity_throttle" env:"ACTIVITY_THROTTLE"`
	AttentionAlert    bool          `toml:"attention_alert" env:"ATTENTION_ALERT"`
	AttentionText     string        `toml:"attention_text" env:"ATTENTION_TEXT"`
	Title             string        `toml:"title" env:"TITLE"`
	Message           string        `toml:"message" env:"MESSAGE"`
	TimerMessage      string        `toml:"timer_message" env:"TIMER_MESSAGE"`
	LogoutText        string        `toml:"logout_text" env:"LOGOUT_TEXT"`
	ContinueText      string        `toml:"continue_text" env:"CONTINUE_TEXT"`
	Debug             bool          `toml:"debug" env:"DEBUG"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := session.DefaultConfig()
	r := redis.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Backend:             "memory",
			Namespace:           "default",
			BBoltPath:           "./data/session.db",
			BBoltLockTimeout:    time.Second,
			RedisURL:            r.ConnectionURL,
			RedisRetryAttempts:  r.RetryAttempts,
			RedisRetryInterval:  r.RetryInterval,
			RedisConnectTimeout: r.ConnectTimeout,
		},
		Session: SessionConfig{
			InactivityTimeout: 15 * time.Minute,
			ModalTimeout:      time.Minute,
			TokenKey:          "token",
			TokenDebounce:     s.TokenChangeDebounce,
			ActivityThrottle:  s.ActivityThrottle,
			AttentionAlert:    s.ShowAttentionAlert,
			AttentionText:     s.AttentionAlertText,
			Title:             s.Title,
			Message:           s.Message,
			TimerMessage:      s.TimerMessage,
			LogoutText:        s.LogoutButtonText,
			ContinueText:      s.ContinueButtonText,
		},
	}
}

// Load layers the TOML file at path (optional) and the environment over
// the defaults. dotenv names a .env file to read first; a missing file is
// not an error.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("reading %s: %w", dotenv, err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the backend name and the session timing.
func (c Config) Validate() error {
	known := false
	for _, b := range Backends {
		if c.Store.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Store.Backend)
	}
	return c.SessionConfig().Validate()
}

// SessionConfig converts the session section for session.New.
func (c Config) SessionConfig() session.Config {
	s := c.Session
	return session.Config{
		InactivityTimeout:      s.InactivityTimeout,
		ModalInactivityTimeout: s.ModalTimeout,
		StorageTokenKey:        s.TokenKey,
		TokenChangeDebounce:    s.TokenDebounce,
		ActivityThrottle:       s.ActivityThrottle,
		ShowAttentionAlert:     s.AttentionAlert,
		AttentionAlertText:     s.AttentionText,
		Title:                  s.Title,
		Message:                s.Message,
		TimerMessage:           s.TimerMessage,
		LogoutButtonText:       s.LogoutText,
		ContinueButtonText:     s.ContinueText,
		Debug:                  s.Debug,
	}
}

// RedisConfig converts the store section for redis.Connect.
func (c Config) RedisConfig() redis.Config {
	return redis.Config{
		ConnectionURL:  c.Store.RedisURL,
		KeyPrefix:      "sessionguard:" + c.Store.Namespace + ":",
		RetryAttempts:  c.Store.RedisRetryAttempts,
		RetryInterval:  c.Store.RedisRetryInterval,
		ConnectTimeout: c.Store.RedisConnectTimeout,
	}
}
