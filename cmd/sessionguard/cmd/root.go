package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	configPath string
	envFile    string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sessionguard",
	Short: "SessionGuard enforces session inactivity across instances",
	Long: `Logs a user out after a period of inactivity, with a countdown warning,
and keeps every instance sharing a store in step.
Complete documentation is available at https://github.com/jmcleod/sessionguard`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, &loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	f.StringVar(&envFile, "env-file", ".env", "Path to a .env file")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.String("log-format", "", "Log format (text, json)")
	f.String("backend", "", "Store backend ("+strings.Join(config.Backends, ", ")+")")
	f.String("namespace", "", "Store namespace shared by cooperating instances")
	f.String("bbolt-path", "", "Path to the shared bbolt file")
	f.String("redis-url", "", "Redis connection URL")
	f.String("postgres-dsn", "", "PostgreSQL connection string")
	f.String("token-key", "", "Credential key to watch; empty disables")
}

// applyFlags overlays explicitly set flags on the loaded config.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	set := func(name string, dst *string) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	set("log-level", &c.Log.Level)
	set("log-format", &c.Log.Format)
	set("backend", &c.Store.Backend)
	set("namespace", &c.Store.Namespace)
	set("bbolt-path", &c.Store.BBoltPath)
	set("redis-url", &c.Store.RedisURL)
	set("postgres-dsn", &c.Store.PostgresDSN)
	set("token-key", &c.Session.TokenKey)
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", lc.Level)
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
