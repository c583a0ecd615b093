package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/session"
	"github.com/jmcleod/sessionguard/storage"
)

var watchChanges bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report logins seen on the shared store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, release, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		if watchChanges {
			unsub, err := store.Subscribe(ctx, printChange)
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}
			defer unsub()
		}

		fmt.Fprintf(os.Stderr, "Watching %q on %s (namespace %s), Ctrl-C to stop\n",
			cfg.Session.TokenKey, cfg.Store.Backend, cfg.Store.Namespace)
		return watchLogins(ctx, store, cmd.OutOrStdout())
	},
}

// watchLogins prints a line to out for every login seen on store until ctx
// ends. The watcher is stopped on its loop before the loop shuts down.
func watchLogins(ctx context.Context, store storage.Store, out io.Writer) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loop := eventloop.New(eventloop.WithLogger(logger))
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	w, err := session.NewLoginWatcher(cfg.SessionConfig(), store, loop, func() {
		fmt.Fprintf(out, "%s login detected (%s)\n", loop.Now().Format(time.RFC3339), cfg.Session.TokenKey)
	}, session.WithLoginLogger(logger))
	if err != nil {
		return err
	}

	var startErr error
	if err := loop.Do(ctx, func() { startErr = w.Start() }); err != nil {
		return err
	}
	if startErr != nil {
		return fmt.Errorf("failed to start watcher: %w", startErr)
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := loop.Do(stopCtx, w.Stop); err != nil && !errors.Is(err, eventloop.ErrLoopClosed) {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}
	return nil
}

func printChange(c storage.Change) {
	switch {
	case c.Cleared():
		fmt.Printf("cleared by %s\n", c.Source)
	case c.Present:
		fmt.Printf("set %s=%q by %s\n", c.Key, c.Value, c.Source)
	default:
		fmt.Printf("deleted %s by %s\n", c.Key, c.Source)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchChanges, "changes", false, "Also print every change made by other instances")
}
