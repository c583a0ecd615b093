package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/api"
	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/session"
	"github.com/jmcleod/sessionguard/web"
)

var (
	serveAddr     string
	serveTerminal bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one guarded session behind an HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()

		store, release, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		loop := eventloop.New(eventloop.WithLogger(logger))
		loopDone := make(chan struct{})
		go func() {
			defer close(loopDone)
			_ = loop.Run(ctx)
		}()

		var sessionOpts []session.Option
		if serveTerminal {
			sessionOpts = append(sessionOpts,
				session.WithAttention(newTitleAttention(os.Stdout, "sessionguard")),
				session.WithRenderer(newTerminalRenderer(os.Stdout)),
			)
		}

		a := api.New(loop, store, cfg.SessionConfig(),
			api.WithLogger(logger),
			api.WithAutoLogin(cfg.Server.AutoLogin),
			api.WithSessionOptions(sessionOpts...),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("alert", "type", e.Type, "message", e.Message, "count", e.Count)
			}),
		)
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", a.Health)
		r.Mount("/api/v1", a.Router())

		webHandler, err := web.Handler("/api/v1")
		if err != nil {
			return err
		}
		r.Handle("/*", webHandler)

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		useTLS := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Listening on %s (backend: %s, namespace: %s)...\n",
			cfg.Server.Addr, cfg.Store.Backend, cfg.Store.Namespace)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		var runErr error
		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
		case runErr = <-done:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := a.Close(shutdownCtx); err != nil && !errors.Is(err, eventloop.ErrLoopClosed) {
			logger.Warn("closing session", "error", err)
		}
		stop()
		<-loopDone
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8080", "Address to listen on")
	serveCmd.Flags().BoolVar(&serveTerminal, "terminal", false, "Show the warning and flash the window title on this terminal")
}
