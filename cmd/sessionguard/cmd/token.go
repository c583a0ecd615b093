package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/session"
	"github.com/jmcleod/sessionguard/storage"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or change the watched credential",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if cfg.Session.TokenKey == "" {
			return errors.New("no token key configured")
		}
		return nil
	},
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <value>",
	Short: "Store a credential, logging in every watching instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, release, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		return store.Set(cmd.Context(), cfg.Session.TokenKey, args[0])
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the credential, logging out every guarded session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, release, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		return store.Delete(cmd.Context(), cfg.Session.TokenKey)
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the credential, the last activity time and the last logout cause",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, release, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		for _, key := range []string{cfg.Session.TokenKey, session.LastActivityKey, session.LogoutCauseKey} {
			v, err := store.Get(ctx, key)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				fmt.Printf("%s: <unset>\n", key)
			case err != nil:
				return fmt.Errorf("reading %s: %w", key, err)
			default:
				fmt.Printf("%s: %s\n", key, v)
			}
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the shared store, logging out every guarded session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, release, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		return store.Clear(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(clearCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenClearCmd)
	tokenCmd.AddCommand(tokenShowCmd)
}
