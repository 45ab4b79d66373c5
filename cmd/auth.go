package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/internal/credentials"
	"github.com/telhawk-systems/deploydash/internal/render"
)

// loginGrace is added to the transport connect timeout while waiting for
// the first connection outcome.
const loginGrace = 2 * time.Second

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the message bus",
	Long:  "Connect once with the given credentials and save them for watch, refresh and boost",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, _ := flagCredentials(cmd)
		if err := creds.Validate(); err != nil {
			return err
		}

		store, err := credentialStore()
		if err != nil {
			return err
		}

		_, ctrl, err := newSession()
		if err != nil {
			return err
		}
		defer ctrl.Disconnect()

		if err := awaitConnected(context.Background(), ctrl, creds, cfg.Broker.ConnectTimeout()+loginGrace); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		if err := store.SaveCredentials(creds); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		if err := store.SetAutoConnect(true); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		render.Success("Logged in to %s", creds)
		render.Info("Credentials saved to %s", store.Path())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget saved credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentialStore()
		if err != nil {
			return err
		}

		if err := store.Remove(); err != nil {
			if errors.Is(err, credentials.ErrNotFound) {
				render.Info("No saved credentials")
				return nil
			}
			return err
		}

		render.Success("Removed %s", store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	addCredentialFlags(loginCmd)
}
