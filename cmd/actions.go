package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/render"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the status checker to check all services now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, (*board.Board).RequestRefresh, "Refresh requested")
	},
}

var boostCmd = &cobra.Command{
	Use:   "boost",
	Short: "Switch the status checker to its fastest refresh rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := oneShot(cmd, (*board.Board).Boost, "Boost requested")
		if errors.Is(err, board.ErrAlreadyFastest) {
			render.Info("Already refreshing at the fastest rate")
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(boostCmd)

	addCredentialFlags(refreshCmd)
	addCredentialFlags(boostCmd)
}

// oneShot connects, runs action against a fresh board and disconnects.
func oneShot(cmd *cobra.Command, action func(*board.Board) error, done string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	creds, err := resolveCredentials(cmd, store)
	if err != nil {
		return err
	}

	b, ctrl, err := newSession()
	if err != nil {
		return err
	}
	defer ctrl.Disconnect()

	if err := awaitConnected(context.Background(), ctrl, creds, cfg.Broker.ConnectTimeout()+loginGrace); err != nil {
		return err
	}
	if err := action(b); err != nil {
		return err
	}

	render.Success("%s", done)
	return nil
}
