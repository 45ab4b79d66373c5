package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/connection"
	"github.com/telhawk-systems/deploydash/internal/credentials"
	"github.com/telhawk-systems/deploydash/internal/render"
	"github.com/telhawk-systems/deploydash/internal/server"
	"github.com/telhawk-systems/deploydash/internal/snapshot"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the live status board",
	Long: `Connect to the message bus and redraw the board whenever build or
deployment status changes.

Saved credentials are used unless --host, --username or --password is
given. A successful connection with flags saves them for next time.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addCredentialFlags(watchCmd)
	watchCmd.Flags().String("filter", "", "only show jobs whose name contains this text")
	watchCmd.Flags().Bool("json", false, "write one JSON snapshot per line instead of drawing a table")
	watchCmd.Flags().Bool("no-clear", false, "do not clear the screen between frames")
	watchCmd.Flags().Bool("serve", false, "serve the board over HTTP (overrides server.enabled)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Component("watch")

	store, err := credentialStore()
	if err != nil {
		return err
	}

	b, ctrl, err := newSession()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("filter") {
		filter, _ := cmd.Flags().GetString("filter")
		b.SetFilter(filter)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	noClear, _ := cmd.Flags().GetBool("no-clear")
	b.AddRenderer("terminal", newOutput(cmd.OutOrStdout(), asJSON, !noClear))

	if cfg.Redis.Enabled {
		pub, err := snapshot.Dial(ctx, cfg.Redis.URL, snapshot.Config{
			Key:     cfg.Redis.Key,
			Channel: cfg.Redis.Channel,
			TTL:     cfg.Redis.TTL(),
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		b.AddRenderer("redis", pub)
	}

	creds, fromFlags, autoConnect, err := watchCredentials(cmd, store)
	if err != nil {
		return err
	}

	ctrl.OnStateChange(func(change connection.StateChange) {
		rememberOutcome(logger, store, change, creds, fromFlags)
		b.ScheduleRender()
	})

	if autoConnect {
		if err := ctrl.Connect(creds); err != nil {
			return err
		}
	} else {
		logger.Warn("Not connecting automatically, run 'deploydash login' or pass --host")
	}
	defer ctrl.Disconnect()

	b.ScheduleRender()

	serve, _ := cmd.Flags().GetBool("serve")
	errc := make(chan error, 2)
	running := 1
	go func() { errc <- b.Run(ctx) }()

	if serve || cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:           cfg.Server.Port,
			ReadTimeout:    cfg.Server.ReadTimeout(),
			WriteTimeout:   cfg.Server.WriteTimeout(),
			IdleTimeout:    cfg.Server.IdleTimeout(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, b, ctrl.StatusText, nil)
		running++
		go func() { errc <- srv.ListenAndServe(ctx) }()
	}

	var runErr error
	for ; running > 0; running-- {
		if err := <-errc; err != nil && runErr == nil {
			runErr = err
			stop()
		}
	}
	return runErr
}

func newOutput(w io.Writer, asJSON, clear bool) board.Renderer {
	if asJSON {
		return render.NewJSONLines(w)
	}
	return render.NewTerminal(w, clear)
}

// watchCredentials decides which credentials watch uses and whether it
// connects on start. Flags always connect; saved credentials connect only
// while their auto-connect flag is set.
func watchCredentials(cmd *cobra.Command, store *credentials.Store) (messaging.Credentials, bool, bool, error) {
	creds, given := flagCredentials(cmd)
	if given {
		return creds, true, true, creds.Validate()
	}

	saved, err := store.Load()
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		return creds, false, creds.Host != "", nil
	case err != nil:
		return messaging.Credentials{}, false, false, err
	}
	return saved.Credentials(), false, saved.AutoConnect, nil
}

// rememberOutcome keeps the credentials file in step with connection
// results: a connect enables auto-connect, a failed first attempt clears it.
func rememberOutcome(logger *slog.Logger, store *credentials.Store, change connection.StateChange, creds messaging.Credentials, save bool) {
	var err error
	switch {
	case change.To == connection.Connected:
		if save {
			if err = store.SaveCredentials(creds); err != nil {
				break
			}
		}
		err = store.SetAutoConnect(true)
	case change.To == connection.Failed && change.From == connection.Connecting:
		err = store.SetAutoConnect(false)
	}
	if err != nil {
		logger.Warn("failed to update saved credentials", logging.Error(err))
	}
}
