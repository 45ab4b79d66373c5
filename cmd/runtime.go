package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/common/messaging/mqtt"
	"github.com/telhawk-systems/deploydash/common/messaging/nats"
	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/config"
	"github.com/telhawk-systems/deploydash/internal/connection"
	"github.com/telhawk-systems/deploydash/internal/credentials"
	"github.com/telhawk-systems/deploydash/internal/dispatch"
)

// newTransport builds the transport named by broker.transport.
func newTransport(bc config.BrokerConfig) (messaging.Transport, error) {
	switch bc.Transport {
	case config.TransportMQTT:
		return mqtt.New(mqtt.Config{
			URL:            bc.URL,
			Port:           bc.Port,
			ClientIDPrefix: bc.ClientIDPrefix,
			ConnectTimeout: bc.ConnectTimeout(),
		}), nil
	case config.TransportNATS:
		return nats.NewClient(nats.Config{
			URL:     bc.URL,
			Name:    bc.ClientIDPrefix,
			Timeout: bc.ConnectTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", bc.Transport)
	}
}

func credentialStore() (*credentials.Store, error) {
	return credentials.NewStore(cfg.Credentials.Path)
}

// addCredentialFlags registers the broker login flags on c.
func addCredentialFlags(c *cobra.Command) {
	c.Flags().String("host", "", "broker host (default from config or saved credentials)")
	c.Flags().StringP("username", "u", "", "broker username")
	c.Flags().StringP("password", "p", "", "broker password")
}

// flagCredentials returns the credentials given on the command line and
// whether any login flag was set.
func flagCredentials(c *cobra.Command) (messaging.Credentials, bool) {
	host, _ := c.Flags().GetString("host")
	username, _ := c.Flags().GetString("username")
	password, _ := c.Flags().GetString("password")
	given := c.Flags().Changed("host") || c.Flags().Changed("username") || c.Flags().Changed("password")
	if host == "" {
		host = cfg.Broker.Host
	}
	return messaging.Credentials{Host: host, Username: username, Password: password}, given
}

// resolveCredentials prefers command line flags and falls back to the
// saved credentials file.
func resolveCredentials(c *cobra.Command, store *credentials.Store) (messaging.Credentials, error) {
	creds, given := flagCredentials(c)
	if given {
		return creds, creds.Validate()
	}

	saved, err := store.Load()
	if errors.Is(err, credentials.ErrNotFound) {
		if creds.Host != "" {
			return creds, nil
		}
		return messaging.Credentials{}, fmt.Errorf("no saved credentials, run 'deploydash login' first")
	}
	if err != nil {
		return messaging.Credentials{}, err
	}
	return saved.Credentials(), nil
}

// newSession wires a board and a controller sharing one transport.
func newSession() (*board.Board, *connection.Controller, error) {
	transport, err := newTransport(cfg.Broker)
	if err != nil {
		return nil, nil, err
	}

	var b *board.Board
	ctrl := connection.New(connection.Options{
		Transport:     transport,
		Subscriptions: func() []dispatch.Subscription { return b.Subscriptions() },
		RetryDelay:    cfg.Broker.RetryDelay(),
	})
	b = board.New(board.Options{
		Publisher:        ctrl,
		RenderDelay:      cfg.Board.RenderDelay(),
		RefreshCooldown:  cfg.Board.RefreshCooldown(),
		TickInterval:     cfg.Board.TickInterval(),
		Filter:           cfg.Board.Filter,
		ConnectionStatus: ctrl.StatusText,
	})
	return b, ctrl, nil
}

// awaitConnected connects and blocks until the controller reaches
// Connected, ctx ends or timeout elapses. The first connect failure is
// returned instead of waiting for a retry.
func awaitConnected(ctx context.Context, ctrl *connection.Controller, creds messaging.Credentials, timeout time.Duration) error {
	outcome := make(chan error, 1)
	ctrl.OnStateChange(func(change connection.StateChange) {
		var err error
		switch change.To {
		case connection.Connected:
		case connection.Failed:
			err = change.Err
			if err == nil {
				err = errors.New(change.Status)
			}
		default:
			return
		}
		select {
		case outcome <- err:
		default:
		}
	})

	if err := ctrl.Connect(creds); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case err := <-outcome:
		return err
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", creds, ctx.Err())
	}
}
