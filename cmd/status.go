package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/internal/snapshot"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the board last shared through Redis",
	Long:  "Read the snapshot a running 'deploydash watch' stored in Redis and print it once",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("redis-url")
		if url == "" {
			url = cfg.Redis.URL
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		pub, err := snapshot.Dial(ctx, url, snapshot.Config{Key: cfg.Redis.Key, Channel: cfg.Redis.Channel})
		if err != nil {
			return err
		}
		defer pub.Close()

		snap, err := pub.Latest(ctx)
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			return fmt.Errorf("no board shared at %s, is 'deploydash watch' running with redis enabled?", url)
		}
		if err != nil {
			return err
		}
		return newOutput(cmd.OutOrStdout(), asJSON, false).Render(ctx, *snap)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("redis-url", "", "Redis URL (default from config)")
	statusCmd.Flags().Bool("json", false, "print the snapshot as JSON")
}
