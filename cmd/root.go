package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "deploydash",
	Short: "Build and deployment status board",
	Long: `deploydash watches build and deployment status published on a message bus
and renders it as a live board in the terminal.

It can also share the board over HTTP and Redis, and ask the status
checker to refresh or speed up.`,
	Version:       board.DefaultVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or $HOME/.deploydash/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override: debug, info, warn, error")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if override, _ := rootCmd.PersistentFlags().GetString("log-level"); override != "" {
		level = override
	}
	logging.SetDefault(logging.New(logging.ParseLevel(level), cfg.Logging.Format).With(logging.Service("deploydash")))
}
