package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/deploydash/internal/board"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the board version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "deploydash %s\n", board.DefaultVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
