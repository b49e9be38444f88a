package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev" // set with -ldflags "-X github.com/john/orchid/internal/cli.version=..."

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of orchid",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "orchid %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
