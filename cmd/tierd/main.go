// tierd moves files between storage sites according to how hot they are.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tierd",
		Short: "tierd - hotness driven multi-site file tiering",
		Long: `tierd scores every file by how hot it is, solves for the cheapest set of
sites that meets the latency target and migrates replicas in the background.

Examples:
  # Run the daemon
  tierd serve --config tierd.yaml

  # Ask a running daemon why a file sits where it does
  tierd explain --addr http://localhost:8080 --key logs/2025.tar`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExplainCmd())
	rootCmd.AddCommand(newTriggerCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "tierd %s\n", Version)
			_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}
