package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshgate/gateway/cmd/gatewayd/commands"
	"github.com/meshgate/gateway/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "WebSocket gateway multiplexer",
	Long: `gatewayd - a single-process WebSocket hub that multiplexes client,
node and channel-adapter connections over one JSON-framed RPC protocol,
with a built-in cron/heartbeat scheduler and async-exec completion
pipeline.

Available commands:
  server - Start the gateway
  db     - Inspect the gateway's database
  version - Show build information

Examples:
  gatewayd server                # Start the gateway on the configured port
  gatewayd db stats              # Show cron/transfer/pending-op counts`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
