package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/errors"
)

// DbCmd manages the gateway's database.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the gateway's database",
	Long: `db — Inspect the gateway's database

Examples:
  gatewayd db stats    # Show cron/transfer/pending-op counts`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display row counts for the cron, transfer, and pending-op tables the gateway owns.",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	counts := []struct {
		label string
		query string
	}{
		{"Cron jobs", "SELECT COUNT(*) FROM cron_jobs"},
		{"Heartbeats", "SELECT COUNT(*) FROM heartbeat_state"},
		{"Transfers", "SELECT COUNT(*) FROM transfers"},
		{"Pending ops", "SELECT COUNT(*) FROM pending_ops"},
		{"KV store keys", "SELECT COUNT(*) FROM kv_store"},
		{"Async-exec sess", "SELECT COUNT(*) FROM pending_async_exec_sessions"},
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n\n", cfg.Database.Path)

	for _, c := range counts {
		var n int
		if err := database.QueryRow(c.query).Scan(&n); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to query %s: %w", c.label, err)
		}
		fmt.Printf("%-16s %d\n", c.label+":", n)
	}

	return nil
}
