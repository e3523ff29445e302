package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/errors"
	"github.com/meshgate/gateway/server"
)

// ServerCmd starts the gateway.
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the WebSocket gateway",
	Long:    `Start the gateway's WebSocket hub, RPC dispatcher, and background cron/async-exec services.`,
	RunE:    runServer,
}

var serverDBPath string

func init() {
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	serverPort := am.GetServerPort()

	dbPath := serverDBPath
	database, err := openDatabase(dbPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if dbPath == "" {
		if resolvedPath, err := am.GetDatabasePath(); err == nil && resolvedPath != "" {
			dbPath = resolvedPath
		} else {
			dbPath = "gateway.db"
		}
	}

	printStartupBanner(verbosity, dbPath)

	gw, err := server.NewGateway(database, dbPath, verbosity)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	server.SetDefaultGateway(gw)

	errChan := make(chan error, 1)
	go func() {
		errChan <- gw.Start(serverPort)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "gateway failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- gw.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Gateway stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
