package commands

import (
	"database/sql"
	"fmt"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/db"
	"github.com/meshgate/gateway/logger"
)

// openDatabase opens and migrates the gateway's database. If dbPath is
// empty it resolves the path from am config, falling back to gateway.db.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("failed to get database path: %w", err)
		}
		if path == "" {
			dbPath = "gateway.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}
