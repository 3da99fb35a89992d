package commands

import (
	"database/sql"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/db"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/logger"
)

// openDatabase opens and migrates the database at dbPath, falling back to the
// configured path when dbPath is empty.
func openDatabase(dbPath string, cfg *am.Config) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
