package repository

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Open connects to the configured database. The caller is responsible for
// importing the matching driver. For SQLite the parent directory is created
// and foreign keys are switched on, since cascade deletes depend on them.
func Open(driver, dsn string) (*sqlx.DB, error) {
	if driver == "sqlite3" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "create database directory %s", dir)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on"
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if driver == "sqlite3" {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		// under the concurrent polling load.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
