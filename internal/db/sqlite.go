package db

import (
	"database/sql"

	"backend-teamrun/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

// ConnectLocal opens the device-side SQLite database used by the local
// store. WAL mode keeps point appends cheap while a sync flush reads.
func ConnectLocal(cfg config.Config) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", cfg.LocalDBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
