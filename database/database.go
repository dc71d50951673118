package database

import (
	"fmt"
	"strings"

	"ecoscope/logging"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const historyTable = "analysis_history"

// The schema sticks to types both sqlite and postgres accept. go-sqlite3 maps the
// declared TIMESTAMP and BOOLEAN types back to time.Time and bool on scan.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS analysis_history (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	impact_level TEXT NOT NULL DEFAULT '',
	affected_area DOUBLE PRECISION NOT NULL DEFAULT 0,
	change_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	payload TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON analysis_history(created_at);
CREATE INDEX IF NOT EXISTS idx_history_source ON analysis_history(source);`

// Columns added after the first release. Older history databases are upgraded in place.
var addedColumns = []struct {
	name, definition string
}{
	{"area_type", "TEXT NOT NULL DEFAULT ''"},
	{"captured_at", "TIMESTAMP"},
	{"source_modified_at", "TIMESTAMP"},
}

// InitDatabase opens the history database and makes sure its schema is current.
// driver is "sqlite3" or "postgres".
func InitDatabase(driver, dsn string) (*sqlx.DB, error) {
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer; an in-memory database also exists only on its own connection
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach %s database: %w", driver, err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create history schema: %w", err)
	}

	for _, col := range addedColumns {
		exists, err := columnExists(db, historyTable, col.name)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("error checking for %s column: %w", col.name, err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", historyTable, col.name, col.definition)); err != nil {
			db.Close()
			return nil, fmt.Errorf("error adding %s column: %w", col.name, err)
		}
		logging.DebugLog("Added '%s' column to existing history schema", col.name)
	}

	return db, nil
}

func columnExists(db *sqlx.DB, table, column string) (bool, error) {
	var count int
	var err error
	switch db.DriverName() {
	case "postgres":
		err = db.Get(&count,
			"SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2",
			table, column)
	default:
		err = db.Get(&count,
			fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?", table), column)
	}
	return count > 0, err
}

// IsMemoryDSN reports whether dsn names a transient sqlite database.
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
