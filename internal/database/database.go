package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
	DriverMemory   = "memory"
)

// Open returns the repository for driver. The sql drivers ping the
// database before returning.
func Open(driver, dsn string) (ChatRepository, error) {
	switch driver {
	case DriverPostgres:
		return NewPgChatRepository(dsn)
	case DriverSqlite:
		return NewSqliteChatRepository(dsn)
	case DriverMemory:
		return NewMemoryChatRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func openSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
