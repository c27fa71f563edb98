package database

import (
	"database/sql"
)

type SQLChatRepository struct {
	conn *sql.DB
}

func NewPgChatRepository(dsn string) (*SQLChatRepository, error) {
	db, err := openSQL(DriverPostgres, dsn)
	if err != nil {
		return nil, err
	}

	return &SQLChatRepository{conn: db}, nil
}

func NewSqliteChatRepository(dsn string) (*SQLChatRepository, error) {
	db, err := openSQL(DriverSqlite, dsn)
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer; serialize access through one connection
	// instead of surfacing "database is locked" errors.
	db.SetMaxOpenConns(1)

	return &SQLChatRepository{conn: db}, nil
}

func (db *SQLChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *SQLChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
