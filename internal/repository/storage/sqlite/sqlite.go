package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// import the SQLite driver to register it with the database/sql package.
	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	Connection *sql.DB
}

func New(path string) (*Storage, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	// sqlite allows a single writer; one connection also keeps ":memory:" databases shared.
	conn.SetMaxOpenConns(1)

	if err = conn.Ping(); err != nil {
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}

	return &Storage{Connection: conn}, nil
}

func (that *Storage) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			data       TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_entries (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id    TEXT    NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
			sender_id  TEXT    NOT NULL,
			sender_tag TEXT    NOT NULL,
			text       TEXT    NOT NULL,
			at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_entries_room ON chat_entries (room_id, seq)`,
		`CREATE TABLE IF NOT EXISTS chat_rate (
			room_id   TEXT    NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
			sender_id TEXT    NOT NULL,
			last_at   INTEGER NOT NULL,
			PRIMARY KEY (room_id, sender_id)
		)`,
	}

	for _, query := range queries {
		if _, err := that.Connection.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("can't create table: %w", err)
		}
	}

	return nil
}

func (that *Storage) Close() error {
	if err := that.Connection.Close(); err != nil {
		return fmt.Errorf("can't close database: %w", err)
	}

	return nil
}
