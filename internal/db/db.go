package db

import (
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DefaultDSN keeps decks in a shared in-memory database that lives as long as
// the process.
const DefaultDSN = "file::memory:?cache=shared"

// Open connects to the SQLite database at dsn and runs schema migrations. A
// plain file path is accepted as well as a file: URI.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}

	// One connection keeps an in-memory database alive and serializes writers.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "migrate schema")
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			deck TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			level INTEGER NOT NULL CHECK(level BETWEEN 1 AND 5),
			correct_count INTEGER NOT NULL DEFAULT 0,
			incorrect_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]',
			source_document TEXT NOT NULL DEFAULT '',
			last_reviewed DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return eris.Wrapf(err, "execute %q", stmt)
		}
	}
	return nil
}
