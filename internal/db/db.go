package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=1", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_name TEXT NOT NULL,
			stored_path TEXT NOT NULL UNIQUE,
			page_count INTEGER NOT NULL DEFAULT 0,
			uploaded_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER,
			document_name TEXT NOT NULL,
			duration_days INTEGER NOT NULL,
			teacher_prompt TEXT NOT NULL DEFAULT '',
			start_date TEXT NOT NULL,
			plan_count INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			openai_file_id TEXT NOT NULL DEFAULT '',
			openai_assistant_id TEXT NOT NULL DEFAULT '',
			openai_thread_id TEXT NOT NULL DEFAULT '',
			openai_run_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE SET NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_generations_document ON generations(document_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}

	return nil
}
