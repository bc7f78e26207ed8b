package vectorstore

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			url        TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL DEFAULT '',
			version    INTEGER NOT NULL DEFAULT 0,
			metadata   TEXT NOT NULL DEFAULT '{}',
			embedding  BLOB,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS documents_source ON documents(source);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			title, content, content=documents, content_rowid=rowid
		);

		CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES ('delete', old.rowid, old.title, old.content);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES ('delete', old.rowid, old.title, old.content);
			INSERT INTO documents_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END;
	`
	_, err := db.Exec(schema)
	return err
}
