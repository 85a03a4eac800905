package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create preferences",
		SQL: `
			CREATE TABLE preferences (
				key         TEXT PRIMARY KEY,
				value       TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "create sessions and transcript items",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				scenario    TEXT NOT NULL DEFAULT '',
				root_agent  TEXT NOT NULL DEFAULT '',
				started_at  TEXT NOT NULL,
				ended_at    TEXT NOT NULL DEFAULT '',
				item_count  INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_sessions_started ON sessions (started_at);

			CREATE TABLE transcript_items (
				session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				seq            INTEGER NOT NULL,
				item_id        TEXT NOT NULL,
				type           TEXT NOT NULL,
				role           TEXT NOT NULL DEFAULT '',
				created_at_ms  INTEGER NOT NULL,
				title          TEXT NOT NULL DEFAULT '',
				data           TEXT,
				hidden         INTEGER NOT NULL DEFAULT 0,
				status         TEXT NOT NULL DEFAULT '',
				guardrail      TEXT,
				PRIMARY KEY (session_id, seq)
			);
		`,
	},
	{
		Version: 3,
		Name:    "create transcript search with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE transcript_fts USING fts5(
				title,
				content='transcript_items',
				content_rowid='rowid'
			);

			CREATE TRIGGER transcript_ai AFTER INSERT ON transcript_items BEGIN
				INSERT INTO transcript_fts(rowid, title) VALUES (new.rowid, new.title);
			END;

			CREATE TRIGGER transcript_ad AFTER DELETE ON transcript_items BEGIN
				INSERT INTO transcript_fts(transcript_fts, rowid, title)
				VALUES ('delete', old.rowid, old.title);
			END;
		`,
	},
}
