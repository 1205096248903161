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
		Name:    "create sessions, exchanges and attempts",
		SQL: `
			CREATE TABLE sessions (
				id            TEXT PRIMARY KEY,
				protocol      TEXT NOT NULL,
				source        TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL,
				last_seen_at  TEXT NOT NULL,
				exchanges     INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_sessions_last_seen ON sessions (last_seen_at);

			CREATE TABLE exchanges (
				id           TEXT PRIMARY KEY,
				session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				user_text    TEXT NOT NULL,
				reply_text   TEXT NOT NULL,
				delivered    INTEGER NOT NULL,
				started_at   TEXT NOT NULL,
				duration_ms  INTEGER NOT NULL
			);

			CREATE INDEX idx_exchanges_session ON exchanges (session_id, started_at);

			CREATE TABLE attempts (
				exchange_id  TEXT NOT NULL REFERENCES exchanges(id) ON DELETE CASCADE,
				ordinal      INTEGER NOT NULL,
				started_at   TEXT NOT NULL,
				outcome      TEXT NOT NULL,
				status_code  INTEGER NOT NULL DEFAULT 0,
				detail       TEXT NOT NULL DEFAULT '',
				backoff_ms   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (exchange_id, ordinal)
			);
		`,
	},
	{
		Version: 2,
		Name:    "full-text index over exchanges",
		SQL: `
			CREATE VIRTUAL TABLE exchanges_fts USING fts5(
				user_text,
				reply_text,
				content='exchanges',
				content_rowid='rowid'
			);

			CREATE TRIGGER exchanges_ai AFTER INSERT ON exchanges BEGIN
				INSERT INTO exchanges_fts(rowid, user_text, reply_text)
				VALUES (new.rowid, new.user_text, new.reply_text);
			END;

			CREATE TRIGGER exchanges_ad AFTER DELETE ON exchanges BEGIN
				INSERT INTO exchanges_fts(exchanges_fts, rowid, user_text, reply_text)
				VALUES ('delete', old.rowid, old.user_text, old.reply_text);
			END;
		`,
	},
}
