package storage

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS services (
	id               TEXT    PRIMARY KEY,
	name             TEXT    NOT NULL,
	type             TEXT    NOT NULL,
	endpoint         TEXT    NOT NULL,
	method           TEXT    NOT NULL DEFAULT '',
	rest_endpoint    TEXT    NOT NULL DEFAULT '',
	params           TEXT    NOT NULL DEFAULT '{}',
	auth             TEXT,
	validation_rules TEXT    NOT NULL DEFAULT '[]',
	created_at       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	updated_at       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS service_last_check (
	service_id TEXT PRIMARY KEY REFERENCES services(id) ON DELETE CASCADE,
	success    INTEGER NOT NULL DEFAULT 0,
	record     TEXT    NOT NULL,
	checked_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS check_history (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id       TEXT    NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	success          INTEGER NOT NULL DEFAULT 0,
	error            TEXT    NOT NULL DEFAULT '',
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	record           TEXT    NOT NULL,
	created_at       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_check_history_service ON check_history(service_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_check_history_created ON check_history(created_at);
CREATE INDEX IF NOT EXISTS idx_services_name ON services(name COLLATE NOCASE);
`

type migration struct {
	version int
	sql     string
}

// migrations upgrade databases created by earlier releases. Fresh databases
// get the full schema above and skip them.
var migrations = []migration{
	{
		version: 2,
		sql: `CREATE INDEX IF NOT EXISTS idx_check_history_created ON check_history(created_at);
CREATE INDEX IF NOT EXISTS idx_services_name ON services(name COLLATE NOCASE);`,
	},
}
