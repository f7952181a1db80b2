package storage

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered with sequential versions starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS deliveries (
	id              TEXT PRIMARY KEY,
	notification_id INTEGER NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT '',
	item            TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	icon            TEXT NOT NULL DEFAULT '',
	click           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	at_ms           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_at ON deliveries(at_ms);

CREATE TABLE IF NOT EXISTS dedup (
	key   TEXT PRIMARY KEY,
	until INTEGER NOT NULL
);
`,
	},
}
