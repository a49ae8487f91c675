package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	first_seen_at DATETIME NOT NULL,
	last_seen_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	contact_id       TEXT NOT NULL REFERENCES contacts(id),
	thread_id        TEXT NOT NULL UNIQUE,
	subject          TEXT NOT NULL DEFAULT '',
	last_activity_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	provider_id     TEXT NOT NULL UNIQUE,
	direction       TEXT NOT NULL CHECK(direction IN ('incoming', 'outgoing', 'draft')),
	subject         TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	receiver        TEXT NOT NULL DEFAULT '',
	timestamp       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_contact_id ON conversations(contact_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
	ON messages(conversation_id, timestamp, seq);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS scheduled_messages (
	id                TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL REFERENCES conversations(id),
	kind              TEXT NOT NULL CHECK(kind IN ('reply', 'followup')),
	source_message_id TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	body              TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	send_at           DATETIME NOT NULL,
	state             TEXT NOT NULL DEFAULT 'pending'
		CHECK(state IN ('pending', 'sent', 'canceled')),
	urgent            INTEGER NOT NULL DEFAULT 0 CHECK(urgent IN (0, 1)),
	stuck             INTEGER NOT NULL DEFAULT 0 CHECK(stuck IN (0, 1)),
	attempts          INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	resolved_at       DATETIME,
	sent_message_id   TEXT NOT NULL DEFAULT '',
	claim_token       TEXT,
	claimed_until     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_scheduled_state_send_at
	ON scheduled_messages(state, send_at);
CREATE INDEX IF NOT EXISTS idx_scheduled_conversation_id
	ON scheduled_messages(conversation_id);

-- Terminal rows are immutable.
CREATE TRIGGER IF NOT EXISTS scheduled_messages_terminal
BEFORE UPDATE ON scheduled_messages
WHEN OLD.state <> 'pending'
BEGIN
	SELECT RAISE(ABORT, 'scheduled message is in a terminal state');
END;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	message         TEXT NOT NULL,
	read            INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
	{
		version: 4,
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_source_kind
	ON scheduled_messages(source_message_id, kind)
	WHERE source_message_id <> '';

INSERT INTO schema_version (version) VALUES (4);
`,
	},
}
