// Package sqlite implements the store interfaces on a single-file
// SQLite database (standalone mode). No server, no migrations tool:
// the schema is applied on open.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone_number TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS end_users (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	phone_number TEXT NOT NULL,
	profile_name TEXT NOT NULL DEFAULT '',
	opted_out INTEGER NOT NULL DEFAULT 0,
	opted_out_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (organization_id, phone_number)
);

CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	end_user_id TEXT NOT NULL REFERENCES end_users(id),
	topic TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	last_user_message_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL REFERENCES threads(id),
	end_user_id TEXT NOT NULL REFERENCES end_users(id),
	direction TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	provider_sid TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	error_code TEXT,
	error_message TEXT,
	num_media INTEGER NOT NULL DEFAULT 0,
	profile_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_end_user ON messages(end_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_provider_sid ON messages(provider_sid);

CREATE TABLE IF NOT EXISTS flows (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	is_active INTEGER NOT NULL DEFAULT 0,
	trigger_type TEXT NOT NULL,
	trigger_keywords TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 0,
	nodes TEXT NOT NULL DEFAULT '[]',
	edges TEXT NOT NULL DEFAULT '[]',
	published_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS service_credentials (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	service_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// OpenDB opens (and if needed creates) the database file and applies
// the schema. A single connection avoids SQLITE_BUSY under the
// gateway's modest write load.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
