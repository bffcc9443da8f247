// Package sqlite implements the transactional SQLite rule backend.
// This file holds the schema DDL.
package sqlite

// Schema DDL. Statements are idempotent so Attach can run them on every start.
const (
	createRules = `CREATE TABLE IF NOT EXISTS rules (
    rule_id TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    search_text TEXT NOT NULL DEFAULT '',
    sound TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	idxRulesChannelPosition = `CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_channel_position ON rules(channel_id, position);`
)

// schemaDDL lists all statements in dependency order.
var schemaDDL = []string{
	createRules,
	idxRulesChannelPosition,
}

// ruleColumns is the column list shared by every SELECT on rules.
const ruleColumns = "rule_id, channel_id, position, search_text, sound, enabled, priority, created_at, updated_at"
