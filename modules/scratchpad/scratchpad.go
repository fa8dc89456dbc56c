// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package scratchpad is the per-repo local SQL store: spec.md's "one cheap
// local key-value/SQL scratchpad per repo". Grounded on pkg/serve/config.go
// and pkg/serve/database's use of database/sql + go-sql-driver/mysql, kept
// as the backing engine and reinterpreted with one schema per coordinator
// instead of the teacher's single shared rid-scoped schema (DESIGN.md).
package scratchpad

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// DB is the scratchpad handle shared by C5, C6, C7, C8 and C9.
type DB struct {
	conn *sql.DB
}

// Open connects to the scratchpad database and ensures its schema exists.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("scratchpad: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("scratchpad: ping: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Conn exposes the underlying *sql.DB for components that need BeginTx.
func (d *DB) Conn() *sql.DB { return d.conn }

func (d *DB) Close() error { return d.conn.Close() }

// schema mirrors spec.md §6's persisted-state table list verbatim.
const schema = `
CREATE TABLE IF NOT EXISTS refs (
	name VARCHAR(512) NOT NULL PRIMARY KEY,
	target VARCHAR(4096) NOT NULL,
	kind TINYINT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bloom_filter (
	id TINYINT NOT NULL PRIMARY KEY DEFAULT 1,
	bits LONGBLOB NOT NULL,
	k INT NOT NULL,
	item_count BIGINT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sha_cache (
	sha CHAR(40) NOT NULL PRIMARY KEY,
	type VARCHAR(16) NOT NULL,
	size BIGINT NOT NULL,
	added_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS compaction_journal (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	source_keys TEXT NOT NULL,
	target_key VARCHAR(512) NOT NULL,
	status VARCHAR(16) NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS compaction_retries (
	id TINYINT NOT NULL PRIMARY KEY DEFAULT 1,
	attempt_count INT NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS write_buffer_wal (
	id BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
	sha CHAR(40) NOT NULL,
	type VARCHAR(16) NOT NULL,
	body LONGBLOB NOT NULL,
	path VARCHAR(512),
	created_at DATETIME NOT NULL,
	UNIQUE KEY uniq_sha (sha)
);

CREATE TABLE IF NOT EXISTS branch_protection (
	pattern VARCHAR(512) NOT NULL PRIMARY KEY,
	required_reviews INT NOT NULL DEFAULT 0,
	prevent_force_push BOOL NOT NULL DEFAULT FALSE,
	prevent_deletion BOOL NOT NULL DEFAULT FALSE,
	enabled BOOL NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS ref_log (
	version BIGINT NOT NULL PRIMARY KEY,
	ref_name VARCHAR(512) NOT NULL,
	old_sha CHAR(40) NOT NULL DEFAULT '',
	new_sha CHAR(40) NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ref_log_checkpoint (
	id TINYINT NOT NULL PRIMARY KEY DEFAULT 1,
	version BIGINT NOT NULL,
	state_json LONGBLOB NOT NULL
);
`

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("scratchpad: migrate: %w", err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	var cur []byte
	for i := 0; i < len(schema); i++ {
		c := schema[i]
		cur = append(cur, c)
		if c == ';' {
			out = append(out, string(cur))
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
