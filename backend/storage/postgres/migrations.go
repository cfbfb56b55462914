// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"
	"fmt"
)

func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		// Identity directory
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS lawyers (
			id VARCHAR(255) PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Audit stream
		`CREATE TABLE IF NOT EXISTS security_audit_events (
			event_id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			actor_id VARCHAR(255) NOT NULL,
			actor_kind VARCHAR(16) NOT NULL,
			ip VARCHAR(64) NOT NULL DEFAULT '',
			action VARCHAR(64) NOT NULL,
			reason_code VARCHAR(64) NOT NULL DEFAULT '',
			truncated_payload TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON security_audit_events(actor_id, timestamp DESC)`,

		// Rows are never rewritten or removed
		`CREATE OR REPLACE RULE security_audit_events_no_update AS
		ON UPDATE TO security_audit_events DO INSTEAD NOTHING`,

		`CREATE OR REPLACE RULE security_audit_events_no_delete AS
		ON DELETE TO security_audit_events DO INSTEAD NOTHING`,

		// Quarantine ledger
		`CREATE TABLE IF NOT EXISTS quarantine_records (
			id UUID PRIMARY KEY,
			original_path TEXT NOT NULL,
			quarantine_path TEXT NOT NULL UNIQUE,
			reason_code VARCHAR(64) NOT NULL,
			content_hash VARCHAR(64) NOT NULL DEFAULT '',
			timestamp_in TIMESTAMPTZ NOT NULL,
			timestamp_out TIMESTAMPTZ,
			status VARCHAR(16) NOT NULL DEFAULT 'quarantined'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_quarantine_hash
		ON quarantine_records(content_hash)
		WHERE status = 'quarantined'`,

		`CREATE INDEX IF NOT EXISTS idx_quarantine_status
		ON quarantine_records(status, timestamp_in DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
