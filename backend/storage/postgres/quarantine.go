// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/efchatnet/efguard/backend/models"
)

const quarantineColumns = `id, original_path, quarantine_path, reason_code, content_hash,
	timestamp_in, timestamp_out, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuarantineRecord(row rowScanner) (*models.QuarantineRecord, error) {
	var rec models.QuarantineRecord
	var reason, status string
	var out sql.NullTime
	err := row.Scan(&rec.ID, &rec.OriginalPath, &rec.QuarantinePath, &reason,
		&rec.ContentHash, &rec.TimestampIn, &out, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ReasonCode = models.ReasonCode(reason)
	rec.Status = models.QuarantineStatus(status)
	if out.Valid {
		t := out.Time
		rec.TimestampOut = &t
	}
	return &rec, nil
}

func (s *Store) SaveQuarantineRecord(ctx context.Context, rec *models.QuarantineRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine_records (`+quarantineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OriginalPath, rec.QuarantinePath, string(rec.ReasonCode),
		rec.ContentHash, rec.TimestampIn, rec.TimestampOut, string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to save quarantine record: %w", err)
	}
	return nil
}

func (s *Store) GetQuarantineRecord(ctx context.Context, id string) (*models.QuarantineRecord, error) {
	return scanQuarantineRecord(s.db.QueryRowContext(ctx,
		`SELECT `+quarantineColumns+` FROM quarantine_records WHERE id::text = $1`, id))
}

func (s *Store) GetQuarantineRecordByPath(ctx context.Context, quarantinePath string) (*models.QuarantineRecord, error) {
	return scanQuarantineRecord(s.db.QueryRowContext(ctx,
		`SELECT `+quarantineColumns+` FROM quarantine_records WHERE quarantine_path = $1`, quarantinePath))
}

// FindQuarantinedByHash returns the most recent record still held for hash.
func (s *Store) FindQuarantinedByHash(ctx context.Context, contentHash string) (*models.QuarantineRecord, error) {
	return scanQuarantineRecord(s.db.QueryRowContext(ctx, `
		SELECT `+quarantineColumns+` FROM quarantine_records
		WHERE content_hash = $1 AND status = 'quarantined'
		ORDER BY timestamp_in DESC
		LIMIT 1`, contentHash))
}

func (s *Store) MarkQuarantineReleased(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quarantine_records
		SET status = 'released', timestamp_out = $2
		WHERE id::text = $1 AND status = 'quarantined'`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark record released: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) ListQuarantineRecords(ctx context.Context, status models.QuarantineStatus, limit int) ([]*models.QuarantineRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+quarantineColumns+` FROM quarantine_records
		WHERE $1::text = '' OR status = $1
		ORDER BY timestamp_in DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.QuarantineRecord
	for rows.Next() {
		rec, err := scanQuarantineRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListQuarantinedHashes returns every hash still held, for seeding the
// blocklist at startup.
func (s *Store) ListQuarantinedHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT content_hash FROM quarantine_records
		WHERE status = 'quarantined' AND content_hash <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
