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

	"github.com/efchatnet/efguard/backend/models"
)

func (s *Store) AppendAuditEvent(ctx context.Context, e *models.SecurityAuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_audit_events
			(event_id, timestamp, actor_id, actor_kind, ip, action, reason_code, truncated_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EventID, e.Timestamp, e.ActorID, string(e.ActorKind), e.IP, e.Action,
		string(e.ReasonCode), e.TruncatedPayload)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the newest events first. An empty actorID lists
// every actor.
func (s *Store) ListAuditEvents(ctx context.Context, actorID string, limit int) ([]*models.SecurityAuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, timestamp, actor_id, actor_kind, ip, action, reason_code, truncated_payload
		FROM security_audit_events
		WHERE $1::text = '' OR actor_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.SecurityAuditEvent
	for rows.Next() {
		var e models.SecurityAuditEvent
		var kind, reason string
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.ActorID, &kind, &e.IP,
			&e.Action, &reason, &e.TruncatedPayload); err != nil {
			return nil, err
		}
		e.ActorKind = models.ActorKind(kind)
		e.ReasonCode = models.ReasonCode(reason)
		events = append(events, &e)
	}
	return events, rows.Err()
}
