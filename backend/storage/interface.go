// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"time"

	"github.com/efchatnet/efguard/backend/models"
)

type DirectoryStore interface {
	Lookup(ctx context.Context, id string, kind models.ActorKind) (models.Identity, error)
	UpsertIdentity(ctx context.Context, id string, kind models.ActorKind, active bool) error
}

type AuditStore interface {
	// Append-only; nothing updates or deletes events.
	AppendAuditEvent(ctx context.Context, event *models.SecurityAuditEvent) error
	ListAuditEvents(ctx context.Context, actorID string, limit int) ([]*models.SecurityAuditEvent, error)
}

type QuarantineStore interface {
	SaveQuarantineRecord(ctx context.Context, rec *models.QuarantineRecord) error
	GetQuarantineRecord(ctx context.Context, id string) (*models.QuarantineRecord, error)
	GetQuarantineRecordByPath(ctx context.Context, quarantinePath string) (*models.QuarantineRecord, error)
	MarkQuarantineReleased(ctx context.Context, id string, at time.Time) error
	ListQuarantineRecords(ctx context.Context, status models.QuarantineStatus, limit int) ([]*models.QuarantineRecord, error)

	// Hash lookups feed the known-malicious blocklist
	FindQuarantinedByHash(ctx context.Context, contentHash string) (*models.QuarantineRecord, error)
	ListQuarantinedHashes(ctx context.Context) ([]string, error)
}

type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) (string, error)
	GetMessagesForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error)
	MarkMessageRead(ctx context.Context, messageID, userID string) error
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
}

type Store interface {
	DirectoryStore
	AuditStore
	QuarantineStore
	MessageStore

	Ping(ctx context.Context) error
}
