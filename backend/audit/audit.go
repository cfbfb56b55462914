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

// Package audit turns gate outcomes into SecurityAuditEvent records and
// hands them to an append-only sink.
package audit

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/efchatnet/efguard/backend/models"
)

// MaxPayloadRunes caps how much submitted content an event may carry.
const MaxPayloadRunes = 200

// Action names written to the audit stream.
const (
	ActionMessageRejected   = "message.rejected"
	ActionUploadRejected    = "upload.rejected"
	ActionUploadQuarantined = "upload.quarantined"
	ActionQuarantineRelease = "quarantine.released"
)

// Sink persists events. It must only ever append.
type Sink interface {
	AppendAuditEvent(ctx context.Context, event *models.SecurityAuditEvent) error
}

// Actor identifies who triggered an event.
type Actor struct {
	ID   string
	Kind models.ActorKind
	IP   string
}

// System is the actor recorded for automatic transitions.
var System = Actor{ID: "system", Kind: models.ActorSystem}

type Logger struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger accepts a nil sink, in which case events only go to slog.
func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:   sink,
		logger: logger.With(slog.String("component", "audit")),
		now:    time.Now,
	}
}

// Record appends one event. A failing sink is logged and swallowed: the
// decision being audited has already been made and must not change.
func (l *Logger) Record(ctx context.Context, actor Actor, action string, reason models.ReasonCode, payload string) *models.SecurityAuditEvent {
	event := &models.SecurityAuditEvent{
		EventID:          uuid.NewString(),
		Timestamp:        l.now().UTC(),
		ActorID:          actor.ID,
		ActorKind:        actor.Kind,
		IP:               actor.IP,
		Action:           action,
		ReasonCode:       reason,
		TruncatedPayload: Truncate(payload, MaxPayloadRunes),
	}

	l.logger.WarnContext(ctx, "security event",
		slog.String("event_id", event.EventID),
		slog.String("action", action),
		slog.String("actor_id", actor.ID),
		slog.String("actor_kind", string(actor.Kind)),
		slog.String("ip", actor.IP),
		slog.String("reason_code", string(reason)),
	)

	if l.sink != nil {
		if err := l.sink.AppendAuditEvent(ctx, event); err != nil {
			l.logger.ErrorContext(ctx, "failed to append audit event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
	}
	return event
}

// Rejection records a refused request.
func (l *Logger) Rejection(ctx context.Context, actor Actor, action string, rej *models.Rejection, payload string) *models.SecurityAuditEvent {
	return l.Record(ctx, actor, action, rej.Code, payload)
}

// Truncate cuts s to at most n runes, never splitting a character.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
