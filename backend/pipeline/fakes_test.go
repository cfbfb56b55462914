package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/efchatnet/efguard/backend/models"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memLedger struct {
	mu      sync.Mutex
	records []*models.QuarantineRecord
	saveErr error
}

func (l *memLedger) SaveQuarantineRecord(_ context.Context, rec *models.QuarantineRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		return l.saveErr
	}
	cp := *rec
	l.records = append(l.records, &cp)
	return nil
}

func (l *memLedger) find(match func(*models.QuarantineRecord) bool) (*models.QuarantineRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if match(rec) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (l *memLedger) GetQuarantineRecord(_ context.Context, id string) (*models.QuarantineRecord, error) {
	return l.find(func(r *models.QuarantineRecord) bool { return r.ID == id })
}

func (l *memLedger) GetQuarantineRecordByPath(_ context.Context, p string) (*models.QuarantineRecord, error) {
	return l.find(func(r *models.QuarantineRecord) bool { return r.QuarantinePath == p })
}

func (l *memLedger) FindQuarantinedByHash(_ context.Context, h string) (*models.QuarantineRecord, error) {
	return l.find(func(r *models.QuarantineRecord) bool {
		return r.ContentHash == h && r.Status == models.QuarantineStatusQuarantined
	})
}

func (l *memLedger) MarkQuarantineReleased(_ context.Context, id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.ID == id {
			rec.Status = models.QuarantineStatusReleased
			rec.TimestampOut = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (l *memLedger) ListQuarantineRecords(_ context.Context, status models.QuarantineStatus, _ int) ([]*models.QuarantineRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.QuarantineRecord
	for _, rec := range l.records {
		if status == "" || rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memSink struct {
	mu     sync.Mutex
	events []*models.SecurityAuditEvent
}

func (m *memSink) AppendAuditEvent(_ context.Context, e *models.SecurityAuditEvent) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

type memDirectory map[string]models.Identity

func (d memDirectory) Lookup(_ context.Context, id string, kind models.ActorKind) (models.Identity, error) {
	if id == "broken" {
		return models.Identity{}, errors.New("directory unavailable")
	}
	return d[string(kind)+":"+id], nil
}

type memMessages struct {
	mu   sync.Mutex
	msgs []*models.Message
	err  error
}

func (m *memMessages) InsertMessage(_ context.Context, msg *models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	cp := *msg
	m.msgs = append(m.msgs, &cp)
	return msg.MessageID, nil
}

func (m *memMessages) GetMessagesForUser(_ context.Context, userID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for i := len(m.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.msgs[i].ReceiverID == userID {
			cp := *m.msgs[i]
			cp.ContentPlaintext = ""
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memMessages) MarkMessageRead(_ context.Context, messageID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.MessageID == messageID {
			msg.ReadFlag = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memMessages) GetUnreadCount(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.ReceiverID == userID && !msg.ReadFlag {
			n++
		}
	}
	return n, nil
}
