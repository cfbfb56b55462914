package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efchatnet/efguard/backend/models"
)

// memStore is an in-process storage.Store for exercising the assembled gate.
type memStore struct {
	mu         sync.Mutex
	identities map[string]bool
	events     []*models.SecurityAuditEvent
	records    []*models.QuarantineRecord
	messages   []*models.Message
	pingErr    error
	cleanups   atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{identities: make(map[string]bool)}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) Lookup(_ context.Context, id string, kind models.ActorKind) (models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active, ok := m.identities[string(kind)+":"+id]
	return models.Identity{Exists: ok, Active: active}, nil
}

func (m *memStore) UpsertIdentity(_ context.Context, id string, kind models.ActorKind, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[string(kind)+":"+id] = active
	return nil
}

func (m *memStore) AppendAuditEvent(_ context.Context, e *models.SecurityAuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) ListAuditEvents(_ context.Context, actorID string, _ int) ([]*models.SecurityAuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityAuditEvent
	for _, e := range m.events {
		if actorID == "" || e.ActorID == actorID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SaveQuarantineRecord(_ context.Context, rec *models.QuarantineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *memStore) findRecord(match func(*models.QuarantineRecord) bool) (*models.QuarantineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if match(rec) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) GetQuarantineRecord(_ context.Context, id string) (*models.QuarantineRecord, error) {
	return m.findRecord(func(r *models.QuarantineRecord) bool { return r.ID == id })
}

func (m *memStore) GetQuarantineRecordByPath(_ context.Context, p string) (*models.QuarantineRecord, error) {
	return m.findRecord(func(r *models.QuarantineRecord) bool { return r.QuarantinePath == p })
}

func (m *memStore) FindQuarantinedByHash(_ context.Context, h string) (*models.QuarantineRecord, error) {
	return m.findRecord(func(r *models.QuarantineRecord) bool {
		return r.ContentHash == h && r.Status == models.QuarantineStatusQuarantined
	})
}

func (m *memStore) MarkQuarantineReleased(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			rec.Status = models.QuarantineStatusReleased
			rec.TimestampOut = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memStore) ListQuarantineRecords(_ context.Context, status models.QuarantineStatus, _ int) ([]*models.QuarantineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.QuarantineRecord
	for _, rec := range m.records {
		if status == "" || rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListQuarantinedHashes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, rec := range m.records {
		if rec.Status == models.QuarantineStatusQuarantined && rec.ContentHash != "" {
			out = append(out, rec.ContentHash)
		}
	}
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg *models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	cp.ContentPlaintext = ""
	m.messages = append(m.messages, &cp)
	return msg.MessageID, nil
}

func (m *memStore) GetMessagesForUser(_ context.Context, userID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].ReceiverID == userID {
			cp := *m.messages[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkMessageRead(_ context.Context, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.MessageID == messageID && msg.ReceiverID == userID {
			msg.ReadFlag = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memStore) GetUnreadCount(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && !msg.ReadFlag {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CleanupExpiredMessages(context.Context) (int, error) {
	m.cleanups.Add(1)
	return 0, nil
}
