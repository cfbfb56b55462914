package quarantine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/models"
)

type memLedger struct {
	mu         sync.Mutex
	records    map[string]*models.QuarantineRecord
	saveErr    error
	releaseErr error
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[string]*models.QuarantineRecord)}
}

func (l *memLedger) SaveQuarantineRecord(_ context.Context, rec *models.QuarantineRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		return l.saveErr
	}
	cp := *rec
	l.records[rec.ID] = &cp
	return nil
}

func (l *memLedger) GetQuarantineRecord(_ context.Context, id string) (*models.QuarantineRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (l *memLedger) GetQuarantineRecordByPath(_ context.Context, path string) (*models.QuarantineRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.QuarantinePath == path {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (l *memLedger) MarkQuarantineReleased(_ context.Context, id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.releaseErr != nil {
		return l.releaseErr
	}
	rec := l.records[id]
	rec.Status = models.QuarantineStatusReleased
	rec.TimestampOut = &at
	return nil
}

func (l *memLedger) ListQuarantineRecords(_ context.Context, status models.QuarantineStatus, limit int) ([]*models.QuarantineRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.QuarantineRecord
	for _, rec := range l.records {
		if status == "" || rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampIn.After(out[j].TimestampIn) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
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

type fixture struct {
	store  *Store
	ledger *memLedger
	sink   *memSink
	live   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	live := filepath.Join(root, "live")
	require.NoError(t, os.MkdirAll(live, 0o750))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := newMemLedger()
	sink := &memSink{}
	store, err := NewStore(filepath.Join(root, "quarantine"), ledger, audit.NewLogger(sink, logger), logger)
	require.NoError(t, err)
	return &fixture{store: store, ledger: ledger, sink: sink, live: live}
}

func (f *fixture) writeLive(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(f.live, name)
	require.NoError(t, os.WriteFile(p, data, 0o640))
	return p
}

func TestQuarantineAndRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := []byte("MZ\x90\x00 not really a program")
	path := f.writeLive(t, "invoice.pdf", original)

	rec, err := f.store.Quarantine(ctx, path, models.ReasonMaliciousSignature, "abc123", audit.System)
	require.NoError(t, err)

	assert.NoFileExists(t, path)
	assert.FileExists(t, rec.QuarantinePath)
	assert.Equal(t, f.store.Dir(), filepath.Dir(rec.QuarantinePath))
	assert.Equal(t, path, rec.OriginalPath)
	assert.Equal(t, models.QuarantineStatusQuarantined, rec.Status)
	assert.Equal(t, models.ReasonMaliciousSignature, rec.ReasonCode)
	assert.Equal(t, "abc123", rec.ContentHash)
	assert.Nil(t, rec.TimestampOut)

	stored, err := f.ledger.GetQuarantineRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.QuarantinePath, stored.QuarantinePath)

	ok, err := f.store.Release(ctx, rec.QuarantinePath, path, audit.Actor{ID: "admin-1", Kind: models.ActorUser})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, got)
	assert.NoFileExists(t, rec.QuarantinePath)

	stored, err = f.ledger.GetQuarantineRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusReleased, stored.Status)
	require.NotNil(t, stored.TimestampOut)

	ok, err = f.store.Release(ctx, rec.QuarantinePath, path, audit.System)
	require.NoError(t, err)
	assert.False(t, ok, "second release has nothing to move")

	require.Len(t, f.sink.events, 2)
	assert.Equal(t, audit.ActionUploadQuarantined, f.sink.events[0].Action)
	assert.Equal(t, audit.ActionQuarantineRelease, f.sink.events[1].Action)
	assert.Equal(t, "admin-1", f.sink.events[1].ActorID)
}

func TestQuarantine_LedgerFailureLeavesFileInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.writeLive(t, "a.png", []byte("data"))
	f.ledger.saveErr = errors.New("db down")

	_, err := f.store.Quarantine(ctx, path, models.ReasonHighEntropy, "", audit.System)
	require.Error(t, err)

	assert.FileExists(t, path)
	entries, err := os.ReadDir(f.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, f.sink.events)
}

func TestQuarantine_MissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Quarantine(context.Background(), filepath.Join(f.live, "nope"), models.ReasonHighEntropy, "", audit.System)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestQuarantine_SameNameDoesNotCollide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	paths := make([]string, 20)
	for i := range paths {
		sub := filepath.Join(f.live, string(rune('a'+i)))
		require.NoError(t, os.MkdirAll(sub, 0o750))
		paths[i] = filepath.Join(sub, "report.pdf")
		require.NoError(t, os.WriteFile(paths[i], []byte{byte(i)}, 0o640))
	}
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := f.store.Quarantine(ctx, p, models.ReasonSuspiciousPattern, "", audit.System)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	entries, err := os.ReadDir(f.store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, len(paths))
}

func TestRelease_LedgerFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.writeLive(t, "b.pdf", []byte("x"))

	rec, err := f.store.Quarantine(ctx, path, models.ReasonEmbeddedExecutable, "", audit.System)
	require.NoError(t, err)

	f.ledger.releaseErr = errors.New("db down")
	ok, err := f.store.Release(ctx, rec.QuarantinePath, path, audit.System)
	require.Error(t, err)
	assert.False(t, ok)
	assert.FileExists(t, rec.QuarantinePath)
	assert.NoFileExists(t, path)
}

func TestRelease_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.writeLive(t, "c.pdf", []byte("x"))

	rec, err := f.store.Quarantine(ctx, path, models.ReasonHighEntropy, "", audit.System)
	require.NoError(t, err)

	outside := f.writeLive(t, "outside.pdf", []byte("y"))
	_, err = f.store.Release(ctx, outside, filepath.Join(f.live, "dest.pdf"), audit.System)
	assert.ErrorIs(t, err, ErrOutsideQuarantine)

	_, err = f.store.Release(ctx, filepath.Join(f.store.Dir(), "..", "live", "outside.pdf"), path, audit.System)
	assert.ErrorIs(t, err, ErrOutsideQuarantine)

	// Something new now lives at the original path.
	f.writeLive(t, "c.pdf", []byte("replacement"))
	ok, err := f.store.Release(ctx, rec.QuarantinePath, path, audit.System)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.FileExists(t, rec.QuarantinePath)
}

func TestQuarantine_LongNameFitsFilesystem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.writeLive(t, strings.Repeat("a", 240)+".pdf", []byte("x"))

	rec, err := f.store.Quarantine(ctx, path, models.ReasonMaliciousSignature, "", audit.System)
	require.NoError(t, err)

	base := filepath.Base(rec.QuarantinePath)
	assert.LessOrEqual(t, len(base), 255)
	assert.True(t, strings.HasSuffix(base, ".pdf"))
	assert.FileExists(t, rec.QuarantinePath)
}

func TestMoveNoReplace_RefusesLateDestination(t *testing.T) {
	f := newFixture(t)
	from := filepath.Join(f.store.Dir(), "held.bin")
	require.NoError(t, os.WriteFile(from, []byte("held"), 0o640))
	// Appears after any earlier existence check.
	to := f.writeLive(t, "taken.bin", []byte("someone else"))

	err := f.store.moveNoReplace(from, to)
	assert.ErrorIs(t, err, ErrDestinationExists)

	got, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, []byte("someone else"), got)
	assert.FileExists(t, from)

	other := filepath.Join(f.live, "free.bin")
	require.NoError(t, f.store.moveNoReplace(from, other))
	assert.NoFileExists(t, from)
	assert.FileExists(t, other)
}

func TestReleaseByIDAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p1 := f.writeLive(t, "one.pdf", []byte("1"))
	p2 := f.writeLive(t, "two.pdf", []byte("2"))

	r1, err := f.store.Quarantine(ctx, p1, models.ReasonHighEntropy, "", audit.System)
	require.NoError(t, err)
	_, err = f.store.Quarantine(ctx, p2, models.ReasonHighEntropy, "", audit.System)
	require.NoError(t, err)

	rec, ok, err := f.store.ReleaseByID(ctx, r1.ID, audit.System)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.QuarantineStatusReleased, rec.Status)
	assert.FileExists(t, p1)

	_, ok, err = f.store.ReleaseByID(ctx, r1.ID, audit.System)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.store.ReleaseByID(ctx, "missing", audit.System)
	assert.ErrorIs(t, err, models.ErrNotFound)

	held, err := f.store.List(ctx, models.QuarantineStatusQuarantined, 10)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, p2, held[0].OriginalPath)

	all, err := f.store.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
