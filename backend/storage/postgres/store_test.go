package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/efchatnet/efguard/backend/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("TEST_INTEGRATION not set; skipping postgres integration test")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("efguard_test"),
		tcpostgres.WithUsername("efguard"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Redis is only used for messages, which these tests do not touch.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { rdb.Close() })

	store := NewStore(db, rdb, time.Hour)
	require.NoError(t, store.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestDirectory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertIdentity(ctx, "u1", models.ActorUser, true))
	require.NoError(t, store.UpsertIdentity(ctx, "l1", models.ActorLawyer, false))

	ident, err := store.Lookup(ctx, "u1", models.ActorUser)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{Exists: true, Active: true}, ident)

	ident, err = store.Lookup(ctx, "l1", models.ActorLawyer)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{Exists: true, Active: false}, ident)

	// Directories are separate per kind.
	ident, err = store.Lookup(ctx, "u1", models.ActorLawyer)
	require.NoError(t, err)
	assert.False(t, ident.Exists)

	ident, err = store.Lookup(ctx, "u1", models.ActorSystem)
	require.NoError(t, err)
	assert.False(t, ident.Exists)

	require.NoError(t, store.UpsertIdentity(ctx, "l1", models.ActorLawyer, true))
	ident, err = store.Lookup(ctx, "l1", models.ActorLawyer)
	require.NoError(t, err)
	assert.True(t, ident.Active)
}

func TestAuditEventsAreAppendOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ev := &models.SecurityAuditEvent{
		EventID:          uuid.NewString(),
		Timestamp:        time.Now().UTC().Truncate(time.Microsecond),
		ActorID:          "u1",
		ActorKind:        models.ActorUser,
		IP:               "203.0.113.9",
		Action:           "message.rejected",
		ReasonCode:       models.ReasonSpamDetected,
		TruncatedPayload: "Congratulations",
	}
	require.NoError(t, store.AppendAuditEvent(ctx, ev))

	_, err := store.db.ExecContext(ctx, `UPDATE security_audit_events SET action = 'tampered'`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `DELETE FROM security_audit_events`)
	require.NoError(t, err)

	events, err := store.ListAuditEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.EventID, events[0].EventID)
	assert.Equal(t, "message.rejected", events[0].Action)
	assert.Equal(t, models.ReasonSpamDetected, events[0].ReasonCode)
	assert.True(t, ev.Timestamp.Equal(events[0].Timestamp))

	all, err := store.ListAuditEvents(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQuarantineLedger(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := &models.QuarantineRecord{
		ID:             uuid.NewString(),
		OriginalPath:   "/data/staging/a.pdf",
		QuarantinePath: "/data/quarantine/20250101T000000.000000000Z_abcd1234_a.pdf",
		ReasonCode:     models.ReasonHighEntropy,
		ContentHash:    "deadbeef",
		TimestampIn:    now,
		Status:         models.QuarantineStatusQuarantined,
	}
	require.NoError(t, store.SaveQuarantineRecord(ctx, rec))

	got, err := store.GetQuarantineRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.QuarantinePath, got.QuarantinePath)
	assert.Nil(t, got.TimestampOut)

	got, err = store.GetQuarantineRecordByPath(ctx, rec.QuarantinePath)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	got, err = store.FindQuarantinedByHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonHighEntropy, got.ReasonCode)

	hashes, err := store.ListQuarantinedHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"deadbeef"}, hashes)

	_, err = store.GetQuarantineRecord(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.MarkQuarantineReleased(ctx, rec.ID, now.Add(time.Minute)))
	assert.ErrorIs(t, store.MarkQuarantineReleased(ctx, rec.ID, now), models.ErrNotFound)

	_, err = store.FindQuarantinedByHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, models.ErrNotFound)

	released, err := store.ListQuarantineRecords(ctx, models.QuarantineStatusReleased, 10)
	require.NoError(t, err)
	require.Len(t, released, 1)
	require.NotNil(t, released[0].TimestampOut)

	held, err := store.ListQuarantineRecords(ctx, models.QuarantineStatusQuarantined, 10)
	require.NoError(t, err)
	assert.Empty(t, held)

	all, err := store.ListQuarantineRecords(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
