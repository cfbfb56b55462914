package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efguard/backend/access"
	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/content"
	"github.com/efchatnet/efguard/backend/envelope"
	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/ratelimit"
)

type sendFixture struct {
	send   *Send
	store  *memMessages
	sink   *memSink
	cipher *envelope.Cipher
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func newSendFixture(t *testing.T, limiter ratelimit.Limiter) *sendFixture {
	t.Helper()
	cipher, err := envelope.New("test-secret")
	require.NoError(t, err)

	dir := memDirectory{
		"user:u1":   {Exists: true, Active: true},
		"lawyer:l1": {Exists: true, Active: true},
		"lawyer:l2": {Exists: true, Active: false},
	}
	f := &sendFixture{store: &memMessages{}, sink: &memSink{}, cipher: cipher}
	f.send = NewSend(
		limiter,
		content.NewValidator(content.Config{}),
		access.NewVerifier(dir),
		cipher,
		f.store,
		audit.NewLogger(f.sink, discardLogger),
		discardLogger,
	)
	return f
}

func request(content string) SendRequest {
	return SendRequest{
		Caller:       access.Caller{ID: "u1"},
		IP:           "192.0.2.10",
		SenderID:     "u1",
		SenderKind:   models.ActorUser,
		ReceiverID:   "l1",
		ReceiverKind: models.ActorLawyer,
		Content:      content,
	}
}

func requireRejection(t *testing.T, err error, code models.ReasonCode) {
	t.Helper()
	rej, ok := models.AsRejection(err)
	require.True(t, ok, "expected %s rejection, got %v", code, err)
	assert.Equal(t, code, rej.Code)
}

func TestSend_StoresEncryptedContent(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))

	msg, err := f.send.Process(context.Background(), request("The draft is ready for your review."))
	require.NoError(t, err)

	require.Len(t, f.store.msgs, 1)
	stored := f.store.msgs[0]
	assert.Equal(t, msg.MessageID, stored.MessageID)
	assert.True(t, envelope.IsEnvelope(stored.ContentAtRest))
	assert.NotContains(t, stored.ContentAtRest, "draft")
	assert.Equal(t, "The draft is ready for your review.", f.cipher.Decrypt(stored.ContentAtRest))
	assert.Equal(t, models.MessageText, stored.Kind)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Empty(t, f.sink.events)
}

func TestSend_AttachmentMakesFileMessage(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))

	req := request("Signed copy attached.")
	req.AttachmentRef = "/uploads/abc_contract.pdf"
	msg, err := f.send.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFile, msg.Kind)
	assert.Equal(t, "/uploads/abc_contract.pdf", msg.AttachmentRef)
}

func TestSend_SpamRejected(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))

	_, err := f.send.Process(context.Background(), request("Congratulations you are a WINNER, click here: http://bit.ly/xyz"))
	requireRejection(t, err, models.ReasonSpamDetected)

	assert.Empty(t, f.store.msgs)
	require.Len(t, f.sink.events, 1)
	ev := f.sink.events[0]
	assert.Equal(t, audit.ActionMessageRejected, ev.Action)
	assert.Equal(t, models.ReasonSpamDetected, ev.ReasonCode)
	assert.Equal(t, "u1", ev.ActorID)
	assert.Equal(t, "192.0.2.10", ev.IP)
}

func TestSend_TooLong(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))

	_, err := f.send.Process(context.Background(), request(strings.Repeat("a b ", 500)+"c"))
	requireRejection(t, err, models.ReasonTooLong)
	assert.LessOrEqual(t, len([]rune(f.sink.events[0].TruncatedPayload)), audit.MaxPayloadRunes)
}

func TestSend_RateLimitComesFirst(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.send.Process(ctx, request("hello"))
		require.NoError(t, err)
	}

	// Spam from a spoofed sender still only reports the rate limit.
	req := request("Congratulations, WINNER")
	req.SenderID = "l1"
	_, err := f.send.Process(ctx, req)
	requireRejection(t, err, models.ReasonRateLimited)
	assert.Len(t, f.store.msgs, 2)
}

func TestSend_SpoofedSender(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))
	ctx := context.Background()

	req := request("Please find my notes below.")
	req.SenderID = "l1"
	req.SenderKind = models.ActorLawyer
	req.ReceiverID = "u1"
	req.ReceiverKind = models.ActorUser
	_, err := f.send.Process(ctx, req)
	requireRejection(t, err, models.ReasonSenderUnauthorized)

	// With invalid content as well, the content gate answers first.
	req.Content = "Congratulations you are a WINNER"
	_, err = f.send.Process(ctx, req)
	requireRejection(t, err, models.ReasonSpamDetected)

	assert.Empty(t, f.store.msgs)
}

func TestSend_InactiveReceiver(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))

	req := request("hello")
	req.ReceiverID = "l2"
	_, err := f.send.Process(context.Background(), req)
	requireRejection(t, err, models.ReasonReceiverUnauthorized)
}

func TestSend_InfrastructureErrorsAreNotRejections(t *testing.T) {
	ctx := context.Background()

	f := newSendFixture(t, erroringLimiter{})
	_, err := f.send.Process(ctx, request("hello"))
	require.Error(t, err)
	_, isRej := models.AsRejection(err)
	assert.False(t, isRej)

	f = newSendFixture(t, ratelimit.NewMemory(30, time.Minute))
	req := request("hello")
	req.ReceiverID = "broken"
	_, err = f.send.Process(ctx, req)
	require.Error(t, err)
	_, isRej = models.AsRejection(err)
	assert.False(t, isRej)

	f.store.err = errors.New("redis down")
	_, err = f.send.Process(ctx, request("hello"))
	require.Error(t, err)
	assert.Empty(t, f.store.msgs)
}

func TestMailbox(t *testing.T) {
	f := newSendFixture(t, ratelimit.NewMemory(30, time.Minute))
	ctx := context.Background()

	_, err := f.send.Process(ctx, request("first"))
	require.NoError(t, err)
	sent, err := f.send.Process(ctx, request("second"))
	require.NoError(t, err)
	f.store.msgs = append(f.store.msgs, &models.Message{MessageID: "legacy", ReceiverID: "l1", ContentAtRest: "stored before encryption"})

	box := NewMailbox(f.store, f.cipher)
	msgs, err := box.List(ctx, "l1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "stored before encryption", msgs[0].ContentPlaintext)
	assert.Equal(t, "second", msgs[1].ContentPlaintext)
	assert.Equal(t, "first", msgs[2].ContentPlaintext)

	n, err := box.Unread(ctx, "l1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, box.MarkRead(ctx, sent.MessageID, "l1"))
	n, err = box.Unread(ctx, "l1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
