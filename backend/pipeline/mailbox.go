// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package pipeline

import (
	"context"

	"github.com/efchatnet/efguard/backend/envelope"
	"github.com/efchatnet/efguard/backend/models"
)

// MessageReader is the read side of the message store.
type MessageReader interface {
	GetMessagesForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error)
	MarkMessageRead(ctx context.Context, messageID, userID string) error
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
}

// Mailbox serves a user's stored messages with content decrypted.
type Mailbox struct {
	store  MessageReader
	cipher *envelope.Cipher
}

func NewMailbox(store MessageReader, cipher *envelope.Cipher) *Mailbox {
	return &Mailbox{store: store, cipher: cipher}
}

// List returns the newest messages first. Content stored before encryption
// was enabled is returned as-is.
func (m *Mailbox) List(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	msgs, err := m.store.GetMessagesForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		msg.ContentPlaintext = m.cipher.Decrypt(msg.ContentAtRest)
	}
	return msgs, nil
}

func (m *Mailbox) MarkRead(ctx context.Context, messageID, userID string) error {
	return m.store.MarkMessageRead(ctx, messageID, userID)
}

func (m *Mailbox) Unread(ctx context.Context, userID string) (int64, error) {
	return m.store.GetUnreadCount(ctx, userID)
}
