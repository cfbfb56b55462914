// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"

	"github.com/efchatnet/efguard/backend/models"
)

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	return s.messages.InsertMessage(ctx, msg)
}

func (s *Store) GetMessagesForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	return s.messages.GetMessagesForUser(ctx, userID, limit)
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	return s.messages.MarkMessageRead(ctx, messageID, userID)
}

func (s *Store) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.messages.GetUnreadCount(ctx, userID)
}
