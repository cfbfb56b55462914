// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efguard/backend/models"
)

const (
	// Messages expire after 30 days unless the store is built with another TTL
	DefaultMessageTTL = 30 * 24 * time.Hour

	// Redis key prefixes
	msgQueuePrefix  = "gate:queue:"  // gate:queue:{userId} - list of message IDs
	msgPrefix       = "gate:msg:"    // gate:msg:{messageId} - message JSON
	msgUnreadPrefix = "gate:unread:" // gate:unread:{userId} - set of unread message IDs
	msgNotifyPrefix = "gate:notify:" // gate:notify:{userId} - pub/sub channel
)

type MessageStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMessageStore(rdb *redis.Client, ttl time.Duration) *MessageStore {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &MessageStore{rdb: rdb, ttl: ttl}
}

// InsertMessage stores an accepted message for its receiver. Only
// ContentAtRest is serialized.
func (s *MessageStore) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	queueKey := msgQueuePrefix + msg.ReceiverID
	unreadKey := msgUnreadPrefix + msg.ReceiverID

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, msgPrefix+msg.MessageID, data, s.ttl)
	pipe.RPush(ctx, queueKey, msg.MessageID)
	pipe.Expire(ctx, queueKey, s.ttl)
	pipe.SAdd(ctx, unreadKey, msg.MessageID)
	pipe.Expire(ctx, unreadKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store message: %w", err)
	}

	// Publish notification for real-time delivery
	notification, _ := json.Marshal(map[string]string{
		"type":        "new_message",
		"message_id":  msg.MessageID,
		"sender_id":   msg.SenderID,
		"sender_kind": string(msg.SenderKind),
		"kind":        string(msg.Kind),
	})
	s.rdb.Publish(ctx, msgNotifyPrefix+msg.ReceiverID, notification)

	return msg.MessageID, nil
}

// GetMessagesForUser returns up to limit messages, newest first.
func (s *MessageStore) GetMessagesForUser(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	queueKey := msgQueuePrefix + userID

	messageIDs, err := s.rdb.LRange(ctx, queueKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get message queue: %w", err)
	}

	unread, err := s.rdb.SMembersMap(ctx, msgUnreadPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get unread set: %w", err)
	}

	msgs := make([]*models.Message, 0, len(messageIDs))
	for i := len(messageIDs) - 1; i >= 0; i-- { // Reverse to get newest first
		data, err := s.rdb.Get(ctx, msgPrefix+messageIDs[i]).Result()
		if err == redis.Nil {
			// Message expired, remove from queue
			s.rdb.LRem(ctx, queueKey, 1, messageIDs[i])
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get message: %w", err)
		}

		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue // Skip malformed messages
		}
		_, isUnread := unread[msg.MessageID]
		msg.ReadFlag = !isUnread
		msgs = append(msgs, &msg)
	}

	return msgs, nil
}

// MarkMessageRead clears the unread flag. Only the receiver may do this.
func (s *MessageStore) MarkMessageRead(ctx context.Context, messageID, userID string) error {
	messageKey := msgPrefix + messageID
	data, err := s.rdb.Get(ctx, messageKey).Result()
	if err == redis.Nil {
		return models.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.ReceiverID != userID {
		return models.ErrNotFound
	}

	if err := s.rdb.SRem(ctx, msgUnreadPrefix+userID, messageID).Err(); err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}

	now := time.Now().UTC()
	msg.ReadFlag = true
	msg.ReadAt = &now
	if updated, err := json.Marshal(msg); err == nil {
		s.rdb.SetArgs(ctx, messageKey, updated, redis.SetArgs{KeepTTL: true})
	}
	return nil
}

// GetUnreadCount returns the number of unread messages for a user
func (s *MessageStore) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.rdb.SCard(ctx, msgUnreadPrefix+userID).Result()
}

// SubscribeToMessages subscribes to new-message notifications for a user
func (s *MessageStore) SubscribeToMessages(ctx context.Context, userID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, msgNotifyPrefix+userID)
}

// CleanupExpiredMessages drops queue and unread entries whose message has
// expired. Run it periodically.
func (s *MessageStore) CleanupExpiredMessages(ctx context.Context) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, msgQueuePrefix+"*", 0).Iterator()

	for iter.Next(ctx) {
		queueKey := iter.Val()
		userID := queueKey[len(msgQueuePrefix):]

		messageIDs, err := s.rdb.LRange(ctx, queueKey, 0, -1).Result()
		if err != nil {
			continue
		}

		for _, messageID := range messageIDs {
			if s.rdb.Exists(ctx, msgPrefix+messageID).Val() == 0 {
				s.rdb.LRem(ctx, queueKey, 1, messageID)
				s.rdb.SRem(ctx, msgUnreadPrefix+userID, messageID)
				removed++
			}
		}

		// Remove empty queues
		if s.rdb.LLen(ctx, queueKey).Val() == 0 {
			s.rdb.Del(ctx, queueKey)
		}
	}

	return removed, iter.Err()
}
