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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efguard/backend/models"
	redisStore "github.com/efchatnet/efguard/backend/storage/redis"
)

type Store struct {
	db       *sql.DB
	redis    *redis.Client
	messages *redisStore.MessageStore
}

// NewStore keeps directory, audit and quarantine data in Postgres and
// message bodies in Redis.
func NewStore(db *sql.DB, rdb *redis.Client, messageTTL time.Duration) *Store {
	return &Store{
		db:       db,
		redis:    rdb,
		messages: redisStore.NewMessageStore(rdb, messageTTL),
	}
}

// Messages exposes the Redis side for pub/sub and cleanup.
func (s *Store) Messages() *redisStore.MessageStore {
	return s.messages
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func directoryTable(kind models.ActorKind) (string, bool) {
	switch kind {
	case models.ActorUser:
		return "users", true
	case models.ActorLawyer:
		return "lawyers", true
	}
	return "", false
}

// Lookup answers from the users or lawyers table depending on kind.
func (s *Store) Lookup(ctx context.Context, id string, kind models.ActorKind) (models.Identity, error) {
	table, ok := directoryTable(kind)
	if !ok {
		return models.Identity{}, nil
	}

	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT active FROM `+table+` WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Identity{}, nil
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to look up %s %s: %w", kind, id, err)
	}
	return models.Identity{Exists: true, Active: active}, nil
}

func (s *Store) UpsertIdentity(ctx context.Context, id string, kind models.ActorKind, active bool) error {
	table, ok := directoryTable(kind)
	if !ok {
		return fmt.Errorf("unknown identity kind %q", kind)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, active, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET active = $2`,
		id, active, time.Now().UTC())
	return err
}
