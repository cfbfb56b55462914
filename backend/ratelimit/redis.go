// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterPrefix = "ratelimit:" // ratelimit:{scope}:{actor} - action count for the current window

// Redis is a Limiter shared by every process pointed at the same server.
type Redis struct {
	rdb    *redis.Client
	scope  string
	limit  int64
	window time.Duration
}

// NewRedis scopes counters so several limiters can share one server.
func NewRedis(rdb *redis.Client, scope string, limit int, win time.Duration) *Redis {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	return &Redis{rdb: rdb, scope: scope, limit: int64(limit), window: win}
}

// Allow increments the actor's counter; the first increment of a window
// arms the expiry that closes it.
func (r *Redis) Allow(ctx context.Context, actor string) (bool, error) {
	key := counterPrefix + r.scope + ":" + actor

	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment counter: %w", err)
	}

	if n == 1 {
		if err := r.rdb.PExpire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("failed to set window expiry: %w", err)
		}
	} else {
		// A crash between INCR and PEXPIRE would leave the key immortal.
		ttl, err := r.rdb.PTTL(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("failed to read window expiry: %w", err)
		}
		if ttl < 0 {
			if err := r.rdb.PExpire(ctx, key, r.window).Err(); err != nil {
				return false, fmt.Errorf("failed to restore window expiry: %w", err)
			}
		}
	}

	return n <= r.limit, nil
}
