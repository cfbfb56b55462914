// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package access

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/efchatnet/efguard/backend/models"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efguard_identity_cache_hits_total",
		Help: "Identity lookups answered from the cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efguard_identity_cache_misses_total",
		Help: "Identity lookups forwarded to the directory.",
	})
)

const identityCacheSize = 10000

// CachedDirectory keeps directory answers for a short TTL. Errors are not
// cached.
type CachedDirectory struct {
	next  Directory
	cache *expirable.LRU[string, models.Identity]
}

func NewCachedDirectory(next Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: expirable.NewLRU[string, models.Identity](identityCacheSize, nil, ttl),
	}
}

func (c *CachedDirectory) Lookup(ctx context.Context, id string, kind models.ActorKind) (models.Identity, error) {
	key := string(kind) + ":" + id
	if ident, ok := c.cache.Get(key); ok {
		cacheHitsTotal.Inc()
		return ident, nil
	}
	cacheMissesTotal.Inc()

	ident, err := c.next.Lookup(ctx, id, kind)
	if err != nil {
		return models.Identity{}, err
	}
	c.cache.Add(key, ident)
	return ident, nil
}

// Forget drops a cached answer, e.g. after an account is deactivated.
func (c *CachedDirectory) Forget(id string, kind models.ActorKind) {
	c.cache.Remove(string(kind) + ":" + id)
}
