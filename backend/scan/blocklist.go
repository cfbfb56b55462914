// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/efchatnet/efguard/backend/models"
)

// HashLedger is the authoritative record of hashes that were quarantined.
// FindQuarantinedByHash returns models.ErrNotFound when it has no record.
type HashLedger interface {
	FindQuarantinedByHash(ctx context.Context, contentHash string) (*models.QuarantineRecord, error)
}

// Blocklist remembers content hashes that already produced an unsafe
// verdict. A bloom filter keeps the common miss path off the ledger; a
// filter hit is confirmed against the ledger before rejecting.
type Blocklist struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	ledger HashLedger
}

// NewBlocklist sizes the filter for expected entries at a 0.1% false
// positive rate.
func NewBlocklist(ledger HashLedger, expected uint) *Blocklist {
	if expected == 0 {
		expected = 100000
	}
	return &Blocklist{
		filter: bloom.NewWithEstimates(expected, 0.001),
		ledger: ledger,
	}
}

// Add records a malicious hash.
func (b *Blocklist) Add(contentHash string) {
	if contentHash == "" {
		return
	}
	b.mu.Lock()
	b.filter.AddString(contentHash)
	b.mu.Unlock()
}

// Seed adds every hash in hashes, typically loaded from the ledger at startup.
func (b *Blocklist) Seed(hashes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range hashes {
		if h != "" {
			b.filter.AddString(h)
		}
	}
}

// Lookup reports the original reason a hash was quarantined, if it was.
func (b *Blocklist) Lookup(ctx context.Context, contentHash string) (models.ReasonCode, bool, error) {
	b.mu.RLock()
	maybe := b.filter.TestString(contentHash)
	b.mu.RUnlock()
	if !maybe {
		return models.ReasonNone, false, nil
	}

	rec, err := b.ledger.FindQuarantinedByHash(ctx, contentHash)
	if errors.Is(err, models.ErrNotFound) {
		return models.ReasonNone, false, nil
	}
	if err != nil {
		return models.ReasonNone, false, fmt.Errorf("confirm blocklisted hash: %w", err)
	}
	return rec.ReasonCode, true, nil
}
