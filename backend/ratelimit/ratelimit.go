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

// Package ratelimit caps how many actions one actor may perform per window.
// The window is fixed and anchored at the actor's first action; once it
// elapses the count starts over.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultLimit  = 30
	DefaultWindow = time.Minute

	// maxTrackedActors bounds memory; the least recently active actor is
	// evicted first, which at worst hands it a fresh window.
	maxTrackedActors = 100000
)

// Limiter admits or refuses one action for an actor.
type Limiter interface {
	Allow(ctx context.Context, actor string) (bool, error)
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// Memory is a single-process Limiter. Windows live in a TTL cache so idle
// actors are evicted without a cleanup goroutine.
type Memory struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

func NewMemory(limit int, win time.Duration) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	return &Memory{
		limit:   limit,
		window:  win,
		windows: expirable.NewLRU[string, *window](maxTrackedActors, nil, win),
		now:     time.Now,
	}
}

// Allow counts one action for actor and reports whether it is within the cap.
func (m *Memory) Allow(_ context.Context, actor string) (bool, error) {
	w := m.windowFor(actor)
	now := m.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.start) >= m.window {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count <= m.limit, nil
}

func (m *Memory) windowFor(actor string) *window {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows.Get(actor); ok {
		return w
	}
	w := &window{start: m.now()}
	m.windows.Add(actor, w)
	return w
}
