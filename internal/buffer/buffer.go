// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package buffer provides the bounded in-memory packet queue that serves
// low-latency "recent packets" reads.
package buffer

import (
	"sync"

	"grimm.is/nautscan/internal/event"
)

// Ring is a fixed-capacity FIFO of packet events with a drop-oldest
// overflow policy: once full, pushing evicts the oldest entry so the ring
// always holds the most recent N events. Push never blocks the producer.
type Ring struct {
	mu    sync.Mutex
	items []event.PacketEvent
	head  int // index of oldest entry
	size  int
}

// NewRing creates a ring with the given capacity. Capacity must be
// positive; values below 1 are clamped to 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{items: make([]event.PacketEvent, capacity)}
}

// Push inserts an event, evicting the oldest entry when full.
func (r *Ring) Push(ev event.PacketEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.size) % len(r.items)
	r.items[tail] = ev
	if r.size < len(r.items) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.items)
	}
}

// Snapshot returns up to limit events newest-first without removing them.
// limit <= 0 returns everything held.
func (r *Ring) Snapshot(limit int) []event.PacketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]event.PacketEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.size - 1 - i) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}

// Drain removes and returns up to limit events newest-first.
// limit <= 0 drains everything.
func (r *Ring) Drain(limit int) []event.PacketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]event.PacketEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.size - 1 - i) % len(r.items)
		out = append(out, r.items[idx])
		r.items[idx] = event.PacketEvent{}
	}
	r.size -= n
	return out
}

// Resize atomically replaces the backing storage, preserving as many of
// the most recent entries as fit in the new capacity. Entries that do not
// fit are discarded oldest first.
func (r *Ring) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := r.size
	if keep > capacity {
		keep = capacity
	}
	items := make([]event.PacketEvent, capacity)
	// Copy the newest `keep` entries in oldest-first order.
	start := r.size - keep
	for i := 0; i < keep; i++ {
		items[i] = r.items[(r.head+start+i)%len(r.items)]
	}
	r.items = items
	r.head = 0
	r.size = keep
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the current capacity.
func (r *Ring) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
