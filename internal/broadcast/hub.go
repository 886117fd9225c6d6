// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package broadcast fans captured events out to live subscribers. The hub
// is fire-and-forget from the capture loop's perspective: a slow or dead
// subscriber is dropped, never waited on.
package broadcast

import (
	"sync"
	"time"

	"grimm.is/nautscan/internal/logging"
	"grimm.is/nautscan/internal/metrics"
)

// Channel is a named category of subscribers.
type Channel string

const (
	ChannelTraffic Channel = "traffic"
	ChannelStats   Channel = "stats"
	ChannelAlerts  Channel = "alerts"
)

// Channels lists every broadcast channel.
var Channels = []Channel{ChannelTraffic, ChannelStats, ChannelAlerts}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelTraffic, ChannelStats, ChannelAlerts:
		return true
	}
	return false
}

// Message is the envelope delivered to subscribers.
type Message struct {
	Channel   Channel   `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Sink receives broadcast messages. Send must not block indefinitely: a
// sink that cannot accept a message returns an error and is dropped from
// every channel. A dropped sink that also implements Close is closed so
// its underlying transport is released.
type Sink interface {
	Send(Message) error
}

// Hub maintains one subscriber set per channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Channel]map[Sink]struct{}
	logger *logging.Logger
	reg    *metrics.Registry
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger, reg *metrics.Registry) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	subs := make(map[Channel]map[Sink]struct{}, len(Channels))
	for _, ch := range Channels {
		subs[ch] = make(map[Sink]struct{})
	}
	return &Hub{
		subs:   subs,
		logger: logger.WithComponent("broadcast"),
		reg:    reg,
	}
}

// Subscribe binds a sink to one channel.
func (h *Hub) Subscribe(sink Sink, ch Channel) {
	if !ch.Valid() {
		return
	}
	h.mu.Lock()
	h.subs[ch][sink] = struct{}{}
	h.mu.Unlock()
	h.updateGauges()
}

// Unsubscribe removes a sink from all channels.
func (h *Hub) Unsubscribe(sink Sink) {
	h.mu.Lock()
	for _, set := range h.subs {
		delete(set, sink)
	}
	h.mu.Unlock()
	h.updateGauges()
}

// Count returns the number of subscribers on a channel.
func (h *Hub) Count(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ch])
}

// Broadcast stamps the message and delivers it to every subscriber of the
// channel. A subscriber whose delivery fails is assumed disconnected and
// removed from all channels; delivery to the rest proceeds.
func (h *Hub) Broadcast(ch Channel, data any) {
	msg := Message{Channel: ch, Timestamp: time.Now(), Data: data}

	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.subs[ch]))
	for s := range h.subs[ch] {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	var failed []Sink
	for _, s := range sinks {
		if err := s.Send(msg); err != nil {
			failed = append(failed, s)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, s := range failed {
		for _, set := range h.subs {
			delete(set, s)
		}
	}
	h.mu.Unlock()
	for _, s := range failed {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
	if h.reg != nil {
		h.reg.BroadcastDrops.WithLabelValues(string(ch)).Add(float64(len(failed)))
	}
	h.logger.Debug("Dropped unreachable subscribers", "channel", ch, "count", len(failed))
	h.updateGauges()
}

func (h *Hub) updateGauges() {
	if h.reg == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, set := range h.subs {
		h.reg.Subscribers.WithLabelValues(string(ch)).Set(float64(len(set)))
	}
}
