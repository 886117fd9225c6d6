// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"sync"
	"time"

	"grimm.is/nautscan/internal/broadcast"
	"grimm.is/nautscan/internal/capture"
	"grimm.is/nautscan/internal/logging"
)

// DefaultStatsInterval is the default period between stats pushes.
const DefaultStatsInterval = time.Second

// StatsPusher periodically publishes traffic statistics on the stats
// channel. Pushes are skipped while nobody is subscribed.
type StatsPusher struct {
	logger   *logging.Logger
	engine   *capture.Engine
	hub      *broadcast.Hub
	interval time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewStatsPusher creates a stats pusher with the given period.
func NewStatsPusher(logger *logging.Logger, engine *capture.Engine, hub *broadcast.Hub, interval time.Duration) *StatsPusher {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &StatsPusher{
		logger:   logger.WithComponent("stats"),
		engine:   engine,
		hub:      hub,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the push loop.
func (p *StatsPusher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.loop()
		p.logger.Debug("stats pusher started", "interval", p.interval)
	})
}

// Stop terminates the push loop and waits for it.
func (p *StatsPusher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
	})
}

func (p *StatsPusher) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.hub.Count(broadcast.ChannelStats) == 0 {
				continue
			}
			p.hub.Broadcast(broadcast.ChannelStats, p.engine.Stats())
		}
	}
}
