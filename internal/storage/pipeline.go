// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package storage

import (
	"sync"
	"time"

	"grimm.is/nautscan/internal/clock"
	"grimm.is/nautscan/internal/event"
	"grimm.is/nautscan/internal/logging"
	"grimm.is/nautscan/internal/metrics"
)

const (
	// DefaultQueueSize bounds the asynchronous write queue. A full queue
	// drops events: persistence is at-most-once.
	DefaultQueueSize = 1024

	// DefaultHousekeepingInterval is how often expired records are purged.
	DefaultHousekeepingInterval = 24 * time.Hour
)

// Pipeline decouples the capture loop from durable storage. Enqueue hands
// an event to a dedicated writer goroutine and never blocks; a second
// goroutine runs periodic housekeeping independent of capture activity.
type Pipeline struct {
	store    *Store
	logger   *logging.Logger
	reg      *metrics.Registry
	clk      clock.Clock
	interval time.Duration

	queue  chan event.PacketEvent
	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithQueueSize sets the write queue capacity.
func WithQueueSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.queue = make(chan event.PacketEvent, n)
		}
	}
}

// WithHousekeepingInterval sets the purge schedule.
func WithHousekeepingInterval(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPipelineClock injects a clock for tests.
func WithPipelineClock(c clock.Clock) PipelineOption {
	return func(p *Pipeline) { p.clk = c }
}

// NewPipeline creates a persistence pipeline over the given store.
func NewPipeline(store *Store, logger *logging.Logger, reg *metrics.Registry, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pipeline{
		store:    store,
		logger:   logger.WithComponent("persistence"),
		reg:      reg,
		clk:      clock.Real{},
		interval: DefaultHousekeepingInterval,
		queue:    make(chan event.PacketEvent, DefaultQueueSize),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the writer and housekeeping goroutines.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(2)
		go p.writeLoop()
		go p.housekeepingLoop()
		p.logger.Info("Persistence pipeline started",
			"queue_size", cap(p.queue), "housekeeping_interval", p.interval)
	})
}

// Stop drains queued events and waits for both goroutines to exit.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info("Persistence pipeline stopped")
}

// Enqueue hands an event to the writer. It never blocks; when the queue
// is full the event is dropped and counted.
func (p *Pipeline) Enqueue(ev event.PacketEvent) {
	select {
	case p.queue <- ev:
		if p.reg != nil {
			p.reg.PersistenceQueue.Set(float64(len(p.queue)))
		}
	default:
		if p.reg != nil {
			p.reg.PersistenceDrops.Inc()
		}
		p.logger.Warn("Persistence queue full, dropping event", "id", ev.ID)
	}
}

func (p *Pipeline) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		case <-p.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-p.queue:
					p.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) write(ev event.PacketEvent) {
	if p.reg != nil {
		p.reg.PersistenceQueue.Set(float64(len(p.queue)))
	}
	if err := p.store.InsertPacket(ev); err != nil {
		// Write failures drop the event; the next one proceeds normally.
		if p.reg != nil {
			p.reg.PersistenceErrors.Inc()
		}
		p.logger.Error("Failed to persist packet", "id", ev.ID, "error", err)
	}
}

func (p *Pipeline) housekeepingLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.RunHousekeeping(); err != nil {
				p.logger.Error("Housekeeping pass failed", "error", err)
			}
		case <-p.stopCh:
			return
		}
	}
}

// RunHousekeeping deletes expired records once and returns the count.
// Safe to run with no active capture; records with a NULL expiration
// (malicious) are never deleted.
func (p *Pipeline) RunHousekeeping() (int64, error) {
	deleted, err := p.store.DeleteExpired(p.clk.Now())
	if err != nil {
		return 0, err
	}
	if p.reg != nil {
		p.reg.HousekeepingRuns.Inc()
		p.reg.ExpiredDeleted.Add(float64(deleted))
	}
	p.logger.Info("Housekeeping complete", "deleted", deleted)
	return deleted, nil
}
