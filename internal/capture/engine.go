// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package capture owns the live capture lifecycle: one engine per process
// decodes raw frames into packet events and fans them out to the ring
// buffer, the persistence pipeline and the broadcast hub.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/nautscan/internal/broadcast"
	"grimm.is/nautscan/internal/buffer"
	"grimm.is/nautscan/internal/errors"
	"grimm.is/nautscan/internal/event"
	"grimm.is/nautscan/internal/heuristic"
	"grimm.is/nautscan/internal/logging"
	"grimm.is/nautscan/internal/metrics"
	"grimm.is/nautscan/internal/resolve"
)

// State is the capture lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// stopJoinTimeout bounds how long Stop waits for the capture goroutine.
// On timeout the state is forced back to Idle. Variable so tests can
// shorten the wait.
var stopJoinTimeout = 5 * time.Second

const (
	// backendRetryDelay is the pause after a capture-primitive error
	// before the batch is retried.
	backendRetryDelay = time.Second

	// minStatsWindow floors the rate divisor so statistics are
	// well-defined immediately after start.
	minStatsWindow = time.Millisecond
)

// Persister receives events for asynchronous durable storage.
type Persister interface {
	Enqueue(event.PacketEvent)
}

// Status is the externally visible snapshot of the engine.
type Status struct {
	Active          bool                  `json:"active"`
	State           State                 `json:"state"`
	Interface       string                `json:"interface"`
	PacketsCaptured int64                 `json:"packets_captured"`
	Settings        event.CaptureSettings `json:"settings"`
}

type counters struct {
	packets   int64
	bytes     int64
	tcp       int64
	udp       int64
	icmp      int64
	other     int64
	startTime time.Time
}

// Engine runs the capture loop. Exactly one engine is active per process.
type Engine struct {
	logger   *logging.Logger
	reg      *metrics.Registry
	buf      *buffer.Ring
	resolver *resolve.Resolver
	detector *heuristic.Detector
	hub      *broadcast.Hub
	pipeline Persister
	open     OpenFunc

	mu     sync.Mutex // guards state, stopCh, doneCh
	state  State
	stopCh chan struct{}
	doneCh chan struct{}

	settingsMu sync.RWMutex
	settings   event.CaptureSettings

	statsMu sync.Mutex
	stats   counters
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOpenFunc replaces the pcap open, used by tests to feed synthetic
// frames.
func WithOpenFunc(open OpenFunc) EngineOption {
	return func(e *Engine) { e.open = open }
}

// WithPersister attaches the persistence pipeline.
func WithPersister(p Persister) EngineOption {
	return func(e *Engine) { e.pipeline = p }
}

// NewEngine creates an idle engine with the given collaborators.
func NewEngine(logger *logging.Logger, reg *metrics.Registry, resolver *resolve.Resolver,
	detector *heuristic.Detector, hub *broadcast.Hub, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	settings := event.DefaultCaptureSettings()
	e := &Engine{
		logger:   logger.WithComponent("capture"),
		reg:      reg,
		buf:      buffer.NewRing(settings.MaxPackets),
		resolver: resolver,
		detector: detector,
		hub:      hub,
		open:     openLive,
		state:    StateIdle,
		settings: settings,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reg != nil {
		e.reg.BufferCapacity.Set(float64(e.buf.Cap()))
	}
	return e
}

// Start merges the optional settings patch and launches the capture
// goroutine. It returns immediately; capture runs concurrently. Starting
// while already running fails with an already-running error and changes
// nothing.
func (e *Engine) Start(patch *event.SettingsPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return errors.New(errors.KindAlreadyRunning, "packet capture is already running")
	}

	if patch != nil {
		e.applyPatch(*patch)
	}
	settings := e.Settings()

	e.statsMu.Lock()
	e.stats = counters{startTime: time.Now()}
	e.statsMu.Unlock()

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.state = StateRunning

	go e.run(settings, e.stopCh, e.doneCh)

	e.logger.Info("Started packet capture",
		"interface", displayInterface(settings.Interface),
		"filter", settings.Filter,
		"promiscuous", settings.Promiscuous)
	return nil
}

// Stop signals the capture goroutine and waits for it with a bounded
// timeout. Stopping an idle engine is a no-op. On join timeout the
// anomaly is logged and the state is forced back to Idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	if e.state == StateRunning {
		e.state = StateStopping
		close(e.stopCh)
	}
	done := e.doneCh
	e.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		e.logger.Warn("Capture goroutine did not stop within timeout, forcing idle")
	}

	// Only reset state if no newer session has started since; a stale
	// run must never clobber a successor's Running state.
	e.mu.Lock()
	if e.doneCh == done {
		e.state = StateIdle
	}
	e.mu.Unlock()
	e.logger.Info("Stopped packet capture", "packets", e.Stats().TotalPackets)
}

// UpdateSettings applies a partial update while capture keeps running.
// The capture goroutine observes the change at its next batch iteration;
// a buffer-size change resizes the ring immediately and atomically.
func (e *Engine) UpdateSettings(patch event.SettingsPatch) event.CaptureSettings {
	e.applyPatch(patch)
	s := e.Settings()
	e.logger.Info("Updated capture settings", "interface", displayInterface(s.Interface),
		"filter", s.Filter, "max_packets", s.MaxPackets)
	return s
}

func (e *Engine) applyPatch(patch event.SettingsPatch) {
	e.settingsMu.Lock()
	old := e.settings
	e.settings = patch.Apply(e.settings)
	resized := e.settings.MaxPackets != old.MaxPackets && e.settings.MaxPackets > 0
	newCap := e.settings.MaxPackets
	e.settingsMu.Unlock()

	if resized {
		e.buf.Resize(newCap)
		if e.reg != nil {
			e.reg.BufferCapacity.Set(float64(newCap))
			e.reg.BufferSize.Set(float64(e.buf.Len()))
		}
	}
}

// Settings returns a read-only snapshot of the current settings.
func (e *Engine) Settings() event.CaptureSettings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the externally visible engine snapshot.
func (e *Engine) Status() Status {
	st := e.State()
	s := e.Settings()
	e.statsMu.Lock()
	packets := e.stats.packets
	e.statsMu.Unlock()
	return Status{
		Active:          st == StateRunning,
		State:           st,
		Interface:       displayInterface(s.Interface),
		PacketsCaptured: packets,
		Settings:        s,
	}
}

// Stats recomputes traffic statistics from the running counters.
func (e *Engine) Stats() event.TrafficStats {
	e.statsMu.Lock()
	c := e.stats
	e.statsMu.Unlock()

	stats := event.TrafficStats{
		TotalPackets:  c.packets,
		TCPPackets:    c.tcp,
		UDPPackets:    c.udp,
		ICMPPackets:   c.icmp,
		OtherPackets:  c.other,
		BytesReceived: c.bytes,
		IsCapturing:   e.State() == StateRunning,
		StartTime:     c.startTime,
	}
	if !c.startTime.IsZero() {
		window := time.Since(c.startTime)
		if window < minStatsWindow {
			window = minStatsWindow
		}
		secs := window.Seconds()
		stats.PacketsPerSecond = float64(c.packets) / secs
		stats.BytesPerSecond = float64(c.bytes) / secs
	}
	return stats
}

// Recent returns up to limit buffered events newest-first without
// consuming them.
func (e *Engine) Recent(limit int) []event.PacketEvent {
	return e.buf.Snapshot(limit)
}

// run is the capture goroutine. Backend errors are contained here: they
// are logged and retried, never propagated.
func (e *Engine) run(settings event.CaptureSettings, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		// Generation check: if Stop forced Idle after a join timeout and
		// a new session started, this goroutine is stale and must not
		// touch the successor's state.
		e.mu.Lock()
		if e.doneCh == doneCh {
			e.state = StateIdle
		}
		e.mu.Unlock()
		close(doneCh)
	}()

	var src FrameSource
	defer func() {
		if src != nil {
			src.Close()
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if src == nil {
			var err error
			src, err = e.open(settings)
			if err != nil {
				e.logger.Error("Failed to open capture source, retrying", "error", err)
				if e.reg != nil {
					e.reg.CaptureErrors.Inc()
				}
				if !sleepInterruptible(stopCh, backendRetryDelay) {
					return
				}
				continue
			}
		}

		// Settings updates are observed here, at batch granularity.
		settings = e.Settings()
		if e.limitReached(settings) {
			e.logger.Info("Capture limit reached, stopping")
			return
		}

		data, ci, err := src.ReadPacketData()
		if err == ErrReadTimeout {
			continue
		}
		if err != nil {
			e.logger.Error("Capture read failed, retrying batch", "error", err)
			if e.reg != nil {
				e.reg.CaptureErrors.Inc()
			}
			if !sleepInterruptible(stopCh, backendRetryDelay) {
				return
			}
			continue
		}

		ev := decodeFrame(data, src.LinkType(), ci, settings)
		if ev == nil {
			continue
		}
		e.process(ev, settings)
	}
}

// process classifies, resolves and fans one event out to the buffer, the
// broadcast hub and the persistence pipeline. The three sinks fail
// independently; none of them blocks the loop.
func (e *Engine) process(ev *event.PacketEvent, settings event.CaptureSettings) {
	ev.SourceDeviceName = e.resolver.Resolve(ev.SourceIP)
	ev.DestinationDevName = e.resolver.Resolve(ev.DestinationIP)
	connID := ev.ID
	ev.ConnectionID = &connID

	if malicious, category := e.detector.Classify(ev); malicious {
		ev.IsMalicious = true
		ev.ThreatCategory = &category
		if e.reg != nil {
			e.reg.PacketsMalicious.Inc()
		}
	}

	e.statsMu.Lock()
	e.stats.packets++
	e.stats.bytes += int64(ev.Length)
	switch ev.Protocol {
	case event.ProtocolTCP:
		e.stats.tcp++
	case event.ProtocolUDP:
		e.stats.udp++
	case event.ProtocolICMP:
		e.stats.icmp++
	default:
		e.stats.other++
	}
	e.statsMu.Unlock()

	e.buf.Push(*ev)
	if e.reg != nil {
		e.reg.PacketsCaptured.WithLabelValues(string(ev.Protocol)).Inc()
		e.reg.BufferSize.Set(float64(e.buf.Len()))
	}

	if e.hub != nil {
		e.hub.Broadcast(broadcast.ChannelTraffic, ev)
		if ev.IsMalicious {
			e.hub.Broadcast(broadcast.ChannelAlerts, e.alertFor(ev))
		}
	}

	if settings.SaveToDatabase && e.pipeline != nil {
		e.pipeline.Enqueue(*ev)
	}
}

func (e *Engine) alertFor(ev *event.PacketEvent) event.Alert {
	category := ""
	if ev.ThreatCategory != nil {
		category = *ev.ThreatCategory
	}
	return event.Alert{
		ID:        uuid.NewString(),
		Level:     event.LevelWarning,
		Category:  category,
		Message:   fmt.Sprintf("suspicious %s traffic from %s to %s", ev.Protocol, ev.SourceIP, ev.DestinationIP),
		Timestamp: time.Now(),
		Event:     ev,
	}
}

func (e *Engine) limitReached(settings event.CaptureSettings) bool {
	if !settings.CaptureLimit.Enabled {
		return false
	}
	e.statsMu.Lock()
	packets := e.stats.packets
	start := e.stats.startTime
	e.statsMu.Unlock()

	if settings.CaptureLimit.Packets > 0 && packets >= int64(settings.CaptureLimit.Packets) {
		return true
	}
	if settings.CaptureLimit.Duration > 0 && time.Since(start) >= settings.CaptureLimit.Duration {
		return true
	}
	return false
}

// sleepInterruptible waits for d unless the stop signal fires first.
// It reports whether the caller should keep running.
func sleepInterruptible(stopCh <-chan struct{}, d time.Duration) bool {
	select {
	case <-stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func displayInterface(iface string) string {
	if iface == "" {
		return "any"
	}
	return iface
}
