// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nautscan/internal/broadcast"
	"grimm.is/nautscan/internal/errors"
	"grimm.is/nautscan/internal/event"
	"grimm.is/nautscan/internal/heuristic"
	"grimm.is/nautscan/internal/resolve"
)

// fakeSource replays queued frames, then reports read timeouts forever.
type fakeSource struct {
	mu     sync.Mutex
	frames [][]byte
	idx    int
	closed bool
}

func (f *fakeSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		time.Sleep(time.Millisecond)
		return nil, gopacket.CaptureInfo{}, ErrReadTimeout
	}
	data := f.frames[f.idx]
	f.idx++
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), Length: len(data), CaptureLength: len(data)}
	return data, ci, nil
}

func (f *fakeSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (f *fakeSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// chanSink collects hub deliveries for assertions.
type chanSink struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (s *chanSink) Send(msg broadcast.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *chanSink) received() []broadcast.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broadcast.Message(nil), s.msgs...)
}

// fakePersister records enqueued events.
type fakePersister struct {
	mu     sync.Mutex
	events []event.PacketEvent
}

func (p *fakePersister) Enqueue(ev event.PacketEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *fakePersister) persisted() []event.PacketEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.PacketEvent(nil), p.events...)
}

func noLookup(ctx context.Context, addr string) ([]string, error) {
	return nil, fmt.Errorf("no dns in tests")
}

func newTestEngine(t *testing.T, src *fakeSource, opts ...EngineOption) *Engine {
	t.Helper()
	resolver := resolve.New(nil, resolve.WithLookupFunc(noLookup))
	detector := heuristic.NewDetector(heuristic.DefaultConfig())
	hub := broadcast.NewHub(nil, nil)
	open := func(settings event.CaptureSettings) (FrameSource, error) { return src, nil }
	opts = append([]EngineOption{WithOpenFunc(open)}, opts...)
	e := NewEngine(nil, nil, resolver, detector, hub, opts...)
	t.Cleanup(e.Stop)
	return e
}

func TestEngine_StartWhileRunningFails(t *testing.T) {
	e := newTestEngine(t, &fakeSource{})

	require.NoError(t, e.Start(nil))
	assert.Equal(t, StateRunning, e.State())

	err := e.Start(nil)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyRunning(err))
	assert.Equal(t, StateRunning, e.State())

	e.Stop()
	assert.Equal(t, StateIdle, e.State())
}

// stuckSource blocks its first read until released, then reports read
// timeouts forever.
type stuckSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stuckSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil, gopacket.CaptureInfo{}, ErrReadTimeout
}

func (s *stuckSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *stuckSource) Close() {}

func TestEngine_StaleRunDoesNotClobberNewSession(t *testing.T) {
	oldTimeout := stopJoinTimeout
	stopJoinTimeout = 50 * time.Millisecond
	defer func() { stopJoinTimeout = oldTimeout }()

	stuck := &stuckSource{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, &fakeSource{})
	var mu sync.Mutex
	calls := 0
	e.open = func(settings event.CaptureSettings) (FrameSource, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return stuck, nil
		}
		return &fakeSource{}, nil
	}

	require.NoError(t, e.Start(nil))
	<-stuck.entered

	// The first run is wedged in a read, so the join times out and the
	// state is forced back to idle.
	e.Stop()
	require.Equal(t, StateIdle, e.State())

	require.NoError(t, e.Start(nil))
	require.Equal(t, StateRunning, e.State())

	// Releasing the wedged goroutine lets it exit; the new session must
	// stay running.
	close(stuck.release)
	assert.Never(t, func() bool { return e.State() != StateRunning },
		200*time.Millisecond, 10*time.Millisecond)

	err := e.Start(nil)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyRunning(err))
}

func TestEngine_StopIdleIsNoop(t *testing.T) {
	e := newTestEngine(t, &fakeSource{})
	e.Stop()
	e.Stop()
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_StopClosesSource(t *testing.T) {
	src := &fakeSource{}
	e := newTestEngine(t, src)

	require.NoError(t, e.Start(nil))
	e.Stop()

	assert.True(t, src.isClosed())
}

func TestEngine_PacketLimitStopsCapture(t *testing.T) {
	frames := make([][]byte, 7)
	for i := range frames {
		frames[i] = tcpFrame(t, "10.0.0.5", "10.0.0.6", 50001+i, 80, nil, nil)
	}
	e := newTestEngine(t, &fakeSource{frames: frames})

	limit := event.CaptureLimit{Enabled: true, Packets: 5}
	require.NoError(t, e.Start(&event.SettingsPatch{CaptureLimit: &limit}))

	assert.Eventually(t, func() bool { return e.State() == StateIdle }, 2*time.Second, 5*time.Millisecond,
		"engine must stop itself once the packet limit is hit")

	recent := e.Recent(10)
	require.Len(t, recent, 5)
	// Newest first: the fifth frame captured leads.
	for i, ev := range recent {
		assert.Equal(t, 50005-i, *ev.SourcePort)
	}
	assert.Equal(t, int64(5), e.Stats().TotalPackets)
}

func TestEngine_DurationLimitStopsCapture(t *testing.T) {
	e := newTestEngine(t, &fakeSource{})

	limit := event.CaptureLimit{Enabled: true, Duration: 20 * time.Millisecond}
	require.NoError(t, e.Start(&event.SettingsPatch{CaptureLimit: &limit}))

	assert.Eventually(t, func() bool { return e.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_BufferDropsOldest(t *testing.T) {
	frames := make([][]byte, 7)
	for i := range frames {
		frames[i] = tcpFrame(t, "10.0.0.5", "10.0.0.6", 50001+i, 80, nil, nil)
	}
	e := newTestEngine(t, &fakeSource{frames: frames})

	maxPackets := 3
	require.NoError(t, e.Start(&event.SettingsPatch{MaxPackets: &maxPackets}))

	assert.Eventually(t, func() bool { return e.Status().PacketsCaptured == 7 }, 2*time.Second, 5*time.Millisecond)
	e.Stop()

	recent := e.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, 50007, *recent[0].SourcePort)
	assert.Equal(t, 50006, *recent[1].SourcePort)
	assert.Equal(t, 50005, *recent[2].SourcePort)
}

func TestEngine_MaliciousClassification(t *testing.T) {
	// Destination port 4444 plus RST,ACK both match the default indicators.
	frames := [][]byte{
		tcpFrame(t, "192.168.1.9", "10.0.0.6", 51000, 4444, func(tcp *layers.TCP) {
			tcp.RST = true
			tcp.ACK = true
		}, nil),
		tcpFrame(t, "192.168.1.9", "10.0.0.6", 51001, 80, nil, nil),
	}
	persister := &fakePersister{}
	e := newTestEngine(t, &fakeSource{frames: frames}, WithPersister(persister))

	alerts := &chanSink{}
	e.hub.Subscribe(alerts, broadcast.ChannelAlerts)

	require.NoError(t, e.Start(nil))
	assert.Eventually(t, func() bool { return len(persister.persisted()) == 2 }, 2*time.Second, 5*time.Millisecond)
	e.Stop()

	events := persister.persisted()
	require.Len(t, events, 2)

	bad := events[0]
	assert.True(t, bad.IsMalicious)
	require.NotNil(t, bad.ThreatCategory)
	assert.Equal(t, heuristic.DefaultCategory, *bad.ThreatCategory)
	require.NotNil(t, bad.SourceDeviceName)
	assert.Equal(t, "Private Network", *bad.SourceDeviceName)

	assert.False(t, events[1].IsMalicious)
	assert.Nil(t, events[1].ThreatCategory)

	// Exactly one alert, for the malicious frame.
	msgs := alerts.received()
	require.Len(t, msgs, 1)
	alert, ok := msgs[0].Data.(event.Alert)
	require.True(t, ok)
	assert.Equal(t, event.LevelWarning, alert.Level)
	assert.Equal(t, heuristic.DefaultCategory, alert.Category)
	require.NotNil(t, alert.Event)
	assert.Equal(t, bad.ID, alert.Event.ID)
}

func TestEngine_SaveToDatabaseDisabledSkipsPersistence(t *testing.T) {
	frames := [][]byte{tcpFrame(t, "10.0.0.5", "10.0.0.6", 51000, 80, nil, nil)}
	persister := &fakePersister{}
	e := newTestEngine(t, &fakeSource{frames: frames}, WithPersister(persister))

	save := false
	require.NoError(t, e.Start(&event.SettingsPatch{SaveToDatabase: &save}))

	assert.Eventually(t, func() bool { return e.Status().PacketsCaptured == 1 }, 2*time.Second, 5*time.Millisecond)
	e.Stop()

	assert.Empty(t, persister.persisted())
	assert.Len(t, e.Recent(10), 1)
}

func TestEngine_UpdateSettingsResizesBuffer(t *testing.T) {
	e := newTestEngine(t, &fakeSource{})
	require.Equal(t, event.DefaultCaptureSettings().MaxPackets, e.buf.Cap())

	maxPackets := 10
	s := e.UpdateSettings(event.SettingsPatch{MaxPackets: &maxPackets})

	assert.Equal(t, 10, s.MaxPackets)
	assert.Equal(t, 10, e.buf.Cap())
}

func TestEngine_OpenFailureRetriesUntilStopped(t *testing.T) {
	e := newTestEngine(t, &fakeSource{})
	e.open = func(settings event.CaptureSettings) (FrameSource, error) {
		return nil, errors.New(errors.KindCaptureBackend, "no such device")
	}

	require.NoError(t, e.Start(nil))
	assert.Equal(t, StateRunning, e.State())

	// The retry sleep is interruptible; Stop must not wait out the delay.
	start := time.Now()
	e.Stop()
	assert.Less(t, time.Since(start), stopJoinTimeout)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_StatusReflectsSettings(t *testing.T) {
	e := newTestEngine(t, &fakeSource{})

	st := e.Status()
	assert.False(t, st.Active)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "any", st.Interface)

	iface := "eth0"
	e.UpdateSettings(event.SettingsPatch{Interface: &iface})
	assert.Equal(t, "eth0", e.Status().Interface)
}

func TestEngine_StatsRates(t *testing.T) {
	frames := [][]byte{
		tcpFrame(t, "10.0.0.5", "10.0.0.6", 51000, 80, nil, nil),
		udpFrame(t, "10.0.0.5", "8.8.8.8", 40000, 53),
	}
	e := newTestEngine(t, &fakeSource{frames: frames})

	require.NoError(t, e.Start(nil))
	assert.Eventually(t, func() bool { return e.Stats().TotalPackets == 2 }, 2*time.Second, 5*time.Millisecond)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.TCPPackets)
	assert.Equal(t, int64(1), stats.UDPPackets)
	assert.True(t, stats.IsCapturing)
	assert.Greater(t, stats.PacketsPerSecond, 0.0)
	assert.Greater(t, stats.BytesReceived, int64(0))

	e.Stop()
	assert.False(t, e.Stats().IsCapturing)
}
