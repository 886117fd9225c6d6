// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nautscan/internal/clock"
)

func TestPipeline_AsyncWrite(t *testing.T) {
	now := time.Now()
	s := openTestStore(t, clock.NewFake(now))
	p := NewPipeline(s, nil, nil, WithPipelineClock(clock.NewFake(now)))
	p.Start()

	p.Enqueue(testEvent("async1", now))
	p.Enqueue(testEvent("async2", now))

	assert.Eventually(t, func() bool {
		count, err := s.CountPackets(Filter{})
		return err == nil && count == 2
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
}

func TestPipeline_StopDrainsQueue(t *testing.T) {
	now := time.Now()
	s := openTestStore(t, clock.NewFake(now))
	p := NewPipeline(s, nil, nil)
	p.Start()

	for i := 0; i < 50; i++ {
		p.Enqueue(testEvent(fmt.Sprintf("drain-%d", i), now.Add(time.Duration(i))))
	}
	p.Stop()

	count, err := s.CountPackets(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestPipeline_EnqueueNeverBlocksWhenFull(t *testing.T) {
	now := time.Now()
	s := openTestStore(t, clock.NewFake(now))
	// Tiny queue, pipeline not started: the writer never drains it.
	p := NewPipeline(s, nil, nil, WithQueueSize(2))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Enqueue(testEvent("full", now))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestPipeline_RunHousekeeping(t *testing.T) {
	T := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	storeClk := clock.NewFake(T.Add(-DefaultRetention - time.Minute))
	s := openTestStore(t, storeClk)

	require.NoError(t, s.InsertPacket(testEvent("old", storeClk.Now())))
	storeClk.Set(T)
	require.NoError(t, s.InsertPacket(testEvent("new", T)))

	p := NewPipeline(s, nil, nil, WithPipelineClock(clock.NewFake(T)))
	deleted, err := p.RunHousekeeping()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Housekeeping is idempotent; a second pass deletes nothing.
	deleted, err = p.RunHousekeeping()
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestPipeline_PeriodicHousekeeping(t *testing.T) {
	T := time.Now()
	storeClk := clock.NewFake(T.Add(-DefaultRetention - time.Minute))
	s := openTestStore(t, storeClk)
	require.NoError(t, s.InsertPacket(testEvent("stale", storeClk.Now())))

	p := NewPipeline(s, nil, nil,
		WithPipelineClock(clock.NewFake(T)),
		WithHousekeepingInterval(20*time.Millisecond))
	p.Start()
	defer p.Stop()

	// Runs on its own schedule, with no capture activity at all.
	assert.Eventually(t, func() bool {
		count, err := s.CountPackets(Filter{})
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)
}
