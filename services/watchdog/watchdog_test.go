package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink-go/bus"
	"sensorlink-go/types"
	"sensorlink-go/x/timex"
)

type harness struct {
	clock  *timex.Fake
	pub    *bus.Connection
	resets atomic.Int32
}

func start(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	h := &harness{clock: timex.NewFake(time.Unix(0, 0))}
	b := bus.NewBus(8)
	h.pub = b.NewConnection("poller")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	wd := New(interval, func(string) { h.resets.Add(1) },
		WithFactor(2), WithGrace(0), WithClock(h.clock))
	require.Equal(t, 2*interval, wd.Limit())
	wd.Start(ctx, b.NewConnection("watchdog"))
	h.clock.WaitForWaiters(1)
	return h
}

func (h *harness) reset() int { return int(h.resets.Load()) }

func TestWatchdog_StallResets(t *testing.T) {
	h := start(t, time.Second)
	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return h.reset() == 1 }, time.Second, time.Millisecond)
}

func TestWatchdog_CyclesKeepItQuiet(t *testing.T) {
	h := start(t, time.Second)

	h.clock.Advance(1500 * time.Millisecond)
	h.pub.Publish(h.pub.NewMessage(topicCycle, types.CycleReport{Seq: 1}, false))
	h.clock.WaitForWaiters(2) // re-armed from the new cycle

	h.clock.Advance(time.Second) // 1s after the cycle, limit is 2s
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.reset())

	h.clock.Advance(1500 * time.Millisecond)
	require.Eventually(t, func() bool { return h.reset() == 1 }, time.Second, time.Millisecond)
}

func TestWatchdog_FollowsInterval(t *testing.T) {
	h := start(t, time.Second)

	h.pub.Publish(h.pub.NewMessage(topicInterval, 10*time.Second, true))
	h.clock.WaitForWaiters(2)

	h.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.reset())

	h.clock.Advance(16 * time.Second)
	require.Eventually(t, func() bool { return h.reset() == 1 }, time.Second, time.Millisecond)
}
