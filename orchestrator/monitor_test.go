package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jonas747/shardbench/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitorTicks(o *Orchestrator) int {
	o.mu.Lock()
	mon := o.monitor
	o.mu.Unlock()

	if mon == nil {
		return 0
	}
	_, n := mon.snapshot()
	return n
}

func TestMonitorTracksReachability(t *testing.T) {
	cfg := testConfig(1, 2)
	o, mem, _ := newTestOrchestrator(cfg)
	mock := clock.NewMock()
	o.Clock = mock

	assert.Nil(t, o.Health())

	o.StartMonitor(time.Minute)
	defer o.StopMonitor()

	require.Eventually(t, func() bool { return monitorTicks(o) == 1 }, 5*time.Second, 5*time.Millisecond)
	firstSeen := mock.Now()

	health := o.Health()
	require.Len(t, health, 3)
	for _, h := range health {
		assert.True(t, h.Reachable, h.Name)
		assert.Equal(t, firstSeen, h.LastSeen)
	}
	assert.Equal(t, "main", health[0].Name)
	assert.Equal(t, "shard 1", health[2].Name)

	mem.Store(cfg.ShardLocators[1]).SetUnreachable(true)
	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return monitorTicks(o) == 2 }, 5*time.Second, 5*time.Millisecond)

	health = o.Health()
	assert.True(t, health[1].Reachable)
	assert.Equal(t, mock.Now(), health[1].LastSeen)
	assert.False(t, health[2].Reachable)
	assert.NotEmpty(t, health[2].Error)
	assert.Equal(t, firstSeen, health[2].LastSeen)

	assert.Len(t, o.Status().Health, 3)
}

func TestMonitorStop(t *testing.T) {
	o, _, _ := newTestOrchestrator(testConfig(1, 1))
	o.StartMonitor(time.Hour)
	// a second start is a no-op
	o.StartMonitor(time.Hour)

	o.StopMonitor()
	o.StopMonitor()
	assert.Nil(t, o.Health())
	assert.Empty(t, o.Status().Health)
}

// connectHookGateway calls onConnect before every connect
type connectHookGateway struct {
	store.Gateway
	onConnect func()
}

func (g *connectHookGateway) Connect(ctx context.Context, locator string) (store.Conn, error) {
	g.onConnect()
	return g.Gateway.Connect(ctx, locator)
}

func TestMonitorDropsProbesOverlappingARun(t *testing.T) {
	o, mem, _ := newTestOrchestrator(testConfig(1, 2))

	var once sync.Once
	o.Gateway = &connectHookGateway{
		Gateway: mem,
		onConnect: func() {
			once.Do(func() { require.NoError(t, o.acquire()) })
		},
	}

	mon := &monitor{orchestrator: o, interval: time.Minute, stopChan: make(chan bool)}
	mon.tick()

	health, ticks := mon.snapshot()
	assert.Empty(t, health)
	assert.Equal(t, 0, ticks)

	// while the run goes on the monitor stays out of the way
	mon.tick()
	_, ticks = mon.snapshot()
	assert.Equal(t, 0, ticks)

	o.release()
	mon.tick()
	health, ticks = mon.snapshot()
	assert.Equal(t, 1, ticks)
	assert.Len(t, health, 3)
}
