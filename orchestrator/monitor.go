package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/store"
)

const DefaultMonitorInterval = 30 * time.Second

// StoreHealth is the last known reachability of a store, as seen by the monitor
type StoreHealth struct {
	Name      string    `json:"name"`
	Locator   string    `json:"locator"`
	Reachable bool      `json:"reachable"`
	LastSeen  time.Time `json:"last_seen"`
	Error     string    `json:"error,omitempty"`
}

// monitor probes every store on an interval while the orchestrator is idle
type monitor struct {
	orchestrator *Orchestrator
	interval     time.Duration
	stopChan     chan bool

	mu     sync.Mutex
	health []StoreHealth
	ticks  int
}

func (mon *monitor) run() {
	ticker := mon.orchestrator.clock().Ticker(mon.interval)
	defer ticker.Stop()

	// probe once right away so status has something to show
	mon.tick()

	for {
		select {
		case <-ticker.C:
			mon.tick()
		case <-mon.stopChan:
			return
		}
	}
}

func (mon *monitor) stop() {
	close(mon.stopChan)
}

func (mon *monitor) tick() {
	o := mon.orchestrator

	// a run connects to every store anyway, its own outcomes are more useful than ours.
	// Nothing stops a run from starting while we probe, that only costs a few extra
	// connections, and the result is dropped below.
	if o.Status().Running {
		return
	}

	targets := o.targets()
	now := o.clock().Now()

	mon.mu.Lock()
	previous := mon.health
	mon.mu.Unlock()

	health := make([]StoreHealth, len(targets))
	for i, t := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), mon.interval)
		err := store.WithConn(ctx, o.Gateway, t.locator, func(conn store.Conn) error { return nil })
		cancel()

		h := StoreHealth{
			Name:      (&StoreOutcome{Shard: t.shard}).Name(),
			Locator:   store.Redact(t.locator),
			Reachable: err == nil,
			Error:     shardbench.ErrorString(err),
		}

		wasReachable := true
		if i < len(previous) {
			h.LastSeen = previous[i].LastSeen
			wasReachable = previous[i].Reachable
		}
		if h.Reachable {
			h.LastSeen = now
		}

		switch {
		case !h.Reachable && wasReachable:
			o.Log(shardbench.LogWarning, err, fmt.Sprintf("monitor: %s (%s) is unreachable", h.Name, h.Locator))
		case h.Reachable && !wasReachable:
			o.Log(shardbench.LogInfo, nil, fmt.Sprintf("monitor: %s (%s) is reachable again", h.Name, h.Locator))
		}

		health[i] = h
	}

	if o.Status().Running {
		o.Log(shardbench.LogDebug, nil, "monitor: a run started while probing, dropping the result")
		return
	}

	mon.mu.Lock()
	mon.health = health
	mon.ticks++
	mon.mu.Unlock()
}

func (mon *monitor) snapshot() ([]StoreHealth, int) {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	result := make([]StoreHealth, len(mon.health))
	copy(result, mon.health)
	return result, mon.ticks
}

// StartMonitor starts probing the stores every interval until StopMonitor is called,
// the results show up in Health and Status
func (o *Orchestrator) StartMonitor(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.monitor != nil {
		return
	}

	o.monitor = &monitor{
		orchestrator: o,
		interval:     interval,
		stopChan:     make(chan bool),
	}
	go o.monitor.run()
}

// StopMonitor stops the monitor
func (o *Orchestrator) StopMonitor() {
	o.mu.Lock()
	mon := o.monitor
	o.monitor = nil
	o.mu.Unlock()

	if mon != nil {
		mon.stop()
	}
}

// Health returns what the monitor last saw, nil if it isn't running
func (o *Orchestrator) Health() []StoreHealth {
	o.mu.Lock()
	mon := o.monitor
	o.mu.Unlock()

	if mon == nil {
		return nil
	}

	health, _ := mon.snapshot()
	return health
}
