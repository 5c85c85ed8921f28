// Package metrics folds component signals into the live counters served by Tidewatch.
package metrics

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/telemetry"
	"Tidewatch/pkg/log"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Aggregator consumes signals from a buffered channel on a single goroutine.
// Publish never blocks, a signal arriving on a full buffer is dropped and counted.
type Aggregator struct {
	signals chan telemetry.Signal
	dropped atomic.Int64

	clock     clock.Clock
	window    time.Duration
	startedAt time.Time
	logger    log.Logger

	mu       sync.RWMutex
	counters entity.MetricsSnapshot
}

func NewAggregator(clk clock.Clock, window time.Duration, buffer int, logger log.Logger) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = time.Minute
	}
	now := clk.Now()
	return &Aggregator{
		signals:   make(chan telemetry.Signal, buffer),
		clock:     clk,
		window:    window,
		startedAt: now,
		logger:    logger.With("metrics_aggregator"),
		counters: entity.MetricsSnapshot{
			ConfirmedByType: make(map[string]int64),
			WindowStartedAt: now,
		},
	}
}

// Publish hands s to the aggregator without waiting.
func (a *Aggregator) Publish(s telemetry.Signal) {
	select {
	case a.signals <- s:
	default:
		if a.dropped.Add(1)%1000 == 1 {
			a.logger.Warn().Int64("dropped", a.dropped.Load()).Msg("Signal buffer full, dropping signals.")
		}
	}
}

// Run applies published signals until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.logger.Info().Dur("window", a.window).Msg("Launching metrics aggregator.")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Successfully stopped metrics aggregator.")
			return
		case s := <-a.signals:
			a.apply(s)
		}
	}
}

func (a *Aggregator) apply(s telemetry.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roll(a.clock.Now())

	c := &a.counters
	switch s.Kind {
	case telemetry.UserConnected:
		c.LiveConnections++
		c.TotalConnections++
		if s.GroupChanged {
			c.LiveUsers++
		}
	case telemetry.UserDisconnected:
		c.LiveConnections--
		if s.GroupChanged {
			c.LiveUsers--
		}
	case telemetry.TransactionTransition:
		if s.From == "" {
			c.InFlight++
		}
		if s.To == entity.StateRetrying && s.From != entity.StateRetrying {
			c.Retrying++
		}
		if s.From == entity.StateRetrying && s.To != entity.StateRetrying {
			c.Retrying--
		}
		switch s.To {
		case entity.StateConfirmed:
			c.InFlight--
			c.Confirmed++
			c.ConfirmedByType[s.OperationType]++
		case entity.StateFailed:
			c.InFlight--
			c.Failed++
			if s.Error == entity.ErrorTimeout {
				c.TimedOut++
			}
		}
	case telemetry.Delivery:
		c.MessagesDelivered += int64(s.Delivered)
		c.MessagesThisWindow += int64(s.Delivered)
	default:
		a.logger.Debug().Str("kind", string(s.Kind)).Msg("Unknown signal kind ignored.")
	}
}

// roll closes every fixed window which ended by now, a.mu must be held.
func (a *Aggregator) roll(now time.Time) {
	c := &a.counters
	elapsed := now.Sub(c.WindowStartedAt)
	if elapsed < a.window {
		return
	}
	windows := elapsed / a.window
	if windows == 1 {
		c.MessagesLastWindow = c.MessagesThisWindow
	} else {
		// at least one full window went by without traffic
		c.MessagesLastWindow = 0
	}
	c.MessagesThisWindow = 0
	c.WindowStartedAt = c.WindowStartedAt.Add(windows * a.window)
}

// Snapshot returns a copy of the current counters.
func (a *Aggregator) Snapshot() entity.MetricsSnapshot {
	now := a.clock.Now()
	a.mu.Lock()
	a.roll(now)
	snap := a.counters
	snap.ConfirmedByType = make(map[string]int64, len(a.counters.ConfirmedByType))
	for op, n := range a.counters.ConfirmedByType {
		snap.ConfirmedByType[op] = n
	}
	a.mu.Unlock()

	snap.DroppedSignals = a.dropped.Load()
	snap.UptimeSeconds = now.Sub(a.startedAt).Seconds()
	return snap
}
