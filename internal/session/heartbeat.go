package session

import (
	"Tidewatch/pkg/log"
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Heartbeat periodically probes every live connection and evicts the ones whose
// last liveness reply is older than the deadline. A failed probe counts as a missed
// deadline; the next sweep is the only retry.
type Heartbeat struct {
	registry *Registry
	clock    clock.Clock
	interval time.Duration
	deadline time.Duration
	logger   log.Logger
}

func NewHeartbeat(registry *Registry, clk clock.Clock, interval, deadline time.Duration, logger log.Logger) *Heartbeat {
	if clk == nil {
		clk = clock.New()
	}
	return &Heartbeat{
		registry: registry,
		clock:    clk,
		interval: interval,
		deadline: deadline,
		logger:   logger.With("heartbeat"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	h.logger.Info().Dur("interval", h.interval).Dur("deadline", h.deadline).Msg("Launching heartbeat supervisor.")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Successfully stopped heartbeat supervisor.")
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep runs one probe cycle and returns how many connections were evicted.
func (h *Heartbeat) Sweep() int {
	now := h.clock.Now()
	evicted := 0
	for _, conn := range h.registry.AllConnections() {
		if silent := now.Sub(conn.LastHeartbeatAt()); silent > h.deadline {
			h.logger.Warn().Str("connection", conn.ID).Str("user", conn.UserID).Dur("silent_for", silent).
				Msg("Liveness deadline elapsed, evicting connection.")
			if h.registry.Remove(conn.ID) {
				evicted++
			}
			continue
		}
		if err := conn.Ping(); err != nil {
			h.logger.Warn().Err(err).Str("connection", conn.ID).Str("user", conn.UserID).
				Msg("Liveness probe failed, evicting connection.")
			if h.registry.Remove(conn.ID) {
				evicted++
			}
		}
	}
	if evicted > 0 {
		h.logger.Info().Int("evicted", evicted).Int("remaining", h.registry.Count()).Msg("Heartbeat sweep finished.")
	}
	return evicted
}
