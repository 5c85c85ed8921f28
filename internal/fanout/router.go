// Package fanout routes events to exactly the live sessions they target.
package fanout

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/session"
	"Tidewatch/internal/telemetry"
	"Tidewatch/pkg/log"
	"encoding/json"

	"github.com/benbjohnson/clock"
)

// Router writes events onto registry connections.
// A connection whose write fails is removed, the rest of the fan-out carries on.
type Router struct {
	registry *session.Registry
	clock    clock.Clock
	signals  telemetry.Publisher
	logger   log.Logger
}

func NewRouter(registry *session.Registry, clk clock.Clock, signals telemetry.Publisher, logger log.Logger) *Router {
	if clk == nil {
		clk = clock.New()
	}
	if signals == nil {
		signals = telemetry.Discard
	}
	return &Router{registry: registry, clock: clk, signals: signals, logger: logger.With("fanout_router")}
}

// SendToUser delivers event to every live connection of userID and returns how many accepted it.
// A user with no live connections is not an error.
func (r *Router) SendToUser(userID string, event entity.Event) int {
	conns := r.registry.ConnectionsFor(userID)
	if len(conns) == 0 {
		r.logger.Debug().Str("user", userID).Str("type", string(event.Type)).Msg("No live sessions, event dropped.")
		return 0
	}
	return r.deliver(conns, event)
}

// Broadcast delivers event to every live connection except those owned by excludeUserID.
func (r *Router) Broadcast(event entity.Event, excludeUserID string) int {
	all := r.registry.AllConnections()
	conns := all[:0]
	for _, conn := range all {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return 0
	}
	return r.deliver(conns, event)
}

func (r *Router) deliver(conns []*session.Connection, event entity.Event) int {
	// Serialize once for every recipient
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(event.Type)).Msg("Couldn't marshal event.")
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			r.logger.Warn().Err(err).Str("user", conn.UserID).Str("connection", conn.ID).Msg("Write failed, removing session.")
			r.registry.Remove(conn.ID)
			continue
		}
		delivered++
	}

	r.signals.Publish(telemetry.Signal{
		Kind:      telemetry.Delivery,
		At:        r.clock.Now(),
		UserID:    event.TargetUserID,
		Delivered: delivered,
	})
	return delivered
}
