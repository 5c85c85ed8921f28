// Structure of Tidewatch Metrics Model.

package entity

import "time"

// Point-in-time view served by the metrics aggregator.
type MetricsSnapshot struct {
	LiveConnections    int64            `json:"live_connections"`
	LiveUsers          int64            `json:"live_users"`
	TotalConnections   int64            `json:"total_connections"`
	InFlight           int64            `json:"in_flight_transactions"`
	Retrying           int64            `json:"retrying_transactions"`
	Confirmed          int64            `json:"confirmed_transactions"`
	Failed             int64            `json:"failed_transactions"`
	TimedOut           int64            `json:"timed_out_transactions"`
	ConfirmedByType    map[string]int64 `json:"confirmed_by_operation_type"`
	MessagesDelivered  int64            `json:"messages_delivered"`
	MessagesThisWindow int64            `json:"messages_this_window"`
	MessagesLastWindow int64            `json:"messages_last_window"`
	WindowStartedAt    time.Time        `json:"window_started_at"`
	DroppedSignals     int64            `json:"dropped_signals"`
	UptimeSeconds      float64          `json:"uptime_seconds"`
}
