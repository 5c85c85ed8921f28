// Package session owns the live client sessions of Tidewatch: the connection registry,
// the heartbeat supervisor and the websocket endpoint feeding both.
package session

import (
	"Tidewatch/internal/telemetry"
	"Tidewatch/pkg/log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Connection is one physical channel to one client process, owned by the Registry.
type Connection struct {
	ID       string
	UserID   string
	OpenedAt time.Time

	transport Transport
	// unix nanoseconds of the last liveness reply
	lastHeartbeat atomic.Int64
}

// LastHeartbeatAt returns when the client last proved it was alive.
func (c *Connection) LastHeartbeatAt() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Send queues data on the underlying transport.
func (c *Connection) Send(data []byte) error {
	return c.transport.Send(data)
}

// Ping probes the underlying transport.
func (c *Connection) Ping() error {
	return c.transport.Ping()
}

func (c *Connection) touch(at time.Time) {
	c.lastHeartbeat.Store(at.UnixNano())
}

// Registry indexes live connections by connection id and by user.
// Every connection sits in the global index and in exactly one user group,
// and a user group is deleted as soon as it becomes empty.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	groups      map[string]map[string]*Connection

	clock   clock.Clock
	signals telemetry.Publisher
	logger  log.Logger
}

func NewRegistry(clk clock.Clock, signals telemetry.Publisher, logger log.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if signals == nil {
		signals = telemetry.Discard
	}
	return &Registry{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
		clock:       clk,
		signals:     signals,
		logger:      logger.With("session_registry"),
	}
}

// Accept registers transport as a new connection owned by userID and returns its id.
func (r *Registry) Accept(transport Transport, userID string) string {
	now := r.clock.Now()
	conn := &Connection{
		ID:        uuid.NewString(),
		UserID:    userID,
		OpenedAt:  now,
		transport: transport,
	}
	conn.touch(now)

	r.mu.Lock()
	r.connections[conn.ID] = conn
	group, ok := r.groups[userID]
	if !ok {
		group = make(map[string]*Connection)
		r.groups[userID] = group
	}
	group[conn.ID] = conn
	r.mu.Unlock()

	r.signals.Publish(telemetry.Signal{
		Kind:         telemetry.UserConnected,
		At:           now,
		UserID:       userID,
		ConnectionID: conn.ID,
		GroupChanged: !ok,
	})
	r.logger.Info().Str("user", userID).Str("connection", conn.ID).Msg("Session accepted.")
	return conn.ID
}

// Remove drops the connection from both indices and closes its transport.
// Returns false when the connection was already gone.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	conn, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.connections, connectionID)
	groupDeleted := false
	if group, found := r.groups[conn.UserID]; found {
		delete(group, connectionID)
		if len(group) == 0 {
			delete(r.groups, conn.UserID)
			groupDeleted = true
		}
	}
	r.mu.Unlock()

	if err := conn.transport.Close(); err != nil {
		r.logger.Debug().Err(err).Str("connection", connectionID).Msg("Transport close returned an error.")
	}
	r.signals.Publish(telemetry.Signal{
		Kind:         telemetry.UserDisconnected,
		At:           r.clock.Now(),
		UserID:       conn.UserID,
		ConnectionID: connectionID,
		GroupChanged: groupDeleted,
	})
	r.logger.Info().Str("user", conn.UserID).Str("connection", connectionID).Msg("Session removed.")
	return true
}

// Touch records a liveness reply. Unknown connections are ignored.
func (r *Registry) Touch(connectionID string) {
	r.mu.RLock()
	conn, ok := r.connections[connectionID]
	r.mu.RUnlock()
	if ok {
		conn.touch(r.clock.Now())
	}
}

// Get returns the live connection with connectionID.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// ConnectionsFor returns a snapshot of the live connections owned by userID.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group := r.groups[userID]
	conns := make([]*Connection, 0, len(group))
	for _, conn := range group {
		conns = append(conns, conn)
	}
	return conns
}

// AllConnections returns a snapshot of every live connection.
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// UserCount returns the number of users with at least one live connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// CloseAll tears down every live connection, used during shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.AllConnections() {
		r.Remove(conn.ID)
	}
}
