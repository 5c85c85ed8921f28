// Exposes the endpoints through which clients open sessions with Tidewatch.

package session

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/log"
	"Tidewatch/pkg/middlewares"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Largest frame accepted from a client.
const maxMessageSize = 64 * 1024

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	// Outbound frames queued per connection before it counts as a slow consumer
	SendBuffer   int
	WriteTimeout time.Duration
	// Value of the Origin header accepted on upgrade, "*" accepts all
	AllowedOrigin string
}

// Registers the websocket and Server-Sent Events endpoints onto the gin server.
// identify must resolve the caller and set "UserID" in the gin context.
func APIHandlers(router *gin.Engine, registry *Registry, cfg HandlerConfig, identify gin.HandlerFunc, logger log.Logger) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return cfg.AllowedOrigin == "*" || origin == "" || origin == cfg.AllowedOrigin
		},
	}
	logger = logger.With("session_api")
	wsGroup := router.Group("/api/ws", identify)
	{
		wsGroup.GET("/connect", connect(registry, upgrader, cfg, logger))
		wsGroup.GET("/stream", middlewares.SSEMiddleware(), stream(registry, cfg, logger))
	}
}

// connect returns a handler which upgrades the request and serves the session until it ends.
func connect(registry *Registry, upgrader websocket.Upgrader, cfg HandlerConfig, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		userID := gctx.GetString("UserID")
		if userID == "" {
			logger.WithCtx(gctx).Error().Msg("UserID missing from context in session connect")
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}

		conn, err := upgrader.Upgrade(gctx.Writer, gctx.Request, nil)
		if err != nil {
			// Upgrade already replied to the client
			logger.WithCtx(gctx).Warn().Err(err).Msg("Failed to upgrade connection.")
			return
		}
		conn.SetReadLimit(maxMessageSize)

		transport := newWSTransport(conn, cfg.SendBuffer, cfg.WriteTimeout)
		connectionID := registry.Accept(transport, userID)
		defer registry.Remove(connectionID)

		conn.SetPongHandler(func(string) error {
			registry.Touch(connectionID)
			return nil
		})

		reply(transport, logger, entity.Event{
			Type:      entity.EventConnectionEstablished,
			Body:      entity.ConnectionEstablished{ConnectionID: connectionID, UserID: userID},
			Timestamp: registry.clock.Now(),
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug().Err(err).Str("connection", connectionID).Msg("Session closed unexpectedly.")
				}
				return
			}
			handleClientMessage(registry, transport, connectionID, data, logger)
		}
	}
}

// handleClientMessage interprets one inbound frame.
// Subscribe and unsubscribe are acknowledged but not interpreted any further.
func handleClientMessage(registry *Registry, transport Transport, connectionID string, data []byte, logger log.Logger) {
	now := registry.clock.Now()
	var msg entity.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		reply(transport, logger, entity.Event{
			Type:      entity.EventError,
			Body:      entity.ErrorBody{Message: "frames must be JSON objects with a type field"},
			Timestamp: now,
		})
		return
	}

	switch msg.Type {
	case "pong":
		registry.Touch(connectionID)
	case "ping":
		registry.Touch(connectionID)
		reply(transport, logger, entity.Event{Type: entity.EventPong, Timestamp: now})
	case "subscribe", "unsubscribe":
		reply(transport, logger, entity.Event{
			Type:      entity.EventAck,
			Body:      entity.Ack{Ack: msg.Type, Channel: msg.Channel},
			Timestamp: now,
		})
	default:
		reply(transport, logger, entity.Event{
			Type:      entity.EventError,
			Body:      entity.ErrorBody{Message: "unknown message type: " + msg.Type},
			Timestamp: now,
		})
	}
}

func reply(transport Transport, logger log.Logger, event entity.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Str("type", string(event.Type)).Msg("Couldn't marshal session reply.")
		return
	}
	if err := transport.Send(data); err != nil {
		logger.Debug().Err(err).Str("type", string(event.Type)).Msg("Couldn't queue session reply.")
	}
}
