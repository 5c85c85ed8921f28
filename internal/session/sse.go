// Server-Sent Events endpoint, a receive-only session for clients which can't open a websocket.

package session

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/log"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

type sseFrame struct {
	event string
	data  []byte
}

// sseTransport queues frames for the handler streaming them to the client.
// A flushed frame is the liveness proof, SSE clients never answer a probe.
type sseTransport struct {
	send      chan sseFrame
	done      chan struct{}
	closeOnce sync.Once
}

func newSSETransport(buffer int) *sseTransport {
	return &sseTransport{
		send: make(chan sseFrame, buffer),
		done: make(chan struct{}),
	}
}

func (t *sseTransport) enqueue(frame sseFrame) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSlowConsumer
	}
}

func (t *sseTransport) Send(data []byte) error {
	return t.enqueue(sseFrame{event: "message", data: data})
}

func (t *sseTransport) Ping() error {
	return t.enqueue(sseFrame{event: "ping"})
}

func (t *sseTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// stream returns a handler which serves a Server-Sent Events session until the client leaves
// or the registry drops it.
func stream(registry *Registry, cfg HandlerConfig, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		userID := gctx.GetString("UserID")
		if userID == "" {
			logger.WithCtx(gctx).Error().Msg("UserID missing from context in session stream")
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}

		transport := newSSETransport(cfg.SendBuffer)
		connectionID := registry.Accept(transport, userID)
		defer registry.Remove(connectionID)

		reply(transport, logger, entity.Event{
			Type:      entity.EventConnectionEstablished,
			Body:      entity.ConnectionEstablished{ConnectionID: connectionID, UserID: userID},
			Timestamp: registry.clock.Now(),
		})

		gctx.Stream(func(w io.Writer) bool {
			select {
			case frame := <-transport.send:
				gctx.SSEvent(frame.event, string(frame.data))
				registry.Touch(connectionID)
				return true
			case <-transport.done:
				return false
			case <-gctx.Request.Context().Done():
				return false
			}
		})
	}
}
