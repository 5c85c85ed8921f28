// Websocket transport backing a single client session in Tidewatch.

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrTransportClosed is returned when writing to a transport which was already torn down.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSlowConsumer is returned when a client does not drain its outbound queue fast enough.
	ErrSlowConsumer = errors.New("outbound queue full")
)

// Transport is the physical channel to one client process.
type Transport interface {
	// Send queues data for delivery. It never blocks on the network.
	Send(data []byte) error
	// Ping sends a liveness probe, the reply is reported through Registry.Touch.
	Ping() error
	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// wsTransport owns one websocket connection. Text frames are written by a single
// writer goroutine draining a bounded queue, control frames go straight to the socket.
type wsTransport struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go t.writeLoop()
	return t
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSlowConsumer
	}
}

func (t *wsTransport) Ping() error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

// Close marks the transport closed right away, the close handshake and socket
// teardown happen on their own goroutine so callers never wait on the network.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		go func() {
			_ = t.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.writeTimeout),
			)
			_ = t.conn.Close()
		}()
	})
	return nil
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// the read loop notices the closed socket and deregisters the session
				_ = t.Close()
				return
			}
		}
	}
}
