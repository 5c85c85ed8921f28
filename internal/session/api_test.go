// Websocket endpoint tests in Tidewatch.

package session

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/test"
	"Tidewatch/pkg/log"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	mock     *clock.Mock
	registry *Registry
	server   *httptest.Server
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	mock := clock.NewMock()
	registry := NewRegistry(mock, nil, log.Nop())

	router := test.NewRouter()
	APIHandlers(router, registry, HandlerConfig{
		SendBuffer:    16,
		WriteTimeout:  time.Second,
		AllowedOrigin: "*",
	}, test.MockIdentityMiddleware(), log.Nop())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiFixture{mock: mock, registry: registry, server: server}
}

func (fx *apiFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/api/ws/connect?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "Failed to dial test websocket server")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireEvent struct {
	Type entity.EventType `json:"type"`
	Body json.RawMessage  `json:"body"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestConnectSendsConnectionEstablished(t *testing.T) {
	fx := setupAPI(t)
	conn := fx.dial(t, "userA")

	ev := readEvent(t, conn)
	require.Equal(t, entity.EventConnectionEstablished, ev.Type)
	var body entity.ConnectionEstablished
	require.NoError(t, json.Unmarshal(ev.Body, &body))
	assert.Equal(t, "userA", body.UserID)

	registered, ok := fx.registry.Get(body.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, "userA", registered.UserID)
	assert.Len(t, fx.registry.ConnectionsFor("userA"), 1)
}

func TestConnectRequiresIdentity(t *testing.T) {
	fx := setupAPI(t)
	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/api/ws/connect"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientMessages(t *testing.T) {
	fx := setupAPI(t)
	conn := fx.dial(t, "userA")
	established := readEvent(t, conn)
	var body entity.ConnectionEstablished
	require.NoError(t, json.Unmarshal(established.Body, &body))

	require.NoError(t, conn.WriteJSON(entity.ClientMessage{Type: "ping"}))
	assert.Equal(t, entity.EventPong, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(entity.ClientMessage{Type: "subscribe", Channel: "tokens"}))
	ack := readEvent(t, conn)
	require.Equal(t, entity.EventAck, ack.Type)
	var ackBody entity.Ack
	require.NoError(t, json.Unmarshal(ack.Body, &ackBody))
	assert.Equal(t, entity.Ack{Ack: "subscribe", Channel: "tokens"}, ackBody)

	require.NoError(t, conn.WriteJSON(entity.ClientMessage{Type: "unsubscribe", Channel: "tokens"}))
	assert.Equal(t, entity.EventAck, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(entity.ClientMessage{Type: "dance"}))
	assert.Equal(t, entity.EventError, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, entity.EventError, readEvent(t, conn).Type)

	// a pong frame refreshes the liveness timestamp
	fx.mock.Add(45 * time.Second)
	require.NoError(t, conn.WriteJSON(entity.ClientMessage{Type: "pong"}))
	require.Eventually(t, func() bool {
		registered, ok := fx.registry.Get(body.ConnectionID)
		return ok && registered.LastHeartbeatAt().Equal(fx.mock.Now())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectRemovesSession(t *testing.T) {
	fx := setupAPI(t)
	conn := fx.dial(t, "userA")
	readEvent(t, conn)
	require.Equal(t, 1, fx.registry.Count())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		return fx.registry.Count() == 0 && fx.registry.UserCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryRemoveClosesSocket(t *testing.T) {
	fx := setupAPI(t)
	conn := fx.dial(t, "userA")
	ev := readEvent(t, conn)
	var body entity.ConnectionEstablished
	require.NoError(t, json.Unmarshal(ev.Body, &body))

	require.True(t, fx.registry.Remove(body.ConnectionID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server side teardown must close the socket")
}

func TestHeartbeatProbeIsAnsweredByClient(t *testing.T) {
	fx := setupAPI(t)
	conn := fx.dial(t, "userA")
	ev := readEvent(t, conn)
	var body entity.ConnectionEstablished
	require.NoError(t, json.Unmarshal(ev.Body, &body))

	// gorilla clients answer pings while they are reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hb := NewHeartbeat(fx.registry, fx.mock, 30*time.Second, 60*time.Second, log.Nop())
	fx.mock.Add(30 * time.Second)
	assert.Equal(t, 0, hb.Sweep())

	require.Eventually(t, func() bool {
		registered, ok := fx.registry.Get(body.ConnectionID)
		return ok && registered.LastHeartbeatAt().Equal(fx.mock.Now())
	}, 2*time.Second, 10*time.Millisecond)
}
