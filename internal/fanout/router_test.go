package fanout

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/session"
	"Tidewatch/internal/telemetry"
	"Tidewatch/pkg/log"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Ping() error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type deliveryRecorder struct {
	mu        sync.Mutex
	delivered []int
}

func (d *deliveryRecorder) Publish(s telemetry.Signal) {
	if s.Kind != telemetry.Delivery {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, s.Delivered)
}

type fixture struct {
	registry   *session.Registry
	router     *Router
	deliveries *deliveryRecorder
}

func setup() *fixture {
	mock := clock.NewMock()
	deliveries := &deliveryRecorder{}
	registry := session.NewRegistry(mock, nil, log.Nop())
	return &fixture{
		registry:   registry,
		router:     NewRouter(registry, mock, deliveries, log.Nop()),
		deliveries: deliveries,
	}
}

func (fx *fixture) connect(userID string) (*fakeTransport, string) {
	tr := &fakeTransport{}
	return tr, fx.registry.Accept(tr, userID)
}

func txEvent(userID string) entity.Event {
	return entity.NewTransactionEvent(entity.Transaction{
		ID:            "tx-1",
		UserID:        userID,
		OperationType: "token_creation",
		State:         entity.StatePending,
		LastUpdatedAt: time.Unix(1700000000, 0),
	})
}

func TestSendToUserWithoutSessions(t *testing.T) {
	fx := setup()
	assert.Equal(t, 0, fx.router.SendToUser("nobody", txEvent("nobody")))
	assert.Empty(t, fx.deliveries.delivered)
}

func TestSendToUserReachesOnlyThatUser(t *testing.T) {
	fx := setup()
	a1, _ := fx.connect("userA")
	a2, _ := fx.connect("userA")
	a3, _ := fx.connect("userA")
	b, _ := fx.connect("userB")

	delivered := fx.router.SendToUser("userA", txEvent("userA"))
	assert.Equal(t, 3, delivered)

	for _, tr := range []*fakeTransport{a1, a2, a3} {
		sent := tr.Sent()
		require.Len(t, sent, 1)
		var decoded struct {
			Type entity.EventType         `json:"type"`
			Body entity.TransactionUpdate `json:"body"`
		}
		require.NoError(t, json.Unmarshal(sent[0], &decoded))
		assert.Equal(t, entity.EventTransactionUpdate, decoded.Type)
		assert.Equal(t, "tx-1", decoded.Body.TransactionID)
	}
	assert.Empty(t, b.Sent())
	assert.Equal(t, []int{3}, fx.deliveries.delivered)
}

func TestFailedWriteRemovesOnlyThatConnection(t *testing.T) {
	fx := setup()
	healthy, healthyID := fx.connect("userA")
	broken, brokenID := fx.connect("userA")
	broken.sendErr = errors.New("slow consumer")

	assert.Equal(t, 1, fx.router.SendToUser("userA", txEvent("userA")))
	assert.Len(t, healthy.Sent(), 1)

	_, ok := fx.registry.Get(brokenID)
	assert.False(t, ok)
	assert.True(t, broken.closed)
	_, ok = fx.registry.Get(healthyID)
	assert.True(t, ok)

	// The next event only targets the survivor
	assert.Equal(t, 1, fx.router.SendToUser("userA", txEvent("userA")))
	assert.Len(t, healthy.Sent(), 2)
}

func TestBroadcast(t *testing.T) {
	fx := setup()
	a, _ := fx.connect("userA")
	b1, _ := fx.connect("userB")
	b2, _ := fx.connect("userB")
	c, _ := fx.connect("userC")

	event := entity.NewSystemNotification(entity.SeverityWarning, "maintenance at noon", time.Unix(1700000000, 0))
	assert.Equal(t, 4, fx.router.Broadcast(event, ""))
	assert.Equal(t, 2, fx.router.Broadcast(event, "userB"))

	assert.Len(t, a.Sent(), 2)
	assert.Len(t, b1.Sent(), 1)
	assert.Len(t, b2.Sent(), 1)
	assert.Len(t, c.Sent(), 2)

	// Excluding the only user leaves nobody to deliver to
	fx2 := setup()
	only, _ := fx2.connect("solo")
	assert.Equal(t, 0, fx2.router.Broadcast(event, "solo"))
	assert.Empty(t, only.Sent())
}

func TestBroadcastSurvivesConcurrentChurn(t *testing.T) {
	fx := setup()
	for i := 0; i < 10; i++ {
		fx.connect("steady")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, id := fx.connect("churn")
			fx.registry.Remove(id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			delivered := fx.router.Broadcast(entity.NewSystemNotification(entity.SeverityInfo, "hi", time.Time{}), "churn")
			assert.Equal(t, 10, delivered)
		}
	}()
	wg.Wait()
}
