package session

import (
	"Tidewatch/pkg/log"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInterval = 30 * time.Second
	testDeadline = 60 * time.Second
)

func newHeartbeatFixture() (*clock.Mock, *Registry, *Heartbeat) {
	mock := clock.NewMock()
	r := NewRegistry(mock, nil, log.Nop())
	return mock, r, NewHeartbeat(r, mock, testInterval, testDeadline, log.Nop())
}

func TestHeartbeatEvictsSilentConnectionBeforeThirdProbe(t *testing.T) {
	mock, r, hb := newHeartbeatFixture()
	silent := &fakeTransport{}
	id := r.Accept(silent, "userA")

	mock.Add(testInterval)
	assert.Equal(t, 0, hb.Sweep())
	assert.Equal(t, 1, silent.Pings())

	mock.Add(testInterval)
	assert.Equal(t, 0, hb.Sweep())
	assert.Equal(t, 2, silent.Pings())

	mock.Add(testInterval)
	assert.Equal(t, 1, hb.Sweep())
	assert.Equal(t, 2, silent.Pings(), "no third probe for an evicted connection")
	assert.Equal(t, 1, silent.Closed())

	_, ok := r.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.UserCount(), "the user's only group must be gone")
}

func TestHeartbeatKeepsRespondingConnection(t *testing.T) {
	mock, r, hb := newHeartbeatFixture()
	alive := &fakeTransport{}
	aliveID := r.Accept(alive, "userA")
	silentID := r.Accept(&fakeTransport{}, "userA")

	for i := 0; i < 5; i++ {
		mock.Add(testInterval)
		hb.Sweep()
		// the client answers every probe
		r.Touch(aliveID)
	}

	_, ok := r.Get(aliveID)
	assert.True(t, ok)
	_, ok = r.Get(silentID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.UserCount(), "userA still owns a live connection")
	assert.Equal(t, 5, alive.Pings())
}

func TestHeartbeatFailedProbeEvicts(t *testing.T) {
	mock, r, hb := newHeartbeatFixture()
	broken := &fakeTransport{pingErr: errBrokenPipe}
	healthy := &fakeTransport{}
	brokenID := r.Accept(broken, "userA")
	r.Accept(healthy, "userB")

	mock.Add(testInterval)
	assert.Equal(t, 1, hb.Sweep())

	_, ok := r.Get(brokenID)
	assert.False(t, ok)
	assert.Equal(t, 1, broken.Closed())
	assert.Equal(t, 1, healthy.Pings())
	assert.Equal(t, 1, r.Count())
}

func TestHeartbeatRunStopsWithContext(t *testing.T) {
	mock, r, hb := newHeartbeatFixture()
	transport := &fakeTransport{}
	id := r.Accept(transport, "userA")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	// let Run register its ticker with the mock clock
	require.Eventually(t, func() bool {
		r.Touch(id)
		mock.Add(testInterval)
		return transport.Pings() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
