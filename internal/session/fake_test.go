package session

import (
	"Tidewatch/internal/telemetry"
	"errors"
	"sync"
)

// fakeTransport records everything the registry and heartbeat do to a session.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	pings   int
	closed  int
	pingErr error
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

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errBrokenPipe = errors.New("broken pipe")

// signalRecorder collects published signals.
type signalRecorder struct {
	mu      sync.Mutex
	signals []telemetry.Signal
}

func (r *signalRecorder) Publish(s telemetry.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *signalRecorder) Kinds() []telemetry.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]telemetry.Kind, 0, len(r.signals))
	for _, s := range r.signals {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func (r *signalRecorder) All() []telemetry.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Signal(nil), r.signals...)
}
