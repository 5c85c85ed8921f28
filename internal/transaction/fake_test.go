package transaction

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"context"
	"sync"
)

// eventRecorder is a Notifier remembering every event per user in delivery order.
type eventRecorder struct {
	mu     sync.Mutex
	events map[string][]entity.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(map[string][]entity.Event)}
}

func (r *eventRecorder) SendToUser(userID string, event entity.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[userID] = append(r.events[userID], event)
	return 1
}

// Updates returns the transaction updates userID received for transactionID.
func (r *eventRecorder) Updates(userID, transactionID string) []entity.TransactionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updates []entity.TransactionUpdate
	for _, ev := range r.events[userID] {
		if body, ok := ev.Body.(entity.TransactionUpdate); ok && body.TransactionID == transactionID {
			updates = append(updates, body)
		}
	}
	return updates
}

func (r *eventRecorder) States(userID, transactionID string) []entity.TransactionState {
	var states []entity.TransactionState
	for _, u := range r.Updates(userID, transactionID) {
		states = append(states, u.State)
	}
	return states
}

func (r *eventRecorder) All(userID string) []entity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Event(nil), r.events[userID]...)
}

// memoryRepository keeps saved transactions in a map.
type memoryRepository struct {
	mu    sync.Mutex
	saved []entity.Transaction
	err   error
}

func (r *memoryRepository) SaveTransaction(_ context.Context, tx entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, tx)
	return r.err
}

func (r *memoryRepository) GetTransaction(_ context.Context, transactionID string) (entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.saved {
		if tx.ID == transactionID {
			return tx, nil
		}
	}
	return entity.Transaction{}, errors.NotFound("")
}

func (r *memoryRepository) Saved() []entity.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Transaction(nil), r.saved...)
}

// blockingRepository holds every save until release is closed.
type blockingRepository struct {
	memoryRepository
	release chan struct{}
}

func (r *blockingRepository) SaveTransaction(ctx context.Context, tx entity.Transaction) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.memoryRepository.SaveTransaction(ctx, tx)
}
