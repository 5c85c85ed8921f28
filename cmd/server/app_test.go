package main

import (
	"Tidewatch/internal/config"
	"Tidewatch/internal/entity"
	"Tidewatch/internal/transaction"
	"Tidewatch/pkg/log"
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowRepository takes a while to save and refuses writes once closed.
type slowRepository struct {
	transaction.NopRepository
	delay time.Duration

	mu     sync.Mutex
	saved  []string
	closed bool
}

func (r *slowRepository) SaveTransaction(ctx context.Context, tx entity.Transaction) error {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return http.ErrServerClosed
	}
	r.saved = append(r.saved, tx.ID)
	return nil
}

func (r *slowRepository) close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *slowRepository) Saved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved...)
}

func TestShutdownClosesStorageAfterPendingSaves(t *testing.T) {
	cfg, err := config.Parse([]byte(`
env: DEV
auth: {allow_insecure_identity: true}
storage: {backend: none}
`))
	require.NoError(t, err)

	repo := &slowRepository{delay: 100 * time.Millisecond}
	a := newApp(cfg, repo, clock.NewMock(), log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	a.start(ctx)

	srv := &http.Server{Handler: http.NotFoundHandler()}
	id := a.monitor.Monitor("userA", "token_creation", nil)
	require.True(t, a.monitor.UpdateStatus(id, entity.StateConfirmed, nil, ""))

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, a.shutdown(shutdownCtx, srv, cancel, &storage{repo: repo, close: repo.close}, log.Nop()))

	assert.Equal(t, []string{id}, repo.Saved())
	assert.Error(t, ctx.Err(), "background loops should be cancelled")
	assert.Zero(t, a.registry.Count())
}
