// Package transaction tracks asynchronous operations from submission to a terminal
// state, retries failed ones with exponential backoff and reclaims stale ones.
package transaction

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/telemetry"
	"Tidewatch/pkg/log"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Notifier delivers events to the live sessions of one user.
type Notifier interface {
	SendToUser(userID string, event entity.Event) int
}

// Config tunes the retry policy and the staleness sweep.
type Config struct {
	MaxAttempts int
	// Base backoff, attempt n waits RetryDelay * 2^(n-1)
	RetryDelay    time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// Upper bound on a single executor call
	ExecutorTimeout time.Duration
	// Upper bound on a single persist call
	PersistTimeout time.Duration
	// Retries allowed to wait on a timer at the same time
	MaxScheduledRetries int
}

// Stats is a point-in-time view of the live table.
type Stats struct {
	Live             int `json:"live"`
	Pending          int `json:"pending"`
	Retrying         int `json:"retrying"`
	ScheduledRetries int `json:"scheduled_retries"`
}

// record is the single writer guard around one live transaction.
type record struct {
	mu sync.Mutex
	tx entity.Transaction
	// pending retry, nil when none is scheduled
	timer *clock.Timer
	// bumped whenever a scheduled retry is superseded
	generation uint64
	// an executor call for this record is in flight
	executing bool
	removed   bool
}

// Monitor is the live table of non-terminal transactions.
type Monitor struct {
	cfg Config

	mu   sync.RWMutex
	live map[string]*record

	executorsMu sync.RWMutex
	executors   map[string]Executor

	scheduled atomic.Int64
	// guards stopped and every wg.Add so none races Stop's Wait
	lifeMu  sync.Mutex
	stopped bool
	// cancelled by Stop, bounds executor calls
	ctx    context.Context
	cancel context.CancelFunc
	// in-flight persistence and executor calls
	wg sync.WaitGroup

	notifier Notifier
	repo     Repository
	clock    clock.Clock
	signals  telemetry.Publisher
	logger   log.Logger
}

func NewMonitor(cfg Config, notifier Notifier, repo Repository, clk clock.Clock, signals telemetry.Publisher, logger log.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if signals == nil {
		signals = telemetry.Discard
	}
	if repo == nil {
		repo = NopRepository{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExecutorTimeout <= 0 {
		cfg.ExecutorTimeout = 30 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:       cfg,
		live:      make(map[string]*record),
		executors: make(map[string]Executor),
		ctx:       ctx,
		cancel:    cancel,
		notifier:  notifier,
		repo:      repo,
		clock:     clk,
		signals:   signals,
		logger:    logger.With("transaction_monitor"),
	}
}

// RegisterExecutor makes retries of operationType run through ex.
func (m *Monitor) RegisterExecutor(operationType string, ex Executor) {
	m.executorsMu.Lock()
	defer m.executorsMu.Unlock()
	m.executors[operationType] = ex
}

func (m *Monitor) executor(operationType string) Executor {
	m.executorsMu.RLock()
	defer m.executorsMu.RUnlock()
	return m.executors[operationType]
}

// Monitor starts tracking a new operation in the pending state and returns its id.
func (m *Monitor) Monitor(userID, operationType string, payload json.RawMessage) string {
	now := m.clock.Now()
	rec := &record{tx: entity.Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		OperationType: operationType,
		State:         entity.StatePending,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Payload:       payload,
	}}

	// Held across insert and fan-out so Pending is the first event for this id.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	m.mu.Lock()
	m.live[rec.tx.ID] = rec
	m.mu.Unlock()

	m.emit(rec, "")
	m.logger.Info().Str("transaction", rec.tx.ID).Str("user", userID).Str("operation", operationType).Msg("Tracking transaction.")
	return rec.tx.ID
}

// UpdateStatus applies a reported outcome. Only confirmed and failed are accepted;
// unknown and already terminal transactions are ignored. Reports whether the update was applied.
func (m *Monitor) UpdateStatus(transactionID string, state entity.TransactionState, result json.RawMessage, errorDetail string) bool {
	rec := m.lookup(transactionID)
	if rec == nil {
		m.logger.Warn().Str("transaction", transactionID).Str("state", string(state)).Msg("Status update for unknown transaction ignored.")
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return m.apply(rec, state, result, errorDetail)
}

// apply runs one transition, rec.mu must be held.
func (m *Monitor) apply(rec *record, state entity.TransactionState, result json.RawMessage, errorDetail string) bool {
	if rec.removed || rec.tx.State.Terminal() {
		m.logger.Warn().Str("transaction", rec.tx.ID).Str("state", string(state)).Msg("Status update for terminal transaction ignored.")
		return false
	}
	switch state {
	case entity.StateConfirmed:
		rec.tx.Result = result
		rec.tx.Error = ""
		m.finish(rec, entity.StateConfirmed, "")
	case entity.StateFailed:
		m.fail(rec, errorDetail)
	default:
		m.logger.Warn().Str("transaction", rec.tx.ID).Str("state", string(state)).Msg("Only confirmed or failed may be reported, update rejected.")
		return false
	}
	return true
}

// fail counts one failed attempt and either schedules a retry or gives up.
func (m *Monitor) fail(rec *record, errorDetail string) {
	m.cancelRetry(rec)
	rec.tx.Attempt++
	if rec.tx.Attempt >= m.cfg.MaxAttempts {
		if errorDetail == "" {
			errorDetail = entity.ErrorRetriesExhausted
		}
		m.finish(rec, entity.StateFailed, errorDetail)
		return
	}
	if !m.reserveRetry() {
		m.logger.Error().Str("transaction", rec.tx.ID).Int64("scheduled", m.scheduled.Load()).Msg("Couldn't schedule retry.")
		m.finish(rec, entity.StateFailed, entity.ErrorSchedulingFailure)
		return
	}

	from := rec.tx.State
	rec.tx.State = entity.StateRetrying
	rec.tx.Error = errorDetail
	m.touch(rec)
	m.emit(rec, from)

	delay := m.backoff(rec.tx.Attempt)
	gen := rec.generation
	id := rec.tx.ID
	rec.timer = m.clock.AfterFunc(delay, func() { m.fireRetry(id, gen) })
	m.logger.Info().Str("transaction", id).Int("attempt", rec.tx.Attempt).Dur("delay", delay).Msg("Retry scheduled.")
}

// backoff returns the wait before the retry following the given failed attempt.
func (m *Monitor) backoff(attempt int) time.Duration {
	return m.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
}

func (m *Monitor) reserveRetry() bool {
	if m.isStopped() {
		return false
	}
	n := m.scheduled.Add(1)
	if limit := m.cfg.MaxScheduledRetries; limit > 0 && n > int64(limit) {
		m.scheduled.Add(-1)
		return false
	}
	return true
}

// cancelRetry drops any scheduled retry of rec, rec.mu must be held.
func (m *Monitor) cancelRetry(rec *record) {
	rec.generation++
	if rec.timer == nil {
		return
	}
	if rec.timer.Stop() {
		m.scheduled.Add(-1)
	}
	rec.timer = nil
}

// fireRetry runs when a retry timer elapses.
func (m *Monitor) fireRetry(transactionID string, gen uint64) {
	m.scheduled.Add(-1)

	rec := m.lookup(transactionID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	if rec.removed || rec.generation != gen || rec.tx.State != entity.StateRetrying {
		rec.mu.Unlock()
		return
	}
	rec.timer = nil
	// the staleness window restarts once the wait is over
	m.touch(rec)
	operationType, payload := rec.tx.OperationType, rec.tx.Payload
	ex := m.executor(operationType)
	if ex != nil {
		if !m.track() {
			rec.mu.Unlock()
			return
		}
		rec.executing = true
	}
	rec.mu.Unlock()

	if ex == nil {
		m.logger.Info().Str("transaction", transactionID).Str("operation", operationType).Msg("No executor registered, awaiting external status update.")
		return
	}

	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ExecutorTimeout)
	result, err := ex.Execute(ctx, operationType, payload)
	cancel()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.executing = false
	if rec.generation != gen {
		// an external update or the sweep got there first
		m.logger.Debug().Str("transaction", transactionID).Msg("Retry outcome superseded, discarded.")
		return
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("transaction", transactionID).Int("attempt", rec.tx.Attempt).Msg("Retry attempt failed.")
		m.apply(rec, entity.StateFailed, nil, err.Error())
		return
	}
	m.apply(rec, entity.StateConfirmed, result, "")
}

// finish moves rec into a terminal state, drops it from the live table and persists it.
// rec.mu must be held.
func (m *Monitor) finish(rec *record, state entity.TransactionState, errorDetail string) {
	m.cancelRetry(rec)
	from := rec.tx.State
	rec.tx.State = state
	if state == entity.StateFailed {
		rec.tx.Error = errorDetail
	}
	m.touch(rec)

	m.mu.Lock()
	delete(m.live, rec.tx.ID)
	m.mu.Unlock()
	rec.removed = true

	m.emit(rec, from)
	m.persist(rec.tx)
	m.logger.Info().Str("transaction", rec.tx.ID).Str("state", string(state)).Int("attempt", rec.tx.Attempt).Str("error", rec.tx.Error).
		Msg("Transaction reached a terminal state.")
}

// persist hands the terminal record to the repository without waiting for it.
// Once stopped nothing waits for a background save any more, so it runs inline.
func (m *Monitor) persist(tx entity.Transaction) {
	if !m.track() {
		m.logger.Warn().Str("transaction", tx.ID).Msg("Monitor stopped, persisting inline.")
		m.save(tx)
		return
	}
	go func() {
		defer m.wg.Done()
		m.save(tx)
	}()
}

func (m *Monitor) save(tx entity.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
	defer cancel()
	if err := m.repo.SaveTransaction(ctx, tx); err != nil {
		m.logger.Error().Stack().Err(err).Str("transaction", tx.ID).Msg("Couldn't persist terminal transaction.")
	}
}

// track registers one unit of background work with Stop, false once stopped.
func (m *Monitor) track() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.stopped {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Monitor) isStopped() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.stopped
}

// touch moves LastUpdatedAt forward, never backwards.
func (m *Monitor) touch(rec *record) {
	if now := m.clock.Now(); now.After(rec.tx.LastUpdatedAt) {
		rec.tx.LastUpdatedAt = now
	}
}

// emit fans the current state of rec out to its owner and publishes the transition.
func (m *Monitor) emit(rec *record, from entity.TransactionState) {
	m.notifier.SendToUser(rec.tx.UserID, entity.NewTransactionEvent(rec.tx))
	m.signals.Publish(telemetry.Signal{
		Kind:          telemetry.TransactionTransition,
		At:            rec.tx.LastUpdatedAt,
		UserID:        rec.tx.UserID,
		TransactionID: rec.tx.ID,
		OperationType: rec.tx.OperationType,
		From:          from,
		To:            rec.tx.State,
		Error:         rec.tx.Error,
	})
}

func (m *Monitor) lookup(transactionID string) *record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[transactionID]
}

func (m *Monitor) records() []*record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*record, 0, len(m.live))
	for _, rec := range m.live {
		recs = append(recs, rec)
	}
	return recs
}

// Sweep fails every pending transaction, and every retrying one with neither a scheduled
// retry nor a running executor, which has not changed for longer than StaleAfter.
// Returns how many timed out.
func (m *Monitor) Sweep() int {
	now := m.clock.Now()
	timedOut := 0
	for _, rec := range m.records() {
		rec.mu.Lock()
		waiting := rec.tx.State == entity.StatePending || (rec.tx.State == entity.StateRetrying && rec.timer == nil && !rec.executing)
		if !rec.removed && waiting && now.Sub(rec.tx.LastUpdatedAt) > m.cfg.StaleAfter {
			m.finish(rec, entity.StateFailed, entity.ErrorTimeout)
			timedOut++
		}
		rec.mu.Unlock()
	}
	if timedOut > 0 {
		m.logger.Warn().Int("timed_out", timedOut).Msg("Stale transactions failed.")
	}
	return timedOut
}

// RunSweeper sweeps every SweepInterval until ctx is cancelled.
func (m *Monitor) RunSweeper(ctx context.Context) {
	ticker := m.clock.Ticker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.cfg.SweepInterval).Dur("stale_after", m.cfg.StaleAfter).Msg("Launching staleness sweeper.")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Successfully stopped staleness sweeper.")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Get returns a copy of a live transaction.
func (m *Monitor) Get(transactionID string) (entity.Transaction, bool) {
	rec := m.lookup(transactionID)
	if rec == nil {
		return entity.Transaction{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return entity.Transaction{}, false
	}
	return rec.tx, true
}

// Stats counts the live table.
func (m *Monitor) Stats() Stats {
	stats := Stats{ScheduledRetries: int(m.scheduled.Load())}
	for _, rec := range m.records() {
		rec.mu.Lock()
		if !rec.removed {
			stats.Live++
			switch rec.tx.State {
			case entity.StatePending:
				stats.Pending++
			case entity.StateRetrying:
				stats.Retrying++
			}
		}
		rec.mu.Unlock()
	}
	return stats
}

// Stop cancels scheduled retries and in-flight executor calls, then waits for
// outstanding persistence until ctx expires. Live transactions stay where they are.
func (m *Monitor) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		return nil
	}
	m.stopped = true
	m.lifeMu.Unlock()
	m.logger.Info().Msg("Stopping transaction monitor.")
	m.cancel()
	for _, rec := range m.records() {
		rec.mu.Lock()
		m.cancelRetry(rec)
		rec.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info().Msg("Transaction monitor stopped.")
		return nil
	case <-ctx.Done():
		m.logger.Warn().Msg("Transaction monitor stop timed out.")
		return ctx.Err()
	}
}
