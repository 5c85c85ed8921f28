// Closes open connections and background loops before shutting down Tidewatch.
// Inspired from https://medium.com/tokopedia-engineering/gracefully-shutdown-your-go-application-9e7d5c73b5ac

package cleanup

import (
	"Tidewatch/pkg/log"
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Operation is a clean up function standard.
type Operation func(ctx context.Context) error

// exit is swapped in tests so a timed out shutdown doesn't kill the test binary.
var exit = defaultExit

var defaultExit = os.Exit

// GracefulShutdown waits for termination system-calls and performs clean-up operations.
// The returned channel is closed once every operation has returned.
func GracefulShutdown(ctx context.Context, logger log.Logger, timeout time.Duration, operations map[string]Operation) <-chan struct{} {
	wait := make(chan struct{})

	// buffered channel to receive shutdown signal, registered before returning
	// so a signal sent right after this call is never missed
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(s)
		select {
		case sig := <-s:
			logger.Warn().Str("signal", sig.String()).Msg("Graceful shutdown in progress.")
		case <-ctx.Done():
			logger.Warn().Msg("Context cancelled, graceful shutdown in progress.")
		}

		// Force exit after timeout duration has been elapsed
		force := time.AfterFunc(timeout, func() {
			logger.Warn().Msgf("Timeout of %.1fs has been elapsed. Forcing shutdown!", timeout.Seconds())
			exit(3)
		})
		defer force.Stop()

		opctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// Executing the cleanup operations asynchronously
		var wg sync.WaitGroup
		for opname, op := range operations {
			wg.Add(1)
			go func(opname string, op Operation) {
				defer wg.Done()
				logger.Info().Msgf("Shutting down: %s", opname)
				if err := op(opctx); err != nil {
					logger.Error().Err(err).Msgf("%s shutdown failed.", opname)
					return
				}
				logger.Info().Msgf("%s shutdown completed.", opname)
			}(opname, op)
		}
		wg.Wait()
		close(wait)
	}()

	return wait
}
