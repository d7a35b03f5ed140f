// Package worker runs background jobs alongside the API server.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

// CountRefresher recomputes every audience's cached subscriber count.
// *audience.Service satisfies it.
type CountRefresher interface {
	RefreshAllCounts(ctx context.Context) (audience.RefreshSummary, error)
}

// CountRefreshWorker periodically refreshes cached audience counts so the
// numbers shown in list views do not drift when subscribers change status.
type CountRefreshWorker struct {
	refresher CountRefresher
	interval  time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCountRefreshWorker creates a worker that refreshes every interval.
// Each run is bounded by timeout; zero means no bound.
func NewCountRefreshWorker(r CountRefresher, interval, timeout time.Duration) *CountRefreshWorker {
	return &CountRefreshWorker{
		refresher: r,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start begins the refresh loop. The first run happens after one interval.
func (w *CountRefreshWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.interval <= 0 {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	logger.Info("count refresh worker started", "interval", w.interval.String())
	go w.run(w.stop, w.done)
}

// Stop ends the loop and waits for an in-flight run to finish.
func (w *CountRefreshWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	logger.Info("count refresh worker stopped")
}

func (w *CountRefreshWorker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := w.runContext(stop)
			_ = w.RunOnce(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// runContext is cancelled by Stop or by the per-run timeout.
func (w *CountRefreshWorker) runContext(stop <-chan struct{}) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if w.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), w.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// RunOnce performs a single refresh. Another instance holding the refresh
// lock is not an error.
func (w *CountRefreshWorker) RunOnce(ctx context.Context) error {
	start := time.Now()
	summary, err := w.refresher.RefreshAllCounts(ctx)
	switch {
	case errors.Is(err, audience.ErrLockHeld):
		logger.Debug("count refresh skipped, another instance holds the lock")
		return nil
	case err != nil:
		logger.Error("count refresh failed", "error", err)
		return err
	}
	logger.Info("count refresh finished",
		"refreshed", summary.Refreshed,
		"failed", summary.Failed,
		"duration", time.Since(start).String(),
	)
	return nil
}
