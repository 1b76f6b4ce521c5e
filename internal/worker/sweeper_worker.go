package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/service"
)

// SweeperWorker drives the expiration sweeper on a fixed interval.
type SweeperWorker struct {
	sweeper  *service.SweeperService
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

// NewSweeperWorker constructs the worker.
func NewSweeperWorker(sweeper *service.SweeperService, interval time.Duration, logger *zap.Logger) *SweeperWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweeperWorker{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run loops until the context is cancelled. One sweep executes immediately so
// a restarted process does not wait a full interval to catch up.
func (w *SweeperWorker) Run(ctx context.Context) {
	defer close(w.done)

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (w *SweeperWorker) Wait() {
	<-w.done
}

func (w *SweeperWorker) sweep(ctx context.Context) {
	stats := w.sweeper.Sweep(ctx)
	if stats.Total() > 0 {
		w.logger.Info("sweep pass finished",
			zap.Int("requests_unattended", stats.RequestsUnattended),
			zap.Int("requests_expired", stats.RequestsExpired),
			zap.Int("sessions_completed", stats.SessionsCompleted),
			zap.Int("sessions_cancelled", stats.SessionsCancelled),
			zap.Int("requests_repaired", stats.RequestsRepaired))
	}
}
