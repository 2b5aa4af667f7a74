package sync

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs periodic push passes and wakes early when a mutation
// commits.
type Worker struct {
	pusher   *Pusher
	opts     Options
	interval time.Duration
	wake     chan struct{}
	log      *slog.Logger
}

// NewWorker creates a background pusher running every interval.
func NewWorker(pusher *Pusher, opts Options, interval time.Duration, log *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		pusher:   pusher,
		opts:     opts,
		interval: interval,
		wake:     make(chan struct{}, 1),
		log:      log,
	}
}

// Wake requests a push pass as soon as the worker is idle. Safe to call
// from any goroutine; concurrent wakes collapse into one pass.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. Push errors are logged, not fatal;
// undelivered events stay in the outbox for the next pass.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
		result, err := w.pusher.Push(ctx, w.opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("push pass failed", "error", err)
			continue
		}
		if result.Delivered > 0 || result.Failed > 0 {
			w.log.Info("push pass finished",
				"delivered", result.Delivered,
				"failed", result.Failed,
				"skipped", result.Skipped,
			)
		}
	}
}
