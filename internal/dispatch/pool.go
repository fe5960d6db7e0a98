package dispatch

import (
	"context"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/store"

	"golang.org/x/sync/errgroup"
)

// Pool polls the queue and fans due notifications out to dispatch workers.
// The poller never claims; claiming is the dispatcher's CAS, so running
// several pool instances against one database stays safe.
type Pool struct {
	dispatcher    *Dispatcher
	notifications store.NotificationStore

	workers      int
	batchSize    int
	pollInterval time.Duration
	logger       logger.Logger
}

func NewPool(dispatcher *Dispatcher, notifications store.NotificationStore, workers, batchSize int, pollInterval time.Duration, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = 8
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Pool{
		dispatcher:    dispatcher,
		notifications: notifications,
		workers:       workers,
		batchSize:     batchSize,
		pollInterval:  pollInterval,
		logger:        log.WithFields(map[string]interface{}{"component": "dispatch-pool"}),
	}
}

// Run blocks until ctx is cancelled. In-flight dispatches finish before it
// returns; queued ids that were not picked up stay queued for the next run.
func (p *Pool) Run(ctx context.Context) error {
	ids := make(chan string)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ids)
		return p.poll(ctx, ids)
	})

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for id := range ids {
				metrics.WorkersActive.Inc()
				if err := p.dispatcher.Dispatch(ctx, id); err != nil {
					p.logger.Error("dispatch failed", map[string]interface{}{
						"notificationId": id,
						"error":          err.Error(),
					})
				}
				metrics.WorkersActive.Dec()
			}
			return nil
		})
	}

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (p *Pool) poll(ctx context.Context, ids chan<- string) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		batch, err := p.notifications.DequeueBatch(ctx, time.Now(), p.batchSize)
		if err != nil {
			p.logger.Error("dequeue failed", map[string]interface{}{"error": err.Error()})
		}
		for _, n := range batch {
			select {
			case ids <- n.ID:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
