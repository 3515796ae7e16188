// Package queue runs accepted notification requests on a fixed worker pool
// so callers do not wait for channel delivery.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukerupert/herald/internal/dispatch"
	"github.com/dukerupert/herald/internal/metrics"
	"github.com/dukerupert/herald/internal/model"
)

const (
	defaultWorkers = 4
	defaultSize    = 256
)

var (
	ErrFull   = errors.New("notification queue is full")
	ErrClosed = errors.New("notification queue is closed")
)

// Dispatcher is the part of dispatch.Dispatcher the queue drives.
type Dispatcher interface {
	Validate(req model.NotificationRequest) error
	Send(ctx context.Context, req model.NotificationRequest) (*dispatch.Result, error)
}

type Queue struct {
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	ch      chan model.NotificationRequest
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a queue. Call Start to launch the workers.
func New(d Dispatcher, workers, size int, m *metrics.Metrics, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if size <= 0 {
		size = defaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		dispatcher: d,
		metrics:    m,
		logger:     logger,
		ch:         make(chan model.NotificationRequest, size),
		workers:    workers,
	}
}

// Start launches the workers. Dispatches run under a context detached from
// ctx so Close can drain pending requests after shutdown begins.
func (q *Queue) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for req := range q.ch {
				q.metrics.SetQueueDepth(len(q.ch))
				q.run(base, req)
			}
		}()
	}
}

func (q *Queue) run(ctx context.Context, req model.NotificationRequest) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued dispatch panicked", "user_id", req.UserID, "type", req.Type, "panic", r)
		}
	}()
	res, err := q.dispatcher.Send(ctx, req)
	if err != nil {
		q.logger.Error("queued dispatch failed", "user_id", req.UserID, "type", req.Type, "error", err)
		return
	}
	q.logger.Debug("queued dispatch done", "notification_id", res.NotificationID, "state", res.State)
}

// Enqueue validates req and accepts it without blocking. It returns the
// dispatcher's ValidationError, ErrFull or ErrClosed.
func (q *Queue) Enqueue(req model.NotificationRequest) error {
	if err := q.dispatcher.Validate(req); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- req:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	default:
		q.metrics.ObserveQueueDrop()
		return ErrFull
	}
}

// Submit is Enqueue that waits for room until ctx is done.
func (q *Queue) Submit(ctx context.Context, req model.NotificationRequest) error {
	if err := q.dispatcher.Validate(req); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- req:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len is the number of requests waiting for a worker.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests and waits until pending ones are dispatched.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
