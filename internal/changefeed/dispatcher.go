// Package changefeed delivers committed document changes from the outbox
// to in-process subscribers, at least once and in commit order.
package changefeed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/homequest/internal/metrics"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
)

// Handler consumes one change event. Returning an error leaves the event
// undelivered so it is offered again on a later poll.
type Handler interface {
	HandleChange(ctx context.Context, ev model.ChangeEvent) error
}

type HandlerFunc func(ctx context.Context, ev model.ChangeEvent) error

func (f HandlerFunc) HandleChange(ctx context.Context, ev model.ChangeEvent) error {
	return f(ctx, ev)
}

const (
	defaultInterval = 2 * time.Second
	batchSize       = 100
	// MaxAttempts is how many failed deliveries an event gets before it is
	// left in the outbox for inspection.
	MaxAttempts = 10
)

// Dispatcher polls the change outbox and hands each event to every
// subscriber.
type Dispatcher struct {
	mu       sync.RWMutex
	db       *sql.DB
	changes  *store.ChangeStore
	handlers []Handler
	interval time.Duration
	wake     chan struct{}
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Dispatcher polling every interval. Zero selects the default.
func New(db *sql.DB, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Dispatcher{
		db:       db,
		changes:  store.NewChangeStore(db),
		interval: interval,
		wake:     make(chan struct{}, 1),
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers h. Handlers are called in registration order.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Notify asks the running loop to poll now instead of waiting for the next
// tick. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start begins the delivery loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("changefeed poll", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-d.wake:
			}
		}
	}()
}

// Stop gracefully stops the delivery loop.
func (d *Dispatcher) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Poll delivers pending events in id order and returns how many were
// delivered. It stops at the first failing event so later changes to the
// same document are not seen before it.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	events, err := d.changes.ListPending(ctx, MaxAttempts, batchSize)
	if err != nil {
		return 0, err
	}

	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	delivered := 0
	for _, ev := range events {
		if err := d.deliver(ctx, handlers, ev); err != nil {
			d.metrics.Redelivery()
			d.logger.Warn("change delivery failed",
				"event_id", ev.ID,
				"path", ev.Path,
				"attempt", ev.Attempts+1,
				"error", err,
			)
			if markErr := d.changes.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
				return delivered, markErr
			}
			if ev.Attempts+1 >= MaxAttempts {
				d.logger.Error("change event abandoned", "event_id", ev.ID, "path", ev.Path)
				continue
			}
			return delivered, nil
		}
		if err := d.changes.MarkDelivered(ctx, ev.ID, d.now()); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, handlers []Handler, ev model.ChangeEvent) error {
	for _, h := range handlers {
		if err := h.HandleChange(ctx, ev); err != nil {
			return fmt.Errorf("handle change %d: %w", ev.ID, err)
		}
	}
	return nil
}
