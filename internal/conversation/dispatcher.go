package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/athenasql/athenasql/internal/observability"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

type Handler interface {
	HandleEvent(ctx context.Context, event Event) error
}

type DispatcherConfig struct {
	// MaxInFlight bounds how many events are handled at once across all
	// conversations.
	MaxInFlight int
	// EventTimeout bounds a single HandleEvent call. Zero means no bound.
	EventTimeout time.Duration
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// Dispatcher queues inbound events per conversation and handles each queue
// in arrival order on its own worker. Workers of different conversations
// run concurrently, at most MaxInFlight events at a time. Dispatch never
// blocks on busy handlers.
//
// Handlers run on a context detached from the one passed to Dispatch, so a
// canceled listener does not abort cycles that are already accepted.
type Dispatcher struct {
	handler      Handler
	logger       *slog.Logger
	eventTimeout time.Duration
	slots        *semaphore.Weighted
	workers      errgroup.Group

	mu     sync.Mutex
	queues map[string][]queuedEvent
	closed bool
}

func NewDispatcher(handler Handler, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Dispatcher{
		handler:      handler,
		logger:       logger,
		eventTimeout: cfg.EventTimeout,
		slots:        semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		queues:       map[string][]queuedEvent{},
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	key := event.ConversationID
	pending, running := d.queues[key]
	d.queues[key] = append(pending, queuedEvent{ctx: context.WithoutCancel(ctx), event: event})
	if !running {
		d.workers.Go(func() error {
			d.drain(key)
			return nil
		})
	}
	return nil
}

// drain handles the queue for key until it is empty, then removes it.
func (d *Dispatcher) drain(key string) {
	for {
		d.mu.Lock()
		pending := d.queues[key]
		if len(pending) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		next := pending[0]
		pending[0] = queuedEvent{}
		d.queues[key] = pending[1:]
		d.mu.Unlock()

		d.handle(next)
	}
}

func (d *Dispatcher) handle(item queuedEvent) {
	ctx := item.ctx
	if err := d.slots.Acquire(ctx, 1); err != nil {
		d.logger.WarnContext(ctx, "dropping event", slog.String("conversation_id", item.event.ConversationID), slog.Any("error", err))
		return
	}
	defer d.slots.Release(1)

	if d.eventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.eventTimeout)
		defer cancel()
	}

	observability.IncInflightEvents()
	defer observability.DecInflightEvents()
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.ErrorContext(ctx, "event handler panicked", slog.String("panic", fmt.Sprint(recovered)))
		}
	}()

	if err := d.handler.HandleEvent(ctx, item.event); err != nil {
		d.logger.DebugContext(ctx, "event handled with error",
			slog.String("conversation_id", item.event.ConversationID),
			slog.String("event_kind", item.event.Kind.String()),
			slog.String("kind", string(KindOf(err))),
		)
	}
}

// Shutdown stops accepting events and waits until every queued event is
// handled or ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight events: %w", ctx.Err())
	}
}
