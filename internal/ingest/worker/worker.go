// Package worker drains the ingestion queue into the storage client.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/queue"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
)

// Dequeuer is the consumer side of queue.Queue.
type Dequeuer interface {
	Dequeue(ctx context.Context) (queue.Item, error)
}

// Writer persists one decoded event. storage.Client satisfies it.
type Writer interface {
	Write(ctx context.Context, instanceID string, event *audit.RawEvent, raw string) error
}

// Completion describes an event that has been stored.
type Completion struct {
	Instance string
	Event    *audit.RawEvent
	Raw      string
	StoredAt time.Time
}

// ItemID returns the id of the changed item; ok is false when the event
// carried no item.
func (c Completion) ItemID() (uuid.UUID, bool) {
	if c.Event == nil || c.Event.Item == nil {
		return uuid.Nil, false
	}
	return c.Event.Item.ID, true
}

// Observer is told about every stored event. Implementations must not block
// for long; they run on the worker goroutine.
type Observer interface {
	Stored(ctx context.Context, c Completion)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Completion)

func (f ObserverFunc) Stored(ctx context.Context, c Completion) { f(ctx, c) }

type Worker struct {
	id        int
	queue     Dequeuer
	writer    Writer
	observers []Observer
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

func New(id int, q Dequeuer, w Writer, m *metrics.Metrics, observers ...Observer) *Worker {
	return &Worker{
		id:        id,
		queue:     q,
		writer:    w,
		observers: observers,
		metrics:   m,
		now:       time.Now,
		logger:    logger.WithComponent("ingest-worker").With("worker_id", id),
	}
}

// Run processes items until ctx is cancelled or the queue is closed and
// drained, both of which return nil. Cancellation is only observed while
// waiting for the next item; an item already dequeued is always written.
// A failed write stops the worker and is returned.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				w.logger.Info("worker stopped", "reason", err)
				return nil
			}
			return fmt.Errorf("worker %d: dequeue: %w", w.id, err)
		}
		if err := w.process(context.WithoutCancel(ctx), item); err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) error {
	var event *audit.RawEvent
	if err := json.Unmarshal([]byte(item.Raw), &event); err != nil {
		w.drop(item, "malformed", err)
		return nil
	}
	if event == nil {
		w.drop(item, "null", nil)
		return nil
	}

	start := time.Now()
	err := w.writer.Write(ctx, item.SourceInstance, event, item.Raw)
	if w.metrics != nil {
		w.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if w.metrics != nil {
			w.metrics.WriteFailuresTotal.Inc()
		}
		w.logger.Error("failed to store event",
			"event_name", event.EventName,
			"instance", item.SourceInstance,
			"error", err,
		)
		return fmt.Errorf("storing event from %q: %w", item.SourceInstance, err)
	}

	w.logger.Info("event stored",
		"event_name", event.EventName,
		"instance", item.SourceInstance,
		"raw", item.Raw,
	)
	if w.metrics != nil {
		w.metrics.EventsStoredTotal.WithLabelValues(event.EventName).Inc()
	}
	done := Completion{Instance: item.SourceInstance, Event: event, Raw: item.Raw, StoredAt: w.now().UTC()}
	for _, o := range w.observers {
		o.Stored(ctx, done)
	}
	return nil
}

func (w *Worker) drop(item queue.Item, reason string, err error) {
	w.logger.Warn("dropping undecodable event",
		"reason", reason,
		"instance", item.SourceInstance,
		"raw", item.Raw,
		"error", err,
	)
	if w.metrics != nil {
		w.metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
	}
}

// Group runs several workers over the same queue.
type Group struct {
	workers []*Worker
}

func NewGroup(n int, q Dequeuer, w Writer, m *metrics.Metrics, observers ...Observer) *Group {
	if n <= 0 {
		n = 1
	}
	g := &Group{workers: make([]*Worker, 0, n)}
	for i := 0; i < n; i++ {
		g.workers = append(g.workers, New(i, q, w, m, observers...))
	}
	return g
}

// Run starts every worker and waits for all of them. The first worker error
// cancels the others, which finish their current item and stop.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range g.workers {
		eg.Go(func() error { return w.Run(ctx) })
	}
	return eg.Wait()
}

func (g *Group) Size() int { return len(g.workers) }
