// Package queue buffers raw change events between the receivers that accept
// them and the workers that store them.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
)

var (
	ErrQueueFull = errors.New("ingestion queue is full")
	ErrClosed    = errors.New("ingestion queue is closed")
)

// Item is one raw event as received, tagged with the CMS instance that sent it.
type Item struct {
	SourceInstance string
	Raw            string
}

// Queue is a bounded FIFO safe for any number of producers and consumers.
// Items accepted before Close are still handed out by Dequeue.
type Queue struct {
	items     chan Item
	closed    chan struct{}
	closeOnce sync.Once
	metrics   *metrics.Metrics
}

func New(capacity int, m *metrics.Metrics) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		items:   make(chan Item, capacity),
		closed:  make(chan struct{}),
		metrics: m,
	}
}

// Enqueue appends item, waiting while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	select {
	case <-q.closed:
		q.rejected()
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		q.accepted()
		return nil
	case <-q.closed:
		q.rejected()
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue appends item or fails immediately with ErrQueueFull.
func (q *Queue) TryEnqueue(item Item) error {
	select {
	case <-q.closed:
		q.rejected()
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		q.accepted()
		return nil
	default:
		q.rejected()
		return ErrQueueFull
	}
}

// Dequeue removes the oldest item, waiting while the queue is empty. Once the
// queue is closed and drained it returns ErrClosed. A cancelled ctx wins
// over queued items.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	select {
	case item := <-q.items:
		q.observeDepth()
		return item, nil
	default:
	}
	select {
	case item := <-q.items:
		q.observeDepth()
		return item, nil
	case <-q.closed:
		select {
		case item := <-q.items:
			q.observeDepth()
			return item, nil
		default:
			return Item{}, ErrClosed
		}
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// Close stops accepting items. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Cap() int { return cap(q.items) }

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *Queue) accepted() {
	if q.metrics != nil {
		q.metrics.QueueEnqueuedTotal.Inc()
		q.metrics.QueueDepth.Set(float64(len(q.items)))
	}
}

func (q *Queue) rejected() {
	if q.metrics != nil {
		q.metrics.QueueRejectedTotal.Inc()
	}
}

func (q *Queue) observeDepth() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.items)))
	}
}
