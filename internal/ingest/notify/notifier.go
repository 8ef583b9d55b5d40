// Package notify announces stored audit records on a Kafka topic.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/worker"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
)

const maxBatch = 100

// ChangeStored is the message published for every stored record.
type ChangeStored struct {
	EventName        string     `json:"eventName"`
	SitecoreInstance string     `json:"sitecoreInstance"`
	ItemID           *uuid.UUID `json:"itemId"`
	StoredAt         time.Time  `json:"storedAt"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Notifier is a worker.Observer. Notifications are buffered and published in
// the background; when the buffer is full they are dropped.
type Notifier struct {
	publisher Publisher
	eventCh   chan ChangeStored
	metrics   *metrics.Metrics
	logger    *slog.Logger
	done      chan struct{}
}

func New(publisher Publisher, bufferSize int, m *metrics.Metrics) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Notifier{
		publisher: publisher,
		eventCh:   make(chan ChangeStored, bufferSize),
		metrics:   m,
		logger:    logger.WithComponent("change-notifier"),
		done:      make(chan struct{}),
	}
}

// Stored implements worker.Observer.
func (n *Notifier) Stored(_ context.Context, c worker.Completion) {
	msg := ChangeStored{
		EventName:        c.Event.EventName,
		SitecoreInstance: c.Instance,
		StoredAt:         c.StoredAt,
	}
	if id, ok := c.ItemID(); ok {
		msg.ItemID = &id
	}
	select {
	case n.eventCh <- msg:
	default:
		n.logger.Warn("change notification dropped (buffer full)", "event_name", msg.EventName)
		n.count("dropped", 1)
	}
}

// Start publishes buffered notifications until ctx is cancelled or Close is
// called; anything still buffered is flushed before it returns.
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		defer close(n.done)
		for {
			select {
			case msg, ok := <-n.eventCh:
				if !ok {
					return
				}
				n.publish(ctx, n.collect(msg))
			case <-ctx.Done():
				n.drainRemaining()
				return
			}
		}
	}()
	n.logger.Info("change notifier started", "buffer_size", cap(n.eventCh))
}

// Close stops accepting notifications and waits for the buffer to flush.
// Stored must not be called after Close.
func (n *Notifier) Close() {
	close(n.eventCh)
	<-n.done
}

// collect gathers whatever else is already buffered, up to maxBatch.
func (n *Notifier) collect(first ChangeStored) []ChangeStored {
	batch := []ChangeStored{first}
	for len(batch) < maxBatch {
		select {
		case msg, ok := <-n.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (n *Notifier) publish(ctx context.Context, batch []ChangeStored) {
	events := make([]kafka.Event, 0, len(batch))
	for _, msg := range batch {
		key := msg.SitecoreInstance
		if msg.ItemID != nil {
			key = msg.ItemID.String()
		}
		events = append(events, kafka.Event{Key: key, Value: msg})
	}
	if err := n.publisher.PublishBatch(ctx, events); err != nil {
		n.logger.Error("failed to publish change notifications", "count", len(events), "error", err)
		n.count("failed", len(events))
		return
	}
	n.count("published", len(events))
}

func (n *Notifier) drainRemaining() {
	for {
		select {
		case msg, ok := <-n.eventCh:
			if !ok {
				return
			}
			n.publish(context.Background(), n.collect(msg))
		default:
			return
		}
	}
}

func (n *Notifier) count(outcome string, k int) {
	if n.metrics != nil {
		n.metrics.NotificationsTotal.WithLabelValues(outcome).Add(float64(k))
	}
}
