// Package source feeds webhook payloads from Kafka into the ingestion queue.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/queue"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
)

// Enqueuer is the producer side of queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, item queue.Item) error
}

// KafkaSource turns each message into a queue item: the message key names the
// sending CMS instance and the value is the raw payload. A message is only
// committed after the queue accepted it.
type KafkaSource struct {
	consumer *kafka.Consumer
	queue    Enqueuer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewKafkaSource builds a source reading from a consumer created by build,
// which receives the source's message handler.
func NewKafkaSource(q Enqueuer, m *metrics.Metrics, build func(kafka.MessageHandler) *kafka.Consumer) *KafkaSource {
	s := &KafkaSource{
		queue:   q,
		metrics: m,
		logger:  logger.WithComponent("kafka-source"),
	}
	s.consumer = build(s.Handle)
	return s
}

// Handle enqueues one message, waiting while the queue is full.
func (s *KafkaSource) Handle(ctx context.Context, key, value []byte) error {
	instance := string(key)
	if instance == "" {
		instance = audit.DefaultInstance
	}
	if err := s.queue.Enqueue(ctx, queue.Item{SourceInstance: instance, Raw: string(value)}); err != nil {
		return fmt.Errorf("enqueueing webhook from %s: %w", instance, err)
	}
	if s.metrics != nil {
		s.metrics.MessagesConsumedTotal.Inc()
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Info("kafka source started")
	return s.consumer.Start(ctx)
}

func (s *KafkaSource) Close() error {
	return s.consumer.Close()
}
