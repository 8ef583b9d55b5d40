package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/notify"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/queue"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/source"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/ingest/worker"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/backend"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/cache"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting glitterbucket",
		"backend", cfg.Store.Backend,
		"queue_capacity", cfg.Queue.Capacity,
		"workers", cfg.Queue.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opened, err := backend.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer opened.Close()
	store := opened.Client

	if err := store.EnsurePartition(ctx, store.CurrentPartition()); err != nil {
		slog.Error("failed to ensure current partition", "error", err)
		os.Exit(1)
	}

	q := queue.New(cfg.Queue.Capacity, m)
	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(store.Ping))
	checker.Register("queue", health.QueueCheck(q.Len, q.Cap, q.Closed))

	var observers []worker.Observer

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, history cache invalidation disabled", "error", err)
		} else {
			defer redisClient.Close()
			history := cache.New(store, redisClient, cfg.Redis.CacheTTL, m)
			observers = append(observers, worker.ObserverFunc(func(ctx context.Context, c worker.Completion) {
				id, ok := c.ItemID()
				if !ok {
					return
				}
				if err := history.Invalidate(ctx, id); err != nil {
					slog.Warn("history cache invalidation failed", "item_id", id, "error", err)
				}
			}))
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp, Message: "breaker " + history.BreakerState().String()}
			})
			slog.Info("history cache invalidation enabled", "addr", cfg.Redis.Addr)
		}
	}

	var notifier *notify.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ChangeStored)
		defer producer.Close()
		notifier = notify.New(producer, 10000, m)
		// Flushed by Close once the workers have stopped.
		notifier.Start(context.Background())
		observers = append(observers, notifier)
		slog.Info("change notifier enabled", "topic", cfg.Kafka.Topics.ChangeStored)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, reg)
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	workers := worker.NewGroup(cfg.Queue.Workers, q, store, m, observers...)
	g.Go(func() error {
		defer q.Close()
		return workers.Run(gctx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		src := source.NewKafkaSource(q, m, func(h kafka.MessageHandler) *kafka.Consumer {
			return kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Webhooks, h)
		})
		g.Go(func() error {
			defer src.Close()
			return src.Run(gctx)
		})
		slog.Info("kafka source enabled", "topic", cfg.Kafka.Topics.Webhooks, "group", cfg.Kafka.ConsumerGroup)
	} else {
		slog.Warn("no kafka brokers configured, the queue is fed only by an external receiver")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      checker.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if notifier != nil {
		notifier.Close()
	}
	if err != nil {
		slog.Error("glitterbucket stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("glitterbucket stopped")
}
