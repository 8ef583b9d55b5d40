// Package backend builds the storage.Client for the configured document store.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/elastic"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/memstore"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/postgres"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
	pgclient "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/resilience"
)

// Opened is a ready storage client and the function that releases its store.
type Opened struct {
	Client *storage.Client
	Close  func() error
}

// Open connects to cfg.Store.Backend, retrying until the store answers a ping
// or cfg.Store.StartupWait runs out.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Opened, error) {
	editorID, err := uuid.Parse(cfg.Store.EditorFieldID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "store.editorFieldId %q: %v", cfg.Store.EditorFieldID, err)
	}

	retryCtx := ctx
	if cfg.Store.StartupWait > 0 {
		var cancel context.CancelFunc
		retryCtx, cancel = context.WithTimeout(ctx, cfg.Store.StartupWait)
		defer cancel()
	}

	var (
		store   storage.DocumentStore
		closeFn = func() error { return nil }
	)
	err = resilience.Retry(retryCtx, "open "+cfg.Store.Backend, resilience.RetryConfig{MaxAttempts: 8}, func(ctx context.Context) error {
		s, c, err := dial(ctx, cfg)
		if err != nil {
			return err
		}
		if err := s.Ping(ctx); err != nil {
			_ = c()
			return err
		}
		store, closeFn = s, c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}

	slog.Info("document store connected", "backend", cfg.Store.Backend, "prefix", cfg.Store.IndexPrefix)
	client := storage.New(store, storage.Options{
		Prefix:        cfg.Store.IndexPrefix,
		EditorFieldID: editorID,
		Metrics:       m,
	})
	return &Opened{Client: client, Close: closeFn}, nil
}

func dial(ctx context.Context, cfg *config.Config) (storage.DocumentStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case "elasticsearch":
		s, err := elastic.New(cfg.Elasticsearch, elastic.Options{Refresh: cfg.Elasticsearch.Refresh})
		if err != nil {
			return nil, nil, resilience.Permanent(err)
		}
		return s, noop, nil
	case "postgres":
		db, err := pgclient.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		s, err := postgres.Open(ctx, db, cfg.Store.IndexPrefix)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	case "memory":
		slog.Warn("using in-memory document store, records are lost on exit")
		return memstore.New(), noop, nil
	default:
		return nil, nil, resilience.Permanent(fmt.Errorf("unknown store backend %q", cfg.Store.Backend))
	}
}
