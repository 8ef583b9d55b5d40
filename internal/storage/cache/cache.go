// Package cache puts a Redis read-through cache in front of the history
// queries. Concurrent misses for the same key share one store query, and a
// circuit breaker bypasses Redis while it keeps failing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/resilience"
)

const keyPrefix = "history:"

// HistoryReader is the query side of storage.Client.
type HistoryReader interface {
	QueryByItemID(ctx context.Context, itemID uuid.UUID) ([]audit.IndexedRecord, error)
	QueryByItemVersionLanguage(ctx context.Context, itemID uuid.UUID, language string, version int) ([]audit.IndexedRecord, error)
}

// entry keeps the record id, which IndexedRecord leaves out of its JSON.
type entry struct {
	ID     uuid.UUID           `json:"id"`
	Record audit.IndexedRecord `json:"record"`
}

type HistoryCache struct {
	reader  HistoryReader
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(reader HistoryReader, client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *HistoryCache {
	return &HistoryCache{
		reader:  reader,
		client:  client,
		ttl:     ttl,
		metrics: m,
		breaker: resilience.NewCircuitBreaker("history-cache", resilience.CircuitBreakerConfig{}),
		logger:  logger.WithComponent("history-cache"),
	}
}

func (c *HistoryCache) QueryByItemID(ctx context.Context, itemID uuid.UUID) ([]audit.IndexedRecord, error) {
	return c.getOrCompute(ctx, itemKey(itemID), func() ([]audit.IndexedRecord, error) {
		return c.reader.QueryByItemID(ctx, itemID)
	})
}

func (c *HistoryCache) QueryByItemVersionLanguage(ctx context.Context, itemID uuid.UUID, language string, version int) ([]audit.IndexedRecord, error) {
	key := fmt.Sprintf("%s:%s:%d", itemKey(itemID), language, version)
	return c.getOrCompute(ctx, key, func() ([]audit.IndexedRecord, error) {
		return c.reader.QueryByItemVersionLanguage(ctx, itemID, language, version)
	})
}

// Invalidate drops every cached view of the item.
func (c *HistoryCache) Invalidate(ctx context.Context, itemID uuid.UUID) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.client.FlushByPattern(ctx, itemKey(itemID)+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating history of %s: %w", itemID, err)
	}
	c.logger.Debug("history invalidated", "item_id", itemID, "keys_deleted", deleted)
	return nil
}

func (c *HistoryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports whether Redis is currently being bypassed.
func (c *HistoryCache) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *HistoryCache) getOrCompute(ctx context.Context, key string, compute func() ([]audit.IndexedRecord, error)) ([]audit.IndexedRecord, error) {
	if recs, ok := c.get(ctx, key); ok {
		return recs, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if recs, ok := c.get(ctx, key); ok {
			return recs, nil
		}
		recs, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, recs)
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]audit.IndexedRecord), nil
}

func (c *HistoryCache) get(ctx context.Context, key string) ([]audit.IndexedRecord, bool) {
	var data string
	found := false
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil || !found {
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	var entries []entry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	recs := make([]audit.IndexedRecord, 0, len(entries))
	for _, e := range entries {
		rec := e.Record
		rec.ID = e.ID
		recs = append(recs, rec)
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return recs, true
}

func (c *HistoryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *HistoryCache) set(ctx context.Context, key string, recs []audit.IndexedRecord) {
	entries := make([]entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, entry{ID: rec.ID, Record: rec})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func itemKey(itemID uuid.UUID) string {
	return keyPrefix + itemID.String()
}
