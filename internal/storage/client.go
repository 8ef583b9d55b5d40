// Package storage turns raw change events into indexed audit records, writes
// them into monthly partitions of a document store and serves the two history
// queries.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/metrics"
)

const (
	// DefaultPrefix names the partitions when no prefix is configured.
	DefaultPrefix = "glitteraudit"
	// replicas is applied to every partition this client creates.
	replicas = 1
	// itemHistorySize caps QueryByItemID.
	itemHistorySize = 10
)

// DefaultEditorFieldID is the "last modified by" field of the CMS.
var DefaultEditorFieldID = uuid.MustParse("badd9cf9-53e0-4d0c-bcc0-2d784c282f6a")

// projection lists the fields QueryByItemVersionLanguage asks the store for.
var projection = []string{"Timestamp", "User", "FieldIds"}

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	Prefix        string
	EditorFieldID uuid.UUID
	Now           func() time.Time
	Metrics       *metrics.Metrics
}

// Client is safe for concurrent use; it holds only read-only configuration.
type Client struct {
	store    DocumentStore
	prefix   string
	editorID uuid.UUID
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Client on top of store.
func New(store DocumentStore, opts Options) *Client {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.EditorFieldID == uuid.Nil {
		opts.EditorFieldID = DefaultEditorFieldID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		store:    store,
		prefix:   opts.Prefix,
		editorID: opts.EditorFieldID,
		now:      opts.Now,
		metrics:  opts.Metrics,
		logger:   logger.WithComponent("storage-client"),
	}
}

// Prefix returns the partition name prefix.
func (c *Client) Prefix() string {
	return c.prefix
}

// CurrentPartition returns the partition a write issued now would land in.
func (c *Client) CurrentPartition() string {
	return audit.PartitionName(c.prefix, c.now())
}

// Write derives an IndexedRecord from event and persists it in the current
// month's partition. raw is stored verbatim; when empty the event is
// re-serialized instead. Store failures are returned unchanged.
func (c *Client) Write(ctx context.Context, instanceID string, event *audit.RawEvent, raw string) error {
	if event == nil {
		return ErrNilEvent
	}
	now := c.now().UTC()

	if raw == "" {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnserializable, err)
		}
		if len(data) == 0 {
			return ErrUnserializable
		}
		raw = string(data)
	}

	partition := audit.PartitionName(c.prefix, now)
	if err := c.EnsurePartition(ctx, partition); err != nil {
		return err
	}

	rec, err := c.buildRecord(now, instanceID, event, raw)
	if err != nil {
		return err
	}
	rec.ID = uuid.New()

	if err := c.store.Insert(ctx, partition, rec.ID, rec); err != nil {
		return fmt.Errorf("inserting record into %s: %w", partition, err)
	}
	c.logger.Debug("record stored",
		"partition", partition,
		"record_id", rec.ID,
		"item_id", rec.ItemID,
		"event_name", rec.EventName,
	)
	return nil
}

func (c *Client) buildRecord(now time.Time, instanceID string, event *audit.RawEvent, raw string) (*audit.IndexedRecord, error) {
	if instanceID == "" {
		instanceID = audit.DefaultInstance
	}
	changes := event.FieldChanges()

	fieldIDs := make([]uuid.UUID, 0, len(changes))
	var (
		user        *string
		editorFound bool
	)
	for _, fc := range changes {
		fieldIDs = append(fieldIDs, fc.FieldID)
		// only the first editor entry counts, even when its value is null
		if !editorFound && fc.FieldID == c.editorID {
			user = fc.Value
			editorFound = true
		}
	}

	var changedFields *string
	if changes != nil {
		snapshot := make([]audit.ChangedField, 0, len(changes))
		for _, fc := range changes {
			snapshot = append(snapshot, audit.ChangedField{Field: fc.FieldID, From: fc.OriginalValue, To: fc.Value})
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("%w: changed fields: %v", ErrUnserializable, err)
		}
		s := string(data)
		changedFields = &s
	}

	rec := &audit.IndexedRecord{
		Timestamp:        now,
		EventName:        event.EventName,
		Raw:              raw,
		FieldIDs:         fieldIDs,
		ChangedFields:    changedFields,
		User:             user,
		SitecoreInstance: instanceID,
	}
	if item := event.Item; item != nil {
		rec.ItemID = item.ID
		rec.ParentID = item.ParentID
		rec.Version = item.Version
		if item.Language != "" {
			lang := item.Language
			rec.Language = &lang
		}
	}
	return rec, nil
}

// EnsurePartition creates the named partition. A partition that already
// exists is not an error; any other store failure is.
func (c *Client) EnsurePartition(ctx context.Context, name string) error {
	err := c.store.CreatePartition(ctx, name, replicas)
	switch {
	case err == nil:
		c.logger.Info("partition created", "partition", name, "replicas", replicas)
		if c.metrics != nil {
			c.metrics.PartitionsCreatedTotal.Inc()
		}
		return nil
	case errors.Is(err, ErrPartitionExists):
		return nil
	default:
		return fmt.Errorf("creating partition %s: %w", name, err)
	}
}

// RecreatePartition drops the current month's partition, with all its
// records, and creates it again empty.
func (c *Client) RecreatePartition(ctx context.Context) error {
	name := c.CurrentPartition()
	if err := c.store.DeletePartition(ctx, name); err != nil {
		return fmt.Errorf("deleting partition %s: %w", name, err)
	}
	c.logger.Warn("partition deleted", "partition", name)
	return c.EnsurePartition(ctx, name)
}

// QueryByItemID returns the ten most recent records of an item across all
// partitions.
func (c *Client) QueryByItemID(ctx context.Context, itemID uuid.UUID) ([]audit.IndexedRecord, error) {
	recs, err := c.store.Search(ctx, Query{
		Pattern: audit.PartitionPattern(c.prefix),
		ItemID:  itemID,
		Size:    itemHistorySize,
	})
	if err != nil {
		return nil, fmt.Errorf("querying history of item %s: %w", itemID, err)
	}
	return recs, nil
}

// QueryByItemVersionLanguage returns every record of one item version in one
// language, newest first. Unlike QueryByItemID the result is not capped.
func (c *Client) QueryByItemVersionLanguage(ctx context.Context, itemID uuid.UUID, language string, version int) ([]audit.IndexedRecord, error) {
	recs, err := c.store.Search(ctx, Query{
		Pattern:  audit.PartitionPattern(c.prefix),
		ItemID:   itemID,
		Language: &language,
		Version:  &version,
		Fields:   projection,
	})
	if err != nil {
		return nil, fmt.Errorf("querying history of item %s (%s, v%d): %w", itemID, language, version, err)
	}

	// The store already filtered; drop anything that slipped through.
	filtered := recs[:0]
	for _, rec := range recs {
		if rec.Matches(itemID, language, version) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// Ping reports whether the document store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
