package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
)

func TestPartitionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreatePartition(ctx, "a-2024.01", 1))
	assert.ErrorIs(t, s.CreatePartition(ctx, "a-2024.01", 1), storage.ErrPartitionExists)
	require.NoError(t, s.DeletePartition(ctx, "a-2024.01"))
	require.NoError(t, s.DeletePartition(ctx, "a-2024.01"))
	assert.Empty(t, s.Partitions())
}

func TestInsertRequiresPartitionAndUniqueID(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := uuid.New()

	assert.Error(t, s.Insert(ctx, "a-2024.01", id, &audit.IndexedRecord{}))
	require.NoError(t, s.CreatePartition(ctx, "a-2024.01", 1))
	require.NoError(t, s.Insert(ctx, "a-2024.01", id, &audit.IndexedRecord{}))
	assert.Error(t, s.Insert(ctx, "a-2024.01", id, &audit.IndexedRecord{}))
	assert.Equal(t, 1, s.Count())
}

func TestSearchSpansMatchingPartitionsOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	itemID := uuid.New()
	base := time.Date(2024, time.January, 31, 23, 0, 0, 0, time.UTC)

	for i, p := range []string{"a-2024.01", "a-2024.02", "b-2024.02"} {
		require.NoError(t, s.CreatePartition(ctx, p, 1))
		rec := &audit.IndexedRecord{ItemID: itemID, Timestamp: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.Insert(ctx, p, uuid.New(), rec))
	}

	recs, err := s.Search(ctx, storage.Query{Pattern: "a-*", ItemID: itemID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Timestamp.After(recs[1].Timestamp))
}
