package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage/memstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/errors"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func newClient(t *testing.T) (*storage.Client, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	client := storage.New(store, storage.Options{
		Now: stepClock(time.Date(2024, time.March, 10, 8, 0, 0, 0, time.UTC)),
	})
	return client, store
}

func strPtr(s string) *string { return &s }

func sampleEvent(itemID uuid.UUID, language string, version int) *audit.RawEvent {
	return &audit.RawEvent{
		EventName: "item:saved",
		Item: &audit.ItemDescriptor{
			ID:       itemID,
			Version:  version,
			ParentID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			Language: language,
		},
		Changes: &audit.ItemChanges{FieldChanges: []audit.FieldChange{
			{FieldID: storage.DefaultEditorFieldID, OriginalValue: strPtr(`sitecore\admin`), Value: strPtr(`sitecore\someone`)},
		}},
	}
}

func TestEnsurePartitionIsIdempotent(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsurePartition(ctx, "glitteraudit-2024.03"))
	require.NoError(t, client.EnsurePartition(ctx, "glitteraudit-2024.03"))

	assert.Equal(t, []string{"glitteraudit-2024.03"}, store.Partitions())
	assert.Equal(t, 1, store.Replicas("glitteraudit-2024.03"))
}

func TestEnsurePartitionPropagatesOtherFailures(t *testing.T) {
	client, store := newClient(t)
	boom := errors.New("cluster red")
	store.ErrCreate = boom

	err := client.EnsurePartition(context.Background(), "glitteraudit-2024.03")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestWriteThenQueryByItemID(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()

	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 1), ""))
	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(uuid.New(), "en", 1), ""))

	assert.Equal(t, []string{"glitteraudit-2024.03"}, store.Partitions())

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, "item:saved", rec.EventName)
	assert.Equal(t, itemID, rec.ItemID)
	assert.Equal(t, uuid.MustParse("11111111-1111-1111-1111-111111111111"), rec.ParentID)
	assert.Equal(t, 1, rec.Version)
	require.NotNil(t, rec.Language)
	assert.Equal(t, "en", *rec.Language)
	assert.Equal(t, "cm-01", rec.SitecoreInstance)
	assert.Equal(t, []uuid.UUID{storage.DefaultEditorFieldID}, rec.FieldIDs)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())

	require.NotNil(t, rec.ChangedFields)
	var changed []audit.ChangedField
	require.NoError(t, json.Unmarshal([]byte(*rec.ChangedFields), &changed))
	require.Len(t, changed, 1)
	assert.Equal(t, storage.DefaultEditorFieldID, changed[0].Field)
	assert.Equal(t, `sitecore\admin`, *changed[0].From)
	assert.Equal(t, `sitecore\someone`, *changed[0].To)
}

func TestQueryByItemIDNewestFirstAndCapped(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()

	for v := 1; v <= 11; v++ {
		require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", v), ""))
	}

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 10)

	// versions were written in increasing order, so newest first means 11..2
	for i, rec := range recs {
		assert.Equal(t, 11-i, rec.Version)
		if i > 0 {
			assert.False(t, rec.Timestamp.After(recs[i-1].Timestamp))
		}
	}
}

func TestQueryByItemVersionLanguageFiltersAllPredicates(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()

	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 1), ""))
	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 2), ""))
	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "fr", 1), ""))

	recs, err := client.QueryByItemVersionLanguage(ctx, itemID, "en", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Version)
	assert.Equal(t, "en", *recs[0].Language)
}

func TestQueryByItemVersionLanguageIsUncapped(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()

	for i := 0; i < 15; i++ {
		require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 1), ""))
	}

	recs, err := client.QueryByItemVersionLanguage(ctx, itemID, "en", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 15)
}

// leakyStore ignores the language and version filters, as a store with a
// broken mapping would.
type leakyStore struct {
	*memstore.Store
}

func (s leakyStore) Search(ctx context.Context, q storage.Query) ([]audit.IndexedRecord, error) {
	q.Language = nil
	q.Version = nil
	return s.Store.Search(ctx, q)
}

func TestQueryByItemVersionLanguageRefiltersStoreResults(t *testing.T) {
	store := memstore.New()
	client := storage.New(leakyStore{store}, storage.Options{})
	ctx := context.Background()
	itemID := uuid.New()

	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 1), ""))
	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "de", 1), ""))
	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 4), ""))

	recs, err := client.QueryByItemVersionLanguage(ctx, itemID, "en", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Matches(itemID, "en", 1))
}

func TestWriteKeepsRawTextVerbatim(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()

	// Field order and whitespace differ from what json.Marshal would produce.
	raw := fmt.Sprintf(`{ "Item": {"Language":"en","Version":1,"Id":"%s"},   "EventName":"item:saved" }`, itemID)
	require.NoError(t, client.Write(ctx, "cm-01", sampleEvent(itemID, "en", 1), raw))

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, raw, recs[0].Raw)
}

func TestWriteSerializesEventWhenRawMissing(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()
	ev := sampleEvent(itemID, "en", 1)

	require.NoError(t, client.Write(ctx, "cm-01", ev, ""))

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	var roundTrip audit.RawEvent
	require.NoError(t, json.Unmarshal([]byte(recs[0].Raw), &roundTrip))
	assert.Equal(t, *ev.Item, *roundTrip.Item)
}

func TestWriteExtractsEditor(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	withEditor := uuid.New()
	ev := sampleEvent(withEditor, "en", 1)
	ev.Changes.FieldChanges = append([]audit.FieldChange{
		{FieldID: uuid.New(), Value: strPtr("Title")},
	}, ev.Changes.FieldChanges...)
	require.NoError(t, client.Write(ctx, "cm-01", ev, ""))

	withoutEditor := uuid.New()
	ev = sampleEvent(withoutEditor, "en", 1)
	ev.Changes.FieldChanges[0].FieldID = uuid.New()
	require.NoError(t, client.Write(ctx, "cm-01", ev, ""))

	recs, err := client.QueryByItemID(ctx, withEditor)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].User)
	assert.Equal(t, `sitecore\someone`, *recs[0].User)
	assert.Len(t, recs[0].FieldIDs, 2)

	recs, err = client.QueryByItemID(ctx, withoutEditor)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].User)
}

func TestWriteUsesFirstEditorEntryOnly(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	itemID := uuid.New()

	ev := sampleEvent(itemID, "en", 1)
	ev.Changes.FieldChanges = []audit.FieldChange{
		{FieldID: storage.DefaultEditorFieldID, Value: nil},
		{FieldID: storage.DefaultEditorFieldID, Value: strPtr(`sitecore\someone`)},
	}
	require.NoError(t, client.Write(ctx, "cm-01", ev, ""))

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].User)
	assert.Len(t, recs[0].FieldIDs, 2)
}

func TestWriteHonoursConfiguredEditorField(t *testing.T) {
	store := memstore.New()
	editor := uuid.New()
	client := storage.New(store, storage.Options{EditorFieldID: editor, Prefix: "audit"})
	ctx := context.Background()
	itemID := uuid.New()

	ev := sampleEvent(itemID, "en", 1)
	ev.Changes.FieldChanges = append(ev.Changes.FieldChanges, audit.FieldChange{FieldID: editor, Value: strPtr("jane")})
	require.NoError(t, client.Write(ctx, "", ev, ""))

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "jane", *recs[0].User)
	assert.Equal(t, audit.DefaultInstance, recs[0].SitecoreInstance)
	assert.Contains(t, store.Partitions()[0], "audit-")
}

func TestWriteWithoutItemOrChanges(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.Write(ctx, "cm-01", &audit.RawEvent{EventName: "publish:end"}, ""))

	recs, err := client.QueryByItemID(ctx, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, uuid.Nil, rec.ParentID)
	assert.Equal(t, 0, rec.Version)
	assert.Nil(t, rec.Language)
	assert.Nil(t, rec.ChangedFields)
	assert.Nil(t, rec.User)
	assert.NotNil(t, rec.FieldIDs)
	assert.Empty(t, rec.FieldIDs)
}

func TestWriteRejectsNilEvent(t *testing.T) {
	client, store := newClient(t)

	err := client.Write(context.Background(), "cm-01", nil, `{"EventName":"x"}`)
	assert.ErrorIs(t, err, storage.ErrNilEvent)
	assert.ErrorIs(t, err, apperrors.ErrPreconditionFailed)
	assert.Equal(t, 2, apperrors.ExitCode(err))
	assert.Empty(t, store.Partitions())
}

func TestWritePropagatesStoreFailure(t *testing.T) {
	client, store := newClient(t)
	boom := errors.New("mapper_parsing_exception")
	store.ErrInsert = boom

	err := client.Write(context.Background(), "cm-01", sampleEvent(uuid.New(), "en", 1), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRecreatePartitionDropsCurrentMonthOnly(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	march := storage.New(store, storage.Options{Now: func() time.Time {
		return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	}})
	april := storage.New(store, storage.Options{Now: func() time.Time {
		return time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)
	}})
	itemID := uuid.New()

	require.NoError(t, march.Write(ctx, "cm-01", sampleEvent(itemID, "en", 1), ""))
	require.NoError(t, april.Write(ctx, "cm-01", sampleEvent(itemID, "en", 2), ""))
	require.Equal(t, 2, store.Count())

	require.NoError(t, april.RecreatePartition(ctx))

	assert.Equal(t, []string{"glitteraudit-2024.03", "glitteraudit-2024.04"}, store.Partitions())
	recs, err := april.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Version)
}

func TestQueryPropagatesStoreFailure(t *testing.T) {
	client, store := newClient(t)
	store.ErrSearch = errors.New("index_not_found_exception")

	_, err := client.QueryByItemID(context.Background(), uuid.New())
	assert.Error(t, err)
	_, err = client.QueryByItemVersionLanguage(context.Background(), uuid.New(), "en", 1)
	assert.Error(t, err)
}
