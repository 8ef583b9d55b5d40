package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/config"
	pgclient "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/postgres"
)

func TestBuildSelect(t *testing.T) {
	itemID := uuid.New()
	lang, version := "en", 3

	query, args := buildSelect("glitteraudit", storage.Query{ItemID: itemID, Size: 10})
	assert.Equal(t, `SELECT `+columns+` FROM "glitteraudit" WHERE item_id = $1 ORDER BY ts DESC LIMIT $2`, query)
	assert.Equal(t, []any{itemID, 10}, args)

	query, args = buildSelect("glitteraudit", storage.Query{ItemID: itemID, Language: &lang, Version: &version})
	assert.Equal(t, `SELECT `+columns+` FROM "glitteraudit" WHERE item_id = $1 AND language = $2 AND version = $3 ORDER BY ts DESC`, query)
	assert.Equal(t, []any{itemID, "en", 3}, args)
}

func TestIsDuplicateTable(t *testing.T) {
	assert.True(t, isDuplicateTable(fmt.Errorf("creating: %w", &pq.Error{Code: "42P07"})))
	assert.True(t, isDuplicateTable(&pq.Error{Code: "23505"}))
	assert.False(t, isDuplicateTable(&pq.Error{Code: "42501"}))
	assert.False(t, isDuplicateTable(nil))
}

// openTestStore connects to a local database and skips when none is running.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "glitterbucket_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "glitterbucket"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}
	db, err := pgclient.Open(context.Background(), cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	prefix := "gbtest_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	store, err := Open(context.Background(), db, prefix)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.DB.Exec(`DROP TABLE IF EXISTS ` + pq.QuoteIdentifier(prefix) + ` CASCADE`)
	})
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	clock := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	client := storage.New(store, storage.Options{
		Prefix: store.parent,
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	itemID := uuid.New()
	editor := `sitecore\jdoe`

	for _, lang := range []string{"en", "en", "fr"} {
		require.NoError(t, client.Write(ctx, "cm-01", &audit.RawEvent{
			EventName: "item:saved",
			Item:      &audit.ItemDescriptor{ID: itemID, Version: 1, Language: lang},
			Changes: &audit.ItemChanges{FieldChanges: []audit.FieldChange{
				{FieldID: storage.DefaultEditorFieldID, Value: &editor},
			}},
		}, ""))
	}
	// second ensure of the same month goes through the duplicate_table path
	require.NoError(t, client.EnsurePartition(ctx, client.CurrentPartition()))

	recs, err := client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "fr", *recs[0].Language)
	assert.Equal(t, editor, *recs[0].User)
	assert.Equal(t, []uuid.UUID{storage.DefaultEditorFieldID}, recs[0].FieldIDs)

	recs, err = client.QueryByItemVersionLanguage(ctx, itemID, "en", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, client.RecreatePartition(ctx))
	recs, err = client.QueryByItemID(ctx, itemID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEnsurePartitionConcurrent(t *testing.T) {
	store := openTestStore(t)
	client := storage.New(store, storage.Options{Prefix: store.parent})
	name := store.parent + "-2026.11"

	const callers = 8
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = client.EnsurePartition(context.Background(), name)
		}()
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	err := store.CreatePartition(context.Background(), name, 1)
	assert.ErrorIs(t, err, storage.ErrPartitionExists)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
