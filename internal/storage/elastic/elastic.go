// Package elastic implements storage.DocumentStore on Elasticsearch. Each
// partition is an index; history queries search the prefix-* pattern.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/logger"
)

const (
	alreadyExistsType = "resource_already_exists_exception"
	// pageSize bounds a single search request when the query itself is uncapped.
	pageSize = 500
)

// mappings pins the exact-match fields to keyword so term filters on ItemId,
// Language and friends compare whole values.
var mappings = map[string]any{
	"properties": map[string]any{
		"Timestamp":        map[string]any{"type": "date"},
		"EventName":        map[string]any{"type": "keyword"},
		"Raw":              map[string]any{"type": "text", "index": false},
		"ItemId":           map[string]any{"type": "keyword"},
		"ParentId":         map[string]any{"type": "keyword"},
		"Version":          map[string]any{"type": "integer"},
		"Language":         map[string]any{"type": "keyword"},
		"FieldIds":         map[string]any{"type": "keyword"},
		"ChangedFields":    map[string]any{"type": "text", "index": false},
		"User":             map[string]any{"type": "keyword"},
		"SitecoreInstance": map[string]any{"type": "keyword"},
	},
}

// Options tunes write visibility. Refresh is passed through to the create
// API ("", "true", "false" or "wait_for").
type Options struct {
	Refresh string
}

// Store talks to an Elasticsearch cluster.
type Store struct {
	es     *elasticsearch.Client
	opts   Options
	logger *slog.Logger
}

// New creates a Store for the configured cluster. It does not contact the
// cluster; call Ping for that.
func New(cfg config.ElasticsearchConfig, opts Options) (*Store, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Store{
		es:     es,
		opts:   opts,
		logger: logger.WithComponent("elastic-store"),
	}, nil
}

func (s *Store) CreatePartition(ctx context.Context, name string, replicas int) error {
	body, err := json.Marshal(map[string]any{
		"settings": map[string]any{"number_of_replicas": replicas},
		"mappings": mappings,
	})
	if err != nil {
		return fmt.Errorf("marshaling index settings: %w", err)
	}
	res, err := s.es.Indices.Create(name,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		rerr := decodeError(res)
		if rerr.StatusCode == http.StatusBadRequest && rerr.Type == alreadyExistsType {
			return fmt.Errorf("index %s: %w", name, storage.ErrPartitionExists)
		}
		return rerr
	}
	return nil
}

// DeletePartition removes an index. A missing index is not an error.
func (s *Store) DeletePartition(ctx context.Context, name string) error {
	res, err := s.es.Indices.Delete([]string{name},
		s.es.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("deleting index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		s.logger.Debug("index to delete not found", "index", name)
		return nil
	}
	if res.IsError() {
		return decodeError(res)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, partition string, id uuid.UUID, rec *audit.IndexedRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	opts := []func(*esapi.CreateRequest){s.es.Create.WithContext(ctx)}
	if s.opts.Refresh != "" {
		opts = append(opts, s.es.Create.WithRefresh(s.opts.Refresh))
	}
	res, err := s.es.Create(partition, id.String(), bytes.NewReader(doc), opts...)
	if err != nil {
		return fmt.Errorf("creating document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(res)
	}
	return nil
}

// Search runs q against every index matching q.Pattern. An uncapped query is
// paged until the cluster returns a short page.
func (s *Store) Search(ctx context.Context, q storage.Query) ([]audit.IndexedRecord, error) {
	if q.Size > 0 {
		return s.searchPage(ctx, q, 0, q.Size)
	}
	var all []audit.IndexedRecord
	for from := 0; ; from += pageSize {
		page, err := s.searchPage(ctx, q, from, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func (s *Store) searchPage(ctx context.Context, q storage.Query, from, size int) ([]audit.IndexedRecord, error) {
	body, err := json.Marshal(buildSearchBody(q, from, size))
	if err != nil {
		return nil, fmt.Errorf("marshaling search body: %w", err)
	}
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(q.Pattern),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithIgnoreUnavailable(true),
		s.es.Search.WithAllowNoIndices(true),
	)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", q.Pattern, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, decodeError(res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	recs := make([]audit.IndexedRecord, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		rec := hit.Source
		if id, err := uuid.Parse(hit.ID); err == nil {
			rec.ID = id
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return &ResponseError{StatusCode: res.StatusCode, Reason: res.Status()}
	}
	return nil
}

func buildSearchBody(q storage.Query, from, size int) map[string]any {
	filters := []any{
		term("ItemId", q.ItemID.String()),
	}
	if q.Language != nil {
		filters = append(filters, term("Language", *q.Language))
	}
	if q.Version != nil {
		filters = append(filters, term("Version", *q.Version))
	}
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
		"sort": []any{
			map[string]any{"Timestamp": map[string]any{"order": "desc"}},
		},
		"size": size,
	}
	if from > 0 {
		body["from"] = from
	}
	if len(q.Fields) > 0 {
		body["fields"] = q.Fields
	}
	return body
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string              `json:"_id"`
			Source audit.IndexedRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}
