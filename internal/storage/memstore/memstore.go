// Package memstore is an in-process DocumentStore used for local runs and
// tests. Partitions are plain slices; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/storage"
)

// Store keeps records per partition. Set the Err* fields to make the
// matching operation fail.
type Store struct {
	mu         sync.RWMutex
	partitions map[string][]audit.IndexedRecord
	replicas   map[string]int

	ErrCreate error
	ErrInsert error
	ErrSearch error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		partitions: make(map[string][]audit.IndexedRecord),
		replicas:   make(map[string]int),
	}
}

func (s *Store) CreatePartition(_ context.Context, name string, replicas int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrCreate != nil {
		return s.ErrCreate
	}
	if _, ok := s.partitions[name]; ok {
		return storage.ErrPartitionExists
	}
	s.partitions[name] = nil
	s.replicas[name] = replicas
	return nil
}

func (s *Store) DeletePartition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, name)
	delete(s.replicas, name)
	return nil
}

func (s *Store) Insert(_ context.Context, partition string, id uuid.UUID, rec *audit.IndexedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrInsert != nil {
		return s.ErrInsert
	}
	records, ok := s.partitions[partition]
	if !ok {
		return fmt.Errorf("partition %s not found", partition)
	}
	for _, existing := range records {
		if existing.ID == id {
			return fmt.Errorf("record %s already exists in %s", id, partition)
		}
	}
	stored := *rec
	stored.ID = id
	s.partitions[partition] = append(records, stored)
	return nil
}

func (s *Store) Search(_ context.Context, q storage.Query) ([]audit.IndexedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ErrSearch != nil {
		return nil, s.ErrSearch
	}
	prefix := strings.TrimSuffix(q.Pattern, "*")

	var out []audit.IndexedRecord
	for name, records := range s.partitions {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		for _, rec := range records {
			if rec.ItemID != q.ItemID {
				continue
			}
			if q.Language != nil && (rec.Language == nil || *rec.Language != *q.Language) {
				continue
			}
			if q.Version != nil && rec.Version != *q.Version {
				continue
			}
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Size > 0 && len(out) > q.Size {
		out = out[:q.Size]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Partitions returns the names of all existing partitions, sorted.
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replicas returns the replica count a partition was created with.
func (s *Store) Replicas(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replicas[name]
}

// Count returns the number of records across all partitions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, records := range s.partitions {
		n += len(records)
	}
	return n
}
