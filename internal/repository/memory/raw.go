package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revpipe/revpipe/internal/domain"
)

type rawKey struct {
	Entity   domain.EntityType
	SourceID int64
}

// RawStore is the in-memory versioned record store.
type RawStore struct {
	mu      sync.RWMutex
	records []*domain.RawRecord
	latest  map[rawKey]*domain.RawRecord
}

// NewRawStore creates an empty in-memory raw store.
func NewRawStore() *RawStore {
	return &RawStore{latest: make(map[rawKey]*domain.RawRecord)}
}

// Upsert stores a fetched payload, short-circuiting on an unchanged checksum.
func (s *RawStore) Upsert(ctx context.Context, entity domain.EntityType, sourceID int64, payload map[string]interface{}, syncJobID string) (*domain.UpsertResult, error) {
	checksum := domain.ChecksumPayload(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rawKey{entity, sourceID}
	if prev, ok := s.latest[key]; ok {
		if prev.Checksum == checksum {
			return &domain.UpsertResult{Stored: false, Changed: false, Record: cloneRaw(prev)}, nil
		}
		prev.IsLatest = false
	}

	rec := &domain.RawRecord{
		ID:         uuid.New().String(),
		EntityType: entity,
		SourceID:   sourceID,
		RawPayload: clonePayload(payload),
		FetchedAt:  time.Now().UTC(),
		SyncJobID:  syncJobID,
		IsLatest:   true,
		Checksum:   checksum,
	}
	s.records = append(s.records, rec)
	s.latest[key] = rec
	return &domain.UpsertResult{Stored: true, Changed: true, Record: cloneRaw(rec)}, nil
}

// FindLatest returns the is_latest record for (entity, sourceID). When no
// record carries the flag it falls back to the most recently stored version,
// matching the MongoDB store's tolerance for a lost flag.
func (s *RawStore) FindLatest(ctx context.Context, entity domain.EntityType, sourceID int64) (*domain.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.latest[rawKey{entity, sourceID}]; ok {
		return cloneRaw(rec), nil
	}
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].EntityType == entity && s.records[i].SourceID == sourceID {
			return cloneRaw(s.records[i]), nil
		}
	}
	return nil, fmt.Errorf("raw %s/%d: %w", entity, sourceID, domain.ErrNotFound)
}

// ListLatestIDs returns the source ids of all latest records for the entity.
func (s *RawStore) ListLatestIDs(ctx context.Context, entity domain.EntityType) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for key := range s.latest {
		if key.Entity == entity {
			ids = append(ids, key.SourceID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// VersionCount reports how many stored versions exist for (entity, sourceID).
// Test helper; not part of the domain interface.
func (s *RawStore) VersionCount(entity domain.EntityType, sourceID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.EntityType == entity && rec.SourceID == sourceID {
			n++
		}
	}
	return n
}

func cloneRaw(r *domain.RawRecord) *domain.RawRecord {
	c := *r
	c.RawPayload = clonePayload(r.RawPayload)
	return &c
}
