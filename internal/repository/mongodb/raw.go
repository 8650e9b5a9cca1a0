package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/revpipe/revpipe/internal/domain"
)

// RawStore is the MongoDB-backed versioned record store. Supersession keeps
// prior versions; the partial unique index on (entity_type, source_id) where
// is_latest=true guarantees at most one latest per key.
type RawStore struct {
	coll *mongo.Collection
}

// NewRawStore creates a raw store over the raw_records collection.
func NewRawStore(db *mongo.Database) *RawStore {
	return &RawStore{coll: db.Collection(CollRawRecords)}
}

// Upsert stores a fetched payload, short-circuiting on an unchanged checksum.
func (s *RawStore) Upsert(ctx context.Context, entity domain.EntityType, sourceID int64, payload map[string]interface{}, syncJobID string) (*domain.UpsertResult, error) {
	checksum := domain.ChecksumPayload(payload)

	prev, err := s.FindLatest(ctx, entity, sourceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		prev = nil
	}
	if prev != nil && prev.Checksum == checksum {
		return &domain.UpsertResult{Stored: false, Changed: false, Record: prev}, nil
	}

	if prev != nil {
		_, err = s.coll.UpdateByID(ctx, prev.ID, bson.M{"$set": bson.M{"is_latest": false}})
		if err != nil {
			return nil, fmt.Errorf("supersede raw %s/%d: %w", entity, sourceID, err)
		}
	}

	rec := &domain.RawRecord{
		ID:         uuid.New().String(),
		EntityType: entity,
		SourceID:   sourceID,
		RawPayload: payload,
		FetchedAt:  time.Now().UTC(),
		SyncJobID:  syncJobID,
		IsLatest:   true,
		Checksum:   checksum,
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert raw %s/%d: %w", entity, sourceID, err)
	}
	return &domain.UpsertResult{Stored: true, Changed: true, Record: rec}, nil
}

// FindLatest returns the is_latest record for (entity, sourceID). A crash
// between the supersede update and the insert in Upsert can leave the key
// with no flagged record, so a miss falls back to the most recently fetched
// one; the next Upsert restores the flag because it supersedes by _id.
func (s *RawStore) FindLatest(ctx context.Context, entity domain.EntityType, sourceID int64) (*domain.RawRecord, error) {
	key := bson.M{"entity_type": entity, "source_id": sourceID}

	var rec domain.RawRecord
	flagged := bson.M{"entity_type": entity, "source_id": sourceID, "is_latest": true}
	err := s.coll.FindOne(ctx, flagged).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		opts := options.FindOne().SetSort(bson.D{{Key: "fetched_at", Value: -1}})
		err = s.coll.FindOne(ctx, key, opts).Decode(&rec)
	}
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("raw %s/%d: %w", entity, sourceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find raw %s/%d: %w", entity, sourceID, err)
	}
	return &rec, nil
}

// ListLatestIDs returns the source ids of all latest records for the entity.
func (s *RawStore) ListLatestIDs(ctx context.Context, entity domain.EntityType) ([]int64, error) {
	opts := options.Find().SetProjection(bson.M{"source_id": 1})
	cur, err := s.coll.Find(ctx, bson.M{"entity_type": entity, "is_latest": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("list latest %s: %w", entity, err)
	}
	defer cur.Close(ctx)

	var ids []int64
	for cur.Next(ctx) {
		var doc struct {
			SourceID int64 `bson:"source_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode latest %s: %w", entity, err)
		}
		ids = append(ids, doc.SourceID)
	}
	return ids, cur.Err()
}
