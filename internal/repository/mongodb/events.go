package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/revpipe/revpipe/internal/domain"
)

// EventStore is the MongoDB-backed append-only log. Version assignment is
// optimistic: the insert races on the unique (aggregate_type, aggregate_id,
// version) index and surfaces the loss as ErrVersionConflict for the caller
// to retry.
type EventStore struct {
	coll *mongo.Collection
}

// NewEventStore creates an event store over the events collection.
func NewEventStore(db *mongo.Database) *EventStore {
	return &EventStore{coll: db.Collection(CollEvents)}
}

// Append writes one event, assigning the next per-aggregate version when
// the caller left it zero.
func (s *EventStore) Append(ctx context.Context, event *domain.Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	e := *event
	if e.Version == 0 {
		current, err := s.latestVersion(ctx, e.AggregateType, e.AggregateID)
		if err != nil {
			return "", err
		}
		e.Version = current + 1
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ProcessedBy == nil {
		e.ProcessedBy = []string{}
	}

	_, err := s.coll.InsertOne(ctx, &e)
	if mongo.IsDuplicateKeyError(err) {
		return "", fmt.Errorf("append %s/%s v%d: %w", e.AggregateType, e.AggregateID, e.Version, domain.ErrVersionConflict)
	}
	if err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	return e.ID, nil
}

// AppendBatch appends events in order, stopping at the first failure.
func (s *EventStore) AppendBatch(ctx context.Context, events []*domain.Event) ([]string, error) {
	ids := make([]string, 0, len(events))
	for i, e := range events {
		id, err := s.Append(ctx, e)
		if err != nil {
			return ids, fmt.Errorf("batch index %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetForAggregate returns events for one aggregate above sinceVersion,
// version ascending.
func (s *EventStore) GetForAggregate(ctx context.Context, at domain.AggregateType, aggregateID string, sinceVersion int) ([]*domain.Event, error) {
	filter := bson.M{
		"aggregate_type": at,
		"aggregate_id":   aggregateID,
		"version":        bson.M{"$gt": sinceVersion},
	}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	return s.find(ctx, filter, opts)
}

// GetByType returns events of one type, timestamp ascending.
func (s *EventStore) GetByType(ctx context.Context, et domain.EventType, since *time.Time, limit int) ([]*domain.Event, error) {
	filter := bson.M{"event_type": et}
	if since != nil {
		filter["timestamp"] = bson.M{"$gte": *since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts)
}

// GetAllSince returns events at or after since, timestamp ascending.
func (s *EventStore) GetAllSince(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error) {
	filter := bson.M{"timestamp": bson.M{"$gte": since}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts)
}

// MarkProcessed adds the projection to the event's processed_by set.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID, projection string) error {
	res, err := s.coll.UpdateByID(ctx, eventID, bson.M{
		"$addToSet": bson.M{"processed_by": projection},
	})
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", eventID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mark processed %s: %w", eventID, domain.ErrNotFound)
	}
	return nil
}

// CountEvents counts events, optionally narrowed by type and since.
func (s *EventStore) CountEvents(ctx context.Context, et domain.EventType, since *time.Time) (int64, error) {
	filter := bson.M{}
	if et != "" {
		filter["event_type"] = et
	}
	if since != nil {
		filter["timestamp"] = bson.M{"$gte": *since}
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountProcessedBy counts events of the given types marked by the projection.
func (s *EventStore) CountProcessedBy(ctx context.Context, projection string, types []domain.EventType) (int64, error) {
	filter := bson.M{"processed_by": projection}
	if len(types) > 0 {
		filter["event_type"] = bson.M{"$in": types}
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count processed by %s: %w", projection, err)
	}
	return n, nil
}

func (s *EventStore) latestVersion(ctx context.Context, at domain.AggregateType, aggregateID string) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetProjection(bson.M{"version": 1})

	var doc struct {
		Version int `bson:"version"`
	}
	err := s.coll.FindOne(ctx, bson.M{
		"aggregate_type": at,
		"aggregate_id":   aggregateID,
	}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest version %s/%s: %w", at, aggregateID, err)
	}
	return doc.Version, nil
}

func (s *EventStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Event, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cur.Close(ctx)

	var events []*domain.Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
