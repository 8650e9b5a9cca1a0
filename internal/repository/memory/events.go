// Package memory provides in-memory repository implementations. They back
// unit tests and local development; semantics mirror the mongodb package.
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

type aggregateKey struct {
	Type domain.AggregateType
	ID   string
}

// EventStore is the in-memory append-only log.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.Event
	byID   map[string]*domain.Event
	latest map[aggregateKey]int
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byID:   make(map[string]*domain.Event),
		latest: make(map[aggregateKey]int),
	}
}

// Append writes one event, assigning the next per-aggregate version when
// the caller left it zero.
func (s *EventStore) Append(ctx context.Context, event *domain.Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey{event.AggregateType, event.AggregateID}
	current := s.latest[key]

	e := cloneEvent(event)
	if e.Version == 0 {
		e.Version = current + 1
	} else if e.Version != current+1 {
		return "", fmt.Errorf("append %s/%s v%d (current %d): %w", e.AggregateType, e.AggregateID, e.Version, current, domain.ErrVersionConflict)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, dup := s.byID[e.ID]; dup {
		return "", fmt.Errorf("append event %s: duplicate id", e.ID)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ProcessedBy == nil {
		e.ProcessedBy = []string{}
	}

	s.events = append(s.events, e)
	s.byID[e.ID] = e
	s.latest[key] = e.Version
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

// GetForAggregate returns events for one aggregate above sinceVersion.
func (s *EventStore) GetForAggregate(ctx context.Context, at domain.AggregateType, aggregateID string, sinceVersion int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if e.AggregateType == at && e.AggregateID == aggregateID && e.Version > sinceVersion {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetByType returns events of one type, timestamp ascending.
func (s *EventStore) GetByType(ctx context.Context, et domain.EventType, since *time.Time, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if e.EventType != et {
			continue
		}
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sortByTimestamp(out)
	return limitSlice(out, limit), nil
}

// GetAllSince returns events at or after since, timestamp ascending.
func (s *EventStore) GetAllSince(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sortByTimestamp(out)
	return limitSlice(out, limit), nil
}

// MarkProcessed adds the projection to the event's processed_by set.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID, projection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[eventID]
	if !ok {
		return fmt.Errorf("mark processed %s: %w", eventID, domain.ErrNotFound)
	}
	if !e.WasProcessedBy(projection) {
		e.ProcessedBy = append(e.ProcessedBy, projection)
	}
	return nil
}

// CountEvents counts events, optionally narrowed by type and since.
func (s *EventStore) CountEvents(ctx context.Context, et domain.EventType, since *time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if et != "" && e.EventType != et {
			continue
		}
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		n++
	}
	return n, nil
}

// CountProcessedBy counts events of the given types marked by the projection.
func (s *EventStore) CountProcessedBy(ctx context.Context, projection string, types []domain.EventType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	var n int64
	for _, e := range s.events {
		if len(typeSet) > 0 && !typeSet[e.EventType] {
			continue
		}
		if e.WasProcessedBy(projection) {
			n++
		}
	}
	return n, nil
}

func sortByTimestamp(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func limitSlice(events []*domain.Event, limit int) []*domain.Event {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func cloneEvent(e *domain.Event) *domain.Event {
	c := *e
	c.Payload = clonePayload(e.Payload)
	c.ProcessedBy = append([]string(nil), e.ProcessedBy...)
	return &c
}

func clonePayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = clonePayload(val)
		case []interface{}:
			out[k] = append([]interface{}(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}
