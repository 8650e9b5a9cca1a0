package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revpipe/revpipe/internal/domain"
)

func newUserEvent(sourceID int64) *domain.Event {
	return &domain.Event{
		EventType:     domain.EventOdooUserSynced,
		AggregateType: domain.AggregateUser,
		AggregateID:   domain.AggregateIDFor(domain.AggregateUser, sourceID),
		Payload:       map[string]interface{}{"id": sourceID},
		Metadata:      domain.EventMetadata{Source: "odoo_sync"},
	}
}

func TestEventStore_AssignsGapFreeVersions(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, newUserEvent(7))
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, newUserEvent(8))
	require.NoError(t, err)

	events, err := s.GetForAggregate(ctx, domain.AggregateUser, "user-7", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version, "versions are gap-free from 1")
	}

	other, err := s.GetForAggregate(ctx, domain.AggregateUser, "user-8", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, 1, other[0].Version, "version sequences are per-aggregate")
}

func TestEventStore_ExplicitVersionConflict(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	first := newUserEvent(7)
	first.Version = 1
	_, err := s.Append(ctx, first)
	require.NoError(t, err)

	dup := newUserEvent(7)
	dup.Version = 1
	_, err = s.Append(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestEventStore_AppendedEventIsImmutable(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	src := newUserEvent(7)
	id, err := s.Append(ctx, src)
	require.NoError(t, err)

	src.Payload["id"] = int64(999)

	events, err := s.GetForAggregate(ctx, domain.AggregateUser, "user-7", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, int64(7), events[0].Payload["id"], "caller mutation after append is invisible")

	events[0].Payload["id"] = int64(1000)
	again, err := s.GetForAggregate(ctx, domain.AggregateUser, "user-7", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), again[0].Payload["id"], "reader mutation is invisible")
}

func TestEventStore_MarkProcessedIsIdempotent(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	id, err := s.Append(ctx, newUserEvent(7))
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, id, "user_profiles"))
	require.NoError(t, s.MarkProcessed(ctx, id, "user_profiles"))
	require.NoError(t, s.MarkProcessed(ctx, id, "access_matrix"))

	events, err := s.GetForAggregate(ctx, domain.AggregateUser, "user-7", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user_profiles", "access_matrix"}, events[0].ProcessedBy)

	n, err := s.CountProcessedBy(ctx, "user_profiles", []domain.EventType{domain.EventOdooUserSynced})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEventStore_MarkProcessedUnknownEvent(t *testing.T) {
	s := NewEventStore()
	err := s.MarkProcessed(context.Background(), "missing", "user_profiles")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventStore_GetByTypeHonorsSinceAndLimit(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := newUserEvent(int64(10 + i))
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_, err := s.Append(ctx, e)
		require.NoError(t, err)
	}

	since := base.Add(time.Minute)
	events, err := s.GetByType(ctx, domain.EventOdooUserSynced, &since, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "user-11", events[0].AggregateID)
	assert.Equal(t, "user-12", events[1].AggregateID)
}

func TestEventStore_AppendBatchStopsAtFirstFailure(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	good := newUserEvent(7)
	bad := newUserEvent(8)
	bad.Version = 5 // skips versions 1..4

	ids, err := s.AppendBatch(ctx, []*domain.Event{good, bad, newUserEvent(9)})
	require.Error(t, err)
	assert.Len(t, ids, 1, "events before the failure are kept")

	n, err := s.CountEvents(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEventStore_ValidatesBeforeAppend(t *testing.T) {
	s := NewEventStore()
	e := newUserEvent(7)
	e.EventType = "unknown.event"
	_, err := s.Append(context.Background(), e)
	assert.Error(t, err)
}
