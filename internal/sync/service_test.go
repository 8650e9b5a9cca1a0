package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/eventbus"
	"github.com/revpipe/revpipe/internal/odoo"
	"github.com/revpipe/revpipe/internal/repository/memory"
)

type fakeFetcher struct {
	authErr error
	data    map[domain.EntityType][]odoo.Record
	since   map[domain.EntityType]*time.Time
}

func (f *fakeFetcher) Authenticate(ctx context.Context) error { return f.authErr }

func (f *fakeFetcher) FetchAll(ctx context.Context, entity domain.EntityType, modifiedSince *time.Time, fn func(odoo.Record) error) error {
	if f.since == nil {
		f.since = make(map[domain.EntityType]*time.Time)
	}
	f.since[entity] = modifiedSince
	for _, rec := range f.data[entity] {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	svc    *Service
	raw    *memory.RawStore
	events *memory.EventStore
	jobs   *memory.SyncJobRepository

	mu        sync.Mutex
	published []*domain.Event
}

func newHarness(t *testing.T, f Fetcher) *harness {
	t.Helper()
	h := &harness{
		raw:    memory.NewRawStore(),
		events: memory.NewEventStore(),
		jobs:   memory.NewSyncJobRepository(),
	}
	bus := eventbus.New(zerolog.Nop())
	bus.SubscribeAll("recorder", func(ctx context.Context, e *domain.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.published = append(h.published, e)
		return nil
	})
	h.svc = NewService(f, h.raw, h.events, bus, h.jobs, nil, Options{Workers: 4}, zerolog.Nop())
	return h
}

func (h *harness) publishedOfType(et domain.EventType) []*domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*domain.Event
	for _, e := range h.published {
		if e.EventType == et {
			out = append(out, e)
		}
	}
	return out
}

func oppRecord(id int64, stage string, salespersonID int64, revenue float64) odoo.Record {
	return odoo.Record{
		"id":               float64(id),
		"name":             "Deal",
		"stage_id":         []interface{}{float64(2), stage},
		"user_id":          []interface{}{float64(salespersonID), "Alice"},
		"expected_revenue": revenue,
		"probability":      float64(50),
		"date_deadline":    "2026-09-30",
		"description":      false,
		"partner_id":       []interface{}{float64(30), "Acme"},
		"active":           true,
	}
}

func userRecord(id int64, name, email string) odoo.Record {
	return odoo.Record{
		"id":          float64(id),
		"name":        name,
		"email":       email,
		"active":      true,
		"employee_id": []interface{}{float64(id + 100), name},
	}
}

func TestRun_FullSyncStoresAndEmits(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityUser:        {userRecord(5, "Alice", "alice@example.com")},
		domain.EntityOpportunity: {oppRecord(7, "Proposal", 5, 1000)},
	}}
	h := newHarness(t, f)

	job, err := h.svc.Run(context.Background(), "tester", domain.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobCompleted, job.Status)
	assert.Equal(t, 1, job.Stats["user"].Changed)
	assert.Equal(t, 1, job.Stats["opportunity"].Changed)

	rec, err := h.raw.FindLatest(context.Background(), domain.EntityOpportunity, 7)
	require.NoError(t, err)
	assert.Equal(t, "Proposal", rec.RawPayload["stage"])
	assert.Len(t, rec.Checksum, 64)

	assert.Len(t, h.publishedOfType(domain.EventOdooUserSynced), 1)
	assert.Len(t, h.publishedOfType(domain.EventOdooOpportunitySynced), 1)
	assert.Len(t, h.publishedOfType(domain.EventOpportunityCreated), 1,
		"a first-seen opportunity also emits a created event")
}

func TestRun_ResyncOfIdenticalDataIsSilent(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityOpportunity: {oppRecord(7, "Proposal", 5, 1000)},
	}}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)
	before, err := h.events.CountEvents(ctx, "", nil)
	require.NoError(t, err)

	job, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Stats["opportunity"].Unchanged)
	assert.Equal(t, 0, job.Stats["opportunity"].Changed)

	after, err := h.events.CountEvents(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no events for unchanged payloads")
	assert.Equal(t, 1, h.raw.VersionCount(domain.EntityOpportunity, 7))
}

func TestRun_StageChangeEmitsLifecycleEvent(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityOpportunity: {oppRecord(7, "Proposal", 5, 1000)},
	}}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)

	f.data[domain.EntityOpportunity] = []odoo.Record{oppRecord(7, "Won", 5, 1000)}
	_, err = h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)

	changes := h.publishedOfType(domain.EventOpportunityStageChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, "Proposal", changes[0].Payload["old_stage"])
	assert.Equal(t, "Won", changes[0].Payload["new_stage"])
	assert.Empty(t, h.publishedOfType(domain.EventOpportunityAssigned))
}

func TestRun_ReassignmentEmitsAssignedEvent(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityOpportunity: {oppRecord(7, "Proposal", 5, 1000)},
	}}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)

	f.data[domain.EntityOpportunity] = []odoo.Record{oppRecord(7, "Proposal", 9, 1000)}
	_, err = h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)

	assigned := h.publishedOfType(domain.EventOpportunityAssigned)
	require.Len(t, assigned, 1)
	assert.EqualValues(t, 5, assigned[0].Payload["old_salesperson_id"])
	assert.EqualValues(t, 9, assigned[0].Payload["new_salesperson_id"])
}

func TestRun_FullSyncDetectsDeletionAndResurrection(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityOpportunity: {oppRecord(7, "Proposal", 5, 1000)},
	}}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)

	// Record vanishes from the source.
	f.data[domain.EntityOpportunity] = nil
	job, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Stats["opportunity"].Deleted)
	require.Len(t, h.publishedOfType(domain.EventOpportunityDeleted), 1)

	// And comes back with the original payload.
	f.data[domain.EntityOpportunity] = []odoo.Record{oppRecord(7, "Proposal", 5, 1000)}
	job, err = h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Stats["opportunity"].Changed,
		"reappearance diffs against the tombstone")
	assert.Len(t, h.publishedOfType(domain.EventOpportunityCreated), 2)
	assert.Len(t, h.publishedOfType(domain.EventOpportunityDeleted), 1)
}

func TestRun_IncrementalSkipsDeletionDetection(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityOpportunity: {oppRecord(7, "Proposal", 5, 1000)},
	}}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	require.NoError(t, err)

	// Incremental fetches only return changed records; absence there says
	// nothing about deletion.
	f.data[domain.EntityOpportunity] = nil
	since := time.Now().Add(-time.Hour)
	job, err := h.svc.Run(ctx, "tester", domain.TriggerManual, &since)
	require.NoError(t, err)
	assert.Equal(t, 0, job.Stats["opportunity"].Deleted)
	assert.Empty(t, h.publishedOfType(domain.EventOpportunityDeleted))
	assert.Equal(t, &since, f.since[domain.EntityOpportunity], "window propagates to the connector")
}

func TestRun_AuthFailureFailsJob(t *testing.T) {
	f := &fakeFetcher{authErr: odoo.ErrAuthFailed}
	h := newHarness(t, f)

	job, err := h.svc.Run(context.Background(), "tester", domain.TriggerManual, nil)
	require.ErrorIs(t, err, odoo.ErrAuthFailed)
	assert.Equal(t, domain.SyncJobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "authentication failed")
}

func TestRun_RefusesWhileAnotherJobRuns(t *testing.T) {
	f := &fakeFetcher{}
	h := newHarness(t, f)
	ctx := context.Background()

	require.NoError(t, h.jobs.Create(ctx, &domain.SyncJob{
		ID:        "stuck",
		Status:    domain.SyncJobRunning,
		StartedAt: time.Now().UTC(),
	}))

	_, err := h.svc.Run(ctx, "tester", domain.TriggerManual, nil)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyRunning)
}

func TestRun_RecordErrorsAreIsolated(t *testing.T) {
	f := &fakeFetcher{data: map[domain.EntityType][]odoo.Record{
		domain.EntityOpportunity: {
			{"name": "no id"}, // unmappable
			oppRecord(7, "Proposal", 5, 1000),
		},
	}}
	h := newHarness(t, f)

	job, err := h.svc.Run(context.Background(), "tester", domain.TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncJobCompleted, job.Status)
	assert.Equal(t, 1, job.Stats["opportunity"].Errors)
	assert.Equal(t, 1, job.Stats["opportunity"].Changed)
}
