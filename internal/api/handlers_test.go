package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/eventbus"
	"github.com/revpipe/revpipe/internal/odoo"
	"github.com/revpipe/revpipe/internal/projection"
	"github.com/revpipe/revpipe/internal/query"
	"github.com/revpipe/revpipe/internal/repository/memory"
	syncsvc "github.com/revpipe/revpipe/internal/sync"
)

type emptyFetcher struct{}

func (emptyFetcher) Authenticate(ctx context.Context) error { return nil }
func (emptyFetcher) FetchAll(ctx context.Context, entity domain.EntityType, since *time.Time, fn func(odoo.Record) error) error {
	return nil
}

type apiFixture struct {
	server *Server
	jobs   *memory.SyncJobRepository

	alice string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	profiles := memory.NewUserProfileRepository()
	opps := memory.NewOpportunityViewRepository()
	acts := memory.NewActivityViewRepository()
	matrices := memory.NewAccessMatrixRepository()
	metrics := memory.NewDashboardMetricsRepository()
	events := memory.NewEventStore()
	raw := memory.NewRawStore()
	jobs := memory.NewSyncJobRepository()

	bus := eventbus.New(zerolog.Nop())
	engine := projection.NewEngine(bus, events, zerolog.Nop())
	users := projection.NewUserProfiles(profiles, zerolog.Nop())
	oppProj := projection.NewOpportunityViews(opps, profiles, raw, zerolog.Nop())
	actProj := projection.NewActivityViews(acts, opps, profiles, zerolog.Nop())
	access := projection.NewAccessMatrices(matrices, profiles, opps, zerolog.Nop())
	dashboard := projection.NewDashboardMetrics(metrics, profiles, opps, access, zerolog.Nop())
	for _, p := range []projection.Projection{users, oppProj, actProj, access, dashboard} {
		engine.Register(p)
	}

	publish := func(e *domain.Event) {
		id, err := events.Append(ctx, e)
		require.NoError(t, err)
		e.ID = id
		_, err = bus.Publish(ctx, e)
		require.NoError(t, err)
	}

	publish(&domain.Event{
		EventType:     domain.EventOdooUserSynced,
		AggregateType: domain.AggregateUser,
		AggregateID:   "user-5",
		Payload: map[string]interface{}{
			"id": int64(5), "name": "Alice", "email": "alice@example.com",
			"employee_id": int64(105),
		},
		Timestamp: time.Now().UTC(),
	})
	publish(&domain.Event{
		EventType:     domain.EventOdooOpportunitySynced,
		AggregateType: domain.AggregateOpportunity,
		AggregateID:   "opportunity-7",
		Payload: map[string]interface{}{
			"id": int64(7), "name": "Big Deal", "stage": "Proposal",
			"expected_revenue": float64(50000), "salesperson_id": int64(5),
			"salesperson_name": "Alice", "partner_id": int64(30), "partner_name": "Acme",
		},
		Timestamp: time.Now().UTC(),
	})
	publish(&domain.Event{
		EventType:     domain.EventOdooActivitySynced,
		AggregateType: domain.AggregateActivity,
		AggregateID:   "activity-40",
		Payload: map[string]interface{}{
			"id": int64(40), "activity_type": "To Do", "summary": "Product demo",
			"res_model": "crm.lead", "res_id": int64(7),
			"assigned_user_id": int64(5), "assigned_user_name": "Alice",
			"state": "planned",
		},
		Timestamp: time.Now().UTC(),
	})

	q := query.NewService(profiles, opps, acts, matrices, metrics, access, dashboard, zerolog.Nop())
	sync := syncsvc.NewService(emptyFetcher{}, raw, events, bus, jobs, nil, syncsvc.Options{}, zerolog.Nop())

	health := NewHealthChecker(map[string]func(context.Context) error{
		"store": func(ctx context.Context) error { return nil },
	})

	profile, err := profiles.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	return &apiFixture{
		server: NewServer(q, sync, jobs, engine, health, zerolog.Nop()),
		jobs:   jobs,
		alice:  profile.ID,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, email string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if email != "" {
		req.Header.Set(headerUserEmail, email)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIdentityRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/opportunities", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/opportunities", "stranger@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user not in system", decode(t, rec)["error"])
}

func TestOpportunitiesScopedToCaller(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/opportunities", "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
}

func TestActivitiesFilterByCategory(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/activities?category=Demo", "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/activities?category=POC", "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/activities?opportunity_id=bogus", "alice@example.com")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessMatrixEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/me/access", "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code)

	var matrix domain.AccessMatrix
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matrix))
	assert.Equal(t, f.alice, matrix.UserID)
	assert.Equal(t, []int64{7}, matrix.AccessibleOpportunities)
}

func TestDashboardEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/me/dashboard", "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics domain.DashboardMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, float64(50000), metrics.PipelineValue)
}

func TestSyncTrigger(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sync/trigger", "alice@example.com")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		jobs, err := f.jobs.ListRecent(context.Background(), 5)
		return err == nil && len(jobs) == 1 && jobs[0].IsTerminal()
	}, 2*time.Second, 10*time.Millisecond, "the background job runs to completion")
}

func TestSyncTriggerConflictsWithRunningJob(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.jobs.Create(context.Background(), &domain.SyncJob{
		ID: "stuck", Status: domain.SyncJobRunning, StartedAt: time.Now().UTC(),
	}))

	rec := f.do(t, http.MethodPost, "/api/sync/trigger", "alice@example.com")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stuck", decode(t, rec)["job_id"])
}

func TestSyncJobEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.jobs.Create(context.Background(), &domain.SyncJob{
		ID: "job-1", Status: domain.SyncJobCompleted, StartedAt: time.Now().UTC(),
	}))

	rec := f.do(t, http.MethodGet, "/api/sync/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/sync/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sync/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectionAdminEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/admin/projections/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["projections"], 5)

	rec = f.do(t, http.MethodPost, "/api/admin/projections/opportunity_views/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status projection.RebuildStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, projection.RebuildCompleted, status.State)
	assert.Equal(t, 1, status.EventsReplayed)

	rec = f.do(t, http.MethodGet, "/api/admin/projections/opportunity_views/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "opportunity_views", decode(t, rec)["projection"])

	rec = f.do(t, http.MethodPost, "/api/admin/projections/nope/rebuild", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/projections/nope/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}
