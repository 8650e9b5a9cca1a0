package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/projection"
	"github.com/revpipe/revpipe/internal/query"
	syncsvc "github.com/revpipe/revpipe/internal/sync"
)

// Identity headers. The upstream gateway authenticates the caller and
// forwards who they are; this service authorizes against the synced
// profile set.
const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"
)

type contextKey string

const profileKey contextKey = "profile"

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	query  *query.Service
	sync   *syncsvc.Service
	jobs   domain.SyncJobRepository
	engine *projection.Engine
	health *HealthChecker
	log    zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(q *query.Service, sync *syncsvc.Service, jobs domain.SyncJobRepository, engine *projection.Engine, health *HealthChecker, log zerolog.Logger) *Handlers {
	return &Handlers{
		query:  q,
		sync:   sync,
		jobs:   jobs,
		engine: engine,
		health: health,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// RequireIdentity resolves the caller's identity headers to a profile and
// stashes it on the request context. Unknown callers get 403: they may be
// real people, but they are not in the system.
func (h *Handlers) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		email := r.Header.Get(headerUserEmail)
		if userID == "" && email == "" {
			respondError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}

		profile, err := h.query.ResolveUser(r.Context(), userID, email)
		if errors.Is(err, query.ErrNotInSystem) {
			respondError(w, http.StatusForbidden, "user not in system")
			return
		}
		if err != nil {
			h.respondInternal(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), profileKey, profile)))
	})
}

func callerProfile(r *http.Request) *domain.UserProfile {
	p, _ := r.Context().Value(profileKey).(*domain.UserProfile)
	return p
}

// HandleOpportunities returns the active opportunities the caller can see.
//
//	GET /api/opportunities
func (h *Handlers) HandleOpportunities(w http.ResponseWriter, r *http.Request) {
	caller := callerProfile(r)
	views, err := h.query.Opportunities(r.Context(), caller.ID)
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"opportunities": views,
		"count":         len(views),
	})
}

// HandleActivities returns the activities the caller can see, optionally
// narrowed by category, state or opportunity.
//
//	GET /api/activities?category=Demo&state=planned&opportunity_id=7
func (h *Handlers) HandleActivities(w http.ResponseWriter, r *http.Request) {
	caller := callerProfile(r)
	filter := domain.ActivityFilter{
		Category: domain.PresalesCategory(r.URL.Query().Get("category")),
		State:    r.URL.Query().Get("state"),
	}
	if raw := r.URL.Query().Get("opportunity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid opportunity_id")
			return
		}
		filter.OpportunityID = id
	}

	views, err := h.query.Activities(r.Context(), caller.ID, filter)
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"activities": views,
		"count":      len(views),
	})
}

// HandleAccessMatrix returns the caller's access matrix, computing it when
// absent or expired.
//
//	GET /api/me/access
func (h *Handlers) HandleAccessMatrix(w http.ResponseWriter, r *http.Request) {
	caller := callerProfile(r)
	matrix, err := h.query.GetAccessMatrix(r.Context(), caller.ID)
	if errors.Is(err, query.ErrNotInSystem) {
		respondError(w, http.StatusForbidden, "user not in system")
		return
	}
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, matrix)
}

// HandleDashboard returns the caller's dashboard metrics.
//
//	GET /api/me/dashboard
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	caller := callerProfile(r)
	metrics, err := h.query.GetDashboardMetrics(r.Context(), caller.ID)
	if errors.Is(err, query.ErrNotInSystem) {
		respondError(w, http.StatusForbidden, "user not in system")
		return
	}
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

// HandleSyncTrigger starts a manual sync job in the background.
//
//	POST /api/sync/trigger
func (h *Handlers) HandleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	caller := callerProfile(r)

	if running, err := h.jobs.FindRunning(r.Context()); err == nil && running != nil {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  "sync already running",
			"job_id": running.ID,
		})
		return
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.respondInternal(w, err)
		return
	}

	go func() {
		// The job outlives the request.
		if _, err := h.sync.Run(context.Background(), caller.Email, domain.TriggerManual, nil); err != nil {
			h.log.Error().Err(err).Str("triggered_by", caller.Email).Msg("manual sync failed")
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleSyncJobs lists recent sync jobs, newest first.
//
//	GET /api/sync/jobs?limit=20
func (h *Handlers) HandleSyncJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	jobs, err := h.jobs.ListRecent(r.Context(), limit)
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// HandleSyncJob returns one sync job by id.
//
//	GET /api/sync/jobs/{id}
func (h *Handlers) HandleSyncJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.FindByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// HandleProjectionStatus reports the rebuild status of every projection.
//
//	GET /api/admin/projections/status
func (h *Handlers) HandleProjectionStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.engine.Status(r.Context())
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"projections": statuses})
}

// HandleProjectionStatusOne reports the rebuild status of one projection.
//
//	GET /api/admin/projections/{name}/status
func (h *Handlers) HandleProjectionStatusOne(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	statuses, err := h.engine.Status(r.Context())
	if err != nil {
		h.respondInternal(w, err)
		return
	}
	for _, st := range statuses {
		if st.Projection == name {
			respondJSON(w, http.StatusOK, st)
			return
		}
	}
	respondError(w, http.StatusNotFound, "unknown projection")
}

// HandleProjectionRebuild clears one projection and replays its history.
//
//	POST /api/admin/projections/{name}/rebuild
func (h *Handlers) HandleProjectionRebuild(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, err := h.engine.Rebuild(r.Context(), name)
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown projection")
		return
	}
	if err != nil {
		if status != nil {
			respondJSON(w, http.StatusInternalServerError, status)
			return
		}
		h.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// HandleHealth reports component health.
//
//	GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.health.Check(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

func (h *Handlers) respondInternal(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
