package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// DashboardMetrics maintains the precomputed per-user aggregate view over
// the opportunities the user can see. Like the access matrix, entries are
// demand-computed with a TTL; the projection refreshes existing ones. The
// accessible set is derived with the same team expansion the access matrix
// uses, so a user's dashboard and matrix never disagree.
type DashboardMetrics struct {
	metrics  domain.DashboardMetricsRepository
	profiles domain.UserProfileRepository
	opps     domain.OpportunityViewRepository
	access   *AccessMatrices
	log      zerolog.Logger
}

// NewDashboardMetrics creates the dashboard metrics projection.
func NewDashboardMetrics(metrics domain.DashboardMetricsRepository, profiles domain.UserProfileRepository, opps domain.OpportunityViewRepository, access *AccessMatrices, log zerolog.Logger) *DashboardMetrics {
	return &DashboardMetrics{
		metrics:  metrics,
		profiles: profiles,
		opps:     opps,
		access:   access,
		log:      log.With().Str("projection", "dashboard_metrics").Logger(),
	}
}

func (p *DashboardMetrics) Name() string { return "dashboard_metrics" }

func (p *DashboardMetrics) SubscribesTo() []domain.EventType {
	return []domain.EventType{
		domain.EventOdooOpportunitySynced,
		domain.EventOpportunityStageChanged,
		domain.EventOpportunityAssigned,
		domain.EventOpportunityDeleted,
		domain.EventOdooUserSynced,
	}
}

func (p *DashboardMetrics) Reset(ctx context.Context) error {
	return p.metrics.Truncate(ctx)
}

func (p *DashboardMetrics) Handle(ctx context.Context, event *domain.Event) error {
	affected, err := p.affectedUsers(ctx, event)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(affected))
	for _, userID := range affected {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := p.metrics.FindByUserID(ctx, userID); errors.Is(err, domain.ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}
		if _, err := p.RebuildForUser(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// affectedUsers names every user whose dashboard the event may have moved.
func (p *DashboardMetrics) affectedUsers(ctx context.Context, event *domain.Event) ([]string, error) {
	switch event.EventType {
	case domain.EventOpportunityAssigned:
		// Old and new owner come from the payload: the rewritten view no
		// longer names the old one.
		var ids []string
		for _, key := range []string{"old_salesperson_id", "new_salesperson_id"} {
			odooID := pnum(event.Payload, key)
			if odooID == 0 {
				continue
			}
			profile, err := p.profiles.FindByOdooUserID(ctx, odooID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			ids = append(ids, p.access.withManagerChain(ctx, profile)...)
		}
		return ids, nil

	case domain.EventOdooUserSynced:
		profile, err := p.profiles.FindByEmail(ctx, pstr(event.Payload, "email"))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return p.access.withManagerChain(ctx, profile), nil
	}

	view, err := p.opps.FindBySourceID(ctx, pnum(event.Payload, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return view.VisibleToUserIDs, nil
}

// RebuildForUser aggregates fresh metrics for one user and stores them.
func (p *DashboardMetrics) RebuildForUser(ctx context.Context, userID string) (*domain.DashboardMetrics, error) {
	profile, err := p.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}

	team, err := p.access.transitiveTeam(ctx, profile)
	if err != nil {
		return nil, err
	}
	userSet := make(map[string]bool, len(team))
	for _, id := range team {
		userSet[id] = true
	}

	views, err := p.opps.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load opportunities for %s: %w", userID, err)
	}

	m := &domain.DashboardMetrics{
		UserID:     userID,
		ByStage:    make(map[string]domain.StageMetrics),
		ComputedAt: time.Now().UTC(),
		TTLSeconds: domain.DefaultViewTTLSeconds,
	}
	for _, v := range views {
		if !p.access.canAccess(profile, userSet, v) {
			continue
		}
		m.TotalOpportunities++

		// Closed deals live in the win-rate numbers, not the stage funnel.
		if !v.IsClosed() {
			stage := m.ByStage[v.Stage]
			stage.Count++
			stage.Value += v.Value
			m.ByStage[v.Stage] = stage
		}

		switch {
		case v.IsWon():
			m.WonCount++
			m.WonRevenue += v.Value
		case !v.IsClosed():
			m.ActiveOpportunities++
			m.PipelineValue += v.Value
		}
	}

	if profile.Hierarchy.IsManager {
		m.Team = &domain.TeamMetrics{
			PipelineValue: m.PipelineValue,
			WonRevenue:    m.WonRevenue,
			MemberCount:   profile.Hierarchy.ReportsCount + 1,
		}
	}

	if err := p.metrics.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save metrics %s: %w", userID, err)
	}
	return m, nil
}
