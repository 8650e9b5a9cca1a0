package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// opportunityModel is the source model activities must reference to be
// projected; activities on other models carry no sales signal here.
const opportunityModel = "crm.lead"

// ActivityViews maintains the denormalized activity read model. Each
// activity inherits its visibility from the linked opportunity and carries
// a presales classification derived from its text.
type ActivityViews struct {
	views    domain.ActivityViewRepository
	opps     domain.OpportunityViewRepository
	profiles domain.UserProfileRepository
	log      zerolog.Logger
}

// NewActivityViews creates the activity view projection.
func NewActivityViews(views domain.ActivityViewRepository, opps domain.OpportunityViewRepository, profiles domain.UserProfileRepository, log zerolog.Logger) *ActivityViews {
	return &ActivityViews{
		views:    views,
		opps:     opps,
		profiles: profiles,
		log:      log.With().Str("projection", "activity_views").Logger(),
	}
}

func (p *ActivityViews) Name() string { return "activity_views" }

func (p *ActivityViews) SubscribesTo() []domain.EventType {
	return []domain.EventType{
		domain.EventOdooActivitySynced,
		// Opportunity updates refresh the stage and visibility snapshots on
		// linked activities.
		domain.EventOdooOpportunitySynced,
	}
}

func (p *ActivityViews) Reset(ctx context.Context) error {
	return p.views.Truncate(ctx)
}

func (p *ActivityViews) Handle(ctx context.Context, event *domain.Event) error {
	switch event.EventType {
	case domain.EventOdooActivitySynced:
		return p.applySynced(ctx, event)
	case domain.EventOdooOpportunitySynced:
		return p.refreshLinked(ctx, event)
	}
	return nil
}

func (p *ActivityViews) applySynced(ctx context.Context, event *domain.Event) error {
	payload := event.Payload
	sourceID := pnum(payload, "id")
	if sourceID == 0 {
		return fmt.Errorf("activity synced without id")
	}
	if pstr(payload, "res_model") != opportunityModel {
		return nil
	}

	view := &domain.ActivityView{
		SourceID:     sourceID,
		ActivityType: pstr(payload, "activity_type"),
		Summary:      pstr(payload, "summary"),
		Note:         pstr(payload, "note"),
		DueDate:      pstr(payload, "date_deadline"),
		State:        pstr(payload, "state"),
		IsActive:     true,
		LastSynced:   event.Timestamp,
		EventVersion: event.Version,
	}
	view.PresalesCategory = classifyPresales(view.ActivityType, view.Summary, view.Note)

	if assignedID := pnum(payload, "assigned_user_id"); assignedID != 0 {
		assignee := &domain.ActivityAssignee{Name: pstr(payload, "assigned_user_name")}
		profile, err := p.profiles.FindByOdooUserID(ctx, assignedID)
		if err == nil {
			assignee.UserID = profile.ID
			assignee.EmployeeID = profile.Odoo.EmployeeID
			assignee.Name = profile.Name
			assignee.Email = profile.Email
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("resolve assignee %d: %w", assignedID, err)
		}
		view.AssignedTo = assignee
	}

	if err := p.attachOpportunity(ctx, view, pnum(payload, "res_id")); err != nil {
		return err
	}
	if err := p.views.Save(ctx, view); err != nil {
		return fmt.Errorf("save activity %d: %w", sourceID, err)
	}
	return nil
}

// attachOpportunity snapshots the linked opportunity onto the activity and
// inherits its visibility set. Without a projected opportunity the activity
// falls back to assignee-plus-admins visibility.
func (p *ActivityViews) attachOpportunity(ctx context.Context, view *domain.ActivityView, oppSourceID int64) error {
	if oppSourceID != 0 {
		opp, err := p.opps.FindBySourceID(ctx, oppSourceID)
		if err == nil {
			ref := &domain.ActivityOpportunityRef{
				SourceID: opp.SourceID,
				Name:     opp.Name,
				Stage:    opp.Stage,
			}
			if opp.Salesperson != nil {
				ref.SalespersonName = opp.Salesperson.Name
				ref.SalespersonID = opp.Salesperson.UserID
			}
			view.Opportunity = ref
			view.VisibleToUserIDs = append([]string(nil), opp.VisibleToUserIDs...)
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load opportunity %d: %w", oppSourceID, err)
		}
		view.Opportunity = &domain.ActivityOpportunityRef{SourceID: oppSourceID}
	}

	var assignee *domain.UserProfile
	if view.AssignedTo != nil && view.AssignedTo.UserID != "" {
		profile, err := p.profiles.FindByID(ctx, view.AssignedTo.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load assignee profile: %w", err)
		}
		assignee = profile
	}
	visible, err := visibilitySet(ctx, p.profiles, assignee)
	if err != nil {
		return err
	}
	view.VisibleToUserIDs = visible
	return nil
}

// refreshLinked re-snapshots every activity pointing at an opportunity
// that just changed.
func (p *ActivityViews) refreshLinked(ctx context.Context, event *domain.Event) error {
	oppSourceID := pnum(event.Payload, "id")
	linked, err := p.views.FindByOpportunity(ctx, oppSourceID)
	if err != nil {
		return fmt.Errorf("load activities for opportunity %d: %w", oppSourceID, err)
	}
	for _, view := range linked {
		if err := p.attachOpportunity(ctx, view, oppSourceID); err != nil {
			return err
		}
		if err := p.views.Save(ctx, view); err != nil {
			return fmt.Errorf("refresh activity %d: %w", view.SourceID, err)
		}
	}
	return nil
}
