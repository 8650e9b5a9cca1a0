package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// OpportunityViews maintains the denormalized opportunity read model with
// the pre-joined salesperson, account and visibility set.
type OpportunityViews struct {
	views    domain.OpportunityViewRepository
	profiles domain.UserProfileRepository
	raw      domain.RawStore
	log      zerolog.Logger
}

// NewOpportunityViews creates the opportunity view projection.
func NewOpportunityViews(views domain.OpportunityViewRepository, profiles domain.UserProfileRepository, raw domain.RawStore, log zerolog.Logger) *OpportunityViews {
	return &OpportunityViews{
		views:    views,
		profiles: profiles,
		raw:      raw,
		log:      log.With().Str("projection", "opportunity_views").Logger(),
	}
}

func (p *OpportunityViews) Name() string { return "opportunity_views" }

func (p *OpportunityViews) SubscribesTo() []domain.EventType {
	return []domain.EventType{
		domain.EventOdooOpportunitySynced,
		domain.EventOpportunityDeleted,
	}
}

func (p *OpportunityViews) Reset(ctx context.Context) error {
	return p.views.Truncate(ctx)
}

func (p *OpportunityViews) Handle(ctx context.Context, event *domain.Event) error {
	switch event.EventType {
	case domain.EventOdooOpportunitySynced:
		return p.applySynced(ctx, event)
	case domain.EventOpportunityDeleted:
		return p.applyDeleted(ctx, event)
	}
	return nil
}

func (p *OpportunityViews) applySynced(ctx context.Context, event *domain.Event) error {
	payload := event.Payload
	sourceID := pnum(payload, "id")
	if sourceID == 0 {
		return fmt.Errorf("opportunity synced without id")
	}

	view, err := p.views.FindBySourceID(ctx, sourceID)
	if errors.Is(err, domain.ErrNotFound) {
		view = &domain.OpportunityView{ID: uuid.New().String(), SourceID: sourceID}
	} else if err != nil {
		return fmt.Errorf("load view %d: %w", sourceID, err)
	}

	view.Name = pstr(payload, "name")
	view.Stage = pstr(payload, "stage")
	view.Value = pfloat(payload, "expected_revenue")
	view.Probability = pfloat(payload, "probability")
	view.ExpectedCloseDate = pstr(payload, "date_deadline")
	view.Description = pstr(payload, "description")
	view.LastSynced = event.Timestamp
	view.EventVersion = event.Version

	// A fresh synced event always reactivates: a record present at the
	// source is not deleted, whatever the view said before.
	view.IsActive = true
	view.DeletedAt = nil
	view.DeleteReason = ""

	salesperson, err := p.resolveSalesperson(ctx, payload)
	if err != nil {
		return err
	}
	view.Salesperson = salesperson

	if partnerID := pnum(payload, "partner_id"); partnerID != 0 {
		view.Account = p.resolveAccount(ctx, partnerID, pstr(payload, "partner_name"))
	} else {
		view.Account = nil
	}

	var spProfile *domain.UserProfile
	if salesperson != nil && salesperson.UserID != "" {
		spProfile, err = p.profiles.FindByID(ctx, salesperson.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load salesperson profile: %w", err)
		}
	}
	visible, err := visibilitySet(ctx, p.profiles, spProfile)
	if err != nil {
		return err
	}
	view.VisibleToUserIDs = visible

	if err := p.views.Save(ctx, view); err != nil {
		return fmt.Errorf("save view %d: %w", sourceID, err)
	}
	return nil
}

// resolveSalesperson pre-joins the salesperson from the profile view. An
// unresolved raw id keeps the name from the payload so the view still
// renders.
func (p *OpportunityViews) resolveSalesperson(ctx context.Context, payload map[string]interface{}) (*domain.SalespersonRef, error) {
	rawID := pnum(payload, "salesperson_id")
	if rawID == 0 {
		return nil, nil
	}

	ref := &domain.SalespersonRef{
		RawUserID: rawID,
		Name:      pstr(payload, "salesperson_name"),
	}

	profile, err := p.profiles.FindByOdooUserID(ctx, rawID)
	if errors.Is(err, domain.ErrNotFound) {
		return ref, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve salesperson %d: %w", rawID, err)
	}

	ref.UserID = profile.ID
	ref.EmployeeID = profile.Odoo.EmployeeID
	ref.Name = profile.Name
	ref.Email = profile.Email
	ref.TeamID = profile.Odoo.TeamID
	ref.TeamName = profile.Odoo.TeamName
	if profile.Hierarchy.Manager != nil {
		m := *profile.Hierarchy.Manager
		ref.Manager = &m
	}
	return ref, nil
}

// resolveAccount pre-joins the account display fields from its latest raw
// record. A partner the sync never fetched keeps the name embedded on the
// opportunity payload.
func (p *OpportunityViews) resolveAccount(ctx context.Context, partnerID int64, fallbackName string) *domain.AccountRef {
	ref := &domain.AccountRef{SourceID: partnerID, Name: fallbackName}

	rec, err := p.raw.FindLatest(ctx, domain.EntityAccount, partnerID)
	if errors.Is(err, domain.ErrNotFound) {
		return ref
	}
	if err != nil {
		p.log.Warn().Err(err).Int64("partner_id", partnerID).Msg("account lookup failed")
		return ref
	}

	if name := pstr(rec.RawPayload, "name"); name != "" {
		ref.Name = name
	}
	ref.City = pstr(rec.RawPayload, "city")
	ref.Country = pstr(rec.RawPayload, "country")
	return ref
}

func (p *OpportunityViews) applyDeleted(ctx context.Context, event *domain.Event) error {
	sourceID := pnum(event.Payload, "id")
	err := p.views.SoftDelete(ctx, sourceID, event.Timestamp, pstr(event.Payload, "reason"))
	if errors.Is(err, domain.ErrNotFound) {
		// Deletion of a never-projected record is a no-op.
		p.log.Warn().Int64("source_id", sourceID).Msg("delete for unknown opportunity")
		return nil
	}
	return err
}
