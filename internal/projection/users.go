package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// UserProfiles maintains the user profile view: one profile per email,
// denormalized with the reporting hierarchy. The UUID minted on first sight
// of an email is the canonical identity every other view references.
type UserProfiles struct {
	profiles domain.UserProfileRepository
	log      zerolog.Logger
}

// NewUserProfiles creates the user profile projection.
func NewUserProfiles(profiles domain.UserProfileRepository, log zerolog.Logger) *UserProfiles {
	return &UserProfiles{
		profiles: profiles,
		log:      log.With().Str("projection", "user_profiles").Logger(),
	}
}

func (p *UserProfiles) Name() string { return "user_profiles" }

func (p *UserProfiles) SubscribesTo() []domain.EventType {
	return []domain.EventType{
		domain.EventOdooUserSynced,
		domain.EventUserLoggedIn,
		domain.EventManagerAssigned,
		domain.EventUserRoleChanged,
	}
}

func (p *UserProfiles) Reset(ctx context.Context) error {
	return p.profiles.Truncate(ctx)
}

func (p *UserProfiles) Handle(ctx context.Context, event *domain.Event) error {
	switch event.EventType {
	case domain.EventOdooUserSynced:
		return p.applyUserSynced(ctx, event)
	case domain.EventUserLoggedIn:
		return p.applyLogin(ctx, event)
	case domain.EventManagerAssigned:
		return p.applyManagerAssigned(ctx, event)
	case domain.EventUserRoleChanged:
		return p.applyRoleChanged(ctx, event)
	}
	return nil
}

func (p *UserProfiles) applyUserSynced(ctx context.Context, event *domain.Event) error {
	payload := event.Payload
	email := domain.NormalizeEmail(pstr(payload, "email"))
	if email == "" {
		// A profile without an email can never be addressed; skip rather
		// than mint an orphan identity.
		p.log.Warn().Int64("source_id", pnum(payload, "id")).Msg("user without email skipped")
		return nil
	}

	profile, err := p.profiles.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		profile = &domain.UserProfile{ID: uuid.New().String(), Email: email}
	} else if err != nil {
		return fmt.Errorf("find profile %s: %w", email, err)
	}

	profile.Name = pstr(payload, "name")
	profile.Odoo = domain.OdooIdentity{
		UserID:            pnum(payload, "id"),
		EmployeeID:        pnum(payload, "employee_id"),
		TeamID:            pnum(payload, "team_id"),
		TeamName:          pstr(payload, "team_name"),
		DepartmentID:      pnum(payload, "department_id"),
		DepartmentName:    pstr(payload, "department_name"),
		ManagerEmployeeID: pnum(payload, "manager_employee_id"),
	}
	profile.LastSync = event.Timestamp
	profile.EventVersion = event.Version

	if err := p.refreshHierarchy(ctx, profile); err != nil {
		return err
	}
	if err := p.profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("save profile %s: %w", email, err)
	}

	return p.propagate(ctx, profile)
}

// refreshHierarchy recomputes the embedded manager and subordinate refs
// from the current profile set.
func (p *UserProfiles) refreshHierarchy(ctx context.Context, profile *domain.UserProfile) error {
	profile.Hierarchy.Manager = nil
	if mid := profile.Odoo.ManagerEmployeeID; mid != 0 {
		manager, err := p.profiles.FindByEmployeeID(ctx, mid)
		if err == nil {
			ref := manager.Ref()
			profile.Hierarchy.Manager = &ref
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("resolve manager %d: %w", mid, err)
		}
		// A manager not yet projected stays unresolved until their own
		// synced event arrives and propagates.
	}

	reports, err := p.profiles.FindByManagerEmployeeID(ctx, profile.Odoo.EmployeeID)
	if err != nil {
		return fmt.Errorf("resolve reports of %d: %w", profile.Odoo.EmployeeID, err)
	}
	profile.Hierarchy.Subordinates = make([]domain.PersonRef, 0, len(reports))
	for _, r := range reports {
		profile.Hierarchy.Subordinates = append(profile.Hierarchy.Subordinates, r.Ref())
	}
	profile.Hierarchy.ReportsCount = len(reports)
	profile.Hierarchy.IsManager = len(reports) > 0
	return nil
}

// propagate pushes this profile's fresh identity into the views that embed
// it: the manager snapshot on its reports, and the subordinate list on its
// own manager.
func (p *UserProfiles) propagate(ctx context.Context, profile *domain.UserProfile) error {
	if profile.Odoo.EmployeeID != 0 {
		if err := p.profiles.UpdateManagerRef(ctx, profile.Odoo.EmployeeID, profile.Ref()); err != nil {
			return err
		}
		// Reports projected before their manager existed have no manager
		// ref yet; give them one now.
		reports, err := p.profiles.FindByManagerEmployeeID(ctx, profile.Odoo.EmployeeID)
		if err != nil {
			return fmt.Errorf("load reports of %d: %w", profile.Odoo.EmployeeID, err)
		}
		ref := profile.Ref()
		for _, r := range reports {
			if r.Hierarchy.Manager == nil {
				r.Hierarchy.Manager = &ref
				if err := p.profiles.Save(ctx, r); err != nil {
					return fmt.Errorf("backfill manager on %s: %w", r.ID, err)
				}
			}
		}
	}

	if mid := profile.Odoo.ManagerEmployeeID; mid != 0 {
		manager, err := p.profiles.FindByEmployeeID(ctx, mid)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load manager %d: %w", mid, err)
		}
		if err := p.refreshHierarchy(ctx, manager); err != nil {
			return err
		}
		if err := p.profiles.Save(ctx, manager); err != nil {
			return fmt.Errorf("save manager %s: %w", manager.ID, err)
		}
	}
	return nil
}

func (p *UserProfiles) applyLogin(ctx context.Context, event *domain.Event) error {
	email := domain.NormalizeEmail(pstr(event.Payload, "email"))
	profile, err := p.profiles.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	at := event.Timestamp
	profile.LastLogin = &at
	return p.profiles.Save(ctx, profile)
}

func (p *UserProfiles) applyManagerAssigned(ctx context.Context, event *domain.Event) error {
	profile, err := p.profiles.FindByEmployeeID(ctx, pnum(event.Payload, "employee_id"))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	profile.Odoo.ManagerEmployeeID = pnum(event.Payload, "manager_employee_id")
	if err := p.refreshHierarchy(ctx, profile); err != nil {
		return err
	}
	if err := p.profiles.Save(ctx, profile); err != nil {
		return err
	}
	return p.propagate(ctx, profile)
}

func (p *UserProfiles) applyRoleChanged(ctx context.Context, event *domain.Event) error {
	email := domain.NormalizeEmail(pstr(event.Payload, "email"))
	profile, err := p.profiles.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	profile.Role = pstr(event.Payload, "role")
	profile.IsSuperAdmin = pbool(event.Payload, "is_super_admin")
	profile.LastSync = event.Timestamp
	return p.profiles.Save(ctx, profile)
}
