package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// subordinateDepthCap bounds transitive hierarchy expansion. Real reporting
// chains are shallow; the cap stops cyclic manager data from looping.
const subordinateDepthCap = 10

// AccessMatrices maintains the precomputed per-user authorization view.
// Matrices are demand-computed with a TTL by the query layer; this
// projection proactively refreshes entries that already exist when the
// underlying data moves.
type AccessMatrices struct {
	matrices domain.AccessMatrixRepository
	profiles domain.UserProfileRepository
	opps     domain.OpportunityViewRepository
	log      zerolog.Logger
}

// NewAccessMatrices creates the access matrix projection.
func NewAccessMatrices(matrices domain.AccessMatrixRepository, profiles domain.UserProfileRepository, opps domain.OpportunityViewRepository, log zerolog.Logger) *AccessMatrices {
	return &AccessMatrices{
		matrices: matrices,
		profiles: profiles,
		opps:     opps,
		log:      log.With().Str("projection", "access_matrix").Logger(),
	}
}

func (p *AccessMatrices) Name() string { return "access_matrix" }

func (p *AccessMatrices) SubscribesTo() []domain.EventType {
	return []domain.EventType{
		domain.EventOdooOpportunitySynced,
		domain.EventOpportunityAssigned,
		domain.EventOpportunityDeleted,
		domain.EventOdooUserSynced,
		domain.EventManagerAssigned,
		domain.EventUserRoleChanged,
	}
}

func (p *AccessMatrices) Reset(ctx context.Context) error {
	return p.matrices.Truncate(ctx)
}

func (p *AccessMatrices) Handle(ctx context.Context, event *domain.Event) error {
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
		// Only entries somebody is actively reading get refreshed; absent
		// ones are built on first demand.
		if _, err := p.matrices.FindByUserID(ctx, userID); errors.Is(err, domain.ErrNotFound) {
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

// affectedUsers names every user whose matrix the event may have changed.
func (p *AccessMatrices) affectedUsers(ctx context.Context, event *domain.Event) ([]string, error) {
	switch event.EventType {
	case domain.EventOdooOpportunitySynced, domain.EventOpportunityDeleted:
		view, err := p.opps.FindBySourceID(ctx, pnum(event.Payload, "id"))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return view.VisibleToUserIDs, nil

	case domain.EventOpportunityAssigned:
		// The view has already been rewritten for the new owner, so its
		// visibility set no longer names the old one. The event payload
		// carries both sides of the handover.
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
			ids = append(ids, p.withManagerChain(ctx, profile)...)
		}
		return ids, nil

	case domain.EventOdooUserSynced, domain.EventUserRoleChanged:
		profile, err := p.profiles.FindByEmail(ctx, pstr(event.Payload, "email"))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return p.withManagerChain(ctx, profile), nil

	case domain.EventManagerAssigned:
		profile, err := p.profiles.FindByEmployeeID(ctx, pnum(event.Payload, "employee_id"))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return p.withManagerChain(ctx, profile), nil
	}
	return nil, nil
}

func (p *AccessMatrices) withManagerChain(ctx context.Context, profile *domain.UserProfile) []string {
	ids := []string{profile.ID}
	if profile.Hierarchy.Manager != nil {
		ids = append(ids, profile.Hierarchy.Manager.UserID)
	}
	return ids
}

// RebuildForUser computes a fresh matrix for one user and stores it.
func (p *AccessMatrices) RebuildForUser(ctx context.Context, userID string) (*domain.AccessMatrix, error) {
	profile, err := p.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}

	accessibleUsers, err := p.transitiveTeam(ctx, profile)
	if err != nil {
		return nil, err
	}

	matrix := &domain.AccessMatrix{
		UserID:            profile.ID,
		Email:             profile.Email,
		IsSuperAdmin:      profile.IsSuperAdmin,
		IsManager:         profile.Hierarchy.IsManager,
		SubordinateCount:  len(accessibleUsers) - 1,
		AccessibleUserIDs: accessibleUsers,
		ComputedAt:        time.Now().UTC(),
		TTLSeconds:        domain.DefaultViewTTLSeconds,
	}

	views, err := p.opps.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active opportunities: %w", err)
	}
	userSet := make(map[string]bool, len(accessibleUsers))
	for _, id := range accessibleUsers {
		userSet[id] = true
	}

	accounts := make(map[int64]bool)
	for _, v := range views {
		if !p.canAccess(profile, userSet, v) {
			continue
		}
		matrix.AccessibleOpportunities = append(matrix.AccessibleOpportunities, v.SourceID)
		if v.Account != nil {
			accounts[v.Account.SourceID] = true
		}
	}
	for id := range accounts {
		matrix.AccessibleAccounts = append(matrix.AccessibleAccounts, id)
	}
	sort.Slice(matrix.AccessibleOpportunities, func(i, j int) bool {
		return matrix.AccessibleOpportunities[i] < matrix.AccessibleOpportunities[j]
	})
	sort.Slice(matrix.AccessibleAccounts, func(i, j int) bool {
		return matrix.AccessibleAccounts[i] < matrix.AccessibleAccounts[j]
	})

	matrix.ManagedTeamIDs = p.managedTeams(ctx, profile, accessibleUsers)

	if err := p.matrices.Save(ctx, matrix); err != nil {
		return nil, fmt.Errorf("save matrix %s: %w", userID, err)
	}
	return matrix, nil
}

func (p *AccessMatrices) canAccess(profile *domain.UserProfile, team map[string]bool, v *domain.OpportunityView) bool {
	if profile.IsSuperAdmin {
		return true
	}
	for _, id := range v.VisibleToUserIDs {
		if team[id] {
			return true
		}
	}
	if v.Salesperson != nil && v.Salesperson.UserID != "" && team[v.Salesperson.UserID] {
		return true
	}
	return false
}

// transitiveTeam expands the reporting subtree under the profile, self
// included, breadth first up to the depth cap.
func (p *AccessMatrices) transitiveTeam(ctx context.Context, profile *domain.UserProfile) ([]string, error) {
	seen := map[string]bool{profile.ID: true}
	frontier := profile.Hierarchy.Subordinates

	for depth := 0; depth < subordinateDepthCap && len(frontier) > 0; depth++ {
		var next []domain.PersonRef
		for _, ref := range frontier {
			if ref.UserID == "" || seen[ref.UserID] {
				continue
			}
			seen[ref.UserID] = true
			sub, err := p.profiles.FindByID(ctx, ref.UserID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("expand subordinate %s: %w", ref.UserID, err)
			}
			next = append(next, sub.Hierarchy.Subordinates...)
		}
		frontier = next
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (p *AccessMatrices) managedTeams(ctx context.Context, profile *domain.UserProfile, team []string) []int64 {
	if !profile.Hierarchy.IsManager {
		return nil
	}
	ids := make(map[int64]bool)
	if profile.Odoo.TeamID != 0 {
		ids[profile.Odoo.TeamID] = true
	}
	for _, userID := range team {
		sub, err := p.profiles.FindByID(ctx, userID)
		if err != nil {
			continue
		}
		if sub.Odoo.TeamID != 0 {
			ids[sub.Odoo.TeamID] = true
		}
	}
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
