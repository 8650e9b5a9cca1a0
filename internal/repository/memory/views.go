package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/revpipe/revpipe/internal/domain"
)

// ---------------------------------------------------------------------------
// User profiles
// ---------------------------------------------------------------------------

// UserProfileRepository is the in-memory user profile view.
type UserProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*domain.UserProfile
}

// NewUserProfileRepository creates an empty in-memory profile repository.
func NewUserProfileRepository() *UserProfileRepository {
	return &UserProfileRepository{profiles: make(map[string]*domain.UserProfile)}
}

func (r *UserProfileRepository) Save(ctx context.Context, p *domain.UserProfile) error {
	if p.ID == "" {
		return fmt.Errorf("save profile: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.profiles[p.ID] = &c
	return nil
}

func (r *UserProfileRepository) FindByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (r *UserProfileRepository) FindByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	email = domain.NormalizeEmail(email)
	return r.findOne(func(p *domain.UserProfile) bool {
		return domain.NormalizeEmail(p.Email) == email
	}, "email "+email)
}

func (r *UserProfileRepository) FindByOdooUserID(ctx context.Context, odooUserID int64) (*domain.UserProfile, error) {
	return r.findOne(func(p *domain.UserProfile) bool {
		return p.Odoo.UserID == odooUserID
	}, fmt.Sprintf("odoo user %d", odooUserID))
}

func (r *UserProfileRepository) FindByEmployeeID(ctx context.Context, employeeID int64) (*domain.UserProfile, error) {
	return r.findOne(func(p *domain.UserProfile) bool {
		return p.Odoo.EmployeeID == employeeID
	}, fmt.Sprintf("employee %d", employeeID))
}

func (r *UserProfileRepository) FindByManagerEmployeeID(ctx context.Context, managerEmployeeID int64) ([]*domain.UserProfile, error) {
	return r.findAll(func(p *domain.UserProfile) bool {
		return p.Odoo.ManagerEmployeeID == managerEmployeeID && managerEmployeeID != 0
	}), nil
}

func (r *UserProfileRepository) FindSuperAdmins(ctx context.Context) ([]*domain.UserProfile, error) {
	return r.findAll(func(p *domain.UserProfile) bool { return p.IsSuperAdmin }), nil
}

func (r *UserProfileRepository) UpdateManagerRef(ctx context.Context, managerEmployeeID int64, ref domain.PersonRef) error {
	if managerEmployeeID == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.Odoo.ManagerEmployeeID == managerEmployeeID && p.Hierarchy.Manager != nil {
			refCopy := ref
			p.Hierarchy.Manager = &refCopy
		}
	}
	return nil
}

func (r *UserProfileRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = make(map[string]*domain.UserProfile)
	return nil
}

func (r *UserProfileRepository) findOne(match func(*domain.UserProfile) bool, desc string) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.profiles {
		if match(p) {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("profile by %s: %w", desc, domain.ErrNotFound)
}

func (r *UserProfileRepository) findAll(match func(*domain.UserProfile) bool) []*domain.UserProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.UserProfile
	for _, p := range r.profiles {
		if match(p) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// ---------------------------------------------------------------------------
// Opportunity views
// ---------------------------------------------------------------------------

// OpportunityViewRepository is the in-memory opportunity view.
type OpportunityViewRepository struct {
	mu    sync.RWMutex
	views map[int64]*domain.OpportunityView
}

// NewOpportunityViewRepository creates an empty in-memory opportunity view
// repository.
func NewOpportunityViewRepository() *OpportunityViewRepository {
	return &OpportunityViewRepository{views: make(map[int64]*domain.OpportunityView)}
}

func (r *OpportunityViewRepository) Save(ctx context.Context, v *domain.OpportunityView) error {
	if v.SourceID == 0 {
		return fmt.Errorf("save opportunity view: zero source id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *v
	c.VisibleToUserIDs = append([]string(nil), v.VisibleToUserIDs...)
	r.views[v.SourceID] = &c
	return nil
}

func (r *OpportunityViewRepository) FindBySourceID(ctx context.Context, sourceID int64) (*domain.OpportunityView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[sourceID]
	if !ok {
		return nil, fmt.Errorf("opportunity view %d: %w", sourceID, domain.ErrNotFound)
	}
	return cloneOppView(v), nil
}

func (r *OpportunityViewRepository) FindVisibleTo(ctx context.Context, userID string) ([]*domain.OpportunityView, error) {
	return r.findAll(func(v *domain.OpportunityView) bool {
		return v.IsActive && v.VisibleTo(userID)
	}), nil
}

func (r *OpportunityViewRepository) FindActive(ctx context.Context) ([]*domain.OpportunityView, error) {
	return r.findAll(func(v *domain.OpportunityView) bool { return v.IsActive }), nil
}

func (r *OpportunityViewRepository) FindBySourceIDs(ctx context.Context, sourceIDs []int64) ([]*domain.OpportunityView, error) {
	wanted := make(map[int64]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	return r.findAll(func(v *domain.OpportunityView) bool { return wanted[v.SourceID] }), nil
}

func (r *OpportunityViewRepository) SoftDelete(ctx context.Context, sourceID int64, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[sourceID]
	if !ok {
		return fmt.Errorf("soft delete opportunity %d: %w", sourceID, domain.ErrNotFound)
	}
	v.IsActive = false
	v.DeletedAt = &at
	v.DeleteReason = reason
	return nil
}

func (r *OpportunityViewRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = make(map[int64]*domain.OpportunityView)
	return nil
}

func (r *OpportunityViewRepository) findAll(match func(*domain.OpportunityView) bool) []*domain.OpportunityView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.OpportunityView
	for _, v := range r.views {
		if match(v) {
			out = append(out, cloneOppView(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func cloneOppView(v *domain.OpportunityView) *domain.OpportunityView {
	c := *v
	c.VisibleToUserIDs = append([]string(nil), v.VisibleToUserIDs...)
	if v.Salesperson != nil {
		sp := *v.Salesperson
		c.Salesperson = &sp
	}
	if v.Account != nil {
		acc := *v.Account
		c.Account = &acc
	}
	return &c
}

// ---------------------------------------------------------------------------
// Activity views
// ---------------------------------------------------------------------------

// ActivityViewRepository is the in-memory activity view.
type ActivityViewRepository struct {
	mu    sync.RWMutex
	views map[int64]*domain.ActivityView
}

// NewActivityViewRepository creates an empty in-memory activity view
// repository.
func NewActivityViewRepository() *ActivityViewRepository {
	return &ActivityViewRepository{views: make(map[int64]*domain.ActivityView)}
}

func (r *ActivityViewRepository) Save(ctx context.Context, v *domain.ActivityView) error {
	if v.SourceID == 0 {
		return fmt.Errorf("save activity view: zero source id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[v.SourceID] = cloneActivityView(v)
	return nil
}

func (r *ActivityViewRepository) FindBySourceID(ctx context.Context, sourceID int64) (*domain.ActivityView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[sourceID]
	if !ok {
		return nil, fmt.Errorf("activity view %d: %w", sourceID, domain.ErrNotFound)
	}
	return cloneActivityView(v), nil
}

func (r *ActivityViewRepository) FindByOpportunity(ctx context.Context, opportunitySourceID int64) ([]*domain.ActivityView, error) {
	return r.findAll(func(v *domain.ActivityView) bool {
		return v.Opportunity != nil && v.Opportunity.SourceID == opportunitySourceID
	}), nil
}

func (r *ActivityViewRepository) FindVisibleTo(ctx context.Context, userID string, filter domain.ActivityFilter) ([]*domain.ActivityView, error) {
	return r.findAll(func(v *domain.ActivityView) bool {
		if !filter.IncludeInactive && !v.IsActive {
			return false
		}
		if filter.Category != "" && v.PresalesCategory != filter.Category {
			return false
		}
		if filter.State != "" && v.State != filter.State {
			return false
		}
		if filter.OpportunityID != 0 && (v.Opportunity == nil || v.Opportunity.SourceID != filter.OpportunityID) {
			return false
		}
		for _, id := range v.VisibleToUserIDs {
			if id == userID {
				return true
			}
		}
		return false
	}), nil
}

func (r *ActivityViewRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = make(map[int64]*domain.ActivityView)
	return nil
}

func (r *ActivityViewRepository) findAll(match func(*domain.ActivityView) bool) []*domain.ActivityView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ActivityView
	for _, v := range r.views {
		if match(v) {
			out = append(out, cloneActivityView(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func cloneActivityView(v *domain.ActivityView) *domain.ActivityView {
	c := *v
	c.VisibleToUserIDs = append([]string(nil), v.VisibleToUserIDs...)
	if v.Opportunity != nil {
		opp := *v.Opportunity
		c.Opportunity = &opp
	}
	if v.AssignedTo != nil {
		a := *v.AssignedTo
		c.AssignedTo = &a
	}
	return &c
}

// ---------------------------------------------------------------------------
// Access matrix
// ---------------------------------------------------------------------------

// AccessMatrixRepository is the in-memory access matrix store.
type AccessMatrixRepository struct {
	mu       sync.RWMutex
	matrices map[string]*domain.AccessMatrix
}

// NewAccessMatrixRepository creates an empty in-memory matrix repository.
func NewAccessMatrixRepository() *AccessMatrixRepository {
	return &AccessMatrixRepository{matrices: make(map[string]*domain.AccessMatrix)}
}

func (r *AccessMatrixRepository) Save(ctx context.Context, m *domain.AccessMatrix) error {
	if m.UserID == "" {
		return fmt.Errorf("save access matrix: empty user id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *m
	c.AccessibleOpportunities = append([]int64(nil), m.AccessibleOpportunities...)
	c.AccessibleAccounts = append([]int64(nil), m.AccessibleAccounts...)
	c.AccessibleUserIDs = append([]string(nil), m.AccessibleUserIDs...)
	c.ManagedTeamIDs = append([]int64(nil), m.ManagedTeamIDs...)
	r.matrices[m.UserID] = &c
	return nil
}

func (r *AccessMatrixRepository) FindByUserID(ctx context.Context, userID string) (*domain.AccessMatrix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matrices[userID]
	if !ok {
		return nil, fmt.Errorf("access matrix %s: %w", userID, domain.ErrNotFound)
	}
	c := *m
	return &c, nil
}

func (r *AccessMatrixRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matrices = make(map[string]*domain.AccessMatrix)
	return nil
}

// ---------------------------------------------------------------------------
// Dashboard metrics
// ---------------------------------------------------------------------------

// DashboardMetricsRepository is the in-memory dashboard metrics store.
type DashboardMetricsRepository struct {
	mu      sync.RWMutex
	metrics map[string]*domain.DashboardMetrics
}

// NewDashboardMetricsRepository creates an empty in-memory metrics repository.
func NewDashboardMetricsRepository() *DashboardMetricsRepository {
	return &DashboardMetricsRepository{metrics: make(map[string]*domain.DashboardMetrics)}
}

func (r *DashboardMetricsRepository) Save(ctx context.Context, m *domain.DashboardMetrics) error {
	if m.UserID == "" {
		return fmt.Errorf("save dashboard metrics: empty user id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *m
	if m.ByStage != nil {
		c.ByStage = make(map[string]domain.StageMetrics, len(m.ByStage))
		for k, v := range m.ByStage {
			c.ByStage[k] = v
		}
	}
	if m.Team != nil {
		team := *m.Team
		c.Team = &team
	}
	r.metrics[m.UserID] = &c
	return nil
}

func (r *DashboardMetricsRepository) FindByUserID(ctx context.Context, userID string) (*domain.DashboardMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[userID]
	if !ok {
		return nil, fmt.Errorf("dashboard metrics %s: %w", userID, domain.ErrNotFound)
	}
	c := *m
	return &c, nil
}

func (r *DashboardMetricsRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*domain.DashboardMetrics)
	return nil
}
