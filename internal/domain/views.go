package domain

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// User profile view
// ---------------------------------------------------------------------------

// OdooIdentity holds the source-side identifiers for a user.
type OdooIdentity struct {
	UserID            int64  `json:"user_id" bson:"user_id"`
	EmployeeID        int64  `json:"employee_id" bson:"employee_id"`
	TeamID            int64  `json:"team_id,omitempty" bson:"team_id,omitempty"`
	TeamName          string `json:"team_name,omitempty" bson:"team_name,omitempty"`
	DepartmentID      int64  `json:"department_id,omitempty" bson:"department_id,omitempty"`
	DepartmentName    string `json:"department_name,omitempty" bson:"department_name,omitempty"`
	ManagerEmployeeID int64  `json:"manager_employee_id,omitempty" bson:"manager_employee_id,omitempty"`
}

// PersonRef is the minimal identity snapshot embedded in manager and
// subordinate slots. The authoritative fields live on the profile itself.
type PersonRef struct {
	UserID     string `json:"user_id" bson:"user_id"`
	EmployeeID int64  `json:"employee_id,omitempty" bson:"employee_id,omitempty"`
	Name       string `json:"name" bson:"name"`
	Email      string `json:"email" bson:"email"`
}

// Hierarchy is the denormalized reporting structure on a profile.
type Hierarchy struct {
	Manager      *PersonRef  `json:"manager,omitempty" bson:"manager,omitempty"`
	Subordinates []PersonRef `json:"subordinates" bson:"subordinates"`
	ReportsCount int         `json:"reports_count" bson:"reports_count"`
	IsManager    bool        `json:"is_manager" bson:"is_manager"`
}

// UserProfile is the denormalized user view. The UUID id is minted on the
// first OdooUserSynced for an email and is the canonical identity every
// other view references.
type UserProfile struct {
	ID           string       `json:"id" bson:"_id"`
	Email        string       `json:"email" bson:"email"`
	Name         string       `json:"name" bson:"name"`
	Odoo         OdooIdentity `json:"odoo" bson:"odoo"`
	Hierarchy    Hierarchy    `json:"hierarchy" bson:"hierarchy"`
	IsSuperAdmin bool         `json:"is_super_admin" bson:"is_super_admin"`
	Role         string       `json:"role,omitempty" bson:"role,omitempty"`
	LastLogin    *time.Time   `json:"last_login,omitempty" bson:"last_login,omitempty"`
	LastSync     time.Time    `json:"last_sync" bson:"last_sync"`
	EventVersion int          `json:"event_version" bson:"event_version"`
}

// Ref returns the embeddable identity snapshot for this profile.
func (p *UserProfile) Ref() PersonRef {
	return PersonRef{
		UserID:     p.ID,
		EmployeeID: p.Odoo.EmployeeID,
		Name:       p.Name,
		Email:      p.Email,
	}
}

// NormalizeEmail lower-cases and trims an email for use as an upsert key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ---------------------------------------------------------------------------
// Opportunity view
// ---------------------------------------------------------------------------

// SalespersonRef is the pre-joined salesperson on an opportunity view.
// UserID is empty when the raw salesperson id did not resolve to a profile.
type SalespersonRef struct {
	UserID     string     `json:"user_id,omitempty" bson:"user_id,omitempty"`
	RawUserID  int64      `json:"raw_user_id,omitempty" bson:"raw_user_id,omitempty"`
	EmployeeID int64      `json:"employee_id,omitempty" bson:"employee_id,omitempty"`
	Name       string     `json:"name" bson:"name"`
	Email      string     `json:"email,omitempty" bson:"email,omitempty"`
	TeamID     int64      `json:"team_id,omitempty" bson:"team_id,omitempty"`
	TeamName   string     `json:"team_name,omitempty" bson:"team_name,omitempty"`
	Manager    *PersonRef `json:"manager,omitempty" bson:"manager,omitempty"`
}

// AccountRef is the pre-joined account display fields on an opportunity view.
type AccountRef struct {
	SourceID int64  `json:"source_id" bson:"source_id"`
	Name     string `json:"name" bson:"name"`
	City     string `json:"city,omitempty" bson:"city,omitempty"`
	Country  string `json:"country,omitempty" bson:"country,omitempty"`
}

// OpportunityView is the denormalized opportunity read model.
type OpportunityView struct {
	ID                string          `json:"id" bson:"_id"`
	SourceID          int64           `json:"source_id" bson:"source_id"`
	Name              string          `json:"name" bson:"name"`
	Stage             string          `json:"stage" bson:"stage"`
	Value             float64         `json:"value" bson:"value"`
	Probability       float64         `json:"probability" bson:"probability"`
	ExpectedCloseDate string          `json:"expected_close_date,omitempty" bson:"expected_close_date,omitempty"`
	Description       string          `json:"description,omitempty" bson:"description,omitempty"`
	Salesperson       *SalespersonRef `json:"salesperson,omitempty" bson:"salesperson,omitempty"`
	Account           *AccountRef     `json:"account,omitempty" bson:"account,omitempty"`
	VisibleToUserIDs  []string        `json:"visible_to_user_ids" bson:"visible_to_user_ids"`
	IsActive          bool            `json:"is_active" bson:"is_active"`
	DeletedAt         *time.Time      `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	DeleteReason      string          `json:"delete_reason,omitempty" bson:"delete_reason,omitempty"`
	LastSynced        time.Time       `json:"last_synced" bson:"last_synced"`
	EventVersion      int             `json:"event_version" bson:"event_version"`
}

// VisibleTo reports whether the given user id is in the visibility set.
func (o *OpportunityView) VisibleTo(userID string) bool {
	for _, id := range o.VisibleToUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ClosedStages is the closed-stage membership set, matched case-sensitively
// against the stored stage name.
var ClosedStages = map[string]bool{
	"Won":         true,
	"Lost":        true,
	"Closed Won":  true,
	"Closed Lost": true,
}

// WonStages is the subset of closed stages that count as revenue.
var WonStages = map[string]bool{
	"Won":        true,
	"Closed Won": true,
}

// IsClosed reports whether the opportunity sits in a closed stage.
func (o *OpportunityView) IsClosed() bool { return ClosedStages[o.Stage] }

// IsWon reports whether the opportunity sits in a won stage.
func (o *OpportunityView) IsWon() bool { return WonStages[o.Stage] }

// ---------------------------------------------------------------------------
// Activity view
// ---------------------------------------------------------------------------

// PresalesCategory is the closed tag set for activity classification.
type PresalesCategory string

const (
	PresalesPOC          PresalesCategory = "POC"
	PresalesDemo         PresalesCategory = "Demo"
	PresalesPresentation PresalesCategory = "Presentation"
	PresalesRFPInfluence PresalesCategory = "RFP_Influence"
	PresalesLead         PresalesCategory = "Lead"
	PresalesMeeting      PresalesCategory = "Meeting"
	PresalesCall         PresalesCategory = "Call"
	PresalesOther        PresalesCategory = "Other"
)

// ActivityOpportunityRef is the minimal opportunity snapshot on an activity.
type ActivityOpportunityRef struct {
	SourceID        int64  `json:"source_id" bson:"source_id"`
	Name            string `json:"name" bson:"name"`
	Stage           string `json:"stage" bson:"stage"`
	SalespersonName string `json:"salesperson_name,omitempty" bson:"salesperson_name,omitempty"`
	SalespersonID   string `json:"salesperson_id,omitempty" bson:"salesperson_id,omitempty"`
}

// ActivityAssignee is who the activity is assigned to.
type ActivityAssignee struct {
	UserID     string `json:"user_id,omitempty" bson:"user_id,omitempty"`
	EmployeeID int64  `json:"employee_id,omitempty" bson:"employee_id,omitempty"`
	Name       string `json:"name" bson:"name"`
	Email      string `json:"email,omitempty" bson:"email,omitempty"`
}

// ActivityView is the denormalized activity read model. Visibility is
// inherited verbatim from the linked opportunity at event time.
type ActivityView struct {
	SourceID         int64                   `json:"source_id" bson:"_id"`
	ActivityType     string                  `json:"activity_type" bson:"activity_type"`
	Summary          string                  `json:"summary" bson:"summary"`
	Note             string                  `json:"note,omitempty" bson:"note,omitempty"`
	DueDate          string                  `json:"due_date,omitempty" bson:"due_date,omitempty"`
	State            string                  `json:"state,omitempty" bson:"state,omitempty"`
	PresalesCategory PresalesCategory        `json:"presales_category" bson:"presales_category"`
	Opportunity      *ActivityOpportunityRef `json:"opportunity,omitempty" bson:"opportunity,omitempty"`
	AssignedTo       *ActivityAssignee       `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	VisibleToUserIDs []string                `json:"visible_to_user_ids" bson:"visible_to_user_ids"`
	IsActive         bool                    `json:"is_active" bson:"is_active"`
	LastSynced       time.Time               `json:"last_synced" bson:"last_synced"`
	EventVersion     int                     `json:"event_version" bson:"event_version"`
}

// ---------------------------------------------------------------------------
// Access matrix
// ---------------------------------------------------------------------------

// AccessMatrix is the precomputed per-user authorization view. Readers treat
// entries older than TTLSeconds as cache misses; the store auto-expires them
// at double the freshness window.
type AccessMatrix struct {
	UserID                  string    `json:"user_id" bson:"_id"`
	Email                   string    `json:"email" bson:"email"`
	AccessibleOpportunities []int64   `json:"accessible_opportunities" bson:"accessible_opportunities"`
	AccessibleAccounts      []int64   `json:"accessible_accounts" bson:"accessible_accounts"`
	AccessibleUserIDs       []string  `json:"accessible_user_ids" bson:"accessible_user_ids"`
	IsSuperAdmin            bool      `json:"is_super_admin" bson:"is_super_admin"`
	IsManager               bool      `json:"is_manager" bson:"is_manager"`
	SubordinateCount        int       `json:"subordinate_count" bson:"subordinate_count"`
	ManagedTeamIDs          []int64   `json:"managed_team_ids" bson:"managed_team_ids"`
	ComputedAt              time.Time `json:"computed_at" bson:"computed_at"`
	TTLSeconds              int       `json:"ttl_seconds" bson:"ttl_seconds"`
}

// Fresh reports whether the matrix is within its freshness window at t.
func (m *AccessMatrix) Fresh(t time.Time) bool {
	ttl := m.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultViewTTLSeconds
	}
	return t.Sub(m.ComputedAt) < time.Duration(ttl)*time.Second
}

// DefaultViewTTLSeconds is the freshness window for the access matrix and
// dashboard metrics. The store's TTL index expires entries at twice this.
const DefaultViewTTLSeconds = 300

// ---------------------------------------------------------------------------
// Dashboard metrics
// ---------------------------------------------------------------------------

// StageMetrics is the per-stage rollup inside dashboard metrics.
type StageMetrics struct {
	Count int     `json:"count" bson:"count"`
	Value float64 `json:"value" bson:"value"`
}

// TeamMetrics is the manager rollup over the same accessible set.
type TeamMetrics struct {
	PipelineValue float64 `json:"pipeline_value" bson:"pipeline_value"`
	WonRevenue    float64 `json:"won_revenue" bson:"won_revenue"`
	MemberCount   int     `json:"member_count" bson:"member_count"`
}

// DashboardMetrics is the precomputed per-user aggregate view.
type DashboardMetrics struct {
	UserID              string                  `json:"user_id" bson:"_id"`
	PipelineValue       float64                 `json:"pipeline_value" bson:"pipeline_value"`
	WonRevenue          float64                 `json:"won_revenue" bson:"won_revenue"`
	ActiveOpportunities int                     `json:"active_opportunities" bson:"active_opportunities"`
	TotalOpportunities  int                     `json:"total_opportunities" bson:"total_opportunities"`
	WonCount            int                     `json:"won_count" bson:"won_count"`
	ByStage             map[string]StageMetrics `json:"by_stage" bson:"by_stage"`
	Team                *TeamMetrics            `json:"team_metrics,omitempty" bson:"team_metrics,omitempty"`
	ComputedAt          time.Time               `json:"computed_at" bson:"computed_at"`
	TTLSeconds          int                     `json:"ttl_seconds" bson:"ttl_seconds"`
}

// Fresh reports whether the metrics are within their freshness window at t.
func (m *DashboardMetrics) Fresh(t time.Time) bool {
	ttl := m.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultViewTTLSeconds
	}
	return t.Sub(m.ComputedAt) < time.Duration(ttl)*time.Second
}
