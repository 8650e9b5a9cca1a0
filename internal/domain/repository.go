package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every repository implementation.
var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an event append loses the race
	// for its per-aggregate version. Callers refetch the current version
	// and retry once.
	ErrVersionConflict = errors.New("event version conflict")
	// ErrJobAlreadyRunning is returned when a sync job is started while
	// another is still running.
	ErrJobAlreadyRunning = errors.New("sync job already running")
)

// ============================================================================
// Event store
// ============================================================================

// EventStore is the append-only log. Events are immutable after append;
// only the processed_by set grows.
type EventStore interface {
	// Append writes one event. A zero Version asks the store to assign
	// max(existing)+1 for the aggregate; an explicit version that is not
	// exactly max(existing)+1 returns ErrVersionConflict.
	Append(ctx context.Context, event *Event) (string, error)

	// AppendBatch appends events in order, stopping at the first failure.
	AppendBatch(ctx context.Context, events []*Event) ([]string, error)

	// GetForAggregate returns events for one aggregate with version >
	// sinceVersion, ordered by version ascending.
	GetForAggregate(ctx context.Context, at AggregateType, aggregateID string, sinceVersion int) ([]*Event, error)

	// GetByType returns events of one type, timestamp ascending.
	GetByType(ctx context.Context, et EventType, since *time.Time, limit int) ([]*Event, error)

	// GetAllSince returns events with timestamp >= since, timestamp
	// ascending, up to limit (0 means no limit).
	GetAllSince(ctx context.Context, since time.Time, limit int) ([]*Event, error)

	// MarkProcessed records that the named projection handled the event.
	// Re-marking is a no-op.
	MarkProcessed(ctx context.Context, eventID, projection string) error

	// CountEvents counts events, optionally narrowed by type and since.
	CountEvents(ctx context.Context, et EventType, since *time.Time) (int64, error)

	// CountProcessedBy counts events of the given types already marked by
	// the projection.
	CountProcessedBy(ctx context.Context, projection string, types []EventType) (int64, error)
}

// ============================================================================
// Raw store
// ============================================================================

// UpsertResult reports what a raw-store upsert did.
type UpsertResult struct {
	Stored  bool
	Changed bool
	Record  *RawRecord
}

// RawStore is the versioned, checksum-keyed store of fetched records.
type RawStore interface {
	// Upsert stores a fetched payload. An unchanged checksum returns the
	// existing latest record with Changed=false; otherwise the previous
	// latest is superseded and a fresh version inserted.
	Upsert(ctx context.Context, entity EntityType, sourceID int64, payload map[string]interface{}, syncJobID string) (*UpsertResult, error)

	// FindLatest returns the is_latest record for (entity, sourceID).
	FindLatest(ctx context.Context, entity EntityType, sourceID int64) (*RawRecord, error)

	// ListLatestIDs returns the source ids of all latest records for the
	// entity. The sync handler uses it for source-side deletion detection.
	ListLatestIDs(ctx context.Context, entity EntityType) ([]int64, error)
}

// ============================================================================
// Projection view repositories
// ============================================================================

// UserProfileRepository persists the user profile view.
type UserProfileRepository interface {
	Save(ctx context.Context, p *UserProfile) error
	FindByID(ctx context.Context, id string) (*UserProfile, error)
	FindByEmail(ctx context.Context, email string) (*UserProfile, error)
	FindByOdooUserID(ctx context.Context, odooUserID int64) (*UserProfile, error)
	FindByEmployeeID(ctx context.Context, employeeID int64) (*UserProfile, error)
	FindByManagerEmployeeID(ctx context.Context, managerEmployeeID int64) ([]*UserProfile, error)
	FindSuperAdmins(ctx context.Context) ([]*UserProfile, error)
	// UpdateManagerRef refreshes the embedded manager snapshot on every
	// profile reporting to the given employee id.
	UpdateManagerRef(ctx context.Context, managerEmployeeID int64, ref PersonRef) error
	Truncate(ctx context.Context) error
}

// OpportunityViewRepository persists the opportunity view.
type OpportunityViewRepository interface {
	Save(ctx context.Context, v *OpportunityView) error
	FindBySourceID(ctx context.Context, sourceID int64) (*OpportunityView, error)
	FindVisibleTo(ctx context.Context, userID string) ([]*OpportunityView, error)
	FindActive(ctx context.Context) ([]*OpportunityView, error)
	FindBySourceIDs(ctx context.Context, sourceIDs []int64) ([]*OpportunityView, error)
	SoftDelete(ctx context.Context, sourceID int64, at time.Time, reason string) error
	Truncate(ctx context.Context) error
}

// ActivityFilter narrows activity view queries.
type ActivityFilter struct {
	Category        PresalesCategory
	State           string
	OpportunityID   int64
	IncludeInactive bool
}

// ActivityViewRepository persists the activity view.
type ActivityViewRepository interface {
	Save(ctx context.Context, v *ActivityView) error
	FindBySourceID(ctx context.Context, sourceID int64) (*ActivityView, error)
	FindByOpportunity(ctx context.Context, opportunitySourceID int64) ([]*ActivityView, error)
	FindVisibleTo(ctx context.Context, userID string, filter ActivityFilter) ([]*ActivityView, error)
	Truncate(ctx context.Context) error
}

// AccessMatrixRepository persists the per-user access matrix.
type AccessMatrixRepository interface {
	Save(ctx context.Context, m *AccessMatrix) error
	FindByUserID(ctx context.Context, userID string) (*AccessMatrix, error)
	Truncate(ctx context.Context) error
}

// DashboardMetricsRepository persists the per-user dashboard metrics.
type DashboardMetricsRepository interface {
	Save(ctx context.Context, m *DashboardMetrics) error
	FindByUserID(ctx context.Context, userID string) (*DashboardMetrics, error)
	Truncate(ctx context.Context) error
}

// ============================================================================
// Sync jobs
// ============================================================================

// SyncJobRepository persists sync job records.
type SyncJobRepository interface {
	Create(ctx context.Context, job *SyncJob) error
	Update(ctx context.Context, job *SyncJob) error
	FindByID(ctx context.Context, id string) (*SyncJob, error)
	FindRunning(ctx context.Context) (*SyncJob, error)
	ListRecent(ctx context.Context, limit int) ([]*SyncJob, error)
}
