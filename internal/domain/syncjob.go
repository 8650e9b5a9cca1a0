package domain

import "time"

// SyncJobStatus enumerates the lifecycle states of a sync job.
type SyncJobStatus string

const (
	SyncJobRunning   SyncJobStatus = "running"
	SyncJobCompleted SyncJobStatus = "completed"
	SyncJobFailed    SyncJobStatus = "failed"
)

// TriggerSource says what started a sync job.
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerScheduled TriggerSource = "scheduled"
)

// EntityStats accumulates per-entity counters during a sync job.
type EntityStats struct {
	Fetched   int `json:"fetched" bson:"fetched"`
	Changed   int `json:"changed" bson:"changed"`
	Unchanged int `json:"unchanged" bson:"unchanged"`
	Deleted   int `json:"deleted" bson:"deleted"`
	Errors    int `json:"errors" bson:"errors"`
	Events    int `json:"events" bson:"events"`
}

// SyncJob is the persisted record of one sync run. At most one job per
// source has Status=running at any time.
type SyncJob struct {
	ID            string                 `json:"id" bson:"_id"`
	Status        SyncJobStatus          `json:"status" bson:"status"`
	StartedAt     time.Time              `json:"started_at" bson:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	TriggeredBy   string                 `json:"triggered_by" bson:"triggered_by"`
	TriggerSource TriggerSource          `json:"trigger_source" bson:"trigger_source"`
	Stats         map[string]EntityStats `json:"stats" bson:"stats"`
	ErrorMessage  string                 `json:"error_message,omitempty" bson:"error_message,omitempty"`
}

// IsTerminal reports whether the job reached a final state.
func (j *SyncJob) IsTerminal() bool {
	return j.Status == SyncJobCompleted || j.Status == SyncJobFailed
}
