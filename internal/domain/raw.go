package domain

import "time"

// EntityType enumerates the source entities the sync pipeline ingests.
type EntityType string

const (
	EntityUser        EntityType = "user"
	EntityOpportunity EntityType = "opportunity"
	EntityAccount     EntityType = "account"
	EntityActivity    EntityType = "activity"
	EntityInvoice     EntityType = "invoice"
)

// SyncOrder is the dependency order entity types are processed in:
// users must project before opportunities reference them, opportunities
// before activities inherit their visibility.
var SyncOrder = []EntityType{
	EntityUser,
	EntityOpportunity,
	EntityAccount,
	EntityActivity,
	EntityInvoice,
}

// AggregateFor maps an entity type to its aggregate type.
func (t EntityType) AggregateFor() AggregateType {
	switch t {
	case EntityUser:
		return AggregateUser
	case EntityOpportunity:
		return AggregateOpportunity
	case EntityAccount:
		return AggregateAccount
	case EntityActivity:
		return AggregateActivity
	case EntityInvoice:
		return AggregateInvoice
	}
	return ""
}

// SyncedEventFor maps an entity type to its entity-synced event variant.
func (t EntityType) SyncedEventFor() EventType {
	switch t {
	case EntityUser:
		return EventOdooUserSynced
	case EntityOpportunity:
		return EventOdooOpportunitySynced
	case EntityAccount:
		return EventOdooAccountSynced
	case EntityActivity:
		return EventOdooActivitySynced
	case EntityInvoice:
		return EventOdooInvoiceSynced
	}
	return ""
}

// RawRecord is one fetched version of a source record. Supersession never
// deletes prior versions; for each (entity_type, source_id) at most one
// record has IsLatest=true.
type RawRecord struct {
	ID         string                 `json:"id" bson:"_id"`
	EntityType EntityType             `json:"entity_type" bson:"entity_type"`
	SourceID   int64                  `json:"source_id" bson:"source_id"`
	RawPayload map[string]interface{} `json:"raw_payload" bson:"raw_payload"`
	FetchedAt  time.Time              `json:"fetched_at" bson:"fetched_at"`
	SyncJobID  string                 `json:"sync_job_id" bson:"sync_job_id"`
	IsLatest   bool                   `json:"is_latest" bson:"is_latest"`
	Checksum   string                 `json:"checksum" bson:"checksum"`
}
