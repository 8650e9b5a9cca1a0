package domain

import (
	"fmt"
	"time"
)

// EventType enumerates the closed vocabulary of domain events.
type EventType string

const (
	// User events
	EventOdooUserSynced  EventType = "OdooUserSynced"
	EventUserLoggedIn    EventType = "UserLoggedIn"
	EventManagerAssigned EventType = "ManagerAssigned"
	EventUserRoleChanged EventType = "UserRoleChanged"

	// Opportunity events
	EventOdooOpportunitySynced  EventType = "OdooOpportunitySynced"
	EventOpportunityCreated     EventType = "OpportunityCreated"
	EventOpportunityAssigned    EventType = "OpportunityAssigned"
	EventOpportunityStageChanged EventType = "OpportunityStageChanged"
	EventOpportunityDeleted     EventType = "OpportunityDeleted"

	// Account, invoice and activity events
	EventOdooAccountSynced  EventType = "OdooAccountSynced"
	EventOdooInvoiceSynced  EventType = "OdooInvoiceSynced"
	EventOdooActivitySynced EventType = "OdooActivitySynced"
)

// AggregateType enumerates the closed vocabulary of aggregates.
type AggregateType string

const (
	AggregateUser        AggregateType = "User"
	AggregateOpportunity AggregateType = "Opportunity"
	AggregateAccount     AggregateType = "Account"
	AggregateActivity    AggregateType = "Activity"
	AggregateInvoice     AggregateType = "Invoice"
)

// EventMetadata carries provenance for an event.
type EventMetadata struct {
	Source        string `json:"source" bson:"source"`
	CorrelationID string `json:"correlation_id" bson:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty" bson:"causation_id,omitempty"`
	UserID        string `json:"user_id,omitempty" bson:"user_id,omitempty"`
}

// Event is one immutable entry in the append-only log. Once appended,
// only ProcessedBy may grow; every other field is frozen.
type Event struct {
	ID            string                 `json:"id" bson:"_id"`
	EventType     EventType              `json:"event_type" bson:"event_type"`
	AggregateType AggregateType          `json:"aggregate_type" bson:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id" bson:"aggregate_id"`
	Payload       map[string]interface{} `json:"payload" bson:"payload"`
	Metadata      EventMetadata          `json:"metadata" bson:"metadata"`
	Timestamp     time.Time              `json:"timestamp" bson:"timestamp"`
	Version       int                    `json:"version" bson:"version"`
	ProcessedBy   []string               `json:"processed_by" bson:"processed_by"`
}

// Validate checks the minimal shape required before append.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event: missing event_type")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("event: missing aggregate_type")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("event: missing aggregate_id")
	}
	if e.Version < 0 {
		return fmt.Errorf("event: negative version %d", e.Version)
	}
	return nil
}

// WasProcessedBy reports whether the named projection already handled this event.
func (e *Event) WasProcessedBy(projection string) bool {
	for _, p := range e.ProcessedBy {
		if p == projection {
			return true
		}
	}
	return false
}

// AggregateIDFor derives the stable aggregate id for a source record.
// Source ids are opaque but typically integers; the aggregate id namespaces
// them by entity so "user 7" and "opportunity 7" never collide.
func AggregateIDFor(at AggregateType, sourceID int64) string {
	switch at {
	case AggregateUser:
		return fmt.Sprintf("user-%d", sourceID)
	case AggregateOpportunity:
		return fmt.Sprintf("opportunity-%d", sourceID)
	case AggregateAccount:
		return fmt.Sprintf("account-%d", sourceID)
	case AggregateActivity:
		return fmt.Sprintf("activity-%d", sourceID)
	case AggregateInvoice:
		return fmt.Sprintf("invoice-%d", sourceID)
	}
	return fmt.Sprintf("%d", sourceID)
}
