package sync

import (
	"github.com/revpipe/revpipe/internal/domain"
)

// tombstoneKey marks a raw payload written by deletion detection. The marker
// never matches a real source payload, so a reappearing record always diffs.
const tombstoneKey = "_deleted"

func tombstonePayload(sourceID int64) map[string]interface{} {
	return map[string]interface{}{"id": sourceID, tombstoneKey: true}
}

func isTombstone(payload map[string]interface{}) bool {
	v, ok := payload[tombstoneKey].(bool)
	return ok && v
}

// deriveEvents turns one changed record into its domain events. Every change
// yields the entity-synced event; opportunities additionally yield lifecycle
// events derived from the diff against the previous latest payload.
func deriveEvents(entity domain.EntityType, sourceID int64, prev *domain.RawRecord, payload map[string]interface{}, jobID string) []*domain.Event {
	at := entity.AggregateFor()
	aggregateID := domain.AggregateIDFor(at, sourceID)
	meta := domain.EventMetadata{Source: "odoo_sync", CorrelationID: jobID}

	events := []*domain.Event{{
		EventType:     entity.SyncedEventFor(),
		AggregateType: at,
		AggregateID:   aggregateID,
		Payload:       payload,
		Metadata:      meta,
	}}

	if entity != domain.EntityOpportunity {
		return events
	}

	var prevPayload map[string]interface{}
	if prev != nil && !isTombstone(prev.RawPayload) {
		prevPayload = prev.RawPayload
	}

	if prevPayload == nil {
		events = append(events, &domain.Event{
			EventType:     domain.EventOpportunityCreated,
			AggregateType: at,
			AggregateID:   aggregateID,
			Payload: map[string]interface{}{
				"id":    sourceID,
				"name":  payload["name"],
				"stage": payload["stage"],
			},
			Metadata: meta,
		})
		return events
	}

	if oldStage, newStage := str(prevPayload["stage"]), str(payload["stage"]); oldStage != newStage {
		events = append(events, &domain.Event{
			EventType:     domain.EventOpportunityStageChanged,
			AggregateType: at,
			AggregateID:   aggregateID,
			Payload: map[string]interface{}{
				"id":        sourceID,
				"old_stage": oldStage,
				"new_stage": newStage,
			},
			Metadata: meta,
		})
	}

	if oldSP, newSP := num(prevPayload["salesperson_id"]), num(payload["salesperson_id"]); oldSP != newSP {
		events = append(events, &domain.Event{
			EventType:     domain.EventOpportunityAssigned,
			AggregateType: at,
			AggregateID:   aggregateID,
			Payload: map[string]interface{}{
				"id":                   sourceID,
				"old_salesperson_id":   oldSP,
				"new_salesperson_id":   newSP,
				"new_salesperson_name": payload["salesperson_name"],
			},
			Metadata: meta,
		})
	}
	return events
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// num flattens the numeric types a payload value may hold after a store
// round trip.
func num(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
