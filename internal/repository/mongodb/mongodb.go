// Package mongodb provides the MongoDB-backed repository implementations
// and index bootstrap for the document store.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/revpipe/revpipe/internal/domain"
)

// Collection names. Every repository in this package reads and writes
// exactly one of these.
const (
	CollEvents           = "events"
	CollRawRecords       = "raw_records"
	CollUserProfiles     = "user_profiles"
	CollOpportunityViews = "opportunity_views"
	CollActivityViews    = "activity_views"
	CollAccessMatrix     = "access_matrix"
	CollDashboardMetrics = "dashboard_metrics"
	CollSyncJobs         = "sync_jobs"
	CollSyncLocks        = "sync_locks"
)

// viewExpirySeconds is the store-side auto-expiry for TTL-indexed views,
// double the freshness window so stale-but-present entries can still be
// served while a rebuild runs.
const viewExpirySeconds = 2 * domain.DefaultViewTTLSeconds

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates every index the repositories rely on. It is
// idempotent and runs at startup before the first sync.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		CollEvents: {
			{
				Keys: bson.D{
					{Key: "aggregate_type", Value: 1},
					{Key: "aggregate_id", Value: 1},
					{Key: "version", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		},
		CollRawRecords: {
			{
				Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "source_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_latest": true}),
			},
			{Keys: bson.D{
				{Key: "entity_type", Value: 1},
				{Key: "source_id", Value: 1},
				{Key: "fetched_at", Value: -1},
			}},
		},
		CollUserProfiles: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "odoo.user_id", Value: 1}}},
			{Keys: bson.D{{Key: "odoo.employee_id", Value: 1}}},
			{Keys: bson.D{{Key: "odoo.manager_employee_id", Value: 1}}},
		},
		CollOpportunityViews: {
			{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "visible_to_user_ids", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "is_active", Value: 1}}},
		},
		CollActivityViews: {
			{Keys: bson.D{{Key: "visible_to_user_ids", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "opportunity.source_id", Value: 1}}},
			{Keys: bson.D{{Key: "presales_category", Value: 1}}},
		},
		CollAccessMatrix: {
			{
				Keys:    bson.D{{Key: "computed_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(viewExpirySeconds),
			},
		},
		CollDashboardMetrics: {
			{
				Keys:    bson.D{{Key: "computed_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(viewExpirySeconds),
			},
		},
		CollSyncJobs: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "started_at", Value: -1}}},
		},
		CollSyncLocks: {
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}

	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", coll, err)
		}
	}
	return nil
}
