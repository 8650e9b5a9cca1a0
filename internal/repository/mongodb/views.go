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

// ---------------------------------------------------------------------------
// User profiles
// ---------------------------------------------------------------------------

// UserProfileRepository persists the user profile view.
type UserProfileRepository struct {
	coll *mongo.Collection
}

// NewUserProfileRepository creates a profile repository over user_profiles.
func NewUserProfileRepository(db *mongo.Database) *UserProfileRepository {
	return &UserProfileRepository{coll: db.Collection(CollUserProfiles)}
}

func (r *UserProfileRepository) Save(ctx context.Context, p *domain.UserProfile) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, opts); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

func (r *UserProfileRepository) FindByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	return r.findOne(ctx, bson.M{"_id": id}, "id "+id)
}

func (r *UserProfileRepository) FindByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	email = domain.NormalizeEmail(email)
	return r.findOne(ctx, bson.M{"email": email}, "email "+email)
}

func (r *UserProfileRepository) FindByOdooUserID(ctx context.Context, odooUserID int64) (*domain.UserProfile, error) {
	return r.findOne(ctx, bson.M{"odoo.user_id": odooUserID}, fmt.Sprintf("odoo user %d", odooUserID))
}

func (r *UserProfileRepository) FindByEmployeeID(ctx context.Context, employeeID int64) (*domain.UserProfile, error) {
	return r.findOne(ctx, bson.M{"odoo.employee_id": employeeID}, fmt.Sprintf("employee %d", employeeID))
}

func (r *UserProfileRepository) FindByManagerEmployeeID(ctx context.Context, managerEmployeeID int64) ([]*domain.UserProfile, error) {
	if managerEmployeeID == 0 {
		return nil, nil
	}
	return r.findAll(ctx, bson.M{"odoo.manager_employee_id": managerEmployeeID})
}

func (r *UserProfileRepository) FindSuperAdmins(ctx context.Context) ([]*domain.UserProfile, error) {
	return r.findAll(ctx, bson.M{"is_super_admin": true})
}

func (r *UserProfileRepository) UpdateManagerRef(ctx context.Context, managerEmployeeID int64, ref domain.PersonRef) error {
	if managerEmployeeID == 0 {
		return nil
	}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{
			"odoo.manager_employee_id": managerEmployeeID,
			"hierarchy.manager":        bson.M{"$ne": nil},
		},
		bson.M{"$set": bson.M{"hierarchy.manager": ref}},
	)
	if err != nil {
		return fmt.Errorf("update manager ref %d: %w", managerEmployeeID, err)
	}
	return nil
}

func (r *UserProfileRepository) Truncate(ctx context.Context) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("truncate profiles: %w", err)
	}
	return nil
}

func (r *UserProfileRepository) findOne(ctx context.Context, filter bson.M, desc string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := r.coll.FindOne(ctx, filter).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("profile by %s: %w", desc, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find profile by %s: %w", desc, err)
	}
	return &p, nil
}

func (r *UserProfileRepository) findAll(ctx context.Context, filter bson.M) ([]*domain.UserProfile, error) {
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.UserProfile
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Opportunity views
// ---------------------------------------------------------------------------

// OpportunityViewRepository persists the opportunity view.
type OpportunityViewRepository struct {
	coll *mongo.Collection
}

// NewOpportunityViewRepository creates a repository over opportunity_views.
func NewOpportunityViewRepository(db *mongo.Database) *OpportunityViewRepository {
	return &OpportunityViewRepository{coll: db.Collection(CollOpportunityViews)}
}

func (r *OpportunityViewRepository) Save(ctx context.Context, v *domain.OpportunityView) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"source_id": v.SourceID}, v, opts); err != nil {
		return fmt.Errorf("save opportunity view %d: %w", v.SourceID, err)
	}
	return nil
}

func (r *OpportunityViewRepository) FindBySourceID(ctx context.Context, sourceID int64) (*domain.OpportunityView, error) {
	var v domain.OpportunityView
	err := r.coll.FindOne(ctx, bson.M{"source_id": sourceID}).Decode(&v)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("opportunity view %d: %w", sourceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find opportunity view %d: %w", sourceID, err)
	}
	return &v, nil
}

func (r *OpportunityViewRepository) FindVisibleTo(ctx context.Context, userID string) ([]*domain.OpportunityView, error) {
	return r.findAll(ctx, bson.M{"visible_to_user_ids": userID, "is_active": true})
}

func (r *OpportunityViewRepository) FindActive(ctx context.Context) ([]*domain.OpportunityView, error) {
	return r.findAll(ctx, bson.M{"is_active": true})
}

func (r *OpportunityViewRepository) FindBySourceIDs(ctx context.Context, sourceIDs []int64) ([]*domain.OpportunityView, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	return r.findAll(ctx, bson.M{"source_id": bson.M{"$in": sourceIDs}})
}

func (r *OpportunityViewRepository) SoftDelete(ctx context.Context, sourceID int64, at time.Time, reason string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"source_id": sourceID},
		bson.M{"$set": bson.M{
			"is_active":     false,
			"deleted_at":    at,
			"delete_reason": reason,
		}},
	)
	if err != nil {
		return fmt.Errorf("soft delete opportunity %d: %w", sourceID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("soft delete opportunity %d: %w", sourceID, domain.ErrNotFound)
	}
	return nil
}

func (r *OpportunityViewRepository) Truncate(ctx context.Context) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("truncate opportunity views: %w", err)
	}
	return nil
}

func (r *OpportunityViewRepository) findAll(ctx context.Context, filter bson.M) ([]*domain.OpportunityView, error) {
	opts := options.Find().SetSort(bson.D{{Key: "source_id", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find opportunity views: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.OpportunityView
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode opportunity views: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Activity views
// ---------------------------------------------------------------------------

// ActivityViewRepository persists the activity view.
type ActivityViewRepository struct {
	coll *mongo.Collection
}

// NewActivityViewRepository creates a repository over activity_views.
func NewActivityViewRepository(db *mongo.Database) *ActivityViewRepository {
	return &ActivityViewRepository{coll: db.Collection(CollActivityViews)}
}

func (r *ActivityViewRepository) Save(ctx context.Context, v *domain.ActivityView) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": v.SourceID}, v, opts); err != nil {
		return fmt.Errorf("save activity view %d: %w", v.SourceID, err)
	}
	return nil
}

func (r *ActivityViewRepository) FindBySourceID(ctx context.Context, sourceID int64) (*domain.ActivityView, error) {
	var v domain.ActivityView
	err := r.coll.FindOne(ctx, bson.M{"_id": sourceID}).Decode(&v)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("activity view %d: %w", sourceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find activity view %d: %w", sourceID, err)
	}
	return &v, nil
}

func (r *ActivityViewRepository) FindByOpportunity(ctx context.Context, opportunitySourceID int64) ([]*domain.ActivityView, error) {
	return r.findAll(ctx, bson.M{"opportunity.source_id": opportunitySourceID})
}

func (r *ActivityViewRepository) FindVisibleTo(ctx context.Context, userID string, filter domain.ActivityFilter) ([]*domain.ActivityView, error) {
	q := bson.M{"visible_to_user_ids": userID}
	if !filter.IncludeInactive {
		q["is_active"] = true
	}
	if filter.Category != "" {
		q["presales_category"] = filter.Category
	}
	if filter.State != "" {
		q["state"] = filter.State
	}
	if filter.OpportunityID != 0 {
		q["opportunity.source_id"] = filter.OpportunityID
	}
	return r.findAll(ctx, q)
}

func (r *ActivityViewRepository) Truncate(ctx context.Context) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("truncate activity views: %w", err)
	}
	return nil
}

func (r *ActivityViewRepository) findAll(ctx context.Context, filter bson.M) ([]*domain.ActivityView, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find activity views: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.ActivityView
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode activity views: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Access matrix
// ---------------------------------------------------------------------------

// AccessMatrixRepository persists the per-user access matrix. Entries expire
// from the store via the TTL index on computed_at.
type AccessMatrixRepository struct {
	coll *mongo.Collection
}

// NewAccessMatrixRepository creates a repository over access_matrix.
func NewAccessMatrixRepository(db *mongo.Database) *AccessMatrixRepository {
	return &AccessMatrixRepository{coll: db.Collection(CollAccessMatrix)}
}

func (r *AccessMatrixRepository) Save(ctx context.Context, m *domain.AccessMatrix) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": m.UserID}, m, opts); err != nil {
		return fmt.Errorf("save access matrix %s: %w", m.UserID, err)
	}
	return nil
}

func (r *AccessMatrixRepository) FindByUserID(ctx context.Context, userID string) (*domain.AccessMatrix, error) {
	var m domain.AccessMatrix
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("access matrix %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find access matrix %s: %w", userID, err)
	}
	return &m, nil
}

func (r *AccessMatrixRepository) Truncate(ctx context.Context) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("truncate access matrix: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dashboard metrics
// ---------------------------------------------------------------------------

// DashboardMetricsRepository persists the per-user dashboard metrics. Entries
// expire from the store via the TTL index on computed_at.
type DashboardMetricsRepository struct {
	coll *mongo.Collection
}

// NewDashboardMetricsRepository creates a repository over dashboard_metrics.
func NewDashboardMetricsRepository(db *mongo.Database) *DashboardMetricsRepository {
	return &DashboardMetricsRepository{coll: db.Collection(CollDashboardMetrics)}
}

func (r *DashboardMetricsRepository) Save(ctx context.Context, m *domain.DashboardMetrics) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": m.UserID}, m, opts); err != nil {
		return fmt.Errorf("save dashboard metrics %s: %w", m.UserID, err)
	}
	return nil
}

func (r *DashboardMetricsRepository) FindByUserID(ctx context.Context, userID string) (*domain.DashboardMetrics, error) {
	var m domain.DashboardMetrics
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("dashboard metrics %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find dashboard metrics %s: %w", userID, err)
	}
	return &m, nil
}

func (r *DashboardMetricsRepository) Truncate(ctx context.Context) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("truncate dashboard metrics: %w", err)
	}
	return nil
}
