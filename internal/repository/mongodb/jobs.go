package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/revpipe/revpipe/internal/domain"
)

// SyncJobRepository persists sync job records.
type SyncJobRepository struct {
	coll *mongo.Collection
}

// NewSyncJobRepository creates a repository over sync_jobs.
func NewSyncJobRepository(db *mongo.Database) *SyncJobRepository {
	return &SyncJobRepository{coll: db.Collection(CollSyncJobs)}
}

func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) error {
	if _, err := r.coll.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("create sync job %s: %w", job.ID, err)
	}
	return nil
}

func (r *SyncJobRepository) Update(ctx context.Context, job *domain.SyncJob) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": job.ID}, job)
	if err != nil {
		return fmt.Errorf("update sync job %s: %w", job.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update sync job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *SyncJobRepository) FindByID(ctx context.Context, id string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("sync job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find sync job %s: %w", id, err)
	}
	return &job, nil
}

func (r *SyncJobRepository) FindRunning(ctx context.Context) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := r.coll.FindOne(ctx, bson.M{"status": domain.SyncJobRunning}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("running sync job: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find running sync job: %w", err)
	}
	return &job, nil
}

func (r *SyncJobRepository) ListRecent(ctx context.Context, limit int) ([]*domain.SyncJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sync jobs: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.SyncJob
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sync jobs: %w", err)
	}
	return out, nil
}
