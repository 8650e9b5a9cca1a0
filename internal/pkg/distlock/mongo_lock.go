package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const locksCollection = "sync_locks"

// MongoLock implements DistLock with a lease document in the store itself.
// It serves deployments that run without Redis: the lease carries an owner
// token and an expiry, and acquisition atomically replaces expired leases.
type MongoLock struct {
	coll  *mongo.Collection
	key   string
	value string
	ttl   time.Duration
}

// NewMongoLock creates a lease-document lock in the sync_locks collection.
func NewMongoLock(db *mongo.Database, key string, ttl time.Duration) *MongoLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &MongoLock{
		coll:  db.Collection(locksCollection),
		key:   key,
		value: hex.EncodeToString(b),
		ttl:   ttl,
	}
}

// Acquire inserts the lease, or takes over one whose expiry has passed.
// A duplicate-key error means another owner holds a live lease.
func (l *MongoLock) Acquire(ctx context.Context) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":        l.key,
		"expires_at": bson.M{"$lt": now},
	}
	update := bson.M{"$set": bson.M{
		"owner":      l.value,
		"expires_at": now.Add(l.ttl),
	}}

	res, err := l.coll.UpdateOne(ctx, filter, update)
	if err == nil && res.ModifiedCount == 1 {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}

	_, err = l.coll.InsertOne(ctx, bson.M{
		"_id":        l.key,
		"owner":      l.value,
		"expires_at": now.Add(l.ttl),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return true, nil
}

// Release deletes the lease if we still own it.
func (l *MongoLock) Release(ctx context.Context) error {
	_, err := l.coll.DeleteOne(ctx, bson.M{"_id": l.key, "owner": l.value})
	return err
}
