// Package distlock provides distributed locking for the sync pipeline: the
// single-running-job invariant and per-user access-matrix rebuild locks.
package distlock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DistLock is the interface for distributed locking. A lock instance is
// owned by a single goroutine; concurrent use requires separate instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, Redis SET NX with TTL is used (preferred for
// cross-host locking). Otherwise a lease document in the given Mongo
// database provides the same semantics.
func NewLock(redisClient *redis.Client, db *mongo.Database, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewMongoLock(db, key, ttl)
}
