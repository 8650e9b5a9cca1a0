// Package sync implements the ingestion pipeline: it pages entity records
// out of the source, diffs them against the raw store by checksum, appends
// domain events for real changes and publishes them on the bus.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/eventbus"
	"github.com/revpipe/revpipe/internal/odoo"
	"github.com/revpipe/revpipe/internal/pkg/distlock"
)

const lockKey = "sync:odoo"

// Fetcher is the slice of the connector the pipeline needs.
type Fetcher interface {
	Authenticate(ctx context.Context) error
	FetchAll(ctx context.Context, entity domain.EntityType, modifiedSince *time.Time, fn func(odoo.Record) error) error
}

// Options tunes one pipeline instance.
type Options struct {
	// Workers bounds concurrent record processing per entity.
	Workers int
	// Deadline caps a whole job; an expired deadline fails the job.
	Deadline time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Minute
	}
	return o
}

// Service runs sync jobs. At most one job runs at a time, enforced by the
// distributed lock and double-checked against the job registry.
type Service struct {
	fetcher Fetcher
	raw     domain.RawStore
	events  domain.EventStore
	bus     *eventbus.Bus
	jobs    domain.SyncJobRepository
	lock    distlock.DistLock
	opts    Options
	log     zerolog.Logger
}

// NewService wires a sync pipeline.
func NewService(fetcher Fetcher, raw domain.RawStore, events domain.EventStore, bus *eventbus.Bus, jobs domain.SyncJobRepository, lock distlock.DistLock, opts Options, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		raw:     raw,
		events:  events,
		bus:     bus,
		jobs:    jobs,
		lock:    lock,
		opts:    opts.withDefaults(),
		log:     log.With().Str("component", "sync").Logger(),
	}
}

// Run executes one sync job over every entity in dependency order.
// modifiedSince narrows the fetch to records written since that instant;
// nil means a full sync, which also detects source-side deletions.
func (s *Service) Run(ctx context.Context, triggeredBy string, source domain.TriggerSource, modifiedSince *time.Time) (*domain.SyncJob, error) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire sync lock: %w", err)
		}
		if !ok {
			return nil, domain.ErrJobAlreadyRunning
		}
		defer func() {
			if err := s.lock.Release(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("release sync lock")
			}
		}()
	}
	if running, err := s.jobs.FindRunning(ctx); err == nil && running != nil {
		return nil, fmt.Errorf("job %s still running: %w", running.ID, domain.ErrJobAlreadyRunning)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check running job: %w", err)
	}

	job := &domain.SyncJob{
		ID:            uuid.New().String(),
		Status:        domain.SyncJobRunning,
		StartedAt:     time.Now().UTC(),
		TriggeredBy:   triggeredBy,
		TriggerSource: source,
		Stats:         make(map[string]domain.EntityStats),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Deadline)
	defer cancel()

	s.log.Info().
		Str("job_id", job.ID).
		Str("triggered_by", triggeredBy).
		Str("source", string(source)).
		Bool("incremental", modifiedSince != nil).
		Msg("sync job started")

	err := s.runEntities(runCtx, job, modifiedSince)

	now := time.Now().UTC()
	job.CompletedAt = &now
	if err != nil {
		job.Status = domain.SyncJobFailed
		job.ErrorMessage = err.Error()
	} else {
		job.Status = domain.SyncJobCompleted
	}
	if uerr := s.jobs.Update(ctx, job); uerr != nil {
		s.log.Error().Err(uerr).Str("job_id", job.ID).Msg("persist job outcome")
	}

	s.log.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Dur("elapsed", now.Sub(job.StartedAt)).
		Msg("sync job finished")
	return job, err
}

func (s *Service) runEntities(ctx context.Context, job *domain.SyncJob, modifiedSince *time.Time) error {
	if err := s.fetcher.Authenticate(ctx); err != nil {
		// Credential refusals and connection faults alike are terminal for
		// the job; nothing downstream can proceed unauthenticated.
		return fmt.Errorf("authenticate: %w", err)
	}

	for _, entity := range domain.SyncOrder {
		stats, err := s.syncEntity(ctx, job.ID, entity, modifiedSince)
		job.Stats[string(entity)] = stats
		if uerr := s.jobs.Update(ctx, job); uerr != nil {
			s.log.Warn().Err(uerr).Str("job_id", job.ID).Msg("persist interim stats")
		}
		if err != nil {
			return fmt.Errorf("sync %s: %w", entity, err)
		}
	}
	return nil
}

// syncEntity fetches every record of one entity and processes them through
// a bounded worker pool. Per-record failures are counted and logged but do
// not abort the entity; connector-level faults do.
func (s *Service) syncEntity(ctx context.Context, jobID string, entity domain.EntityType, modifiedSince *time.Time) (domain.EntityStats, error) {
	var (
		mu      sync.Mutex
		stats   domain.EntityStats
		fetched = make(map[int64]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	fetchErr := s.fetcher.FetchAll(gctx, entity, modifiedSince, func(rec odoo.Record) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			result, err := s.processRecord(gctx, jobID, entity, rec)
			mu.Lock()
			defer mu.Unlock()
			stats.Fetched++
			if err != nil {
				stats.Errors++
				s.log.Error().Err(err).Str("entity", string(entity)).Msg("record failed")
				return nil
			}
			fetched[result.sourceID] = true
			if result.changed {
				stats.Changed++
				stats.Events += result.events
			} else {
				stats.Unchanged++
			}
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	if fetchErr != nil {
		return stats, fetchErr
	}

	// A full fetch is a complete inventory: latest records absent from it
	// were deleted at the source.
	if modifiedSince == nil && entity == domain.EntityOpportunity {
		deleted, err := s.detectDeletions(ctx, jobID, entity, fetched)
		mu.Lock()
		stats.Deleted = deleted
		stats.Events += deleted
		mu.Unlock()
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type recordResult struct {
	sourceID int64
	changed  bool
	events   int
}

func (s *Service) processRecord(ctx context.Context, jobID string, entity domain.EntityType, rec odoo.Record) (recordResult, error) {
	sourceID, ok := rec.SourceID()
	if !ok {
		return recordResult{}, fmt.Errorf("%s record without id", entity)
	}

	payload := odoo.Map(entity, rec)

	prev, err := s.raw.FindLatest(ctx, entity, sourceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return recordResult{}, fmt.Errorf("load previous %s/%d: %w", entity, sourceID, err)
	}

	res, err := s.raw.Upsert(ctx, entity, sourceID, payload, jobID)
	if err != nil {
		return recordResult{}, fmt.Errorf("upsert %s/%d: %w", entity, sourceID, err)
	}
	if !res.Changed {
		return recordResult{sourceID: sourceID, changed: false}, nil
	}

	events := deriveEvents(entity, sourceID, prev, payload, jobID)
	for _, e := range events {
		if err := s.appendAndPublish(ctx, e); err != nil {
			return recordResult{}, err
		}
	}
	return recordResult{sourceID: sourceID, changed: true, events: len(events)}, nil
}

// detectDeletions tombstones latest records missing from a full fetch and
// emits a deletion event for each.
func (s *Service) detectDeletions(ctx context.Context, jobID string, entity domain.EntityType, fetched map[int64]bool) (int, error) {
	known, err := s.raw.ListLatestIDs(ctx, entity)
	if err != nil {
		return 0, fmt.Errorf("list known %s ids: %w", entity, err)
	}

	deleted := 0
	for _, id := range known {
		if fetched[id] {
			continue
		}
		prev, err := s.raw.FindLatest(ctx, entity, id)
		if err != nil {
			return deleted, fmt.Errorf("load %s/%d for deletion: %w", entity, id, err)
		}
		if isTombstone(prev.RawPayload) {
			continue
		}

		// The tombstone changes the checksum, so a record that later
		// reappears at the source diffs against it and resurrects.
		if _, err := s.raw.Upsert(ctx, entity, id, tombstonePayload(id), jobID); err != nil {
			return deleted, fmt.Errorf("tombstone %s/%d: %w", entity, id, err)
		}
		e := &domain.Event{
			EventType:     domain.EventOpportunityDeleted,
			AggregateType: entity.AggregateFor(),
			AggregateID:   domain.AggregateIDFor(entity.AggregateFor(), id),
			Payload: map[string]interface{}{
				"id":     id,
				"reason": "absent from source",
			},
			Metadata: domain.EventMetadata{Source: "odoo_sync", CorrelationID: jobID},
		}
		if err := s.appendAndPublish(ctx, e); err != nil {
			return deleted, err
		}
		deleted++
		s.log.Info().Str("entity", string(entity)).Int64("source_id", id).Msg("source deletion detected")
	}
	return deleted, nil
}

// appendAndPublish writes the event to the log and fans it out. Version
// conflicts from concurrent appenders are retried with a fresh assignment.
func (s *Service) appendAndPublish(ctx context.Context, e *domain.Event) error {
	var id string
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		id, err = s.events.Append(ctx, e)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return fmt.Errorf("append %s: %w", e.EventType, err)
		}
		e.Version = 0
	}
	if err != nil {
		return fmt.Errorf("append %s after retries: %w", e.EventType, err)
	}

	e.ID = id
	if _, err := s.bus.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish %s: %w", e.EventType, err)
	}
	return nil
}
