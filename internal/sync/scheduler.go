package sync

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
)

// fullSyncEvery forces every Nth tick to drop the incremental watermark.
// Deletions only surface on a full pass, so at the default 15m interval
// this bounds deletion lag to about six hours.
const fullSyncEvery = 24

// Scheduler triggers periodic sync jobs. The first run after start is a
// full sync; subsequent runs are incremental from the previous tick, with
// a small overlap so clock skew at the source never drops writes. Every
// fullSyncEvery ticks the watermark is dropped so deletions keep being
// detected over the life of the process.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	overlap  time.Duration
	log      zerolog.Logger
}

// NewScheduler creates a scheduler around the sync service.
func NewScheduler(svc *Service, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		svc:      svc,
		interval: interval,
		overlap:  time.Minute,
		log:      log.With().Str("component", "sync_scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled, firing a sync per interval. A job
// already running when the tick fires is skipped, not queued. The first
// run is delayed by a random jitter so restarted fleets do not stampede
// the source.
func (s *Scheduler) Run(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(30 * time.Second)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastStart *time.Time
	for tick := 0; ; tick++ {
		start := time.Now().UTC()
		since := s.sinceFor(tick, lastStart)

		_, err := s.svc.Run(ctx, "scheduler", domain.TriggerScheduled, since)
		switch {
		case err == nil:
			lastStart = &start
		case errors.Is(err, domain.ErrJobAlreadyRunning):
			s.log.Info().Msg("tick skipped, job already running")
		case ctx.Err() != nil:
			return
		default:
			s.log.Error().Err(err).Msg("scheduled sync failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sinceFor picks the incremental watermark for one tick. Nil means a full
// pass: the first tick, every fullSyncEvery-th tick, and any tick before a
// run has succeeded.
func (s *Scheduler) sinceFor(tick int, lastStart *time.Time) *time.Time {
	if lastStart == nil || tick%fullSyncEvery == 0 {
		return nil
	}
	t := lastStart.Add(-s.overlap)
	return &t
}
