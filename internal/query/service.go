// Package query is the read-side service: it answers access and dashboard
// questions from the precomputed views, rebuilding expired entries on
// demand.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/projection"
)

// ErrNotInSystem is returned when a caller's identity resolves to no
// profile: they exist upstream, perhaps, but have never been synced here.
var ErrNotInSystem = errors.New("user not in system")

// Service answers read queries over the projection views.
type Service struct {
	profiles  domain.UserProfileRepository
	opps      domain.OpportunityViewRepository
	acts      domain.ActivityViewRepository
	matrices  domain.AccessMatrixRepository
	metrics   domain.DashboardMetricsRepository
	access    *projection.AccessMatrices
	dashboard *projection.DashboardMetrics

	// group collapses concurrent rebuilds of the same user's entry into
	// one computation.
	group singleflight.Group
	now   func() time.Time
	log   zerolog.Logger
}

// NewService wires the query service.
func NewService(
	profiles domain.UserProfileRepository,
	opps domain.OpportunityViewRepository,
	acts domain.ActivityViewRepository,
	matrices domain.AccessMatrixRepository,
	metrics domain.DashboardMetricsRepository,
	access *projection.AccessMatrices,
	dashboard *projection.DashboardMetrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		profiles:  profiles,
		opps:      opps,
		acts:      acts,
		matrices:  matrices,
		metrics:   metrics,
		access:    access,
		dashboard: dashboard,
		now:       time.Now,
		log:       log.With().Str("component", "query").Logger(),
	}
}

// ResolveUser maps a caller identity (profile id or email) to a profile.
func (s *Service) ResolveUser(ctx context.Context, userID, email string) (*domain.UserProfile, error) {
	if userID != "" {
		p, err := s.profiles.FindByID(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user id %s: %w", userID, ErrNotInSystem)
		}
		return p, err
	}
	if email != "" {
		p, err := s.profiles.FindByEmail(ctx, email)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("email %s: %w", email, ErrNotInSystem)
		}
		return p, err
	}
	return nil, fmt.Errorf("no identity supplied: %w", ErrNotInSystem)
}

// GetAccessMatrix returns the caller's access matrix, rebuilding it
// synchronously when absent or stale. Concurrent callers for the same user
// share one rebuild.
func (s *Service) GetAccessMatrix(ctx context.Context, userID string) (*domain.AccessMatrix, error) {
	m, err := s.matrices.FindByUserID(ctx, userID)
	if err == nil && m.Fresh(s.now()) {
		return m, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	v, err, _ := s.group.Do("matrix:"+userID, func() (interface{}, error) {
		// Another caller may have finished the rebuild while we queued.
		if m, err := s.matrices.FindByUserID(ctx, userID); err == nil && m.Fresh(s.now()) {
			return m, nil
		}
		return s.access.RebuildForUser(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotInSystem)
		}
		return nil, err
	}
	return v.(*domain.AccessMatrix), nil
}

// GetDashboardMetrics returns the caller's dashboard metrics, rebuilding
// on absence or staleness like GetAccessMatrix.
func (s *Service) GetDashboardMetrics(ctx context.Context, userID string) (*domain.DashboardMetrics, error) {
	m, err := s.metrics.FindByUserID(ctx, userID)
	if err == nil && m.Fresh(s.now()) {
		return m, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	v, err, _ := s.group.Do("metrics:"+userID, func() (interface{}, error) {
		if m, err := s.metrics.FindByUserID(ctx, userID); err == nil && m.Fresh(s.now()) {
			return m, nil
		}
		return s.dashboard.RebuildForUser(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotInSystem)
		}
		return nil, err
	}
	return v.(*domain.DashboardMetrics), nil
}

// Opportunities returns the active opportunities visible to the user.
// Super admins see everything.
func (s *Service) Opportunities(ctx context.Context, userID string) ([]*domain.OpportunityView, error) {
	profile, err := s.profiles.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotInSystem)
	}
	if err != nil {
		return nil, err
	}
	if profile.IsSuperAdmin {
		return s.opps.FindActive(ctx)
	}
	return s.opps.FindVisibleTo(ctx, userID)
}

// Activities returns the activities visible to the user, narrowed by the
// filter.
func (s *Service) Activities(ctx context.Context, userID string, filter domain.ActivityFilter) ([]*domain.ActivityView, error) {
	if _, err := s.profiles.FindByID(ctx, userID); errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotInSystem)
	} else if err != nil {
		return nil, err
	}
	return s.acts.FindVisibleTo(ctx, userID, filter)
}
