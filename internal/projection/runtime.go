// Package projection contains the denormalized read models and the engine
// that keeps them updated from the event stream. Every projection is
// idempotent: replaying its event history from an empty state reproduces
// the same views.
package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/eventbus"
)

// Projection is one denormalized read model fed by the event stream.
type Projection interface {
	// Name identifies the projection in processed_by markers and admin
	// surfaces.
	Name() string
	// SubscribesTo lists the event types the projection consumes.
	SubscribesTo() []domain.EventType
	// Handle applies one event. Handlers must be idempotent.
	Handle(ctx context.Context, event *domain.Event) error
	// Reset clears the projection's views before a rebuild.
	Reset(ctx context.Context) error
}

// RebuildState enumerates rebuild lifecycle states.
type RebuildState string

const (
	RebuildIdle      RebuildState = "idle"
	RebuildRunning   RebuildState = "running"
	RebuildCompleted RebuildState = "completed"
	RebuildFailed    RebuildState = "failed"
)

// RebuildStatus reports the latest rebuild of one projection plus its live
// progress against the event log: how many events of its subscribed types
// exist, how many it has marked processed, and whether it is caught up.
type RebuildStatus struct {
	Projection      string       `json:"projection"`
	State           RebuildState `json:"state"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	EventsReplayed  int          `json:"events_replayed"`
	Errors          int          `json:"errors"`
	LastError       string       `json:"last_error,omitempty"`
	EventsTotal     int64        `json:"events_total"`
	EventsProcessed int64        `json:"events_processed"`
	CaughtUp        bool         `json:"caught_up"`
}

// Engine registers projections on the bus and drives replays.
type Engine struct {
	bus    *eventbus.Bus
	events domain.EventStore
	log    zerolog.Logger

	mu          sync.Mutex
	projections map[string]Projection
	order       []string
	rebuilds    map[string]*RebuildStatus
}

// NewEngine creates an engine over the bus and event store.
func NewEngine(bus *eventbus.Bus, events domain.EventStore, log zerolog.Logger) *Engine {
	return &Engine{
		bus:         bus,
		events:      events,
		log:         log.With().Str("component", "projection").Logger(),
		projections: make(map[string]Projection),
		rebuilds:    make(map[string]*RebuildStatus),
	}
}

// Register subscribes the projection to its event types. Live delivery
// handles the event and then marks it processed; an event the projection
// already marked is skipped, making redelivery harmless.
func (e *Engine) Register(p Projection) {
	e.mu.Lock()
	e.projections[p.Name()] = p
	e.order = append(e.order, p.Name())
	e.rebuilds[p.Name()] = &RebuildStatus{Projection: p.Name(), State: RebuildIdle}
	e.mu.Unlock()

	for _, et := range p.SubscribesTo() {
		e.bus.Subscribe(et, p.Name(), func(ctx context.Context, event *domain.Event) error {
			return e.apply(ctx, p, event)
		})
	}
}

func (e *Engine) apply(ctx context.Context, p Projection, event *domain.Event) error {
	if event.WasProcessedBy(p.Name()) {
		return nil
	}
	if err := p.Handle(ctx, event); err != nil {
		return fmt.Errorf("%s handle %s: %w", p.Name(), event.EventType, err)
	}
	if err := e.events.MarkProcessed(ctx, event.ID, p.Name()); err != nil {
		e.log.Warn().Err(err).
			Str("projection", p.Name()).
			Str("event_id", event.ID).
			Msg("mark processed failed")
	}
	return nil
}

// Rebuild clears one projection and replays its event history in timestamp
// order. Handler failures are counted and skipped so one poison event
// cannot wedge the replay.
func (e *Engine) Rebuild(ctx context.Context, name string) (*RebuildStatus, error) {
	e.mu.Lock()
	p, ok := e.projections[name]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("projection %q: %w", name, domain.ErrNotFound)
	}
	status := e.rebuilds[name]
	if status.State == RebuildRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("projection %q: rebuild already running", name)
	}
	now := time.Now().UTC()
	*status = RebuildStatus{Projection: name, State: RebuildRunning, StartedAt: &now}
	e.mu.Unlock()

	finish := func(state RebuildState, replayed, errs int, lastErr string) *RebuildStatus {
		e.mu.Lock()
		defer e.mu.Unlock()
		done := time.Now().UTC()
		status.State = state
		status.CompletedAt = &done
		status.EventsReplayed = replayed
		status.Errors = errs
		status.LastError = lastErr
		snapshot := *status
		return &snapshot
	}

	if err := p.Reset(ctx); err != nil {
		return finish(RebuildFailed, 0, 0, err.Error()), fmt.Errorf("reset %s: %w", name, err)
	}

	wanted := make(map[domain.EventType]bool)
	for _, et := range p.SubscribesTo() {
		wanted[et] = true
	}

	replayed, errs := 0, 0
	lastErr := ""
	history, err := e.events.GetAllSince(ctx, time.Time{}, 0)
	if err != nil {
		return finish(RebuildFailed, 0, 0, err.Error()), fmt.Errorf("load history for %s: %w", name, err)
	}
	for _, event := range history {
		if !wanted[event.EventType] {
			continue
		}
		if err := p.Handle(ctx, event); err != nil {
			errs++
			lastErr = err.Error()
			e.log.Error().Err(err).
				Str("projection", name).
				Str("event_id", event.ID).
				Msg("replay failed for event")
			continue
		}
		replayed++
		if err := e.events.MarkProcessed(ctx, event.ID, name); err != nil {
			e.log.Warn().Err(err).Str("event_id", event.ID).Msg("mark processed failed")
		}
	}

	e.log.Info().
		Str("projection", name).
		Int("replayed", replayed).
		Int("errors", errs).
		Msg("rebuild finished")
	return finish(RebuildCompleted, replayed, errs, lastErr), nil
}

// Status returns the rebuild status of every registered projection in
// registration order, with processed/total counts from the event store so
// callers can see whether a projection is behind.
func (e *Engine) Status(ctx context.Context) ([]*RebuildStatus, error) {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	out := make([]*RebuildStatus, 0, len(names))
	projections := make([]Projection, 0, len(names))
	for _, name := range names {
		snapshot := *e.rebuilds[name]
		out = append(out, &snapshot)
		projections = append(projections, e.projections[name])
	}
	e.mu.Unlock()

	for i, st := range out {
		types := projections[i].SubscribesTo()
		var total int64
		for _, et := range types {
			n, err := e.events.CountEvents(ctx, et, nil)
			if err != nil {
				return nil, fmt.Errorf("count %s events: %w", et, err)
			}
			total += n
		}
		processed, err := e.events.CountProcessedBy(ctx, st.Projection, types)
		if err != nil {
			return nil, fmt.Errorf("count processed for %s: %w", st.Projection, err)
		}
		st.EventsTotal = total
		st.EventsProcessed = processed
		st.CaughtUp = processed >= total
	}
	return out, nil
}

// Projections returns the registered projections in registration order.
func (e *Engine) Projections() []Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Projection, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.projections[name])
	}
	return out
}
