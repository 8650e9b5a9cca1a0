package projection

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/repository/memory"
)

type oppFixture struct {
	profiles *memory.UserProfileRepository
	views    *memory.OpportunityViewRepository
	raw      *memory.RawStore
	users    *UserProfiles
	opps     *OpportunityViews

	alice string // salesperson
	boss  string // alice's manager
	root  string // super admin
}

func newOppFixture(t *testing.T) *oppFixture {
	t.Helper()
	f := &oppFixture{
		profiles: memory.NewUserProfileRepository(),
		views:    memory.NewOpportunityViewRepository(),
		raw:      memory.NewRawStore(),
	}
	f.users = NewUserProfiles(f.profiles, zerolog.Nop())
	f.opps = NewOpportunityViews(f.views, f.profiles, f.raw, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, f.users.Handle(ctx, userSyncedEvent(1, "Boss", "boss@example.com", 200, 0)))
	require.NoError(t, f.users.Handle(ctx, userSyncedEvent(5, "Alice", "alice@example.com", 105, 200)))
	require.NoError(t, f.users.Handle(ctx, userSyncedEvent(99, "Root", "root@example.com", 999, 0)))
	require.NoError(t, f.users.Handle(ctx, &domain.Event{
		EventType:     domain.EventUserRoleChanged,
		AggregateType: domain.AggregateUser,
		AggregateID:   "user-99",
		Payload:       map[string]interface{}{"email": "root@example.com", "is_super_admin": true},
		Timestamp:     time.Now().UTC(),
	}))

	for email, dst := range map[string]*string{
		"alice@example.com": &f.alice,
		"boss@example.com":  &f.boss,
		"root@example.com":  &f.root,
	} {
		p, err := f.profiles.FindByEmail(ctx, email)
		require.NoError(t, err)
		*dst = p.ID
	}
	return f
}

func oppSyncedEvent(id int64, stage string, salespersonOdooID int64, revenue float64) *domain.Event {
	return &domain.Event{
		ID:            "evt-opp",
		EventType:     domain.EventOdooOpportunitySynced,
		AggregateType: domain.AggregateOpportunity,
		AggregateID:   domain.AggregateIDFor(domain.AggregateOpportunity, id),
		Payload: map[string]interface{}{
			"id":               id,
			"name":             "Big Deal",
			"stage":            stage,
			"expected_revenue": revenue,
			"probability":      float64(60),
			"date_deadline":    "2026-09-30",
			"salesperson_id":   salespersonOdooID,
			"salesperson_name": "Alice (raw)",
			"partner_id":       int64(30),
			"partner_name":     "Acme",
		},
		Timestamp: time.Now().UTC(),
		Version:   1,
	}
}

func TestOpportunityViews_DenormalizesAndComputesVisibility(t *testing.T) {
	f := newOppFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))

	view, err := f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Big Deal", view.Name)
	assert.Equal(t, float64(50000), view.Value)
	assert.True(t, view.IsActive)

	require.NotNil(t, view.Salesperson)
	assert.Equal(t, f.alice, view.Salesperson.UserID)
	assert.Equal(t, "Alice", view.Salesperson.Name, "joined name wins over the raw one")
	require.NotNil(t, view.Salesperson.Manager)
	assert.Equal(t, f.boss, view.Salesperson.Manager.UserID)

	require.NotNil(t, view.Account)
	assert.Equal(t, int64(30), view.Account.SourceID)
	assert.Equal(t, "Acme", view.Account.Name)

	assert.ElementsMatch(t, []string{f.alice, f.boss, f.root}, view.VisibleToUserIDs,
		"salesperson, their manager and super admins see the deal")
}

func TestOpportunityViews_AccountJoinedFromRawRecord(t *testing.T) {
	f := newOppFixture(t)
	ctx := context.Background()

	_, err := f.raw.Upsert(ctx, domain.EntityAccount, 30, map[string]interface{}{
		"id":      int64(30),
		"name":    "Acme Corp",
		"city":    "Rotterdam",
		"country": "Netherlands",
	}, "job-1")
	require.NoError(t, err)

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))

	view, err := f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, view.Account)
	assert.Equal(t, "Acme Corp", view.Account.Name, "the account record wins over the embedded name")
	assert.Equal(t, "Rotterdam", view.Account.City)
	assert.Equal(t, "Netherlands", view.Account.Country)
}

func TestOpportunityViews_UnresolvedSalespersonKeepsRawName(t *testing.T) {
	f := newOppFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(8, "Lead", 777, 100)))

	view, err := f.views.FindBySourceID(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, view.Salesperson)
	assert.Empty(t, view.Salesperson.UserID)
	assert.Equal(t, int64(777), view.Salesperson.RawUserID)
	assert.Equal(t, "Alice (raw)", view.Salesperson.Name)

	assert.ElementsMatch(t, []string{f.root}, view.VisibleToUserIDs,
		"only super admins see an unowned deal")
}

func TestOpportunityViews_ReassignmentRecomputesVisibility(t *testing.T) {
	f := newOppFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))

	// Reassigned to the boss, who has no manager.
	e := oppSyncedEvent(7, "Proposal", 1, 50000)
	e.Payload["salesperson_name"] = "Boss (raw)"
	require.NoError(t, f.opps.Handle(ctx, e))

	view, err := f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, f.boss, view.Salesperson.UserID)
	assert.ElementsMatch(t, []string{f.boss, f.root}, view.VisibleToUserIDs,
		"the former salesperson loses access")
}

func TestOpportunityViews_SoftDeleteAndResurrection(t *testing.T) {
	f := newOppFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))

	deletedAt := time.Now().UTC()
	require.NoError(t, f.opps.Handle(ctx, &domain.Event{
		EventType:     domain.EventOpportunityDeleted,
		AggregateType: domain.AggregateOpportunity,
		AggregateID:   "opportunity-7",
		Payload:       map[string]interface{}{"id": int64(7), "reason": "absent from source"},
		Timestamp:     deletedAt,
	}))

	view, err := f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)
	assert.False(t, view.IsActive)
	require.NotNil(t, view.DeletedAt)
	assert.Equal(t, "absent from source", view.DeleteReason)

	visible, err := f.views.FindVisibleTo(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, visible, "soft-deleted deals leave the visible set")

	// The record reappears at the source.
	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))
	view, err = f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, view.IsActive, "resync resurrects the view")
	assert.Nil(t, view.DeletedAt)
	assert.Empty(t, view.DeleteReason)
}

func TestOpportunityViews_DeleteForUnknownRecordIsNoOp(t *testing.T) {
	f := newOppFixture(t)
	err := f.opps.Handle(context.Background(), &domain.Event{
		EventType:     domain.EventOpportunityDeleted,
		AggregateType: domain.AggregateOpportunity,
		AggregateID:   "opportunity-404",
		Payload:       map[string]interface{}{"id": int64(404)},
		Timestamp:     time.Now().UTC(),
	})
	assert.NoError(t, err)
}

func TestOpportunityViews_HandleIsIdempotent(t *testing.T) {
	f := newOppFixture(t)
	ctx := context.Background()

	e := oppSyncedEvent(7, "Proposal", 5, 50000)
	require.NoError(t, f.opps.Handle(ctx, e))
	first, err := f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)

	require.NoError(t, f.opps.Handle(ctx, e))
	second, err := f.views.FindBySourceID(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "replay keeps the view identity")
	assert.Equal(t, first.VisibleToUserIDs, second.VisibleToUserIDs)
}
