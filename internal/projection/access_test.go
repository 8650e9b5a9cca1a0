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

type accessFixture struct {
	*oppFixture
	matrices *memory.AccessMatrixRepository
	access   *AccessMatrices
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()
	f := newOppFixture(t)
	matrices := memory.NewAccessMatrixRepository()
	return &accessFixture{
		oppFixture: f,
		matrices:   matrices,
		access:     NewAccessMatrices(matrices, f.profiles, f.views, zerolog.Nop()),
	}
}

func TestAccessMatrices_SalespersonSeesOwnDeals(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))
	e := oppSyncedEvent(8, "Lead", 1, 100)
	require.NoError(t, f.opps.Handle(ctx, e))

	m, err := f.access.RebuildForUser(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, m.AccessibleOpportunities)
	assert.Equal(t, []int64{30}, m.AccessibleAccounts)
	assert.Equal(t, []string{f.alice}, m.AccessibleUserIDs)
	assert.False(t, m.IsManager)
	assert.Equal(t, 0, m.SubordinateCount)
	assert.True(t, m.Fresh(time.Now()))
}

func TestAccessMatrices_ManagerSeesTeamDeals(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000))) // alice's
	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(8, "Lead", 1, 100)))       // boss's own

	m, err := f.access.RebuildForUser(ctx, f.boss)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, m.AccessibleOpportunities)
	assert.ElementsMatch(t, []string{f.boss, f.alice}, m.AccessibleUserIDs)
	assert.True(t, m.IsManager)
	assert.Equal(t, 1, m.SubordinateCount)
	assert.Equal(t, []int64{1}, m.ManagedTeamIDs)
}

func TestAccessMatrices_SuperAdminSeesEverything(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))
	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(8, "Lead", 777, 100))) // unresolved owner

	m, err := f.access.RebuildForUser(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, m.AccessibleOpportunities)
	assert.True(t, m.IsSuperAdmin)
}

func TestAccessMatrices_TransitiveSubordinates(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	// carol reports to alice, who reports to boss.
	require.NoError(t, f.users.Handle(ctx, userSyncedEvent(6, "Carol", "carol@example.com", 106, 105)))
	carol, err := f.profiles.FindByEmail(ctx, "carol@example.com")
	require.NoError(t, err)

	m, err := f.access.RebuildForUser(ctx, f.boss)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.boss, f.alice, carol.ID}, m.AccessibleUserIDs,
		"the subtree expands past direct reports")
	assert.Equal(t, 2, m.SubordinateCount)
}

func TestAccessMatrices_ExcludesDeletedDeals(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))
	require.NoError(t, f.opps.Handle(ctx, &domain.Event{
		EventType:     domain.EventOpportunityDeleted,
		AggregateType: domain.AggregateOpportunity,
		AggregateID:   "opportunity-7",
		Payload:       map[string]interface{}{"id": int64(7), "reason": "absent from source"},
		Timestamp:     time.Now().UTC(),
	}))

	m, err := f.access.RebuildForUser(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, m.AccessibleOpportunities)
}

func TestAccessMatrices_RefreshesOnlyExistingEntries(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))

	// alice has a materialized matrix, boss does not.
	stale, err := f.access.RebuildForUser(ctx, f.alice)
	require.NoError(t, err)

	e := oppSyncedEvent(9, "Lead", 5, 200)
	require.NoError(t, f.opps.Handle(ctx, e))
	require.NoError(t, f.access.Handle(ctx, e))

	fresh, err := f.matrices.FindByUserID(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, fresh.AccessibleOpportunities)
	assert.NotEqual(t, stale.AccessibleOpportunities, fresh.AccessibleOpportunities)

	_, err = f.matrices.FindByUserID(ctx, f.boss)
	assert.ErrorIs(t, err, domain.ErrNotFound, "absent entries wait for first demand")
}

func TestAccessMatrices_ReassignmentRefreshesOldOwner(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.opps.Handle(ctx, oppSyncedEvent(7, "Proposal", 5, 50000)))
	m, err := f.access.RebuildForUser(ctx, f.alice)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, m.AccessibleOpportunities)

	// By the time the handover event arrives the view already names the
	// new owner, so the old one must be found through the payload.
	moved := oppSyncedEvent(7, "Proposal", 1, 50000)
	moved.Payload["salesperson_name"] = "Boss (raw)"
	require.NoError(t, f.opps.Handle(ctx, moved))

	require.NoError(t, f.access.Handle(ctx, &domain.Event{
		EventType:     domain.EventOpportunityAssigned,
		AggregateType: domain.AggregateOpportunity,
		AggregateID:   "opportunity-7",
		Payload: map[string]interface{}{
			"id":                   int64(7),
			"old_salesperson_id":   int64(5),
			"new_salesperson_id":   int64(1),
			"new_salesperson_name": "Boss",
		},
		Timestamp: time.Now().UTC(),
	}))

	fresh, err := f.matrices.FindByUserID(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, fresh.AccessibleOpportunities, "the old owner loses the deal")
}

func TestAccessMatrices_UnknownUser(t *testing.T) {
	f := newAccessFixture(t)
	_, err := f.access.RebuildForUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
