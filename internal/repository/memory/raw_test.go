package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revpipe/revpipe/internal/domain"
)

func TestRawStore_UnchangedChecksumShortCircuits(t *testing.T) {
	s := NewRawStore()
	ctx := context.Background()
	payload := map[string]interface{}{"id": float64(7), "name": "Acme", "stage": "Proposal"}

	first, err := s.Upsert(ctx, domain.EntityOpportunity, 7, payload, "job-1")
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.True(t, first.Stored)

	// Same content, different key order via a fresh map.
	again, err := s.Upsert(ctx, domain.EntityOpportunity, 7, map[string]interface{}{
		"stage": "Proposal", "name": "Acme", "id": float64(7),
	}, "job-2")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.False(t, again.Stored)
	assert.Equal(t, first.Record.ID, again.Record.ID, "latest record is returned untouched")
	assert.Equal(t, 1, s.VersionCount(domain.EntityOpportunity, 7))
}

func TestRawStore_ChangedPayloadSupersedes(t *testing.T) {
	s := NewRawStore()
	ctx := context.Background()

	v1, err := s.Upsert(ctx, domain.EntityOpportunity, 7, map[string]interface{}{"stage": "Proposal"}, "job-1")
	require.NoError(t, err)
	v2, err := s.Upsert(ctx, domain.EntityOpportunity, 7, map[string]interface{}{"stage": "Won"}, "job-2")
	require.NoError(t, err)
	assert.True(t, v2.Changed)
	assert.NotEqual(t, v1.Record.ID, v2.Record.ID)

	latest, err := s.FindLatest(ctx, domain.EntityOpportunity, 7)
	require.NoError(t, err)
	assert.Equal(t, v2.Record.ID, latest.ID)
	assert.True(t, latest.IsLatest)
	assert.Equal(t, "Won", latest.RawPayload["stage"])

	// Prior versions survive supersession.
	assert.Equal(t, 2, s.VersionCount(domain.EntityOpportunity, 7))
}

func TestRawStore_ListLatestIDsIsPerEntity(t *testing.T) {
	s := NewRawStore()
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		_, err := s.Upsert(ctx, domain.EntityUser, id, map[string]interface{}{"id": float64(id)}, "job-1")
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, domain.EntityOpportunity, 9, map[string]interface{}{"id": float64(9)}, "job-1")
	require.NoError(t, err)

	ids, err := s.ListLatestIDs(ctx, domain.EntityUser)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestRawStore_FindLatestFallsBackWhenFlagLost(t *testing.T) {
	s := NewRawStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, domain.EntityOpportunity, 7, map[string]interface{}{"stage": "Proposal"}, "job-1")
	require.NoError(t, err)
	v2, err := s.Upsert(ctx, domain.EntityOpportunity, 7, map[string]interface{}{"stage": "Won"}, "job-2")
	require.NoError(t, err)

	// A writer dying between supersede and insert leaves the key with no
	// flagged record. Readers must still see the newest version.
	s.mu.Lock()
	delete(s.latest, rawKey{domain.EntityOpportunity, 7})
	s.mu.Unlock()

	latest, err := s.FindLatest(ctx, domain.EntityOpportunity, 7)
	require.NoError(t, err)
	assert.Equal(t, v2.Record.ID, latest.ID)
	assert.Equal(t, "Won", latest.RawPayload["stage"])
}

func TestRawStore_FindLatestMissing(t *testing.T) {
	s := NewRawStore()
	_, err := s.FindLatest(context.Background(), domain.EntityUser, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
