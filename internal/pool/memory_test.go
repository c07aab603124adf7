package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/partner-dispatch/internal/models"
)

func record(id, vehicle string, lat, lon float64) models.AvailabilityRecord {
	return models.AvailabilityRecord{
		PartnerID:   id,
		VehicleType: vehicle,
		Loc:         models.Coord{Lat: lat, Lon: lon},
	}
}

func TestIndexSetAvailableAndQuery(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	require.NoError(t, x.SetAvailable(ctx, record("p1", "bike", 12.97, 77.59)))
	require.NoError(t, x.SetAvailable(ctx, record("p2", "car", 12.98, 77.60)))

	got, err := x.QueryNear(ctx, models.Coord{Lat: 12.97, Lon: 77.59}, 10, "any")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = x.QueryNear(ctx, models.Coord{Lat: 12.97, Lon: 77.59}, 10, "bike")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].PartnerID)
}

func TestIndexSetUnavailableIdempotent(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	require.NoError(t, x.SetUnavailable(ctx, "ghost"))

	require.NoError(t, x.SetAvailable(ctx, record("p1", "bike", 0, 0)))
	require.NoError(t, x.SetUnavailable(ctx, "p1"))
	require.NoError(t, x.SetUnavailable(ctx, "p1"))

	_, ok, err := x.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexHeartbeatUnknownPartnerIsNoop(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	ok, err := x.Heartbeat(ctx, "p1", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexHeartbeatRefreshesAndMoves(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)
	now := time.Now()
	x.now = func() time.Time { return now }

	require.NoError(t, x.SetAvailable(ctx, record("p1", "bike", 0, 0)))

	now = now.Add(4 * time.Minute)
	ok, err := x.Heartbeat(ctx, "p1", &models.Coord{Lat: 1, Lon: 1})
	require.NoError(t, err)
	require.True(t, ok)

	rec, found, err := x.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.0, rec.Loc.Lat)
	assert.Equal(t, now, rec.HeartbeatAt)
}

func TestIndexQueryNearHidesStaleRecords(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)
	now := time.Now()
	x.now = func() time.Time { return now }

	require.NoError(t, x.SetAvailable(ctx, record("p1", "bike", 0, 0)))

	now = now.Add(6 * time.Minute)
	got, err := x.QueryNear(ctx, models.Coord{}, 10, "any")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexQueryNearHidesClaimedPartners(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	require.NoError(t, x.SetAvailable(ctx, record("p1", "bike", 0, 0)))

	claimed, err := x.ClaimOffer(ctx, "p1", "o1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := x.QueryNear(ctx, models.Coord{}, 10, "any")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, x.ReleaseOffer(ctx, "p1"))
	got, err = x.QueryNear(ctx, models.Coord{}, 10, "any")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestIndexClaimOfferConflicts(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	ok, err := x.ClaimOffer(ctx, "p1", "o1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = x.ClaimOffer(ctx, "p1", "o2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose while the first is live")
}

func TestIndexClaimExpires(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)
	now := time.Now()
	x.now = func() time.Time { return now }

	ok, err := x.ClaimOffer(ctx, "p1", "o1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = x.ClaimOffer(ctx, "p1", "o2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim must not block a new one")
}

func TestIndexBackupQueueFIFO(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	require.NoError(t, x.PushBackups(ctx, "o1", []models.Candidate{
		{PartnerID: "a"}, {PartnerID: "b"},
	}))

	c, ok, err := x.PopBackup(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", c.PartnerID)

	c, ok, err = x.PopBackup(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", c.PartnerID)

	_, ok, err = x.PopBackup(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexClearBackups(t *testing.T) {
	ctx := context.Background()
	x := NewIndex(5 * time.Minute)

	require.NoError(t, x.PushBackups(ctx, "o1", []models.Candidate{{PartnerID: "a"}}))
	require.NoError(t, x.ClearBackups(ctx, "o1"))

	_, ok, err := x.PopBackup(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}
