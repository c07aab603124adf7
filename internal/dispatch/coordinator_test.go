package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/pool"
	"github.com/example/partner-dispatch/internal/selector"
)

type sentEvent struct {
	target string
	event  string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeNotifier) record(target, event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{target: target, event: event})
}

func (f *fakeNotifier) ToPartner(id, event string, _ any) { f.record("partner_"+id, event) }
func (f *fakeNotifier) ToOrder(id, event string, _ any)   { f.record("order_"+id, event) }
func (f *fakeNotifier) ToAdmin(event string, _ any)       { f.record("admin", event) }

func (f *fakeNotifier) count(target, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.target == target && ev.event == event {
			n++
		}
	}
	return n
}

func atKm(km float64) models.Coord { return models.Coord{Lat: km / 111.19, Lon: 0} }

func seed(t *testing.T, x *pool.Index, id string, loc models.Coord) {
	t.Helper()
	require.NoError(t, x.SetAvailable(context.Background(), models.AvailabilityRecord{
		PartnerID: id, VehicleType: "bike", Loc: loc,
	}))
}

func newCoordinator(x *pool.Index, n *fakeNotifier, offerTTL time.Duration) *Coordinator {
	return New(x, selector.New(x), n, nil, offerTTL, 8, slog.Default())
}

func TestDispatchOffersClosestCandidate(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "far", atKm(3))
	seed(t, x, "near", atKm(1))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, time.Minute)

	status, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOfferPending, status)
	assert.Equal(t, 1, n.count("partner_near", eventDeliveryRequest))
	assert.Equal(t, 0, n.count("partner_far", eventDeliveryRequest))
}

func TestDispatchNoCoverage(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	n := &fakeNotifier{}
	c := newCoordinator(x, n, time.Minute)

	status, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err, "no coverage is an outcome, not an error")
	assert.Equal(t, models.StatusExhausted, status)
	assert.Equal(t, 1, n.count("order_o1", eventOrderStatusUpdated))
}

func TestDispatchDuplicateOrderConflicts(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	c := newCoordinator(x, &fakeNotifier{}, time.Minute)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)

	_, err = c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestAcceptAssignsAndReleasesClaim(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, time.Minute)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)

	require.NoError(t, c.Respond(ctx, "o1", "a", true))
	assert.Equal(t, 1, n.count("order_o1", eventOrderStatusUpdated))
	assert.Equal(t, 1, n.count("admin", eventDriverStatusChanged))

	// The pending claim must be gone so "a" can be matched again.
	ok, err := x.ClaimOffer(ctx, "a", "o2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Terminal: the order is no longer tracked.
	_, tracked := c.Status("o1")
	assert.False(t, tracked)
}

func TestRejectAdvancesToBackup(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, time.Minute)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)
	require.NoError(t, c.Respond(ctx, "o1", "a", false))

	assert.Equal(t, 1, n.count("partner_b", eventDeliveryRequest))
	status, tracked := c.Status("o1")
	require.True(t, tracked)
	assert.Equal(t, models.StatusOfferPending, status)
}

func TestRejectSkipsDeregisteredBackup(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, time.Minute)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)

	// "b" goes offline while "a" holds the offer.
	require.NoError(t, x.SetUnavailable(ctx, "b"))
	require.NoError(t, c.Respond(ctx, "o1", "a", false))

	assert.Equal(t, 0, n.count("partner_b", eventDeliveryRequest), "partner no longer in the pool must not be offered")
	assert.Equal(t, 1, n.count("order_o1", eventNoDriversAvailable))
	_, tracked := c.Status("o1")
	assert.False(t, tracked)
}

func TestExpirySkipsDeregisteredBackup(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	seed(t, x, "c", atKm(3))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, 40*time.Millisecond)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)
	require.NoError(t, x.SetUnavailable(ctx, "b"))

	require.Eventually(t, func() bool {
		return n.count("partner_c", eventDeliveryRequest) == 1
	}, time.Second, 5*time.Millisecond, "expiry must fall through the dead backup to the live one")
	assert.Equal(t, 0, n.count("partner_b", eventDeliveryRequest))
}

func TestLateAcceptAfterRejectIsStale(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	c := newCoordinator(x, &fakeNotifier{}, time.Minute)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)
	require.NoError(t, c.Respond(ctx, "o1", "a", false))

	// "a" tries to accept after the offer moved to "b".
	err = c.Respond(ctx, "o1", "a", true)
	assert.ErrorIs(t, err, errs.ErrStale)

	// The outstanding offer still belongs to "b".
	require.NoError(t, c.Respond(ctx, "o1", "b", true))
}

func TestExpiryFallsBackAndNeverReoffers(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "c", atKm(2))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, 40*time.Millisecond)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)
	require.Equal(t, 1, n.count("partner_a", eventDeliveryRequest))

	require.Eventually(t, func() bool {
		return n.count("partner_c", eventDeliveryRequest) == 1
	}, time.Second, 5*time.Millisecond, "backup must be offered after expiry")

	assert.Equal(t, 1, n.count("partner_a", eventDeliveryRequest), "expired partner must not be re-offered")
	require.NoError(t, c.Respond(ctx, "o1", "c", true))
}

func TestExpiryWithNoBackupExhausts(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, 40*time.Millisecond)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return n.count("order_o1", eventNoDriversAvailable) == 1
	}, time.Second, 5*time.Millisecond)

	_, tracked := c.Status("o1")
	assert.False(t, tracked)
}

func TestCancelStopsDispatching(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	n := &fakeNotifier{}
	c := newCoordinator(x, n, 40*time.Millisecond)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, "o1"))

	// Claim released and backups discarded.
	ok, err := x.ClaimOffer(ctx, "a", "o2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	_, hasBackup, err := x.PopBackup(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, hasBackup)

	// A cancelled order never resumes: the expiry timer must not fire
	// a new offer to "b".
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, n.count("partner_b", eventDeliveryRequest))

	assert.ErrorIs(t, c.Respond(ctx, "o1", "a", true), errs.ErrNotFound)
}

func TestConcurrentRespondAcceptsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	x := pool.NewIndex(5 * time.Minute)
	seed(t, x, "a", atKm(1))
	seed(t, x, "b", atKm(2))
	c := newCoordinator(x, &fakeNotifier{}, time.Minute)

	_, err := c.Dispatch(ctx, "o1", models.Coord{}, "bike", 10)
	require.NoError(t, err)

	const n = 8
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Respond(ctx, "o1", "a", true)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one accept may win")
}
