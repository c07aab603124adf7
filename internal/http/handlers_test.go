package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/partner-dispatch/internal/auth"
	"github.com/example/partner-dispatch/internal/dispatch"
	"github.com/example/partner-dispatch/internal/ingest"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/monitor"
	"github.com/example/partner-dispatch/internal/pool"
	"github.com/example/partner-dispatch/internal/profile"
	"github.com/example/partner-dispatch/internal/push"
	"github.com/example/partner-dispatch/internal/selector"
	"github.com/example/partner-dispatch/internal/verify"
)

func newTestServer(t *testing.T) (*Server, *pool.Index) {
	t.Helper()
	logger := slog.Default()
	x := pool.NewIndex(5 * time.Minute)
	hub := push.NewHub(logger)
	profiles := profile.NewMemoryStore()
	coord := dispatch.New(x, selector.New(x), hub, nil, time.Minute, 8, logger)
	gate := verify.NewGate(verify.NewMemoryCodes(), profiles, hub, time.Hour, logger)
	sweeper := monitor.New(x, profiles, hub, 5*time.Minute, logger)
	return NewServer(Deps{
		Pool:        x,
		Coordinator: coord,
		Gate:        gate,
		Sweeper:     sweeper,
		Hub:         hub,
		Profiles:    profiles,
		Verifier:    auth.NewVerifier("test-secret"),
		Publisher:   ingest.NopPublisher{},
		Sampler:     ingest.NewSampler(0),
		Logger:      logger,
	}), x
}

func post(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestDispatchEndpoint(t *testing.T) {
	s, x := newTestServer(t)
	require.NoError(t, x.SetAvailable(context.Background(), models.AvailabilityRecord{
		PartnerID: "p1", VehicleType: "bike",
	}))

	w := post(t, s, "/api/v1/dispatch", map[string]any{
		"order_id": "o1", "pickup": map[string]float64{"lat": 0, "lon": 0}, "vehicle_type": "bike",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "offer_pending", decode(t, w)["status"])
}

func TestDispatchNoCoverage(t *testing.T) {
	s, _ := newTestServer(t)
	w := post(t, s, "/api/v1/dispatch", map[string]any{
		"order_id": "o1", "pickup": map[string]float64{"lat": 0, "lon": 0},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no_coverage", decode(t, w)["status"])
}

func TestDispatchDuplicateConflicts(t *testing.T) {
	s, x := newTestServer(t)
	require.NoError(t, x.SetAvailable(context.Background(), models.AvailabilityRecord{PartnerID: "p1"}))

	body := map[string]any{"order_id": "o1", "pickup": map[string]float64{"lat": 0, "lon": 0}}
	require.Equal(t, http.StatusOK, post(t, s, "/api/v1/dispatch", body).Code)
	assert.Equal(t, http.StatusConflict, post(t, s, "/api/v1/dispatch", body).Code)
}

func TestRespondStaleMapsToOK(t *testing.T) {
	s, x := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, x.SetAvailable(ctx, models.AvailabilityRecord{PartnerID: "p1"}))
	require.Equal(t, http.StatusOK, post(t, s, "/api/v1/dispatch", map[string]any{
		"order_id": "o1", "pickup": map[string]float64{"lat": 0, "lon": 0},
	}).Code)

	// A partner that never held the offer is a stale response, not a
	// client error.
	w := post(t, s, "/api/v1/orders/o1/respond", map[string]any{"partner_id": "ghost", "accept": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stale_offer", decode(t, w)["status"])

	w = post(t, s, "/api/v1/orders/o1/respond", map[string]any{"partner_id": "p1", "accept": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRespondUnknownOrder(t *testing.T) {
	s, _ := newTestServer(t)
	w := post(t, s, "/api/v1/orders/nope/respond", map[string]any{"partner_id": "p1", "accept": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerificationEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := post(t, s, "/api/v1/orders/o1/codes", map[string]any{"phase": "pickup"})
	require.Equal(t, http.StatusOK, w.Code)
	code, _ := decode(t, w)["code"].(string)
	require.Len(t, code, 6)

	w = post(t, s, "/api/v1/orders/o1/verify", map[string]any{
		"phase": "pickup", "code": "wrong!", "partner_id": "p1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, s, "/api/v1/orders/o1/verify", map[string]any{
		"phase": "pickup", "code": code, "partner_id": "p1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "picked_up", decode(t, w)["status"])
}

func TestAvailabilityAndLocationEndpoints(t *testing.T) {
	s, x := newTestServer(t)
	ctx := context.Background()

	w := post(t, s, "/api/v1/partners/p1/availability", map[string]any{
		"available": true, "location": map[string]float64{"lat": 1, "lon": 2}, "vehicle_type": "bike",
	})
	require.Equal(t, http.StatusOK, w.Code)
	_, ok, err := x.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	w = post(t, s, "/api/v1/partners/p1/location", map[string]any{
		"location": map[string]float64{"lat": 1.1, "lon": 2.1},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["registered"])

	// Unknown partners are told to re-register, not errored.
	w = post(t, s, "/api/v1/partners/ghost/location", map[string]any{
		"location": map[string]float64{"lat": 1, "lon": 2},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["registered"])

	w = post(t, s, "/api/v1/partners/p1/availability", map[string]any{"available": false})
	require.Equal(t, http.StatusOK, w.Code)
	_, ok, err = x.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForceOfflineEndpoint(t *testing.T) {
	s, x := newTestServer(t)
	require.NoError(t, x.SetAvailable(context.Background(), models.AvailabilityRecord{PartnerID: "p1"}))

	assert.Equal(t, http.StatusOK, post(t, s, "/api/v1/partners/p1/force-offline", map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, post(t, s, "/api/v1/partners/p1/force-offline", map[string]any{}).Code)
}

func TestInvalidCoordinatesRejected(t *testing.T) {
	s, _ := newTestServer(t)
	w := post(t, s, "/api/v1/partners/p1/availability", map[string]any{
		"available": true, "location": map[string]float64{"lat": 91, "lon": 0},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
