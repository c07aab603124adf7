package pool

import (
	"context"
	"sync"
	"time"

	"github.com/example/partner-dispatch/internal/geo"
	"github.com/example/partner-dispatch/internal/models"
)

// Index is the in-memory Store used for tests and Redis-less runs.
// Radius queries are a naive scan; production deployments use RedisPool.
type Index struct {
	mu        sync.RWMutex
	records   map[string]models.AvailabilityRecord
	claims    map[string]claim
	backups   map[string][]models.Candidate
	staleness time.Duration
	now       func() time.Time
}

type claim struct {
	orderID   string
	expiresAt time.Time
}

func NewIndex(staleness time.Duration) *Index {
	return &Index{
		records:   make(map[string]models.AvailabilityRecord),
		claims:    make(map[string]claim),
		backups:   make(map[string][]models.Candidate),
		staleness: staleness,
		now:       time.Now,
	}
}

func (x *Index) SetAvailable(_ context.Context, rec models.AvailabilityRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec.HeartbeatAt = x.now()
	x.records[rec.PartnerID] = rec
	return nil
}

func (x *Index) SetUnavailable(_ context.Context, partnerID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.records, partnerID)
	delete(x.claims, partnerID)
	return nil
}

func (x *Index) Heartbeat(_ context.Context, partnerID string, loc *models.Coord) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.records[partnerID]
	if !ok {
		return false, nil
	}
	rec.HeartbeatAt = x.now()
	if loc != nil {
		rec.Loc = *loc
	}
	x.records[partnerID] = rec
	return true, nil
}

func (x *Index) QueryNear(_ context.Context, origin models.Coord, radiusKm float64, vehicleType string) ([]models.AvailabilityRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	now := x.now()
	out := make([]models.AvailabilityRecord, 0, len(x.records))
	for id, rec := range x.records {
		if now.Sub(rec.HeartbeatAt) > x.staleness {
			continue
		}
		if c, held := x.claims[id]; held && c.expiresAt.After(now) {
			continue
		}
		if !geo.VehicleMatches(rec.VehicleType, vehicleType) {
			continue
		}
		if geo.HaversineKm(origin.Lat, origin.Lon, rec.Loc.Lat, rec.Loc.Lon) > radiusKm {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (x *Index) Get(_ context.Context, partnerID string) (models.AvailabilityRecord, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.records[partnerID]
	return rec, ok, nil
}

func (x *Index) Snapshot(_ context.Context) ([]models.AvailabilityRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.AvailabilityRecord, 0, len(x.records))
	for _, rec := range x.records {
		out = append(out, rec)
	}
	return out, nil
}

func (x *Index) ClaimOffer(_ context.Context, partnerID, orderID string, ttl time.Duration) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := x.now()
	if c, held := x.claims[partnerID]; held && c.expiresAt.After(now) {
		return false, nil
	}
	x.claims[partnerID] = claim{orderID: orderID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (x *Index) ReleaseOffer(_ context.Context, partnerID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.claims, partnerID)
	return nil
}

func (x *Index) PushBackups(_ context.Context, orderID string, cands []models.Candidate) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.backups[orderID] = append(x.backups[orderID], cands...)
	return nil
}

func (x *Index) PopBackup(_ context.Context, orderID string) (models.Candidate, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	q := x.backups[orderID]
	if len(q) == 0 {
		return models.Candidate{}, false, nil
	}
	head := q[0]
	x.backups[orderID] = q[1:]
	return head, true, nil
}

func (x *Index) ClearBackups(_ context.Context, orderID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.backups, orderID)
	return nil
}
