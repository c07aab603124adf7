// Package selector ranks available partners for a pickup request.
package selector

import (
	"context"
	"sort"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/geo"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/pool"
)

type Service struct {
	Store pool.Store
}

func New(store pool.Store) *Service { return &Service{Store: store} }

// FindCandidates returns partners within radiusKm of pickup whose vehicle
// class matches, ordered ascending by distance with ties broken by the
// fresher heartbeat. An empty list is a valid "no coverage" result.
//
// The store's radius query is advisory; distance is recomputed and
// re-checked here before ranking.
func (s *Service) FindCandidates(ctx context.Context, pickup models.Coord, radiusKm float64, vehicleType string) ([]models.Candidate, error) {
	if !geo.ValidCoord(pickup.Lat, pickup.Lon) {
		return nil, errs.InvalidInput("pickup position %v", pickup)
	}
	if radiusKm <= 0 {
		return nil, errs.InvalidInput("radius %.2f km", radiusKm)
	}

	recs, err := s.Store.QueryNear(ctx, pickup, radiusKm, vehicleType)
	if err != nil {
		return nil, err
	}

	cands := make([]models.Candidate, 0, len(recs))
	for _, rec := range recs {
		if !geo.VehicleMatches(rec.VehicleType, vehicleType) {
			continue
		}
		d := geo.HaversineKm(pickup.Lat, pickup.Lon, rec.Loc.Lat, rec.Loc.Lon)
		if d > radiusKm {
			continue
		}
		cands = append(cands, models.Candidate{
			PartnerID:   rec.PartnerID,
			Loc:         rec.Loc,
			VehicleType: rec.VehicleType,
			Name:        rec.Name,
			Phone:       rec.Phone,
			DistanceKm:  d,
			HeartbeatAt: rec.HeartbeatAt,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].HeartbeatAt.After(cands[j].HeartbeatAt)
	})
	return cands, nil
}
