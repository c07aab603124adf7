package httpapi

import (
	"context"
	"time"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/geo"
	"github.com/example/partner-dispatch/internal/ingest"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/observability"
	"github.com/example/partner-dispatch/internal/push"
)

// Availability and location transitions are reachable from both the REST
// surface and the websocket events, so the shared logic lives here.

func (s *Server) setAvailability(ctx context.Context, partnerID string, req availabilityRequest) error {
	if partnerID == "" {
		return errs.InvalidInput("empty partner id")
	}

	if req.Available {
		if !geo.ValidCoord(req.Loc.Lat, req.Loc.Lon) {
			return errs.InvalidInput("invalid coordinates %f,%f", req.Loc.Lat, req.Loc.Lon)
		}
		if err := s.deps.Pool.SetAvailable(ctx, models.AvailabilityRecord{
			PartnerID:   partnerID,
			Loc:         req.Loc,
			VehicleType: req.VehicleType,
			Name:        req.Name,
			Phone:       req.Phone,
		}); err != nil {
			return err
		}
	} else {
		if err := s.deps.Pool.SetUnavailable(ctx, partnerID); err != nil {
			return err
		}
	}

	// The system of record trails the pool.
	if err := s.deps.Profiles.SetAvailability(ctx, partnerID, req.Available); err != nil {
		s.logger.Warn("recording availability transition", "partner_id", partnerID, "error", err)
	}

	status := "offline"
	if req.Available {
		status = "online"
	}
	s.deps.Hub.ToAdmin(push.EventDriverStatusChanged, map[string]any{
		"partner_id": partnerID,
		"status":     status,
		"timestamp":  time.Now().UnixMilli(),
	})
	s.refreshPoolGauge(ctx)
	return nil
}

// recordLocation refreshes the heartbeat, samples the update into Kafka,
// and fans the position out to watchers. Returns false when the partner is
// not in the pool and must re-register availability first.
func (s *Server) recordLocation(ctx context.Context, partnerID string, loc models.Coord, orderID string) (bool, error) {
	if !geo.ValidCoord(loc.Lat, loc.Lon) {
		return false, errs.InvalidInput("invalid coordinates %f,%f", loc.Lat, loc.Lon)
	}
	registered, err := s.deps.Pool.Heartbeat(ctx, partnerID, &loc)
	if err != nil {
		return false, err
	}
	if !registered {
		return false, nil
	}

	if s.deps.Sampler.Sample() {
		if err := s.deps.Publisher.PublishLocation(ingest.LocationUpdate{
			PartnerID: partnerID,
			Loc:       loc,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			s.logger.Warn("publishing location sample", "partner_id", partnerID, "error", err)
		}
	}

	payload := map[string]any{
		"partner_id": partnerID,
		"location":   loc,
		"timestamp":  time.Now().UnixMilli(),
	}
	s.deps.Hub.ToAdmin(push.EventDriverLocation, payload)
	if orderID != "" {
		s.deps.Hub.ToOrder(orderID, push.EventDriverLocation, payload)
	}
	return true, nil
}

func (s *Server) refreshPoolGauge(ctx context.Context) {
	recs, err := s.deps.Pool.Snapshot(ctx)
	if err != nil {
		return
	}
	observability.DriversAvailable.Set(float64(len(recs)))
}
