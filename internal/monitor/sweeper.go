// Package monitor evicts partners whose heartbeats have gone quiet. A
// cron-driven sweep walks the availability pool once a minute; anything
// silent past the staleness threshold is re-checked and then removed, so a
// heartbeat landing mid-sweep always wins over the eviction.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/observability"
	"github.com/example/partner-dispatch/internal/pool"
	"github.com/example/partner-dispatch/internal/profile"
)

// Notifier is the slice of the push hub the sweeper needs.
type Notifier interface {
	ToPartner(partnerID, event string, data any)
	ToAdmin(event string, data any)
}

const (
	eventAutoOffline         = "auto_offline"
	eventForcedOffline       = "forced_offline"
	eventDriverStatusChanged = "driver_status_changed"
)

// Sweeper owns the inactivity schedule and the offline transitions.
type Sweeper struct {
	store     pool.Store
	profiles  profile.Store
	notify    Notifier
	staleness time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

func New(store pool.Store, profiles profile.Store, notify Notifier, staleness time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		profiles:  profiles,
		notify:    notify,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep every minute until Stop is called.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("inactivity sweep scheduled", "staleness", s.staleness)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one pass over the pool and returns how many partners were
// taken offline.
func (s *Sweeper) Sweep(ctx context.Context) int {
	recs, err := s.store.Snapshot(ctx)
	if err != nil {
		s.logger.Error("snapshotting availability pool", "error", err)
		return 0
	}

	cutoff := s.now().Add(-s.staleness)
	evicted := 0
	for _, rec := range recs {
		if rec.HeartbeatAt.After(cutoff) {
			continue
		}
		// The snapshot is not atomic with respect to heartbeats, so
		// re-fetch before acting on a stale-looking record.
		fresh, ok, err := s.store.Get(ctx, rec.PartnerID)
		if err != nil {
			s.logger.Warn("re-checking partner before eviction", "partner_id", rec.PartnerID, "error", err)
			continue
		}
		if !ok || fresh.HeartbeatAt.After(cutoff) {
			continue
		}
		if err := s.offline(ctx, rec.PartnerID, eventAutoOffline, "inactive"); err != nil {
			s.logger.Warn("evicting inactive partner", "partner_id", rec.PartnerID, "error", err)
			continue
		}
		observability.EvictionsTotal.Inc()
		evicted++
	}
	if evicted > 0 {
		s.logger.Info("inactivity sweep evicted partners", "count", evicted)
	}
	return evicted
}

// ForceOffline removes a partner on an operator's order, regardless of
// heartbeat freshness.
func (s *Sweeper) ForceOffline(ctx context.Context, partnerID string) error {
	if partnerID == "" {
		return errs.InvalidInput("empty partner id")
	}
	_, ok, err := s.store.Get(ctx, partnerID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("partner", partnerID)
	}
	return s.offline(ctx, partnerID, eventForcedOffline, "forced_offline")
}

func (s *Sweeper) offline(ctx context.Context, partnerID, event, reason string) error {
	if err := s.store.SetUnavailable(ctx, partnerID); err != nil {
		return err
	}
	ts := s.now().UnixMilli()
	s.notify.ToPartner(partnerID, event, map[string]any{
		"reason":    reason,
		"timestamp": ts,
	})
	s.notify.ToAdmin(eventDriverStatusChanged, map[string]any{
		"partner_id": partnerID,
		"status":     "offline",
		"reason":     reason,
		"timestamp":  ts,
	})
	// The system of record trails the pool; a failed write is logged and
	// repaired by the next availability transition.
	if err := s.profiles.SetAvailability(ctx, partnerID, false); err != nil {
		s.logger.Warn("recording offline transition", "partner_id", partnerID, "error", err)
	}
	s.logger.Info("partner taken offline", "partner_id", partnerID, "reason", reason)
	return nil
}
