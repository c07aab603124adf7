// Package pool holds the live partner availability store: one record per
// partner currently eligible for offers, a geo index for radius queries,
// per-partner pending-offer claims, and per-order backup candidate queues.
package pool

import (
	"context"
	"time"

	"github.com/example/partner-dispatch/internal/models"
)

// Store is the contract consumed by the selector, dispatcher, and monitor.
// Implementations must make each call atomic with respect to concurrent
// callers; the application never compensates for torn updates.
type Store interface {
	// SetAvailable upserts the record, resets its heartbeat, and indexes
	// the position. Idempotent.
	SetAvailable(ctx context.Context, rec models.AvailabilityRecord) error

	// SetUnavailable removes the record, its geo entry, and any pending
	// claim. Idempotent; succeeds for unknown partners.
	SetUnavailable(ctx context.Context, partnerID string) error

	// Heartbeat refreshes the record's timestamp and, when loc is given,
	// its position. Returns false (and no error) when the partner is not
	// registered; callers treat that as "re-register availability".
	Heartbeat(ctx context.Context, partnerID string, loc *models.Coord) (bool, error)

	// QueryNear returns records within radiusKm matching vehicleType.
	// Stale records and partners holding a pending-offer claim are never
	// returned.
	QueryNear(ctx context.Context, origin models.Coord, radiusKm float64, vehicleType string) ([]models.AvailabilityRecord, error)

	Get(ctx context.Context, partnerID string) (models.AvailabilityRecord, bool, error)
	Snapshot(ctx context.Context) ([]models.AvailabilityRecord, error)

	// ClaimOffer atomically marks the partner as holding an outstanding
	// offer for orderID. Returns false when another claim is in place.
	ClaimOffer(ctx context.Context, partnerID, orderID string, ttl time.Duration) (bool, error)
	ReleaseOffer(ctx context.Context, partnerID string) error

	PushBackups(ctx context.Context, orderID string, cands []models.Candidate) error
	PopBackup(ctx context.Context, orderID string) (models.Candidate, bool, error)
	ClearBackups(ctx context.Context, orderID string) error
}

// backupTTL bounds how long an order's backup queue may outlive its
// dispatch before Redis reclaims it.
const backupTTL = 15 * time.Minute
