// Package dispatch runs the offer/accept/reject/timeout protocol for
// in-flight orders. All state transitions for one order serialize on that
// order's state; the expiry timer, not message delivery, is authoritative.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/observability"
	"github.com/example/partner-dispatch/internal/orders"
	"github.com/example/partner-dispatch/internal/pool"
	"github.com/example/partner-dispatch/internal/selector"
)

// Notifier is the slice of the push channel the dispatcher needs.
type Notifier interface {
	ToPartner(partnerID, event string, data any)
	ToOrder(orderID, event string, data any)
	ToAdmin(event string, data any)
}

// Event names emitted by the dispatcher. Kept in sync with the push
// protocol without importing it, so push can stay a leaf.
const (
	eventDeliveryRequest     = "delivery_request"
	eventOrderStatusUpdated  = "order_status_updated"
	eventDriverStatusChanged = "driver_status_changed"
	eventNoDriversAvailable  = "no_drivers_available"
)

// claimGrace pads the store-side pending claim past the offer expiry so a
// crashed process cannot strand a partner, while the in-process timer
// stays authoritative.
const claimGrace = 5 * time.Second

type Coordinator struct {
	store    pool.Store
	selector *selector.Service
	notify   Notifier
	details  orders.Details // optional; offers degrade gracefully without it
	offerTTL time.Duration
	speedMps float64
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*orderState
}

// orderState is the DispatchState of one order. Only the coordinator
// mutates the offer holder; everything serializes on mu.
type orderState struct {
	mu        sync.Mutex
	orderID   string
	status    models.DispatchStatus
	current   *models.Candidate
	seq       int // increments per offer; guards against stale timers
	offeredAt time.Time
	timer     *time.Timer
	details   *models.OrderDetails
}

func New(store pool.Store, sel *selector.Service, notify Notifier, details orders.Details, offerTTL time.Duration, speedMps float64, logger *slog.Logger) *Coordinator {
	if offerTTL <= 0 {
		offerTTL = 30 * time.Second
	}
	return &Coordinator{
		store:    store,
		selector: sel,
		notify:   notify,
		details:  details,
		offerTTL: offerTTL,
		speedMps: speedMps,
		logger:   logger.With("component", "dispatcher"),
		states:   make(map[string]*orderState),
	}
}

// Dispatch starts the state machine for orderID and returns quickly:
// StatusOfferPending once the first offer is out, or StatusExhausted when
// nobody covers the pickup point (a normal outcome, not an error).
func (c *Coordinator) Dispatch(ctx context.Context, orderID string, pickup models.Coord, vehicleType string, radiusKm float64) (models.DispatchStatus, error) {
	if orderID == "" {
		return "", errs.InvalidInput("empty order id")
	}

	st := &orderState{orderID: orderID, status: models.StatusUnassigned}
	c.mu.Lock()
	if _, exists := c.states[orderID]; exists {
		c.mu.Unlock()
		return "", errs.Conflict("order %s already dispatching", orderID)
	}
	c.states[orderID] = st
	c.mu.Unlock()

	cands, err := c.selector.FindCandidates(ctx, pickup, radiusKm, vehicleType)
	if err != nil {
		c.remove(orderID)
		return "", err
	}
	if len(cands) == 0 {
		c.remove(orderID)
		observability.DispatchExhausted.Inc()
		c.notify.ToOrder(orderID, eventOrderStatusUpdated, statusPayload(orderID, "no_drivers_available", ""))
		return models.StatusExhausted, nil
	}

	if c.details != nil {
		if od, err := c.details.GetOrderDetails(ctx, orderID); err == nil {
			st.details = &od
		} else {
			c.logger.Warn("order details unavailable, sending bare offer", "order_id", orderID, "error", err)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := c.store.PushBackups(ctx, orderID, cands[1:]); err != nil {
		c.remove(orderID)
		return "", fmt.Errorf("caching backup candidates: %w", err)
	}
	c.offerLocked(ctx, st, cands[0])
	return st.status, nil
}

// Respond applies a partner's accept or reject. Late or foreign responses
// return ErrStale and leave the state machine untouched.
func (c *Coordinator) Respond(ctx context.Context, orderID, partnerID string, accept bool) error {
	st, ok := c.lookup(orderID)
	if !ok {
		return errs.NotFound("dispatch", orderID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != models.StatusOfferPending || st.current == nil || st.current.PartnerID != partnerID {
		return errs.Stale("offer for order %s no longer held by %s", orderID, partnerID)
	}
	st.timer.Stop()

	if accept {
		observability.OffersAccepted.Inc()
		if err := c.store.ReleaseOffer(ctx, partnerID); err != nil {
			c.logger.Warn("releasing offer claim", "partner_id", partnerID, "error", err)
		}
		if err := c.store.ClearBackups(ctx, orderID); err != nil {
			c.logger.Warn("clearing backups", "order_id", orderID, "error", err)
		}
		st.status = models.StatusAssigned
		c.remove(orderID)
		c.notify.ToOrder(orderID, eventOrderStatusUpdated, statusPayload(orderID, "driver_assigned", partnerID))
		c.notify.ToAdmin(eventDriverStatusChanged, map[string]any{
			"partner_id": partnerID,
			"status":     "assigned",
			"order_id":   orderID,
			"timestamp":  time.Now().UnixMilli(),
		})
		return nil
	}

	observability.OffersRejected.Inc()
	c.notify.ToOrder(orderID, eventOrderStatusUpdated, statusPayload(orderID, "driver_rejected", partnerID))
	c.advanceLocked(ctx, st)
	return nil
}

// Cancel tears the order down: stops the timer, releases any held claim,
// and drops the backup queue. A cancelled order never resumes dispatching.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	st, ok := c.lookup(orderID)
	if !ok {
		return errs.NotFound("dispatch", orderID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
	}
	if st.current != nil {
		if err := c.store.ReleaseOffer(ctx, st.current.PartnerID); err != nil {
			c.logger.Warn("releasing offer claim on cancel", "partner_id", st.current.PartnerID, "error", err)
		}
		st.current = nil
	}
	if err := c.store.ClearBackups(ctx, orderID); err != nil {
		c.logger.Warn("clearing backups on cancel", "order_id", orderID, "error", err)
	}
	st.status = models.StatusCancelled
	st.seq++ // invalidate any in-flight timer callback
	c.remove(orderID)
	c.notify.ToOrder(orderID, eventOrderStatusUpdated, statusPayload(orderID, "cancelled", ""))
	return nil
}

// Status reports the current state of an in-flight order.
func (c *Coordinator) Status(orderID string) (models.DispatchStatus, bool) {
	st, ok := c.lookup(orderID)
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, true
}

// offerLocked sends the offer to cand, skipping candidates whose pending
// claim was taken since selection, and arms the expiry timer. Caller
// holds st.mu.
func (c *Coordinator) offerLocked(ctx context.Context, st *orderState, cand models.Candidate) {
	for {
		claimed, err := c.store.ClaimOffer(ctx, cand.PartnerID, st.orderID, c.offerTTL+claimGrace)
		if err != nil {
			c.logger.Warn("claiming offer", "partner_id", cand.PartnerID, "error", err)
		}
		if claimed {
			// The candidate may have deregistered or been evicted since
			// selection; offering anyway would stall the order a full TTL.
			_, present, gerr := c.store.Get(ctx, cand.PartnerID)
			if gerr != nil {
				c.logger.Warn("re-checking candidate availability", "partner_id", cand.PartnerID, "error", gerr)
			}
			if present || gerr != nil {
				break
			}
			if rerr := c.store.ReleaseOffer(ctx, cand.PartnerID); rerr != nil {
				c.logger.Warn("releasing offer claim", "partner_id", cand.PartnerID, "error", rerr)
			}
		}
		next, ok, perr := c.store.PopBackup(ctx, st.orderID)
		if perr != nil {
			c.logger.Warn("popping backup", "order_id", st.orderID, "error", perr)
		}
		if !ok {
			c.exhaustLocked(ctx, st)
			return
		}
		cand = next
	}

	st.current = &cand
	st.status = models.StatusOfferPending
	st.offeredAt = time.Now()
	st.seq++
	seq := st.seq

	c.notify.ToPartner(cand.PartnerID, eventDeliveryRequest, c.buildOffer(st, cand))
	observability.OffersSent.Inc()

	st.timer = time.AfterFunc(c.offerTTL, func() { c.expire(st.orderID, seq) })
}

// expire fires when an offer times out. The sequence guard drops timers
// that lost a race with an accept, reject, or cancel.
func (c *Coordinator) expire(orderID string, seq int) {
	st, ok := c.lookup(orderID)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != models.StatusOfferPending || st.seq != seq {
		return
	}
	observability.OffersExpired.Inc()
	c.advanceLocked(context.Background(), st)
}

// advanceLocked releases the current holder and moves to the next backup,
// exhausting when none remain. Caller holds st.mu.
func (c *Coordinator) advanceLocked(ctx context.Context, st *orderState) {
	if st.current != nil {
		if err := c.store.ReleaseOffer(ctx, st.current.PartnerID); err != nil {
			c.logger.Warn("releasing offer claim", "partner_id", st.current.PartnerID, "error", err)
		}
		st.current = nil
	}
	next, ok, err := c.store.PopBackup(ctx, st.orderID)
	if err != nil {
		c.logger.Warn("popping backup", "order_id", st.orderID, "error", err)
	}
	if !ok {
		c.exhaustLocked(ctx, st)
		return
	}
	c.offerLocked(ctx, st, next)
}

func (c *Coordinator) exhaustLocked(ctx context.Context, st *orderState) {
	st.status = models.StatusExhausted
	st.seq++
	observability.DispatchExhausted.Inc()
	if err := c.store.ClearBackups(ctx, st.orderID); err != nil {
		c.logger.Warn("clearing backups", "order_id", st.orderID, "error", err)
	}
	c.remove(st.orderID)
	c.notify.ToOrder(st.orderID, eventOrderStatusUpdated, statusPayload(st.orderID, "no_drivers_available", ""))
	c.notify.ToOrder(st.orderID, eventNoDriversAvailable, map[string]any{
		"order_id":  st.orderID,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (c *Coordinator) buildOffer(st *orderState, cand models.Candidate) models.Offer {
	offer := models.Offer{
		OrderID:     st.orderID,
		DistanceKm:  cand.DistanceKm,
		ExpiresInMs: c.offerTTL.Milliseconds(),
	}
	if c.speedMps > 0 {
		eta := time.Duration(cand.DistanceKm * 1000 / c.speedMps * float64(time.Second))
		offer.EstimatedTime = eta.Round(time.Second).String()
	}
	if st.details != nil {
		offer.PickupAddress = st.details.PickupAddress
		offer.DropAddress = st.details.DropAddress
		offer.CustomerName = st.details.CustomerName
		offer.Amount = st.details.Amount
		offer.PaymentMethod = st.details.PaymentMethod
	}
	return offer
}

func (c *Coordinator) lookup(orderID string) (*orderState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[orderID]
	return st, ok
}

func (c *Coordinator) remove(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, orderID)
}

func statusPayload(orderID, status, partnerID string) map[string]any {
	p := map[string]any{
		"order_id":  orderID,
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	}
	if partnerID != "" {
		p["partner_id"] = partnerID
	}
	return p
}
