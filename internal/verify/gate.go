// Package verify implements the code-gated pickup and dropoff transitions.
// The customer holds the code, the partner submits it, and an order only
// advances when the two match. Each phase verifies exactly once.
package verify

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/observability"
	"github.com/example/partner-dispatch/internal/profile"
)

// Notifier is the slice of the push hub the gate needs.
type Notifier interface {
	ToOrder(orderID, event string, data any)
}

const (
	eventOrderStatusUpdated = "order_status_updated"
	eventPickupVerified     = "pickup_verified"
	eventDeliveryCompleted  = "delivery_completed"
)

// Gate issues and checks verification codes.
type Gate struct {
	codes    CodeStore
	profiles profile.Store
	notify   Notifier
	codeTTL  time.Duration
	logger   *slog.Logger
}

func NewGate(codes CodeStore, profiles profile.Store, notify Notifier, codeTTL time.Duration, logger *slog.Logger) *Gate {
	return &Gate{codes: codes, profiles: profiles, notify: notify, codeTTL: codeTTL, logger: logger}
}

// IssueCode generates a fresh 6-digit code for the phase. Re-issuing an
// unconsumed code replaces it; a consumed phase can never be re-opened.
func (g *Gate) IssueCode(ctx context.Context, orderID string, phase models.VerificationPhase) (string, error) {
	if orderID == "" {
		return "", errs.InvalidInput("empty order id")
	}
	if !phase.Valid() {
		return "", errs.InvalidInput("unknown verification phase %q", phase)
	}

	if _, consumed, err := g.codes.Load(ctx, orderID, phase); err == nil && consumed {
		return "", errs.Conflict("%s already verified for order %s", phase, orderID)
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}
	if err := g.codes.Save(ctx, orderID, phase, code, g.codeTTL); err != nil {
		return "", err
	}
	g.logger.Info("verification code issued", "order_id", orderID, "phase", phase)
	return code, nil
}

// Verify checks the submitted code. On first success it consumes the code,
// broadcasts the order transition, and for dropoff credits the partner's
// delivery stats. Repeating a verified phase with the correct code is a
// no-op success so retried submissions stay exactly-once.
func (g *Gate) Verify(ctx context.Context, orderID, partnerID string, phase models.VerificationPhase, submitted string) error {
	if !phase.Valid() {
		return errs.InvalidInput("unknown verification phase %q", phase)
	}
	if submitted == "" {
		return errs.InvalidInput("empty verification code")
	}

	code, consumed, err := g.codes.Load(ctx, orderID, phase)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(submitted)) != 1 {
		return fmt.Errorf("order %s %s: %w", orderID, phase, errs.ErrCodeMismatch)
	}
	if consumed {
		return nil
	}
	if err := g.codes.Consume(ctx, orderID, phase); err != nil {
		return err
	}

	observability.CodesVerified.WithLabelValues(string(phase)).Inc()
	payload := map[string]any{
		"order_id":   orderID,
		"status":     phase.Status(),
		"partner_id": partnerID,
		"timestamp":  time.Now().UnixMilli(),
	}
	g.notify.ToOrder(orderID, eventOrderStatusUpdated, payload)
	if phase == models.PhaseDropoff {
		g.notify.ToOrder(orderID, eventDeliveryCompleted, payload)
		if err := g.profiles.IncrementDeliveryStats(ctx, partnerID, models.OutcomeCompleted); err != nil {
			g.logger.Warn("crediting delivery stats", "partner_id", partnerID, "error", err)
		}
	} else {
		g.notify.ToOrder(orderID, eventPickupVerified, payload)
	}
	g.logger.Info("verification code accepted", "order_id", orderID, "phase", phase, "partner_id", partnerID)
	return nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
