package profile

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/models"
)

// PostgresStore persists partner profile state in the partners table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetProfile(ctx context.Context, partnerID string) (Profile, error) {
	var out Profile
	err := p.db.QueryRowContext(ctx,
		`SELECT partner_id, full_name, phone, vehicle_type, is_available, total_orders, completed_orders, cancelled_orders
		 FROM partners WHERE partner_id = $1`, partnerID).
		Scan(&out.PartnerID, &out.Name, &out.Phone, &out.VehicleType,
			&out.IsAvailable, &out.TotalOrders, &out.Completed, &out.Cancelled)
	if err == sql.ErrNoRows {
		return Profile{}, errs.NotFound("partner", partnerID)
	}
	if err != nil {
		return Profile{}, errs.Upstream("get profile", err)
	}
	return out, nil
}

func (p *PostgresStore) SetAvailability(ctx context.Context, partnerID string, available bool) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE partners SET is_available = $1, last_online = $2 WHERE partner_id = $3`,
		available, time.Now(), partnerID)
	if err != nil {
		return errs.Upstream("set availability", err)
	}
	return nil
}

func (p *PostgresStore) IncrementDeliveryStats(ctx context.Context, partnerID string, outcome models.DeliveryOutcome) error {
	col := "completed_orders"
	if outcome == models.OutcomeCancelled {
		col = "cancelled_orders"
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE partners SET total_orders = total_orders + 1, `+col+` = `+col+` + 1 WHERE partner_id = $1`,
		partnerID)
	if err != nil {
		return errs.Upstream("increment delivery stats", err)
	}
	return nil
}

func (p *PostgresStore) UpdateLastOnline(ctx context.Context, partnerID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE partners SET last_online = $1 WHERE partner_id = $2`, time.Now(), partnerID)
	if err != nil {
		return errs.Upstream("update last online", err)
	}
	return nil
}
