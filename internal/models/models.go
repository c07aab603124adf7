package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleAny matches every vehicle class, including partners whose class
// was never set.
const VehicleAny = "any"

// AvailabilityRecord is one entry in the live driver pool. A record exists
// exactly while the partner is eligible to receive offers.
type AvailabilityRecord struct {
	PartnerID   string    `json:"partner_id"`
	Loc         Coord     `json:"loc"`
	VehicleType string    `json:"vehicle_type"`
	Name        string    `json:"name,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Candidate is an availability record scored against a pickup point.
type Candidate struct {
	PartnerID   string    `json:"partner_id"`
	Loc         Coord     `json:"loc"`
	VehicleType string    `json:"vehicle_type"`
	Name        string    `json:"name,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DistanceKm  float64   `json:"distance_km"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Offer is the payload pushed to a partner's channel for one order.
type Offer struct {
	OrderID       string  `json:"order_id"`
	PickupAddress string  `json:"pickup_address,omitempty"`
	DropAddress   string  `json:"drop_address,omitempty"`
	CustomerName  string  `json:"customer_name,omitempty"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	DistanceKm    float64 `json:"distance_km"`
	EstimatedTime string  `json:"estimated_time,omitempty"`
	ExpiresInMs   int64   `json:"expires_in_ms"`
}

// DispatchStatus is the externally visible state of one in-flight order.
type DispatchStatus string

const (
	StatusUnassigned   DispatchStatus = "unassigned"
	StatusOfferPending DispatchStatus = "offer_pending"
	StatusAssigned     DispatchStatus = "assigned"
	StatusExhausted    DispatchStatus = "exhausted"
	StatusCancelled    DispatchStatus = "cancelled"
)

// OrderDetails is what the order collaborator returns for an order id.
type OrderDetails struct {
	OrderID       string  `json:"order_id"`
	CustomerName  string  `json:"customer_name"`
	PickupAddress string  `json:"pickup_address"`
	DropAddress   string  `json:"dropoff_address"`
	Amount        float64 `json:"total_amount"`
	DistanceKm    float64 `json:"distance"`
	PaymentMethod string  `json:"payment_method"`
}

// VerificationPhase names the two code-gated order transitions.
type VerificationPhase string

const (
	PhasePickup  VerificationPhase = "pickup"
	PhaseDropoff VerificationPhase = "dropoff"
)

// Valid reports whether p is one of the known phases.
func (p VerificationPhase) Valid() bool {
	return p == PhasePickup || p == PhaseDropoff
}

// Status returns the order status a verified phase advances to.
func (p VerificationPhase) Status() string {
	if p == PhaseDropoff {
		return "delivered"
	}
	return "picked_up"
}

// DeliveryOutcome is reported to the profile store when a delivery closes.
type DeliveryOutcome string

const (
	OutcomeCompleted DeliveryOutcome = "completed"
	OutcomeCancelled DeliveryOutcome = "cancelled"
)
