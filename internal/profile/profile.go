// Package profile is the narrow client for the partner system of record.
// The dispatch core treats it as an external collaborator: it is updated
// on availability transitions and delivery completion, and is never read
// on the hot matching path.
package profile

import (
	"context"
	"sync"

	"github.com/example/partner-dispatch/internal/models"
)

// Profile is the subset of partner data the dispatch core cares about.
type Profile struct {
	PartnerID   string
	Name        string
	Phone       string
	VehicleType string
	IsAvailable bool
	TotalOrders int
	Completed   int
	Cancelled   int
}

// Store is the collaborator contract. Implementations must be safe for
// concurrent use.
type Store interface {
	GetProfile(ctx context.Context, partnerID string) (Profile, error)
	SetAvailability(ctx context.Context, partnerID string, available bool) error
	IncrementDeliveryStats(ctx context.Context, partnerID string, outcome models.DeliveryOutcome) error
	UpdateLastOnline(ctx context.Context, partnerID string) error
}

// MemoryStore backs tests and Redis-only local runs.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (m *MemoryStore) Put(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.PartnerID] = p
}

func (m *MemoryStore) GetProfile(_ context.Context, partnerID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[partnerID], nil
}

func (m *MemoryStore) SetAvailability(_ context.Context, partnerID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[partnerID]
	p.PartnerID = partnerID
	p.IsAvailable = available
	m.profiles[partnerID] = p
	return nil
}

func (m *MemoryStore) IncrementDeliveryStats(_ context.Context, partnerID string, outcome models.DeliveryOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[partnerID]
	p.PartnerID = partnerID
	p.TotalOrders++
	switch outcome {
	case models.OutcomeCompleted:
		p.Completed++
	case models.OutcomeCancelled:
		p.Cancelled++
	}
	m.profiles[partnerID] = p
	return nil
}

func (m *MemoryStore) UpdateLastOnline(_ context.Context, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[partnerID]
	p.PartnerID = partnerID
	m.profiles[partnerID] = p
	return nil
}
