package dispatch

import (
	"context"
	"sync"
)

// Claimer guards driver assignment with a compare-and-set on the driver.
// Claim succeeds when the driver is unclaimed or already claimed for the same
// delivery; Release only removes a claim held for the given delivery.
type Claimer interface {
	Claim(ctx context.Context, driverID, deliveryID string) (bool, error)
	Release(ctx context.Context, driverID, deliveryID string) error
}

// MemoryClaimer is a process-local Claimer.
type MemoryClaimer struct {
	mu     sync.Mutex
	claims map[string]string
}

// NewMemoryClaimer returns an empty MemoryClaimer.
func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claims: map[string]string{}}
}

func (m *MemoryClaimer) Claim(_ context.Context, driverID, deliveryID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.claims[driverID]; ok && owner != deliveryID {
		return false, nil
	}
	m.claims[driverID] = deliveryID
	return true, nil
}

func (m *MemoryClaimer) Release(_ context.Context, driverID, deliveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[driverID] == deliveryID {
		delete(m.claims, driverID)
	}
	return nil
}
