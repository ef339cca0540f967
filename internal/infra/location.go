package infra

import (
	"context"

	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// StoreLocationProvider implements domain.LocationProvider: the location
// collaborator writes updates into the shared store; when none has been
// recorded yet, a configured fallback serves.
type StoreLocationProvider struct {
	shared   *store.Shared
	fallback domain.Location
}

// NewStoreLocationProvider creates a location provider with a fallback.
func NewStoreLocationProvider(shared *store.Shared, fallback domain.Location) *StoreLocationProvider {
	return &StoreLocationProvider{shared: shared, fallback: fallback}
}

// Current returns the most recent recorded location, or the fallback.
func (p *StoreLocationProvider) Current(ctx context.Context) (domain.Location, error) {
	if loc, ok := p.shared.LocationOverride(); ok {
		return loc, nil
	}
	return p.fallback, nil
}

// Ensure StoreLocationProvider implements domain.LocationProvider.
var _ domain.LocationProvider = (*StoreLocationProvider)(nil)
