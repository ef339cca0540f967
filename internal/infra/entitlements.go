package infra

import (
	"github.com/mizanapps/salahguard/internal/domain"
	"github.com/mizanapps/salahguard/internal/store"
)

// StoreEntitlements implements domain.Entitlements by reading the flag
// the purchase collaborator writes into the shared store. Verification
// logic itself is out of scope; absent means locked.
type StoreEntitlements struct {
	shared *store.Shared
}

// NewStoreEntitlements creates the entitlement reader.
func NewStoreEntitlements(shared *store.Shared) *StoreEntitlements {
	return &StoreEntitlements{shared: shared}
}

// BlockingUnlocked reports whether the blocking feature is unlocked.
func (e *StoreEntitlements) BlockingUnlocked() bool {
	return e.shared.EntitlementUnlocked()
}

// Ensure StoreEntitlements implements domain.Entitlements.
var _ domain.Entitlements = (*StoreEntitlements)(nil)
