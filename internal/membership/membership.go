package membership

import (
	"fmt"
	"sync"

	"chargeledger/internal/ledger"
)

// Registry is an in-process membership registry implementing
// ledger.MembershipRegistry. Each organization has one owner and a member
// set; both are seeded from config and members can grow at runtime through
// the ledger's AddCharger call.
type Registry struct {
	mu      sync.RWMutex
	owners  map[ledger.Organization]ledger.AccountID
	members map[ledger.Organization]map[ledger.AccountID]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		owners:  make(map[ledger.Organization]ledger.AccountID),
		members: make(map[ledger.Organization]map[ledger.AccountID]struct{}),
	}
}

// SetOwner assigns the organization owner (the only account allowed to add
// members through guarded calls).
func (r *Registry) SetOwner(org ledger.Organization, owner ledger.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[org] = owner
}

// Owner returns the organization owner, if one is set.
func (r *Registry) Owner(org ledger.Organization) (ledger.AccountID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[org]
	return owner, ok
}

// Add inserts an account into the organization member set.
func (r *Registry) Add(org ledger.Organization, who ledger.AccountID) error {
	if who == "" {
		return fmt.Errorf("membership: empty account for organization %s", org)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[org]
	if !ok {
		set = make(map[ledger.AccountID]struct{})
		r.members[org] = set
	}
	set[who] = struct{}{}
	return nil
}

// IsMember reports whether the account belongs to the organization.
func (r *Registry) IsMember(org ledger.Organization, who ledger.AccountID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[org][who]
	return ok
}
