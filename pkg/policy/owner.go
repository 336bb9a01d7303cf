package policy

import (
	"sync"

	"github.com/authgate/authgate/pkg/authorize"
)

// OwnerResolver supplies the recorded creator of a resource. The
// resource-owning APIs persist ownership when a resource is created; the
// policy engine only ever reads it. A nil principal (with ok true or
// false alike) means the resource is statically pre-configured and owned
// by nobody.
type OwnerResolver interface {
	Owner(ref ResourceRef) (*authorize.Principal, bool)
}

// OwnerRegistry is an in-memory OwnerResolver used by the demo server
// and tests. Production deployments resolve ownership from the resource
// store itself.
type OwnerRegistry struct {
	mu     sync.RWMutex
	owners map[ResourceRef]*authorize.Principal
}

func NewOwnerRegistry() *OwnerRegistry {
	return &OwnerRegistry{owners: make(map[ResourceRef]*authorize.Principal)}
}

// Record registers p as the creator of the resource.
func (r *OwnerRegistry) Record(ref ResourceRef, p *authorize.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[ref] = p
}

// Forget drops the ownership record, e.g. after a delete.
func (r *OwnerRegistry) Forget(ref ResourceRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, ref)
}

func (r *OwnerRegistry) Owner(ref ResourceRef) (*authorize.Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.owners[ref]
	return p, ok
}
