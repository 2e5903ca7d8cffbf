package registry

import (
	"sync"

	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/receipts"
)

// InMemoryRegistry is a thread-safe in-process capsule registry, for
// single-node deployments and tests.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	capsules map[[32]byte]*capsule.Capsule
	order    [][32]byte
}

// NewInMemoryRegistry returns an empty InMemoryRegistry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{capsules: make(map[[32]byte]*capsule.Capsule)}
}

func (r *InMemoryRegistry) Put(c *capsule.Capsule) error {
	if c == nil {
		return errs.New(errs.Internal, "registry: nil capsule")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.capsules[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.capsules[c.ID] = c
	return nil
}

func (r *InMemoryRegistry) Get(id [32]byte) (*capsule.Capsule, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capsules[id]
	return c, ok, nil
}

func (r *InMemoryRegistry) AppendReceipt(capsuleID [32]byte, rcpt *receipts.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.capsules[capsuleID]
	if !ok {
		return errs.New(errs.ConfigCapNotFound, "registry: no capsule %x to append a receipt to", capsuleID)
	}
	c.AppendReceipt(rcpt)
	return nil
}

func (r *InMemoryRegistry) List() ([]*capsule.Capsule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*capsule.Capsule, len(r.order))
	for i, id := range r.order {
		out[i] = r.capsules[id]
	}
	return out, nil
}

var _ Registry = (*InMemoryRegistry)(nil)
