// Package registry is the capsule registry: the source of truth for
// sealed capsules and their receipt chains, queried by daemons and CLIs
// that need to look a capsule back up by ID after it was sealed
// elsewhere. It also satisfies pkg/effect's ReceiptSink, so the pipeline
// runtime's AppendReceipt effect lands here.
//
// Grounded on the teacher's pkg/registry/registry.go (Registry interface
// over an in-memory module catalog) and pkg/registry/postgres_registry.go
// (the same interface backed by SQL), generalized from installed
// capability bundles to sealed capsules.
package registry

import (
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/receipts"
)

// Registry is the source of truth for sealed capsules.
type Registry interface {
	// Put stores a capsule, keyed by its content-addressed ID.
	Put(c *capsule.Capsule) error
	// Get retrieves a capsule by ID.
	Get(id [32]byte) (*capsule.Capsule, bool, error)
	// AppendReceipt appends a hop receipt to a previously-stored
	// capsule's chain, satisfying pkg/effect.ReceiptSink.
	AppendReceipt(capsuleID [32]byte, r *receipts.Receipt) error
	// List returns every stored capsule. InMemoryRegistry returns them in
	// insertion order; SQLRegistry does not order them.
	List() ([]*capsule.Capsule, error)
}
