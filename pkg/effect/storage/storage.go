// Package storage provides content-addressed object stores for the
// WriteStorage effect, adapted from the teacher's pkg/artifacts stores:
// each backend hashes the payload, uses the hash as the object key, and
// treats a pre-existing object at that key as success (idempotent write).
package storage

import (
	"context"

	"github.com/nrf1proto/capsule/pkg/canon"
)

// Store persists content-addressed blobs and retrieves them by the
// "b3:<hex>" content identifier returned from Store.
type Store interface {
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Exists(ctx context.Context, cid string) (bool, error)
	Delete(ctx context.Context, cid string) error
}

func contentID(data []byte) string {
	h := canon.HashBytes(data)
	return canon.CIDFromHash(h)
}
