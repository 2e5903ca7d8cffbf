// Package receipts implements the append-only per-hop custody chain
// attached to a capsule (spec §3.3, §4.5), grounded on the teacher's
// receipt signing (pkg/crypto/signer.go SignReceipt/VerifyReceipt) and
// prev-hash chain linking (pkg/merkle/tree.go's leaf/node domain-separated
// hashing idiom).
package receipts

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

// Domain is the domain-separation tag mixed into every receipt's ID hash.
const Domain = "ubl-receipt/1.0"

// Zero32 is the genesis prev value: 32 zero bytes.
var Zero32 [32]byte

// Receipt is one signed hop of custody over a capsule.
type Receipt struct {
	ID   [32]byte
	Of   [32]byte
	Prev [32]byte
	Kind string
	Node string // hex-encoded Ed25519 public key, the signer's kid
	Ts   int64
	Sig  [64]byte
}

func payload(kind, node string, of, prev [32]byte, ts int64) canon.Value {
	return canon.MustMap(
		canon.E("domain", canon.Str(Domain)),
		canon.E("kind", canon.Str(kind)),
		canon.E("node", canon.Str(node)),
		canon.E("of", canon.Bytes(of[:])),
		canon.E("prev", canon.Bytes(prev[:])),
		canon.E("ts", canon.Int(ts)),
	)
}

// ComputeID computes a receipt's content-addressed ID from its fields.
func ComputeID(kind, node string, of, prev [32]byte, ts int64) [32]byte {
	return canon.HashValue(payload(kind, node, of, prev, ts))
}

// Sign constructs and signs a new receipt. ts is caller-supplied
// epoch-nanoseconds so tests can be deterministic. The signing node's
// identity is k.Kid.
func Sign(of, prev [32]byte, kind string, ts int64, k *sealer.KeyPair) (*Receipt, error) {
	if err := canon.RequireASCII(k.Kid); err != nil {
		return nil, errs.New(errs.HopNotASCII, "node id is not ASCII")
	}
	id := ComputeID(kind, k.Kid, of, prev, ts)
	sig := k.Sign(id)
	return &Receipt{ID: id, Of: of, Prev: prev, Kind: kind, Node: k.Kid, Ts: ts, Sig: sig}, nil
}

// Verify recomputes a receipt's ID from its payload and checks the
// signature against the public key resolved from r.Node.
func Verify(r *Receipt, resolve sealer.Resolver) error {
	if err := canon.RequireASCII(r.Node); err != nil {
		return errs.New(errs.HopNotASCII, "node id is not ASCII")
	}
	wantID := ComputeID(r.Kind, r.Node, r.Of, r.Prev, r.Ts)
	if wantID != r.ID {
		return errs.New(errs.HopBadChain, "receipt id does not match recomputed payload hash")
	}
	pk, ok := resolve(r.Node)
	if !ok {
		return errs.New(errs.HopMissing, "no public key resolvable for node %q", r.Node)
	}
	if !sealer.Verify(pk, r.ID, r.Sig) {
		return errs.New(errs.HopBadSignature, "receipt signature does not verify")
	}
	return nil
}

// VerifyChain checks the full ordering, linkage, ownership, signature, and
// fork-freedom invariants of spec §4.5 over a receipt slice in order.
func VerifyChain(capsuleID [32]byte, rs []*Receipt, resolve sealer.Resolver) error {
	if len(rs) == 0 {
		return nil
	}
	if rs[0].Prev != Zero32 {
		return errs.New(errs.HopBadChain, "first receipt's prev is not genesis (all-zero)")
	}
	seenPrev := make(map[[32]byte]bool, len(rs))
	for i, r := range rs {
		if r.Of != capsuleID {
			return errs.New(errs.HopBadChain, "receipt %d belongs to a different capsule", i)
		}
		if i > 0 && r.Prev != rs[i-1].ID {
			return errs.New(errs.HopBadChain, "receipt %d does not chain to receipt %d", i, i-1)
		}
		if seenPrev[r.Prev] {
			return errs.New(errs.HopFork, "two receipts share prev %x: fork at %d", r.Prev, i)
		}
		seenPrev[r.Prev] = true
		if err := Verify(r, resolve); err != nil {
			return err
		}
	}
	return nil
}

// AppendHop builds the next receipt in a chain given the current last
// receipt id (or Zero32 for an empty chain) and signs it.
func AppendHop(capsuleID [32]byte, lastID [32]byte, kind string, ts int64, k *sealer.KeyPair) (*Receipt, error) {
	return Sign(capsuleID, lastID, kind, ts, k)
}
