// Package capsule implements the signed envelope of spec §3.2/§4.4: a
// stable content-addressed Capsule carrying a Header, an Envelope body, a
// domain-separated Ed25519 Seal, and an append-only Receipt chain.
//
// Grounded on the teacher's Autonomy Envelope validator (pkg/envelope/
// validator.go, gate.go) for structural-invariant enforcement and on
// pkg/crypto/signer.go for the domain-separated sign/verify shape.
package capsule

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/canon/rho"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/receipts"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

// Domain is the capsule domain-separation tag.
const Domain = "ubl-capsule/1.0"

// Verdict is the closed set of outcomes: ALLOW, DENY and REQUIRE are the
// ones a capability may set, GHOST is a capsule verdict that requires
// links.prev, and VerdictNone means no verdict.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictAllow
	VerdictDeny
	VerdictRequire
	VerdictGhost
)

// VerdictText renders the stable string encoding of a Verdict used in
// hop-id construction (pkg/pipeline) and wire representations.
func VerdictText(v Verdict) string {
	switch v {
	case VerdictAllow:
		return "ALLOW"
	case VerdictDeny:
		return "DENY"
	case VerdictRequire:
		return "REQUIRE"
	case VerdictGhost:
		return "GHOST"
	default:
		return ""
	}
}

// Header carries the capsule's addressing and timing metadata. Src, Dst,
// and Kid-like identity fields are ASCII-only.
type Header struct {
	Src    string
	Dst    string // optional, empty if absent
	Nonce  [16]byte
	Ts     int64
	Act    string
	Scope  string // optional
	Exp    int64  // optional, 0 if absent
	HasDst bool
	HasExp bool
}

// Links holds the capsule's optional predecessor pointer, required for
// GHOST-verdict capsules.
type Links struct {
	Prev    [32]byte
	HasPrev bool
}

// Envelope is the capsule's payload: the value body plus evidence and
// optional links to a predecessor.
type Envelope struct {
	Body        canon.Value
	Links       Links
	Evidence    []string
	HasEvidence bool
}

// Seal is the capsule's Ed25519 signature block.
type Seal struct {
	Kid    string
	Sig    [64]byte
	Scope  string // always "capsule"
	Aud    string
	HasAud bool
}

// Capsule is the full signed envelope.
type Capsule struct {
	Domain   string
	ID       [32]byte
	Hdr      Header
	Env      Envelope
	Seal     Seal
	Receipts []*receipts.Receipt
	Verdict  Verdict
}

func headerValue(h Header) canon.Value {
	entries := []canon.MapEntry{
		canon.E("src", canon.Str(h.Src)),
		canon.E("nonce", canon.Bytes(h.Nonce[:])),
		canon.E("ts", canon.Int(h.Ts)),
		canon.E("act", canon.Str(h.Act)),
	}
	if h.HasDst {
		entries = append(entries, canon.E("dst", canon.Str(h.Dst)))
	}
	if h.Scope != "" {
		entries = append(entries, canon.E("scope", canon.Str(h.Scope)))
	}
	if h.HasExp {
		entries = append(entries, canon.E("exp", canon.Int(h.Exp)))
	}
	return canon.MustMap(entries...)
}

func envelopeValue(e Envelope) canon.Value {
	entries := []canon.MapEntry{canon.E("body", e.Body)}
	linkEntries := []canon.MapEntry{}
	if e.Links.HasPrev {
		linkEntries = append(linkEntries, canon.E("prev", canon.Bytes(e.Links.Prev[:])))
	}
	entries = append(entries, canon.E("links", canon.MustMap(linkEntries...)))
	if e.HasEvidence {
		ev := make([]canon.Value, len(e.Evidence))
		for i, s := range e.Evidence {
			ev[i] = canon.Str(s)
		}
		entries = append(entries, canon.E("evidence", canon.ArrayOf(ev)))
	}
	return canon.MustMap(entries...)
}

func sealWithoutSigValue(s Seal) canon.Value {
	entries := []canon.MapEntry{
		canon.E("kid", canon.Str(s.Kid)),
		canon.E("scope", canon.Str(s.Scope)),
	}
	if s.HasAud {
		entries = append(entries, canon.E("aud", canon.Str(s.Aud)))
	}
	return canon.MustMap(entries...)
}

// ComputeID computes the stable content address: hash over domain, hdr,
// env, and seal-without-sig, after ρ-normalization. Receipts and seal.sig
// are excluded, so appending hops never changes the ID.
func ComputeID(domain string, hdr Header, env Envelope, seal Seal) [32]byte {
	core := canon.MustMap(
		canon.E("domain", canon.Str(domain)),
		canon.E("hdr", headerValue(hdr)),
		canon.E("env", envelopeValue(env)),
		canon.E("seal_without_sig", sealWithoutSigValue(seal)),
	)
	normalized := rho.Normalize(core)
	return canon.HashValue(normalized)
}

// sealHash computes the domain-separated digest that is actually signed:
// over domain, id, hdr, env (the seal block itself is not included).
func sealHash(domain string, id [32]byte, hdr Header, env Envelope) [32]byte {
	v := canon.MustMap(
		canon.E("domain", canon.Str(domain)),
		canon.E("id", canon.Bytes(id[:])),
		canon.E("hdr", headerValue(hdr)),
		canon.E("env", envelopeValue(env)),
	)
	return canon.HashValue(v)
}

// Build validates ASCII fields, computes the stable ID, seals it, and
// returns a new Capsule. verdict governs the structural invariants
// checked before the seal is produced (see CheckStructuralInvariants).
func Build(hdr Header, env Envelope, kid, scope, aud string, hasAud bool, verdict Verdict, k *sealer.KeyPair) (*Capsule, error) {
	if err := validateASCIIFields(hdr, kid, aud, hasAud); err != nil {
		return nil, err
	}
	seal := Seal{Kid: kid, Scope: scope, Aud: aud, HasAud: hasAud}
	if err := CheckStructuralInvariants(verdict, env); err != nil {
		return nil, err
	}
	id := ComputeID(Domain, hdr, env, seal)
	digest := sealHash(Domain, id, hdr, env)
	seal.Sig = k.Sign(digest)

	return &Capsule{
		Domain:  Domain,
		ID:      id,
		Hdr:     hdr,
		Env:     env,
		Seal:    seal,
		Verdict: verdict,
	}, nil
}

func validateASCIIFields(hdr Header, kid, aud string, hasAud bool) error {
	if err := canon.RequireASCII(hdr.Src); err != nil {
		return err
	}
	if hdr.HasDst {
		if err := canon.RequireASCII(hdr.Dst); err != nil {
			return err
		}
	}
	if err := canon.RequireASCII(kid); err != nil {
		return err
	}
	if hasAud {
		if err := canon.RequireASCII(aud); err != nil {
			return err
		}
	}
	return nil
}

// CheckStructuralInvariants enforces spec §4.4's pre-seal structural
// rules: GHOST verdicts require links.prev; ALLOW/DENY require the
// evidence field to be present (it may be empty).
func CheckStructuralInvariants(verdict Verdict, env Envelope) error {
	switch verdict {
	case VerdictGhost:
		if !env.Links.HasPrev {
			return errs.New(errs.HdrMissingField, "GHOST capsule requires links.prev")
		}
	case VerdictAllow, VerdictDeny:
		if !env.HasEvidence {
			return errs.New(errs.HdrMissingField, "ALLOW/DENY capsule requires the evidence field to be present")
		}
	}
	return nil
}

// VerifyOpts bounds optional expiry checking.
type VerifyOpts struct {
	Now       int64
	CheckExp  bool
	SkewNanos int64
}

// VerifySeal implements the algorithm of spec §4.4: domain/scope/audience
// checks, ID recomputation, signature verification, and optional expiry.
func VerifySeal(c *Capsule, resolve sealer.Resolver, opts VerifyOpts) error {
	if c.Domain != Domain {
		return errs.New(errs.SealBadDomain, "capsule domain %q does not match %q", c.Domain, Domain)
	}
	if c.Seal.Scope != "capsule" {
		return errs.New(errs.SealBadScope, "seal scope %q is not \"capsule\"", c.Seal.Scope)
	}
	if c.Seal.HasAud {
		if !c.Hdr.HasDst || c.Hdr.Dst != c.Seal.Aud {
			return errs.New(errs.SealBadAudience, "seal audience %q does not match hdr.dst", c.Seal.Aud)
		}
	}
	wantID := ComputeID(c.Domain, c.Hdr, c.Env, c.Seal)
	if wantID != c.ID {
		return errs.New(errs.SealIdMismatch, "recomputed capsule id does not match stored id")
	}
	pk, ok := resolve(c.Seal.Kid)
	if !ok {
		return errs.New(errs.SealMissing, "no public key resolvable for kid %q", c.Seal.Kid)
	}
	digest := sealHash(c.Domain, c.ID, c.Hdr, c.Env)
	if !sealer.Verify(pk, digest, c.Seal.Sig) {
		return errs.New(errs.SealBadSignature, "seal signature does not verify")
	}
	if opts.CheckExp && c.Hdr.HasExp {
		if opts.Now > c.Hdr.Exp+opts.SkewNanos {
			return errs.New(errs.SealExpired, "capsule expired at %d (now %d)", c.Hdr.Exp, opts.Now)
		}
	}
	return nil
}

// AppendReceipt appends a receipt to the capsule's chain. The capsule ID
// is unaffected, per spec §3.5.
func (c *Capsule) AppendReceipt(r *receipts.Receipt) {
	c.Receipts = append(c.Receipts, r)
}

// VerifyReceipts runs the full receipt-chain verification (spec §4.5)
// against this capsule's current receipt list.
func (c *Capsule) VerifyReceipts(resolve sealer.Resolver) error {
	return receipts.VerifyChain(c.ID, c.Receipts, resolve)
}
