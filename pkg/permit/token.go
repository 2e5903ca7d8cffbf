package permit

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/canon/rho"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

// TokenDomain is the domain-separation tag for Execution Permit seals,
// distinct from capsule.Domain so a permit token can never verify as a
// capsule seal or vice versa.
const TokenDomain = "ubl-permit/1.0"

// Decision is the closed outcome an Execution Permit carries; only
// DecisionAllow ever verifies.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	if d == DecisionAllow {
		return "ALLOW"
	}
	if d == DecisionDeny {
		return "DENY"
	}
	return ""
}

// ExecutionPermit is the signed, time-bounded, hash-pinned authorization
// an executor verifies immediately before acting, per SPEC_FULL.md
// §4.9.1. It is distinct from the K-of-N Ticket: a Ticket gates whether
// a pipeline may continue past a REQUIRE step, while an ExecutionPermit
// is the thing a downstream actor checks before carrying out the act the
// pipeline already decided to allow.
type ExecutionPermit struct {
	RequestCID [32]byte
	Decision   Decision
	InputHash  [32]byte
	IssuerDID  string
	IssuedAt   int64
	ExpiresAt  int64
	Act        string
	Policy     string
	HasPolicy  bool
	Sig        [64]byte
}

func permitWithoutSigValue(p ExecutionPermit) canon.Value {
	entries := []canon.MapEntry{
		canon.E("request_cid", canon.Bytes(p.RequestCID[:])),
		canon.E("decision", canon.Str(p.Decision.String())),
		canon.E("input_hash", canon.Bytes(p.InputHash[:])),
		canon.E("issuer_did", canon.Str(p.IssuerDID)),
		canon.E("issued_at", canon.Int(p.IssuedAt)),
		canon.E("expires_at", canon.Int(p.ExpiresAt)),
		canon.E("act", canon.Str(p.Act)),
	}
	if p.HasPolicy {
		entries = append(entries, canon.E("policy", canon.Str(p.Policy)))
	}
	return canon.MustMap(entries...)
}

// permitHash computes the domain-separated digest that is signed: over
// TokenDomain and every permit field except sig, after ρ-normalization,
// mirroring capsule.sealHash / capsule.ComputeID.
func permitHash(p ExecutionPermit) [32]byte {
	v := canon.MustMap(
		canon.E("domain", canon.Str(TokenDomain)),
		canon.E("permit", permitWithoutSigValue(p)),
	)
	return canon.HashValue(rho.Normalize(v))
}

// IssueExecutionPermit builds and seals an ExecutionPermit. decision must
// be ALLOW or DENY; only ALLOW permits ever pass VerifyExecutionPermit.
func IssueExecutionPermit(requestCID, inputHash [32]byte, issuerDID string, issuedAt, expiresAt int64, act, policy string, hasPolicy bool, decision Decision, k *sealer.KeyPair) (*ExecutionPermit, error) {
	if err := canon.RequireASCII(issuerDID); err != nil {
		return nil, err
	}
	if err := canon.RequireASCII(act); err != nil {
		return nil, err
	}
	p := ExecutionPermit{
		RequestCID: requestCID,
		Decision:   decision,
		InputHash:  inputHash,
		IssuerDID:  issuerDID,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Act:        act,
		Policy:     policy,
		HasPolicy:  hasPolicy,
	}
	digest := permitHash(p)
	p.Sig = k.Sign(digest)
	return &p, nil
}

// VerifyOpts bounds the current time and the input hash the executor
// expects the permit to be pinned to.
type VerifyOpts struct {
	Now           int64
	ExpectedInput [32]byte
}

// VerifyExecutionPermit checks decision==ALLOW, expiry, input-hash pin,
// and the Ed25519 signature, mirroring the original's verify_permit.
func VerifyExecutionPermit(p *ExecutionPermit, resolve sealer.Resolver, opts VerifyOpts) error {
	if p.Decision != DecisionAllow {
		return errs.New(errs.PermitRejected, "execution permit decision is %s, not ALLOW", p.Decision)
	}
	if opts.Now > p.ExpiresAt {
		return errs.New(errs.PermitExpired, "execution permit expired at %d (now %d)", p.ExpiresAt, opts.Now)
	}
	if p.InputHash != opts.ExpectedInput {
		return errs.New(errs.PermitRejected, "execution permit input hash does not match the request being executed")
	}
	pk, ok := resolve(p.IssuerDID)
	if !ok {
		return errs.New(errs.SealMissing, "no public key resolvable for issuer %q", p.IssuerDID)
	}
	digest := permitHash(*p)
	if !sealer.Verify(pk, digest, p.Sig) {
		return errs.New(errs.SealBadSignature, "execution permit signature does not verify")
	}
	return nil
}
