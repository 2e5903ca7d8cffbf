// Package sealer wraps Ed25519 signing/verification for capsules and
// receipts behind a small key-resolution interface, grounded on the
// teacher's crypto.Ed25519Signer (pkg/crypto/signer.go): one key pair per
// signer, hex-encoded public key as the "kid", signatures computed over a
// domain-separated digest rather than the raw payload.
package sealer

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// KeyPair is one Ed25519 signing identity. Kid is the canonical lowercase
// hex of the public key, used as the capsule seal's "kid" and a receipt's
// resolvable node identity.
type KeyPair struct {
	Kid     string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Generate produces a fresh random Ed25519 key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.New(errs.Internal, "ed25519 key generation failed: %v", err)
	}
	return FromPrivateKey(priv), nil
}

// FromPrivateKey wraps an existing private key.
func FromPrivateKey(priv ed25519.PrivateKey) *KeyPair {
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{Kid: canon.EncodeHex(pub), Private: priv, Public: pub}
}

// Sign returns the raw 64-byte Ed25519 signature over digest.
func (k *KeyPair) Sign(digest [32]byte) [64]byte {
	sig := ed25519.Sign(k.Private, digest[:])
	var out [64]byte
	copy(out[:], sig)
	return out
}

// Resolver resolves a kid/node identity (canonical lowercase hex of an
// Ed25519 public key) to the verification key.
type Resolver func(kid string) (ed25519.PublicKey, bool)

// SingleKeyResolver returns a Resolver that only recognizes one key pair's
// own kid; convenient for tests and single-signer deployments.
func SingleKeyResolver(k *KeyPair) Resolver {
	return func(kid string) (ed25519.PublicKey, bool) {
		if kid != k.Kid {
			return nil, false
		}
		return k.Public, true
	}
}

// Verify checks a 64-byte signature over digest against pk.
func Verify(pk ed25519.PublicKey, digest [32]byte, sig [64]byte) bool {
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pk, digest[:], sig[:])
}

// PublicKeyFromHex decodes a canonical lowercase hex public key.
func PublicKeyFromHex(hexKid string) (ed25519.PublicKey, error) {
	b, err := canon.DecodeHex(hexKid)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errs.New(errs.SealBadSignature, "public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}
