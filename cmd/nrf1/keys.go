package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

// loadOrGenerateKey reads a hex-encoded Ed25519 private key from path, or
// generates and persists a fresh one if path does not yet exist.
func loadOrGenerateKey(path string) (*sealer.KeyPair, error) {
	if path == "" {
		return sealer.Generate()
	}

	b, err := os.ReadFile(path)
	if err == nil {
		priv, decErr := canon.DecodeHex(string(b))
		if decErr != nil {
			return nil, fmt.Errorf("signer key %s: %w", path, decErr)
		}
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signer key %s: want %d bytes, got %d", path, ed25519.PrivateKeySize, len(priv))
		}
		return sealer.FromPrivateKey(ed25519.PrivateKey(priv)), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, genErr := sealer.Generate()
	if genErr != nil {
		return nil, genErr
	}
	if writeErr := os.WriteFile(path, []byte(canon.EncodeHex(kp.Private)), 0o600); writeErr != nil {
		return nil, writeErr
	}
	return kp, nil
}

// resolverFromKidHex returns a Resolver recognizing only the given kid,
// for verifying capsules signed by a known counterparty.
func resolverFromKidHex(kidHex string) (sealer.Resolver, error) {
	pub, err := sealer.PublicKeyFromHex(kidHex)
	if err != nil {
		return nil, err
	}
	return func(kid string) (ed25519.PublicKey, bool) {
		if kid != kidHex {
			return nil, false
		}
		return pub, true
	}, nil
}
