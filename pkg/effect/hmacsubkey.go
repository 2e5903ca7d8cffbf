package effect

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/nrf1proto/capsule/pkg/errs"
)

// DeriveSigningSubkey derives a per-tenant HMAC signing key from a root
// secret via HKDF-SHA256, so the dispatcher never signs webhook bodies
// directly with the root secret.
//
// Grounded on pkg/governance/keyring.go's DeriveForTenant (HKDF-SHA256
// over a master seed with the tenant ID as info).
func DeriveSigningSubkey(rootSecret []byte, tenant string) ([]byte, error) {
	if tenant == "" {
		tenant = "default"
	}
	r := hkdf.New(sha256.New, rootSecret, []byte("nrf1-effect-hmac-kdf"), []byte(tenant))
	sub := make([]byte, 32)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, errs.New(errs.Internal, "effect: hkdf subkey derivation failed: %v", err)
	}
	return sub, nil
}
