package canon

import "lukechampine.com/blake3"

// HashBytes computes the 32-byte BLAKE3 digest of b.
func HashBytes(b []byte) [32]byte {
	return blake3.Sum256(b)
}

// HashValue is HashBytes(Encode(v)).
func HashValue(v Value) [32]byte {
	return HashBytes(Encode(v))
}

// CID renders the canonical content identifier "b3:<lowercase hex>" for v.
func CID(v Value) string {
	h := HashValue(v)
	return "b3:" + EncodeHex(h[:])
}

// CIDFromHash renders a CID string from a precomputed digest.
func CIDFromHash(h [32]byte) string {
	return "b3:" + EncodeHex(h[:])
}
