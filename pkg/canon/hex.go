package canon

import (
	"strings"

	"github.com/nrf1proto/capsule/pkg/errs"
)

const lowerHexDigits = "0123456789abcdef"

// EncodeHex renders b as canonical lowercase hex.
func EncodeHex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = lowerHexDigits[c>>4]
		out[i*2+1] = lowerHexDigits[c&0x0f]
	}
	return string(out)
}

// DecodeHex parses canonical lowercase hex, rejecting uppercase, odd length,
// and non-hex characters.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errs.New(errs.CanonHexOddLength, "hex string has odd length %d", len(s))
	}
	if strings.ToLower(s) != s {
		return nil, errs.New(errs.CanonHexUppercase, "hex string contains uppercase characters")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexVal(s[i*2])
		lo, ok2 := hexVal(s[i*2+1])
		if !ok1 || !ok2 {
			return nil, errs.New(errs.CanonHexInvalidChar, "invalid hex character at position %d", i*2)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// RequireASCII rejects strings containing any non-ASCII byte, per the
// src/dst/kid/aud/node field constraint in spec §3.2.
func RequireASCII(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return errs.New(errs.CanonNotASCII, "value contains non-ASCII byte at position %d", i)
		}
	}
	return nil
}
