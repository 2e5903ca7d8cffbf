// Package rho implements ρ, the byte-level normalization policy: every
// value that will be hashed or signed passes through Normalize first. ρ is
// recursive and idempotent (Normalize(Normalize(v)) == Normalize(v)).
//
// Grounded on the teacher's CSNF decimal/profile rules (pkg/kernel/csnf.go,
// csnf_decimal.go) generalized to the canon.Value closed sum type, with
// timestamp handling added per spec §4.2 rule 2.
package rho

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// SetPaths declares which array-typed field paths (dot-separated map key
// paths from the normalization root) must be treated as sets: sorted by
// canonical encoded bytes, then deduplicated. Timestamp/decimal paths
// analogously opt individual string fields into the timestamp/decimal
// rules, since ρ cannot distinguish a plain string from a typed one by
// shape alone.
type TypeHints struct {
	SetPaths       map[string]bool
	TimestampPaths map[string]bool
	DecimalPaths   map[string]bool
}

// Normalize applies ρ to v with no type hints (rule 1, 5, 6, 7 only: NFC
// strings, null-value map entries dropped, arrays normalized in place,
// scalars passed through).
func Normalize(v canon.Value) canon.Value {
	return NormalizeWithHints(v, TypeHints{})
}

// NormalizeWithHints applies ρ to v, treating array/string fields at the
// declared paths as sets/timestamps/decimals per spec §4.2 rules 2-4.
func NormalizeWithHints(v canon.Value, hints TypeHints) canon.Value {
	return normalizeAt(v, "", hints)
}

func normalizeAt(v canon.Value, path string, hints TypeHints) canon.Value {
	switch v.Kind() {
	case canon.KindString:
		s := NFC(v.AsString())
		if hints.TimestampPaths[path] {
			ts, err := NormalizeTimestamp(s)
			if err == nil {
				s = ts
			}
		} else if hints.DecimalPaths[path] {
			d, err := NormalizeDecimal(s)
			if err == nil {
				s = d
			}
		}
		return canon.Str(s)
	case canon.KindArray:
		elems := v.AsArray()
		out := make([]canon.Value, len(elems))
		for i, e := range elems {
			out[i] = normalizeAt(e, path+"[]", hints)
		}
		if hints.SetPaths[path] {
			out = normalizeSet(out)
		}
		return canon.ArrayOf(out)
	case canon.KindMap:
		entries := v.AsMapEntries()
		out := make([]canon.MapEntry, 0, len(entries))
		for _, kv := range entries {
			if kv.Value.Kind() == canon.KindNull {
				// rule 5: map entries whose value is Null are removed.
				continue
			}
			nk := NFC(kv.Key)
			childPath := path + "." + nk
			out = append(out, canon.MapEntry{Key: nk, Value: normalizeAt(kv.Value, childPath, hints)})
		}
		mv, err := canon.MapOf(out)
		if err != nil {
			// Keys only changed via NFC; duplicate post-normalization
			// keys are a producer error, not ours to silently resolve.
			panic(err)
		}
		return mv
	default:
		return v
	}
}

func normalizeSet(elems []canon.Value) []canon.Value {
	sort.SliceStable(elems, func(i, j int) bool {
		return string(canon.Encode(elems[i])) < string(canon.Encode(elems[j]))
	})
	out := elems[:0:0]
	for i, e := range elems {
		if i > 0 && canon.Equal(e, elems[i-1]) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// NFC normalizes a string to Unicode Normalization Form C.
func NFC(s string) string {
	return nfcString(s)
}

var decimalPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?$`)

// NormalizeDecimal applies spec §4.2 rule 3: no exponent, no leading zeros
// in the integer part (except bare "0"), trailing fractional zeros
// stripped, and "-0"/"-0.0" canonicalize to "0".
func NormalizeDecimal(s string) (string, error) {
	if !decimalPattern.MatchString(s) {
		return "", errs.New(errs.CanonDecimalInvalid, "decimal %q does not match the canonical pattern", s)
	}
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")

	intPart, fracPart, hasFrac := body, "", false
	if idx := strings.IndexByte(body, '.'); idx >= 0 {
		intPart, fracPart, hasFrac = body[:idx], body[idx+1:], true
	}
	if hasFrac {
		fracPart = strings.TrimRight(fracPart, "0")
	}

	isZero := intPart == "0" && (!hasFrac || fracPart == "")
	if isZero {
		return "0", nil
	}

	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

var trailingZerosFrac = regexp.MustCompile(`0+$`)

// NormalizeTimestamp applies spec §4.2 rule 2: canonical RFC-3339 UTC with
// a "Z" suffix, trailing fractional zeros removed, and a fully-zero
// fractional part (including the ".") dropped entirely.
func NormalizeTimestamp(s string) (string, error) {
	t, fracDigits, err := parseRFC3339(s)
	if err != nil {
		return "", err
	}
	base := t.Format("2006-01-02T15:04:05")
	if fracDigits == "" {
		return base + "Z", nil
	}
	trimmed := trailingZerosFrac.ReplaceAllString(fracDigits, "")
	if trimmed == "" {
		return base + "Z", nil
	}
	return base + "." + trimmed + "Z", nil
}
