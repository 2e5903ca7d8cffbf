package rho

import (
	"strings"
	"time"

	"github.com/nrf1proto/capsule/pkg/errs"
	"golang.org/x/text/unicode/norm"
)

func nfcString(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// parseRFC3339 parses an RFC-3339 timestamp and returns the parsed time in
// UTC along with the raw fractional-second digit string (without the
// leading "."), so the caller can apply canonical trimming.
func parseRFC3339(s string) (time.Time, string, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, "", errs.New(errs.CanonTimestampInvalid, "timestamp %q is not RFC-3339", s)
	}
	t = t.UTC()

	frac := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		rest := s[dot+1:]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		frac = rest[:end]
	}
	return t, frac, nil
}
