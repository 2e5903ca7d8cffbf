// Package errs implements the two-band error taxonomy used across the
// canonical codec, capsule, receipt, and pipeline packages: pure-band
// errors carry a stable code and a human message only, never IO context.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable error code of the form "Err.<Category>.<Detail>".
type Code string

const (
	// Canon / codec
	CanonInvalidMagic     Code = "Err.Canon.InvalidMagic"
	CanonInvalidTypeTag   Code = "Err.Canon.InvalidTypeTag"
	CanonNonMinimalVarint Code = "Err.Canon.NonMinimalVarint"
	CanonUnexpectedEOF    Code = "Err.Canon.UnexpectedEOF"
	CanonInvalidUTF8      Code = "Err.Canon.InvalidUTF8"
	CanonNotNFC           Code = "Err.Canon.NotNFC"
	CanonBOMPresent       Code = "Err.Canon.BOMPresent"
	CanonNonStringKey     Code = "Err.Canon.NonStringKey"
	CanonUnsortedKeys     Code = "Err.Canon.UnsortedKeys"
	CanonDuplicateKey     Code = "Err.Canon.DuplicateKey"
	CanonTrailingData     Code = "Err.Canon.TrailingData"
	CanonDepthExceeded    Code = "Err.Canon.DepthExceeded"
	CanonSizeExceeded     Code = "Err.Canon.SizeExceeded"
	CanonStringTooLong    Code = "Err.Canon.StringTooLong"
	CanonBytesTooLong     Code = "Err.Canon.BytesTooLong"
	CanonArrayTooLong     Code = "Err.Canon.ArrayTooLong"
	CanonMapTooLong       Code = "Err.Canon.MapTooLong"
	CanonHexOddLength     Code = "Err.Canon.HexOddLength"
	CanonHexUppercase     Code = "Err.Canon.HexUppercase"
	CanonHexInvalidChar   Code = "Err.Canon.HexInvalidChar"
	CanonNotASCII         Code = "Err.Canon.NotASCII"
	CanonFloat            Code = "Err.Canon.Float"
	CanonDecimalInvalid   Code = "Err.Canon.DecimalInvalid"
	CanonTimestampInvalid Code = "Err.Canon.TimestampInvalid"

	// Header
	HdrExpired      Code = "Err.Hdr.Expired"
	HdrMissingField Code = "Err.Hdr.MissingField"

	// Seal
	SealBadDomain    Code = "Err.Seal.BadDomain"
	SealBadScope     Code = "Err.Seal.BadScope"
	SealBadAudience  Code = "Err.Seal.BadAudience"
	SealIdMismatch   Code = "Err.Seal.IdMismatch"
	SealBadSignature Code = "Err.Seal.BadSignature"
	SealMissing      Code = "Err.Seal.Missing"
	SealExpired      Code = "Err.Seal.Expired"

	// Hop / receipt chain
	HopBadChain     Code = "Err.Hop.BadChain"
	HopBadSignature Code = "Err.Hop.BadSignature"
	HopNotASCII     Code = "Err.Hop.NotASCII"
	HopFork         Code = "Err.Hop.Fork"
	HopMissing      Code = "Err.Hop.Missing"

	// Replay / idempotency
	Replay              Code = "Err.Replay"
	IdempotencyConflict Code = "Err.Idempotency.Conflict"

	// Permit / consent
	PermitExpired     Code = "Err.Permit.Expired"
	PermitInvalidRole Code = "Err.Permit.InvalidRole"
	PermitQuorumError Code = "Err.Permit.QuorumNotMet"
	PermitRejected    Code = "Err.Permit.Rejected"

	// IO / external
	IoWebhookFailed Code = "Err.IO.WebhookFailed"
	IoRelayFailed   Code = "Err.IO.RelayFailed"
	IoStorageFailed Code = "Err.IO.StorageFailed"
	IoLlmFailed     Code = "Err.IO.LlmFailed"

	// Config
	ConfigInvalid    Code = "Err.Config.Invalid"
	ConfigCapNotFound Code = "Err.Config.CapNotFound"

	// Internal
	Internal Code = "Err.Internal"
)

// httpStatus maps each code family to the recommended HTTP status
// per spec §6.4.
var httpStatus = map[Code]int{
	CanonInvalidMagic:     400,
	CanonInvalidTypeTag:   400,
	CanonNonMinimalVarint: 400,
	CanonUnexpectedEOF:    400,
	CanonInvalidUTF8:      400,
	CanonNotNFC:           400,
	CanonBOMPresent:       400,
	CanonNonStringKey:     400,
	CanonUnsortedKeys:     400,
	CanonDuplicateKey:     400,
	CanonTrailingData:     400,
	CanonDepthExceeded:    400,
	CanonSizeExceeded:     400,
	CanonStringTooLong:    400,
	CanonBytesTooLong:     400,
	CanonArrayTooLong:     400,
	CanonMapTooLong:       400,
	CanonHexOddLength:     400,
	CanonHexUppercase:     400,
	CanonHexInvalidChar:   400,
	CanonNotASCII:         400,
	CanonFloat:            400,
	CanonDecimalInvalid:   400,
	CanonTimestampInvalid: 400,
	HdrMissingField:       400,
	ConfigInvalid:         400,

	SealMissing: 401,

	SealBadDomain:    403,
	SealBadScope:     403,
	SealBadAudience:  403,
	SealIdMismatch:   403,
	SealBadSignature: 403,
	HopBadSignature:  403,
	HopNotASCII:      403,

	ConfigCapNotFound: 404,

	Replay:              409,
	IdempotencyConflict: 409,

	HdrExpired:    410,
	SealExpired:   410,
	PermitExpired: 410,

	HopBadChain:       422,
	HopFork:           422,
	HopMissing:        422,
	PermitInvalidRole: 422,
	PermitQuorumError: 422,
	PermitRejected:    422,

	Internal: 500,

	IoWebhookFailed: 502,
	IoRelayFailed:   502,
	IoStorageFailed: 502,
	IoLlmFailed:     502,
}

// E is a structured, pure-band error value: a stable code, recommended
// HTTP status, and a single-line message with no secrets or resolved
// bindings.
type E struct {
	ErrCode Code
	Status  int
	Msg     string
}

func (e *E) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Msg)
}

// Is supports errors.Is comparisons against a bare Code sentinel created
// via New(code, "").
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return e.ErrCode == t.ErrCode
}

// New constructs a structured error for code with a formatted message.
func New(code Code, format string, args ...any) *E {
	status, ok := httpStatus[code]
	if !ok {
		status = 500
	}
	return &E{ErrCode: code, Status: status, Msg: fmt.Sprintf(format, args...)}
}

// Sentinel returns a comparable zero-message error for use with errors.Is.
func Sentinel(code Code) *E {
	return New(code, "")
}

// CodeOf extracts the Code from err, if it is (or wraps) an *E.
func CodeOf(err error) (Code, bool) {
	var e *E
	if !errors.As(err, &e) {
		return "", false
	}
	return e.ErrCode, true
}
