package canon

import (
	"unicode/utf8"

	"github.com/nrf1proto/capsule/pkg/errs"
	"golang.org/x/text/unicode/norm"
)

// DecodeOpts bounds the resources a single Decode call may consume. Per
// Canon 6 ("reject, never degrade") every limit produces a distinct error
// rather than truncating or silently accepting a malformed stream.
type DecodeOpts struct {
	MaxTotalBytes int
	MaxDepth      int
	MaxStringLen  int
	MaxBytesLen   int
	MaxArrayLen   int
	MaxMapLen     int
}

// DefaultDecodeOpts returns the spec-mandated defaults: 8 MiB total, depth
// 64, 1 MiB strings/bytes, 100k array/map entries.
func DefaultDecodeOpts() DecodeOpts {
	return DecodeOpts{
		MaxTotalBytes: 8 * 1024 * 1024,
		MaxDepth:      64,
		MaxStringLen:  1024 * 1024,
		MaxBytesLen:   1024 * 1024,
		MaxArrayLen:   100_000,
		MaxMapLen:     100_000,
	}
}

// PermissiveDecodeOpts raises every limit to practical infinity, for
// trusted internal re-encodes (e.g. replaying a locally produced capsule).
func PermissiveDecodeOpts() DecodeOpts {
	const huge = 1 << 30
	return DecodeOpts{
		MaxTotalBytes: huge,
		MaxDepth:      1 << 16,
		MaxStringLen:  huge,
		MaxBytesLen:   huge,
		MaxArrayLen:   huge,
		MaxMapLen:     huge,
	}
}

type decoder struct {
	buf  []byte
	pos  int
	opts DecodeOpts
}

// Decode parses a single nrf1 value from b, validating magic, rejecting
// trailing bytes, and enforcing opts (or DefaultDecodeOpts if nil).
func Decode(b []byte, opts *DecodeOpts) (Value, error) {
	o := DefaultDecodeOpts()
	if opts != nil {
		o = *opts
	}
	if len(b) > o.MaxTotalBytes {
		return Value{}, errs.New(errs.CanonSizeExceeded, "stream of %d bytes exceeds limit %d", len(b), o.MaxTotalBytes)
	}
	if len(b) < 4 || b[0] != Magic[0] || b[1] != Magic[1] || b[2] != Magic[2] || b[3] != Magic[3] {
		return Value{}, errs.New(errs.CanonInvalidMagic, "stream does not begin with nrf1 magic")
	}
	d := &decoder{buf: b, pos: 4, opts: o}
	v, err := d.readValue(0)
	if err != nil {
		return Value{}, err
	}
	if d.pos != len(b) {
		return Value{}, errs.New(errs.CanonTrailingData, "%d trailing bytes after top-level value", len(b)-d.pos)
	}
	return v, nil
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errs.New(errs.CanonUnexpectedEOF, "unexpected end of stream")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, errs.New(errs.CanonUnexpectedEOF, "unexpected end of stream reading %d bytes", n)
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) readInt64() (int64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	var u uint64
	for i := 0; i < 8; i++ {
		u = u<<8 | uint64(b[i])
	}
	return int64(u), nil
}

// readVarint32 reads a minimal LEB128 varint. Two non-minimality patterns
// are rejected, matching the reference decoder exactly: a first byte of
// exactly 0x80 (zero payload with continuation, e.g. "0x80 0x01") and any
// non-leading byte equal to 0x00 (a continuation-free zero byte beyond the
// first position, i.e. a dropped trailing zero group re-added).
func (d *decoder) readVarint32() (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if i == 0 && b == 0x80 {
			return 0, errs.New(errs.CanonNonMinimalVarint, "varint32 leading byte is 0x80")
		}
		if i > 0 && b == 0x00 {
			return 0, errs.New(errs.CanonNonMinimalVarint, "varint32 has a non-minimal zero byte")
		}
		payload := b & 0x7F
		if i == 4 && payload > 0x0F {
			return 0, errs.New(errs.CanonNonMinimalVarint, "varint32 overflows 32 bits")
		}
		result |= uint32(payload) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, errs.New(errs.CanonNonMinimalVarint, "varint32 longer than 5 bytes")
}

func (d *decoder) readValue(depth int) (Value, error) {
	if depth > d.opts.MaxDepth {
		return Value{}, errs.New(errs.CanonDepthExceeded, "nesting depth exceeds limit %d", d.opts.MaxDepth)
	}
	tag, err := d.readByte()
	if err != nil {
		return Value{}, err
	}
	switch Tag(tag) {
	case TagNull:
		return Null(), nil
	case TagFalse:
		return Bool(false), nil
	case TagTrue:
		return Bool(true), nil
	case TagInt:
		i, err := d.readInt64()
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case TagString:
		s, err := d.readString(d.opts.MaxStringLen, errs.CanonStringTooLong)
		if err != nil {
			return Value{}, err
		}
		return Str(s), nil
	case TagBytes:
		n, err := d.readVarint32()
		if err != nil {
			return Value{}, err
		}
		if int(n) > d.opts.MaxBytesLen {
			return Value{}, errs.New(errs.CanonBytesTooLong, "bytes length %d exceeds limit %d", n, d.opts.MaxBytesLen)
		}
		b, err := d.readN(int(n))
		if err != nil {
			return Value{}, err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		return Bytes(cp), nil
	case TagArray:
		n, err := d.readVarint32()
		if err != nil {
			return Value{}, err
		}
		if int(n) > d.opts.MaxArrayLen {
			return Value{}, errs.New(errs.CanonArrayTooLong, "array length %d exceeds limit %d", n, d.opts.MaxArrayLen)
		}
		elems := make([]Value, n)
		for i := range elems {
			elems[i], err = d.readValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
		}
		return ArrayOf(elems), nil
	case TagMap:
		n, err := d.readVarint32()
		if err != nil {
			return Value{}, err
		}
		if int(n) > d.opts.MaxMapLen {
			return Value{}, errs.New(errs.CanonMapTooLong, "map length %d exceeds limit %d", n, d.opts.MaxMapLen)
		}
		entries := make([]MapEntry, n)
		prevKey := ""
		for i := range entries {
			keyTag, err := d.readByte()
			if err != nil {
				return Value{}, err
			}
			if Tag(keyTag) != TagString {
				return Value{}, errs.New(errs.CanonNonStringKey, "map key is not a string (tag 0x%02x)", keyTag)
			}
			key, err := d.readString(d.opts.MaxStringLen, errs.CanonStringTooLong)
			if err != nil {
				return Value{}, err
			}
			if i > 0 {
				if key == prevKey {
					return Value{}, errs.New(errs.CanonDuplicateKey, "duplicate map key %q", key)
				}
				if key < prevKey {
					return Value{}, errs.New(errs.CanonUnsortedKeys, "map keys not ascending: %q before %q", prevKey, key)
				}
			}
			prevKey = key
			val, err := d.readValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			entries[i] = MapEntry{Key: key, Value: val}
		}
		return Value{kind: KindMap, entries: entries}, nil
	default:
		return Value{}, errs.New(errs.CanonInvalidTypeTag, "invalid type tag 0x%02x", tag)
	}
}

func (d *decoder) readString(maxLen int, tooLongCode errs.Code) (string, error) {
	n, err := d.readVarint32()
	if err != nil {
		return "", err
	}
	if int(n) > maxLen {
		return "", errs.New(tooLongCode, "string length %d exceeds limit %d", n, maxLen)
	}
	b, err := d.readN(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errs.New(errs.CanonInvalidUTF8, "string payload is not valid UTF-8")
	}
	s := string(b)
	for _, r := range s {
		if r == '\uFEFF' {
			return "", errs.New(errs.CanonBOMPresent, "string contains U+FEFF byte order mark")
		}
	}
	if !norm.NFC.IsNormalString(s) {
		return "", errs.New(errs.CanonNotNFC, "string is not NFC-normalized")
	}
	return s, nil
}
