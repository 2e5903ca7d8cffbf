// Package view implements the JSON View of spec §4.3: a pure, exactly
// invertible mapping between canon.Value and JSON, used for display and
// transport only. It is never hashed directly — hashing/signing goes
// through the Value/ρ/canon.Encode path, never through this package's
// encoding/json output.
package view

import (
	"bytes"
	"encoding/json"
	"math/big"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
	"golang.org/x/text/unicode/norm"
)

// bytesKey is the single sanctioned wrapper key for a Bytes value.
const bytesKey = "$bytes"

// CanonBytes is the only wrapper type allowed to be hashed or signed: its
// contents round-trip exactly through JsonView.
type CanonBytes struct {
	v canon.Value
}

// NewCanonBytes wraps a Value for hashing/signing.
func NewCanonBytes(v canon.Value) CanonBytes { return CanonBytes{v: v} }

// Value unwraps the underlying canon.Value.
func (c CanonBytes) Value() canon.Value { return c.v }

// JsonView is a display-only JSON rendering of a Value.
type JsonView struct {
	raw json.RawMessage
}

// Raw returns the underlying JSON bytes.
func (j JsonView) Raw() []byte { return j.raw }

// NewJsonView wraps raw JSON bytes as a JsonView for conversion via
// ToCanonBytes. The bytes are not validated until that conversion runs.
func NewJsonView(raw []byte) JsonView { return JsonView{raw: raw} }

// ToJsonView renders c as its JSON view.
func ToJsonView(c CanonBytes) (JsonView, error) {
	raw, err := marshal(c.v)
	if err != nil {
		return JsonView{}, err
	}
	return JsonView{raw: raw}, nil
}

// ToCanonBytes parses a JSON view back into a canon.Value, rejecting any
// input outside the sanctioned mapping.
func ToCanonBytes(j JsonView) (CanonBytes, error) {
	v, err := unmarshal(j.raw)
	if err != nil {
		return CanonBytes{}, err
	}
	return CanonBytes{v: v}, nil
}

func marshal(v canon.Value) ([]byte, error) {
	switch v.Kind() {
	case canon.KindNull:
		return []byte("null"), nil
	case canon.KindBool:
		if v.AsBool() {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case canon.KindInt:
		return []byte(new(big.Int).SetInt64(v.AsInt()).String()), nil
	case canon.KindString:
		return json.Marshal(v.AsString())
	case canon.KindBytes:
		hexVal, err := json.Marshal(canon.EncodeHex(v.AsBytes()))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.WriteByte('{')
		buf.WriteString(`"` + bytesKey + `":`)
		buf.Write(hexVal)
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case canon.KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.AsArray() {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshal(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case canon.KindMap:
		// entries are already held in ascending key order (see canon.MapOf).
		entries := v.AsMapEntries()
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, kv := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(kv.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshal(kv.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, errs.New(errs.Internal, "view: unknown value kind")
}

func unmarshal(raw json.RawMessage) (canon.Value, error) {
	var anyVal interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&anyVal); err != nil {
		return canon.Value{}, errs.New(errs.Internal, "view: invalid JSON: %v", err)
	}
	return fromAny(anyVal)
}

func fromAny(a interface{}) (canon.Value, error) {
	switch x := a.(type) {
	case nil:
		return canon.Null(), nil
	case bool:
		return canon.Bool(x), nil
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return canon.Value{}, errs.New(errs.CanonFloat, "number %q is not a representable i64", x.String())
		}
		return canon.Int(i), nil
	case string:
		if err := checkStringView(x); err != nil {
			return canon.Value{}, err
		}
		return canon.Str(x), nil
	case []interface{}:
		elems := make([]canon.Value, len(x))
		for i, e := range x {
			v, err := fromAny(e)
			if err != nil {
				return canon.Value{}, err
			}
			elems[i] = v
		}
		return canon.ArrayOf(elems), nil
	case map[string]interface{}:
		if b, ok := x[bytesKey]; ok {
			if len(x) != 1 {
				return canon.Value{}, errs.New(errs.Internal, "view: %q must have no sibling keys", bytesKey)
			}
			s, ok := b.(string)
			if !ok {
				return canon.Value{}, errs.New(errs.Internal, "view: %q must be a string", bytesKey)
			}
			decoded, err := canon.DecodeHex(s)
			if err != nil {
				return canon.Value{}, err
			}
			return canon.Bytes(decoded), nil
		}
		entries := make([]canon.MapEntry, 0, len(x))
		for k, v := range x {
			if err := checkStringView(k); err != nil {
				return canon.Value{}, err
			}
			cv, err := fromAny(v)
			if err != nil {
				return canon.Value{}, err
			}
			entries = append(entries, canon.E(k, cv))
		}
		mv, err := canon.MapOf(entries)
		if err != nil {
			return canon.Value{}, errs.New(errs.Internal, "view: %v", err)
		}
		return mv, nil
	default:
		return canon.Value{}, errs.New(errs.CanonFloat, "view: unsupported JSON type (likely a float)")
	}
}

func checkStringView(s string) error {
	for _, r := range s {
		if r == '\uFEFF' {
			return errs.New(errs.CanonBOMPresent, "string contains U+FEFF byte order mark")
		}
	}
	if !norm.NFC.IsNormalString(s) {
		return errs.New(errs.CanonNotNFC, "string is not NFC-normalized")
	}
	return nil
}
