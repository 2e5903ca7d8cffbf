package canon

// Encode renders v as an nrf1 byte stream: the 4-byte magic followed by the
// tagged value. Encode is total — it never fails for a well-formed Value,
// because Map values are already held in sorted order by construction (see
// value.go) and Array/String/Bytes/Int carry no encode-time invariants.
func Encode(v Value) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, Magic[:]...)
	buf = appendValue(buf, v)
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return append(buf, byte(TagNull))
	case KindBool:
		if v.b {
			return append(buf, byte(TagTrue))
		}
		return append(buf, byte(TagFalse))
	case KindInt:
		buf = append(buf, byte(TagInt))
		return appendInt64(buf, v.i)
	case KindString:
		buf = append(buf, byte(TagString))
		return appendLenPrefixed(buf, []byte(v.s))
	case KindBytes:
		buf = append(buf, byte(TagBytes))
		return appendLenPrefixed(buf, v.bytes)
	case KindArray:
		buf = append(buf, byte(TagArray))
		buf = appendVarint32(buf, uint32(len(v.arr)))
		for _, e := range v.arr {
			buf = appendValue(buf, e)
		}
		return buf
	case KindMap:
		buf = append(buf, byte(TagMap))
		buf = appendVarint32(buf, uint32(len(v.entries)))
		for _, kv := range v.entries {
			buf = append(buf, byte(TagString))
			buf = appendLenPrefixed(buf, []byte(kv.Key))
			buf = appendValue(buf, kv.Value)
		}
		return buf
	}
	panic("canon: unknown value kind")
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = appendVarint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendInt64(buf []byte, i int64) []byte {
	u := uint64(i)
	var tmp [8]byte
	for k := 0; k < 8; k++ {
		tmp[k] = byte(u >> uint(8*(7-k)))
	}
	return append(buf, tmp[:]...)
}

// appendVarint32 appends a minimal LEB128 encoding of n.
func appendVarint32(buf []byte, n uint32) []byte {
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			break
		}
	}
	return buf
}
