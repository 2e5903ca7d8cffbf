package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeMapScenario(t *testing.T) {
	v := MustMap(
		E("name", Str("test")),
		E("value", Int(42)),
	)
	got := Encode(v)
	want := []byte{
		'n', 'r', 'f', '1',
		0x07, 0x02,
		0x04, 0x04, 'n', 'a', 'm', 'e',
		0x04, 0x04, 't', 'e', 's', 't',
		0x04, 0x05, 'v', 'a', 'l', 'u', 'e',
		0x03, 0, 0, 0, 0, 0, 0, 0, 0x2A,
	}
	require.Equal(t, want, got)
}

func TestRoundTrip(t *testing.T) {
	v := MustMap(
		E("a", Null()),
		E("b", Bool(true)),
		E("c", Int(-7)),
		E("d", Str("héllo")),
		E("e", Bytes([]byte{1, 2, 3})),
		E("f", Array(Int(1), Int(2), Str("x"))),
	)
	b := Encode(v)
	got, err := Decode(b, nil)
	require.NoError(t, err)
	require.True(t, Equal(v, got))
	require.Equal(t, b, Encode(got), "canonicality: re-encoding a decoded value reproduces the same bytes")
}

func TestDecodeRejectsInvalidMagic(t *testing.T) {
	_, err := Decode([]byte{'x', 'x', 'x', 'x', 0x00}, nil)
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	v := Int(1)
	b := append(Encode(v), 0xFF)
	_, err := Decode(b, nil)
	require.Error(t, err)
}

func TestNonMinimalVarintLeadingByte(t *testing.T) {
	// magic + tag Bytes(0x05) + varint "0x80 0x01" (decodes 128 under
	// naive LEB128 but is rejected: leading byte is exactly 0x80).
	b := append([]byte{'n', 'r', 'f', '1', 0x05}, 0x80, 0x01)
	_, err := Decode(b, nil)
	require.Error(t, err)
}

func TestDuplicateMapKeyRejected(t *testing.T) {
	b := []byte{
		'n', 'r', 'f', '1',
		0x07, 0x02,
		0x04, 0x01, 'a', 0x00,
		0x04, 0x01, 'a', 0x00,
	}
	_, err := Decode(b, nil)
	require.Error(t, err)
}

func TestUnsortedMapKeysRejected(t *testing.T) {
	b := []byte{
		'n', 'r', 'f', '1',
		0x07, 0x02,
		0x04, 0x01, 'b', 0x00,
		0x04, 0x01, 'a', 0x00,
	}
	_, err := Decode(b, nil)
	require.Error(t, err)
}

func TestBOMRejected(t *testing.T) {
	bom := "﻿hello"
	b := append([]byte{'n', 'r', 'f', '1', 0x04}, appendVarint32(nil, uint32(len(bom)))...)
	b = append(b, []byte(bom)...)
	_, err := Decode(b, nil)
	require.Error(t, err)
}

func TestNFDRejected(t *testing.T) {
	nfd := "é" // é in decomposed form
	b := append([]byte{'n', 'r', 'f', '1', 0x04}, appendVarint32(nil, uint32(len(nfd)))...)
	b = append(b, []byte(nfd)...)
	_, err := Decode(b, nil)
	require.Error(t, err)
}

func TestDecodeOptsDepthExceeded(t *testing.T) {
	v := Array()
	for i := 0; i < 200; i++ {
		v = Array(v)
	}
	b := Encode(v)
	opts := DefaultDecodeOpts()
	opts.MaxDepth = 10
	_, err := Decode(b, &opts)
	require.Error(t, err)
}

func TestCanonicalHex(t *testing.T) {
	h := EncodeHex([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.Equal(t, "deadbeef", h)

	_, err := DecodeHex("DEADBEEF")
	require.Error(t, err, "uppercase hex must be rejected")

	_, err = DecodeHex("abc")
	require.Error(t, err, "odd length hex must be rejected")

	_, err = DecodeHex("zz")
	require.Error(t, err, "non-hex characters must be rejected")
}

func TestCIDStable(t *testing.T) {
	v := Str("hello")
	c1 := CID(v)
	c2 := CID(v)
	require.Equal(t, c1, c2)
	require.Regexp(t, `^b3:[0-9a-f]{64}$`, c1)
}
