package rho

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
)

func TestNormalizeTimestamp(t *testing.T) {
	got, err := NormalizeTimestamp("2024-01-15T10:30:00.000Z")
	require.NoError(t, err)
	require.Equal(t, "2024-01-15T10:30:00Z", got)

	got, err = NormalizeTimestamp("2024-01-15T10:30:00.120Z")
	require.NoError(t, err)
	require.Equal(t, "2024-01-15T10:30:00.12Z", got)

	_, err = NormalizeTimestamp("not-a-timestamp")
	require.Error(t, err)
}

func TestNormalizeDecimal(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1.50", "1.5"},
		{"-0.0", "0"},
		{"-0", "0"},
		{"0.0", "0"},
		{"42", "42"},
		{"-3.1400", "-3.14"},
	}
	for _, c := range cases {
		got, err := NormalizeDecimal(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}

	_, err := NormalizeDecimal("01.5")
	require.Error(t, err, "leading zero must be rejected")

	_, err = NormalizeDecimal("1.5e10")
	require.Error(t, err, "exponent form must be rejected")
}

func TestNormalizeDropsNullMapEntries(t *testing.T) {
	v := canon.MustMap(
		canon.E("a", canon.Int(1)),
		canon.E("b", canon.Null()),
	)
	got := Normalize(v)
	_, ok := got.Get("b")
	require.False(t, ok)
	val, ok := got.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(1), val.AsInt())
}

func TestNormalizeSetSortsAndDedupes(t *testing.T) {
	v := canon.Array(canon.Int(3), canon.Int(1), canon.Int(2), canon.Int(1))
	hints := TypeHints{SetPaths: map[string]bool{"": true}}
	got := NormalizeWithHints(v, hints)
	elems := got.AsArray()
	require.Len(t, elems, 3)
	require.Equal(t, int64(1), elems[0].AsInt())
	require.Equal(t, int64(2), elems[1].AsInt())
	require.Equal(t, int64(3), elems[2].AsInt())
}

func TestIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is idempotent on maps of strings and ints", prop.ForAll(
		func(keys []string, ints []int64) bool {
			n := len(keys)
			if len(ints) < n {
				n = len(ints)
			}
			entries := make([]canon.MapEntry, 0, n)
			seen := map[string]bool{}
			for i := 0; i < n; i++ {
				k := keys[i]
				if k == "" || seen[k] {
					continue
				}
				seen[k] = true
				entries = append(entries, canon.E(k, canon.Int(ints[i])))
			}
			v, err := canon.MapOf(entries)
			if err != nil {
				return true
			}
			once := Normalize(v)
			twice := Normalize(once)
			return canon.Equal(once, twice)
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}
