package capabilities

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
)

type stubCap struct {
	kind, version string
}

func (s stubCap) Kind() string       { return s.kind }
func (s stubCap) APIVersion() string { return s.version }
func (s stubCap) ValidateConfig(canon.Value) error { return nil }
func (s stubCap) Execute(CapInput) (CapOutput, error) { return CapOutput{}, nil }

func TestRegistryMajorVersionMatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubCap{kind: "cap-policy", version: "1.0.0"}))
	require.NoError(t, r.Register(stubCap{kind: "cap-policy", version: "1.2.3"}))
	require.NoError(t, r.Register(stubCap{kind: "cap-policy", version: "2.0.0"}))

	got, err := r.Get("cap-policy", "^1")
	require.NoError(t, err)
	require.Equal(t, "1.2.3", got.APIVersion())

	got, err = r.Get("cap-policy", "*")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", got.APIVersion())

	got, err = r.Get("cap-policy", "1")
	require.NoError(t, err)
	require.Equal(t, "1.2.3", got.APIVersion())
}

func TestRegistryNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("cap-policy", "*")
	require.Error(t, err)

	require.NoError(t, r.Register(stubCap{kind: "cap-policy", version: "1.0.0"}))
	_, err = r.Get("cap-policy", "^3")
	require.Error(t, err)
}
