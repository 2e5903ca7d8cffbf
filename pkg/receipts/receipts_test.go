package receipts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/sealer"
)

func mustKey(t *testing.T) *sealer.KeyPair {
	t.Helper()
	k, err := sealer.Generate()
	require.NoError(t, err)
	return k
}

func TestGenesisAndChain(t *testing.T) {
	k := mustKey(t)
	capsuleID := [32]byte{1, 2, 3}

	r1, err := Sign(capsuleID, Zero32, "produce", 100, k)
	require.NoError(t, err)
	require.Equal(t, Zero32, r1.Prev)

	r2, err := AppendHop(capsuleID, r1.ID, "relay", 200, k)
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.Prev)

	resolve := sealer.SingleKeyResolver(k)
	require.NoError(t, VerifyChain(capsuleID, []*Receipt{r1, r2}, resolve))
}

func TestChainRejectsForeignCapsule(t *testing.T) {
	k := mustKey(t)
	capsuleID := [32]byte{1}
	other := [32]byte{2}

	r1, err := Sign(capsuleID, Zero32, "produce", 100, k)
	require.NoError(t, err)
	r2, err := Sign(other, r1.ID, "relay", 200, k)
	require.NoError(t, err)

	resolve := sealer.SingleKeyResolver(k)
	err = VerifyChain(capsuleID, []*Receipt{r1, r2}, resolve)
	require.Error(t, err)
}

func TestChainDetectsFork(t *testing.T) {
	k := mustKey(t)
	capsuleID := [32]byte{1}

	r1, err := Sign(capsuleID, Zero32, "produce", 100, k)
	require.NoError(t, err)
	rA, err := Sign(capsuleID, r1.ID, "relay-a", 200, k)
	require.NoError(t, err)
	rB, err := Sign(capsuleID, r1.ID, "relay-b", 201, k)
	require.NoError(t, err)

	resolve := sealer.SingleKeyResolver(k)
	err = VerifyChain(capsuleID, []*Receipt{r1, rA, rB}, resolve)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	k := mustKey(t)
	capsuleID := [32]byte{9}

	r1, err := Sign(capsuleID, Zero32, "produce", 100, k)
	require.NoError(t, err)
	r1.Sig[0] ^= 0xFF

	resolve := sealer.SingleKeyResolver(k)
	err = Verify(r1, resolve)
	require.Error(t, err)
}
