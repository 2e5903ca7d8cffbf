package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/receipts"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

func testCapsule(t *testing.T) *capsule.Capsule {
	t.Helper()
	kp, err := sealer.Generate()
	require.NoError(t, err)
	hdr := capsule.Header{Src: "svc-a", Ts: 1, Act: "intake.submit"}
	env := capsule.Envelope{Body: canon.Int(1), HasEvidence: true}
	c, err := capsule.Build(hdr, env, kp.Kid, "", "", false, capsule.VerdictAllow, kp)
	require.NoError(t, err)
	return c
}

func TestInMemoryRegistryPutGet(t *testing.T) {
	r := NewInMemoryRegistry()
	c := testCapsule(t)
	require.NoError(t, r.Put(c))

	got, ok, err := r.Get(c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c.ID, got.ID)
}

func TestInMemoryRegistryGetMissing(t *testing.T) {
	r := NewInMemoryRegistry()
	_, ok, err := r.Get([32]byte{1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryRegistryAppendReceipt(t *testing.T) {
	r := NewInMemoryRegistry()
	c := testCapsule(t)
	require.NoError(t, r.Put(c))

	kp, err := sealer.Generate()
	require.NoError(t, err)
	rcpt, err := receipts.Sign(c.ID, receipts.Zero32, "relay", 2, kp)
	require.NoError(t, err)

	require.NoError(t, r.AppendReceipt(c.ID, rcpt))

	got, _, err := r.Get(c.ID)
	require.NoError(t, err)
	require.Len(t, got.Receipts, 1)
}

func TestInMemoryRegistryAppendReceiptUnknownCapsule(t *testing.T) {
	r := NewInMemoryRegistry()
	kp, err := sealer.Generate()
	require.NoError(t, err)
	rcpt, err := receipts.Sign([32]byte{9}, receipts.Zero32, "relay", 2, kp)
	require.NoError(t, err)
	require.Error(t, r.AppendReceipt([32]byte{9}, rcpt))
}

func TestInMemoryRegistryList(t *testing.T) {
	r := NewInMemoryRegistry()
	c1 := testCapsule(t)
	c2 := testCapsule(t)
	require.NoError(t, r.Put(c1))
	require.NoError(t, r.Put(c2))

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
}
