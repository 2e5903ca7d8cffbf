package capsule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/receipts"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

func testHeader() Header {
	return Header{Src: "node-a", Ts: 1000, Act: "submit"}
}

func testEnv() Envelope {
	return Envelope{Body: canon.Str("hello"), HasEvidence: true, Evidence: []string{}}
}

func TestBuildAndVerifySeal(t *testing.T) {
	k, err := sealer.Generate()
	require.NoError(t, err)

	c, err := Build(testHeader(), testEnv(), k.Kid, "capsule", "", false, VerdictAllow, k)
	require.NoError(t, err)

	resolve := sealer.SingleKeyResolver(k)
	require.NoError(t, VerifySeal(c, resolve, VerifyOpts{}))
}

func TestIdInvariantToReceiptAppend(t *testing.T) {
	k, err := sealer.Generate()
	require.NoError(t, err)
	c, err := Build(testHeader(), testEnv(), k.Kid, "capsule", "", false, VerdictAllow, k)
	require.NoError(t, err)

	idBefore := c.ID
	r, err := receipts.Sign(c.ID, receipts.Zero32, "produce", 100, k)
	require.NoError(t, err)
	c.AppendReceipt(r)

	require.Equal(t, idBefore, c.ID, "appending a receipt must not change the capsule id")
	resolve := sealer.SingleKeyResolver(k)
	require.NoError(t, VerifySeal(c, resolve, VerifyOpts{}))
	require.NoError(t, c.VerifyReceipts(resolve))
}

func TestGhostRequiresLinksPrev(t *testing.T) {
	k, err := sealer.Generate()
	require.NoError(t, err)
	env := Envelope{Body: canon.Str("hi")}
	_, err = Build(testHeader(), env, k.Kid, "capsule", "", false, VerdictGhost, k)
	require.Error(t, err)

	env.Links = Links{Prev: [32]byte{1}, HasPrev: true}
	_, err = Build(testHeader(), env, k.Kid, "capsule", "", false, VerdictGhost, k)
	require.NoError(t, err)
}

func TestAllowDenyRequireEvidenceField(t *testing.T) {
	k, err := sealer.Generate()
	require.NoError(t, err)
	env := Envelope{Body: canon.Str("hi")}
	_, err = Build(testHeader(), env, k.Kid, "capsule", "", false, VerdictAllow, k)
	require.Error(t, err)

	env.HasEvidence = true
	_, err = Build(testHeader(), env, k.Kid, "capsule", "", false, VerdictAllow, k)
	require.NoError(t, err)
}

func TestVerifySealRejectsBadDomain(t *testing.T) {
	k, err := sealer.Generate()
	require.NoError(t, err)
	c, err := Build(testHeader(), testEnv(), k.Kid, "capsule", "", false, VerdictAllow, k)
	require.NoError(t, err)
	c.Domain = "wrong-domain/1.0"

	resolve := sealer.SingleKeyResolver(k)
	err = VerifySeal(c, resolve, VerifyOpts{})
	require.Error(t, err)
}

func TestVerifySealRejectsAudienceMismatch(t *testing.T) {
	k, err := sealer.Generate()
	require.NoError(t, err)
	hdr := testHeader()
	hdr.Dst = "node-b"
	hdr.HasDst = true
	c, err := Build(hdr, testEnv(), k.Kid, "capsule", "node-c", true, VerdictAllow, k)
	require.NoError(t, err)

	resolve := sealer.SingleKeyResolver(k)
	err = VerifySeal(c, resolve, VerifyOpts{})
	require.Error(t, err)
}
