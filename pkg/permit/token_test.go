package permit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

func TestIssueAndVerifyExecutionPermit(t *testing.T) {
	kp, err := sealer.Generate()
	require.NoError(t, err)

	reqCID := canon.HashBytes([]byte("request"))
	inputHash := canon.HashBytes([]byte("input"))

	p, err := IssueExecutionPermit(reqCID, inputHash, kp.Kid, 100, 1000, "transfer-funds", "", false, DecisionAllow, kp)
	require.NoError(t, err)

	resolve := sealer.SingleKeyResolver(kp)

	require.NoError(t, VerifyExecutionPermit(p, resolve, VerifyOpts{Now: 500, ExpectedInput: inputHash}))
}

func TestVerifyExecutionPermitRejectsExpired(t *testing.T) {
	kp, err := sealer.Generate()
	require.NoError(t, err)
	inputHash := canon.HashBytes([]byte("input"))

	p, err := IssueExecutionPermit(canon.HashBytes([]byte("r")), inputHash, kp.Kid, 0, 100, "act", "", false, DecisionAllow, kp)
	require.NoError(t, err)

	err = VerifyExecutionPermit(p, sealer.SingleKeyResolver(kp), VerifyOpts{Now: 9999, ExpectedInput: inputHash})
	require.Error(t, err)
}

func TestVerifyExecutionPermitRejectsWrongInputHash(t *testing.T) {
	kp, err := sealer.Generate()
	require.NoError(t, err)
	inputHash := canon.HashBytes([]byte("input"))

	p, err := IssueExecutionPermit(canon.HashBytes([]byte("r")), inputHash, kp.Kid, 0, 1000, "act", "", false, DecisionAllow, kp)
	require.NoError(t, err)

	other := canon.HashBytes([]byte("different-input"))
	err = VerifyExecutionPermit(p, sealer.SingleKeyResolver(kp), VerifyOpts{Now: 1, ExpectedInput: other})
	require.Error(t, err)
}

func TestVerifyExecutionPermitRejectsNonAllowDecision(t *testing.T) {
	kp, err := sealer.Generate()
	require.NoError(t, err)
	inputHash := canon.HashBytes([]byte("input"))

	p, err := IssueExecutionPermit(canon.HashBytes([]byte("r")), inputHash, kp.Kid, 0, 1000, "act", "", false, DecisionDeny, kp)
	require.NoError(t, err)

	err = VerifyExecutionPermit(p, sealer.SingleKeyResolver(kp), VerifyOpts{Now: 1, ExpectedInput: inputHash})
	require.Error(t, err)
}

func TestVerifyExecutionPermitRejectsTamperedSignature(t *testing.T) {
	kp, err := sealer.Generate()
	require.NoError(t, err)
	inputHash := canon.HashBytes([]byte("input"))

	p, err := IssueExecutionPermit(canon.HashBytes([]byte("r")), inputHash, kp.Kid, 0, 1000, "act", "", false, DecisionAllow, kp)
	require.NoError(t, err)

	p.Act = "different-act"
	err = VerifyExecutionPermit(p, sealer.SingleKeyResolver(kp), VerifyOpts{Now: 1, ExpectedInput: inputHash})
	require.Error(t, err)
}
