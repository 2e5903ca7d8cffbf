package stdcaps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capsule"
)

type fakeAssets struct {
	data map[string][]byte
}

func (f fakeAssets) Resolve(kind, ref string) ([]byte, error) {
	b, ok := f.data[kind+"/"+ref]
	if !ok {
		return nil, errAssetMissing
	}
	return b, nil
}

var errAssetMissing = errors.New("asset not found")

func TestIntakeFillsDefaults(t *testing.T) {
	cap := NewIntake("1.0.0")
	env := canon.MustMap(canon.E("a", canon.Int(1)))
	cfg := canon.MustMap(canon.E("a", canon.Int(99)), canon.E("b", canon.Str("x")))
	require.NoError(t, cap.ValidateConfig(cfg))

	out, err := cap.Execute(capabilities.CapInput{Env: env, Config: cfg})
	require.NoError(t, err)
	require.True(t, out.HasNewEnv)
	v, ok := out.NewEnv.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(1), v.AsInt(), "existing field must not be overwritten")
	v, ok = out.NewEnv.Get("b")
	require.True(t, ok)
	require.Equal(t, "x", v.AsString())
}

func TestPolicyAllowDeny(t *testing.T) {
	cap, err := NewPolicy("1.0.0")
	require.NoError(t, err)

	cfg := canon.MustMap(
		canon.E("rule", canon.Str("input.amount < 100.0")),
		canon.E("allow", canon.Str("ALLOW")),
		canon.E("deny", canon.Str("DENY")),
	)
	require.NoError(t, cap.ValidateConfig(cfg))

	env := canon.MustMap(canon.E("amount", canon.Int(50)))
	out, err := cap.Execute(capabilities.CapInput{Env: env, Config: cfg})
	require.NoError(t, err)
	require.True(t, out.HasVerdict)
	require.Equal(t, capsule.VerdictAllow, out.Verdict)

	env = canon.MustMap(canon.E("amount", canon.Int(500)))
	out, err = cap.Execute(capabilities.CapInput{Env: env, Config: cfg})
	require.NoError(t, err)
	require.Equal(t, capsule.VerdictDeny, out.Verdict)
}

func TestPermitAlwaysRequires(t *testing.T) {
	cap := NewPermit("1.0.0")
	cfg := canon.MustMap(
		canon.E("k", canon.Int(2)),
		canon.E("n", canon.Int(3)),
		canon.E("required_roles", canon.Array(canon.Str("ops"), canon.Str("security"))),
	)
	require.NoError(t, cap.ValidateConfig(cfg))

	out, err := cap.Execute(capabilities.CapInput{Env: canon.Null(), Config: cfg, Meta: capabilities.Meta{Tenant: "acme"}})
	require.NoError(t, err)
	require.Equal(t, capsule.VerdictRequire, out.Verdict)
	require.Len(t, out.Effects, 1)
	require.Equal(t, capabilities.EffectQueueConsentTicket, out.Effects[0].Kind)
}

func TestLlmEmitsInvokeEffect(t *testing.T) {
	cap := NewLlm("1.0.0")
	cfg := canon.MustMap(canon.E("prompt_cid", canon.Str("p1")))
	require.NoError(t, cap.ValidateConfig(cfg))

	assets := fakeAssets{data: map[string][]byte{"prompt/p1": []byte("hello")}}
	out, err := cap.Execute(capabilities.CapInput{Env: canon.Null(), Config: cfg, Assets: assets})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	require.Equal(t, capabilities.EffectInvokeLlm, out.Effects[0].Kind)
	require.Equal(t, "hello", out.Effects[0].Prompt)
	require.False(t, out.HasVerdict, "cap-llm must never set a verdict")
}

func TestTransportEmitsReceiptAndRelay(t *testing.T) {
	cap := NewTransport("1.0.0")
	cfg := canon.MustMap(canon.E("receipt_kind", canon.Str("relay")), canon.E("relay_binding", canon.Str("env:PEER_URL")))
	require.NoError(t, cap.ValidateConfig(cfg))

	out, err := cap.Execute(capabilities.CapInput{Env: canon.Str("payload"), Config: cfg})
	require.NoError(t, err)
	require.Len(t, out.Effects, 2)
	require.Equal(t, capabilities.EffectAppendReceipt, out.Effects[0].Kind)
	require.Equal(t, capabilities.EffectRelayOut, out.Effects[1].Kind)
}
