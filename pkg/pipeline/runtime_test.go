package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capabilities/stdcaps"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/canon"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRunAllowsThroughAllSteps(t *testing.T) {
	reg := capabilities.NewRegistry()
	require.NoError(t, reg.Register(stdcaps.NewIntake("1.0.0")))

	m, err := LoadManifest([]byte(`
name: test-run
pipeline:
  - step_id: fill-defaults
    kind: cap-intake
    version_req: "1"
    config:
      tier: standard
`))
	require.NoError(t, err)

	rt := NewRuntime(reg, nil)
	env := canon.MustMap(canon.E("amount", canon.Int(10)))
	res, err := rt.Run(context.Background(), m, env, RunOpts{
		RunID: "run-1",
		Now:   fixedClock(time.Unix(0, 1000)),
	})
	require.NoError(t, err)
	require.Equal(t, capsule.VerdictAllow, res.Verdict)
	require.Empty(t, res.StoppedAt)
	require.False(t, res.Pending)
	require.Len(t, res.Steps, 1)

	tier, ok := res.Env.Get("tier")
	require.True(t, ok)
	require.Equal(t, "standard", tier.AsString())
}

func TestRunHaltsOnDeny(t *testing.T) {
	reg := capabilities.NewRegistry()
	policy, err := stdcaps.NewPolicy("1.0.0")
	require.NoError(t, err)
	require.NoError(t, reg.Register(policy))

	m, err := LoadManifest([]byte(`
name: deny-run
pipeline:
  - step_id: check
    kind: cap-policy
    version_req: "1"
    config:
      rule: "input.amount < 100"
      allow: "ALLOW"
      deny: "DENY"
`))
	require.NoError(t, err)

	rt := NewRuntime(reg, nil)
	env := canon.MustMap(canon.E("amount", canon.Int(5000)))
	res, err := rt.Run(context.Background(), m, env, RunOpts{RunID: "run-2"})
	require.NoError(t, err)
	require.Equal(t, capsule.VerdictDeny, res.Verdict)
	require.Equal(t, "check", res.StoppedAt)
}

func TestRunPendingOnRequire(t *testing.T) {
	reg := capabilities.NewRegistry()
	require.NoError(t, reg.Register(stdcaps.NewPermit("1.0.0")))

	m, err := LoadManifest([]byte(`
name: require-run
pipeline:
  - step_id: need-approval
    kind: cap-permit
    version_req: "1"
    config:
      k: 2
      n: 3
      required_roles: ["ops", "security"]
`))
	require.NoError(t, err)

	rt := NewRuntime(reg, nil)
	res, err := rt.Run(context.Background(), m, canon.Null(), RunOpts{RunID: "run-3", Tenant: "acme", HasTenant: true})
	require.NoError(t, err)
	require.Equal(t, capsule.VerdictRequire, res.Verdict)
	require.True(t, res.Pending)
	require.Equal(t, "need-approval", res.StoppedAt)
}

func TestHopIDDeterministic(t *testing.T) {
	a := hopID("s1", "cap-intake", "1.0.0", capsule.VerdictAllow, 2)
	b := hopID("s1", "cap-intake", "1.0.0", capsule.VerdictAllow, 2)
	require.Equal(t, a, b)

	c := hopID("s1", "cap-intake", "1.0.0", capsule.VerdictDeny, 2)
	require.NotEqual(t, a, c)
}

func TestRunRejectsUnknownCapability(t *testing.T) {
	reg := capabilities.NewRegistry()
	m, err := LoadManifest([]byte(`
name: missing
pipeline:
  - step_id: s1
    kind: cap-nonexistent
    version_req: "*"
`))
	require.NoError(t, err)

	rt := NewRuntime(reg, nil)
	_, err = rt.Run(context.Background(), m, canon.Null(), RunOpts{RunID: "run-4"})
	require.Error(t, err)
}
