package permit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capabilities/stdcaps"
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/pipeline"
)

func TestWatcherResumesAfterAllow(t *testing.T) {
	reg := capabilities.NewRegistry()
	require.NoError(t, reg.Register(stdcaps.NewIntake("1.0.0")))

	m, err := pipeline.LoadManifest([]byte(`
name: resume-test
pipeline:
  - step_id: gate
    kind: cap-permit
    version_req: "1"
    config:
      k: 1
      n: 1
      required_roles: ["ops"]
  - step_id: fill
    kind: cap-intake
    version_req: "1"
    config:
      tier: gold
`))
	require.NoError(t, err)
	require.NoError(t, reg.Register(stdcaps.NewPermit("1.0.0")))

	rt := pipeline.NewRuntime(reg, nil)
	env := canon.MustMap(canon.E("amount", canon.Int(1)))

	res, err := rt.Run(context.Background(), m, env, pipeline.RunOpts{RunID: "run-x", Tenant: "acme", HasTenant: true})
	require.NoError(t, err)
	require.True(t, res.Pending)
	require.Equal(t, "gate", res.StoppedAt)

	store := NewMemStore()
	clock := func() int64 { return 10 }
	mgr := NewManager(store, clock)
	_, err = mgr.Open("ticket-x", "acme", []string{"ops"}, 1, 1, 1000, 0, "resume-test")
	require.NoError(t, err)

	jobs := NewResumeStore()
	jobs.Put(&ResumeJob{
		TicketID:        "ticket-x",
		Manifest:        m,
		Env:             res.Env,
		ResumeAfterStep: 0,
		RunOpts:         pipeline.RunOpts{RunID: "run-x", Tenant: "acme", HasTenant: true},
	})

	watcher := NewWatcher(mgr, jobs, rt, 0)

	// not yet ALLOW: tick should not resume or complete the job
	watcher.Tick(context.Background())
	require.Equal(t, 1, len(jobs.pending()))

	_, err = mgr.Approve("ticket-x", "ops")
	require.NoError(t, err)

	watcher.Tick(context.Background())
	require.Equal(t, 0, len(jobs.pending()))
}

func TestWatcherCompletesJobWhenTicketDenied(t *testing.T) {
	store := NewMemStore()
	mgr := NewManager(store, func() int64 { return 1 })
	_, err := mgr.Open("ticket-y", "acme", []string{"ops"}, 1, 1, 1000, 0, "")
	require.NoError(t, err)

	jobs := NewResumeStore()
	jobs.Put(&ResumeJob{TicketID: "ticket-y"})

	reg := capabilities.NewRegistry()
	rt := pipeline.NewRuntime(reg, nil)
	watcher := NewWatcher(mgr, jobs, rt, 0)

	_, err = mgr.Deny("ticket-y", "ops")
	require.NoError(t, err)

	watcher.Tick(context.Background())
	require.Equal(t, 0, len(jobs.pending()))
}
