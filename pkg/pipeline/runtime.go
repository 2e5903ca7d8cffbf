package pipeline

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/observability"
)

// ExecCtx is passed to the effect dispatcher alongside each declared
// effect, carrying the run/step identity needed for idempotency keys.
type ExecCtx struct {
	RunID     string
	StepID    string
	CapsuleID [32]byte
	Tenant    string
}

// Dispatcher executes a declared Effect. Implemented by pkg/effect's
// Dispatcher; kept as a narrow interface here so the runtime does not
// depend on any concrete adapter.
type Dispatcher interface {
	Execute(ctx context.Context, eff capabilities.Effect, ec ExecCtx) error
}

// noopDispatcher logs and treats every effect as successful, matching
// spec §4.8's "dry-run" behavior when no adapter is configured.
type noopDispatcher struct {
	obs *observability.Provider
}

func (d noopDispatcher) Execute(ctx context.Context, eff capabilities.Effect, ec ExecCtx) error {
	if d.obs != nil {
		d.obs.Emit(ctx, "effect.dryrun", "step_id", ec.StepID, "kind", int(eff.Kind))
	}
	return nil
}

// StepResult records one executed step's outcome for the run report.
type StepResult struct {
	StepID    string
	Kind      string
	Version   string
	Verdict   capsule.Verdict
	HopID     [32]byte
	Artifacts []capabilities.Artifact
	Metrics   []capabilities.Metric
	Effects   []capabilities.Effect
	ElapsedNs int64
}

// RunResult is the outcome of Runtime.Run.
type RunResult struct {
	Env        canon.Value
	Verdict    capsule.Verdict
	StoppedAt  string
	Pending    bool
	Steps      []StepResult
	HopIDs     [][32]byte
}

// RunOpts configures a single Run invocation.
type RunOpts struct {
	RunID      string
	Tenant     string
	HasTenant  bool
	TraceID    string
	HasTrace   bool
	Assets     capabilities.AssetResolver
	CapsuleID  [32]byte
	Dispatcher Dispatcher
	Now        func() time.Time // overridable for deterministic tests

	// StartAt resumes execution at m.Pipeline[StartAt] instead of the
	// first step, for the resume-after-REQUIRE path (spec §4.9): env
	// and receipts must be supplied by the caller as they stood when
	// the run paused.
	StartAt      int
	PriorReceipt []capabilities.Cid
}

// Runtime executes a Manifest's steps against a capability Registry.
type Runtime struct {
	registry *capabilities.Registry
	obs      *observability.Provider
}

// NewRuntime constructs a Runtime bound to a capability registry and an
// observability provider (may be nil, in which case events are dropped).
func NewRuntime(reg *capabilities.Registry, obs *observability.Provider) *Runtime {
	return &Runtime{registry: reg, obs: obs}
}

// Run executes the manifest's steps in order. DENY halts immediately;
// REQUIRE halts and reports Pending=true so the caller can create a
// resume job; ALLOW continues to the next step.
func (rt *Runtime) Run(ctx context.Context, m *Manifest, env canon.Value, opts RunOpts) (*RunResult, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	dispatch := opts.Dispatcher
	if dispatch == nil {
		dispatch = noopDispatcher{obs: rt.obs}
	}

	rt.emit(ctx, observability.EventPipelineStart, "run_id", opts.RunID, "manifest", m.Name, "steps", len(m.Pipeline))

	verdict := capsule.VerdictAllow
	receiptIDs := append([]capabilities.Cid{}, opts.PriorReceipt...)
	var hopIDs [][32]byte
	var results []StepResult

	steps := m.Pipeline
	if opts.StartAt > 0 {
		if opts.StartAt > len(steps) {
			return nil, errs.New(errs.ConfigInvalid, "pipeline: resume start index %d exceeds %d steps", opts.StartAt, len(steps))
		}
		steps = steps[opts.StartAt:]
	}

	for idx, step := range steps {
		i := idx + opts.StartAt
		cfg, err := configValue(step.Config)
		if err != nil {
			return nil, err
		}

		cap, err := rt.registry.Get(step.Kind, step.VersionReq)
		if err != nil {
			return nil, err
		}
		if err := cap.ValidateConfig(cfg); err != nil {
			return nil, err
		}

		meta := capabilities.Meta{
			RunID:     opts.RunID,
			Tenant:    opts.Tenant,
			HasTenant: opts.HasTenant,
			TraceID:   opts.TraceID,
			HasTrace:  opts.HasTrace,
			TsNanos:   now().UnixNano(),
		}
		in := capabilities.CapInput{
			Env:          env,
			Config:       cfg,
			Assets:       opts.Assets,
			PrevReceipts: receiptIDs,
			Meta:         meta,
		}

		start := now()
		out, err := cap.Execute(in)
		elapsed := now().Sub(start)
		if rt.obs != nil {
			rt.obs.RecordStep(ctx, elapsed, err)
		}
		if err != nil {
			return nil, errs.New(errs.Internal, "pipeline: step %q (%s) failed: %v", step.StepID, step.Kind, err)
		}

		if out.HasNewEnv {
			env = out.NewEnv
		}
		if out.HasVerdict {
			verdict = out.Verdict
		}

		hop := hopID(step.StepID, step.Kind, cap.APIVersion(), verdict, len(out.Metrics))
		hopIDs = append(hopIDs, hop)
		receiptIDs = append(receiptIDs, canon.CIDFromHash(hop))

		result := StepResult{
			StepID:    step.StepID,
			Kind:      step.Kind,
			Version:   cap.APIVersion(),
			Verdict:   verdict,
			HopID:     hop,
			Artifacts: out.Artifacts,
			Metrics:   out.Metrics,
			Effects:   out.Effects,
			ElapsedNs: elapsed.Nanoseconds(),
		}
		results = append(results, result)

		for _, eff := range out.Effects {
			ec := ExecCtx{RunID: opts.RunID, StepID: step.StepID, CapsuleID: opts.CapsuleID, Tenant: opts.Tenant}
			if dispErr := dispatch.Execute(ctx, eff, ec); dispErr != nil {
				return nil, errs.New(errs.Internal, "pipeline: step %q effect dispatch failed: %v", step.StepID, dispErr)
			}
		}

		rt.emit(ctx, observability.EventPipelineStepDone,
			"step_id", step.StepID, "verdict", capsule.VerdictText(verdict),
			"effects", len(out.Effects), "artifacts", len(out.Artifacts), "elapsed_ms", elapsed.Milliseconds())

		switch verdict {
		case capsule.VerdictDeny:
			rt.emit(ctx, observability.EventPipelineHalt, "step_id", step.StepID, "verdict", "DENY")
			rt.emit(ctx, observability.EventPipelineEnd, "run_id", opts.RunID, "stopped_at", step.StepID)
			return &RunResult{Env: env, Verdict: verdict, StoppedAt: step.StepID, Steps: results, HopIDs: hopIDs}, nil
		case capsule.VerdictRequire:
			rt.emit(ctx, observability.EventPipelinePending, "step_id", step.StepID, "resume_after_step", i)
			rt.emit(ctx, observability.EventPipelineEnd, "run_id", opts.RunID, "stopped_at", step.StepID, "pending", true)
			return &RunResult{Env: env, Verdict: verdict, StoppedAt: step.StepID, Pending: true, Steps: results, HopIDs: hopIDs}, nil
		}
		verdict = capsule.VerdictAllow
	}

	rt.emit(ctx, observability.EventPipelineEnd, "run_id", opts.RunID, "stopped_at", "")
	return &RunResult{Env: env, Verdict: capsule.VerdictAllow, Steps: results, HopIDs: hopIDs}, nil
}

func (rt *Runtime) emit(ctx context.Context, event string, kv ...any) {
	if rt.obs != nil {
		rt.obs.Emit(ctx, event, kv...)
	}
}

// hopID computes blake3(step_id || kind || version || VerdictText(verdict)
// || le64(len(metrics))), per the Open Question resolution in SPEC_FULL.md
// §4.7.
func hopID(stepID, kind, version string, verdict capsule.Verdict, numMetrics int) [32]byte {
	buf := make([]byte, 0, len(stepID)+len(kind)+len(version)+8+8)
	buf = append(buf, stepID...)
	buf = append(buf, kind...)
	buf = append(buf, version...)
	buf = append(buf, capsule.VerdictText(verdict)...)
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], uint64(numMetrics))
	buf = append(buf, le[:]...)
	return canon.HashBytes(buf)
}
