package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capabilities/stdcaps"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/pipeline"
	"github.com/nrf1proto/capsule/pkg/view"
)

// stdRegistry builds a Registry carrying every built-in capability, in
// the version slot v1 CLI runs resolve against.
func stdRegistry() (*capabilities.Registry, error) {
	reg := capabilities.NewRegistry()
	policy, err := stdcaps.NewPolicy("1.0.0")
	if err != nil {
		return nil, err
	}
	caps := []capabilities.Capability{
		stdcaps.NewIntake("1.0.0"),
		stdcaps.NewEnrich("1.0.0"),
		stdcaps.NewTransport("1.0.0"),
		stdcaps.NewLlm("1.0.0"),
		stdcaps.NewPermit("1.0.0"),
		policy,
	}
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func runPipelineCmd(sub string, args []string, stdout, stderr io.Writer) int {
	switch sub {
	case "run":
		return runPipelineRunCmd(args, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown pipeline subcommand: %s\n", sub)
		return 2
	}
}

func runPipelineRunCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pipeline run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestPath := fs.String("manifest", "", "path to a pipeline manifest YAML file")
	assetsDir := fs.String("assets", "", "directory assets resolve against (kind/ref subpaths)")
	tenant := fs.String("tenant", "", "tenant identifier attached to the run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *manifestPath == "" {
		fmt.Fprintln(stderr, "pipeline run: -manifest is required")
		return 2
	}

	mb, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: %v\n", err)
		return 1
	}
	m, err := pipeline.LoadManifest(mb)
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: %v\n", err)
		return 1
	}

	envRaw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: read stdin: %v\n", err)
		return 2
	}
	envCb, err := view.ToCanonBytes(view.NewJsonView(envRaw))
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: environment: %v\n", err)
		return 1
	}

	reg, err := stdRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: %v\n", err)
		return 1
	}
	rt := pipeline.NewRuntime(reg, nil)

	opts := pipeline.RunOpts{
		RunID:     uuid.NewString(),
		Tenant:    *tenant,
		HasTenant: *tenant != "",
		Assets:    fileAssetResolver{baseDir: *assetsDir},
	}

	result, err := rt.Run(context.Background(), m, envCb.Value(), opts)
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: %v\n", err)
		return 1
	}

	out, err := runResultDoc(result)
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: %v\n", err)
		return 1
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "pipeline run: %v\n", err)
		return 1
	}
	stdout.Write(enc)
	fmt.Fprintln(stdout)

	if result.Verdict == capsule.VerdictDeny {
		return 1
	}
	return 0
}

type runResultStepDoc struct {
	StepID  string `json:"step_id"`
	Kind    string `json:"kind"`
	Verdict string `json:"verdict"`
	HopID   string `json:"hop_id"`
}

type runResultDocT struct {
	Env       json.RawMessage    `json:"env"`
	Verdict   string             `json:"verdict"`
	StoppedAt string             `json:"stopped_at,omitempty"`
	Pending   bool               `json:"pending"`
	Steps     []runResultStepDoc `json:"steps"`
}

func runResultDoc(r *pipeline.RunResult) (runResultDocT, error) {
	jv, err := view.ToJsonView(view.NewCanonBytes(r.Env))
	if err != nil {
		return runResultDocT{}, err
	}
	steps := make([]runResultStepDoc, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = runResultStepDoc{
			StepID:  s.StepID,
			Kind:    s.Kind,
			Verdict: capsule.VerdictText(s.Verdict),
			HopID:   canon.EncodeHex(s.HopID[:]),
		}
	}
	return runResultDocT{
		Env:       jv.Raw(),
		Verdict:   capsule.VerdictText(r.Verdict),
		StoppedAt: r.StoppedAt,
		Pending:   r.Pending,
		Steps:     steps,
	}, nil
}
