// Package stdcaps implements the six standard capability kinds of spec
// §4.6: cap-intake, cap-policy, cap-permit, cap-llm, cap-enrich, and
// cap-transport.
package stdcaps

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/canon/rho"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Intake is cap-intake: a declarative mapping DSL over env that applies
// defaults and rewrites env. It never sets a verdict.
//
// Its config is a map of top-level env keys to default Values: any key not
// already present in env (per canon.Value.Get on the top-level map) is
// filled in with the configured default. Only top-level keys are
// supported, matching the "declarative mapping DSL" framing without
// inventing a nested-path grammar the spec does not name.
type Intake struct {
	apiVersion string
}

// NewIntake constructs a cap-intake capability at the given API version.
func NewIntake(apiVersion string) *Intake { return &Intake{apiVersion: apiVersion} }

func (c *Intake) Kind() string       { return "cap-intake" }
func (c *Intake) APIVersion() string { return c.apiVersion }

func (c *Intake) ValidateConfig(cfg canon.Value) error {
	return validateConfigSchema(intakeSchema, "cap-intake", cfg)
}

func (c *Intake) Execute(in capabilities.CapInput) (capabilities.CapOutput, error) {
	env := in.Env
	if env.Kind() != canon.KindMap {
		return capabilities.CapOutput{NewEnv: env, HasNewEnv: true}, nil
	}

	entries := append([]canon.MapEntry{}, env.AsMapEntries()...)
	present := make(map[string]bool, len(entries))
	for _, kv := range entries {
		present[kv.Key] = true
	}
	for _, kv := range in.Config.AsMapEntries() {
		if !present[kv.Key] {
			entries = append(entries, kv)
		}
	}
	merged, err := canon.MapOf(entries)
	if err != nil {
		return capabilities.CapOutput{}, errs.New(errs.Internal, "cap-intake: %v", err)
	}
	return capabilities.CapOutput{NewEnv: rho.Normalize(merged), HasNewEnv: true}, nil
}
