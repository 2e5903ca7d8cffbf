package stdcaps

import (
	"github.com/google/cel-go/cel"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/view"
)

// Policy is cap-policy: evaluates a CEL boolean rule over env and
// issues ALLOW/DENY/REQUIRE per config.
//
// Config shape: {"rule": "<CEL expression>", "allow": "<verdict string>",
// "deny": "<verdict string>"}. The rule is evaluated with a single `input`
// variable bound to env's JSON view; a true result yields the configured
// allow verdict (ALLOW when unset), a false result the deny verdict (DENY
// when unset), and a non-boolean result is an error. REQUIRE is issued by
// configuring "REQUIRE" as the "allow" or "deny" verdict.
//
// Grounded on the teacher's CEL decision-point evaluator
// (pkg/kernel/celdp/evaluator.go): a single `input` map[string]dyn
// variable, compile-then-program-then-eval, fail-closed on any CEL error.
type Policy struct {
	apiVersion string
	env        *cel.Env
}

// NewPolicy constructs a cap-policy capability. CEL environment setup
// mirrors the teacher's celdp.NewEvaluator.
func NewPolicy(apiVersion string) (*Policy, error) {
	env, err := cel.NewEnv(cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, errs.New(errs.Internal, "cap-policy: cel env init failed: %v", err)
	}
	return &Policy{apiVersion: apiVersion, env: env}, nil
}

func (c *Policy) Kind() string       { return "cap-policy" }
func (c *Policy) APIVersion() string { return c.apiVersion }

func (c *Policy) ValidateConfig(cfg canon.Value) error {
	if err := validateConfigSchema(policySchema, "cap-policy", cfg); err != nil {
		return err
	}
	// Compilability of the CEL rule is a semantic check JSON Schema
	// cannot express; it runs only once the shape above passes.
	rule, _ := cfg.Get("rule")
	if _, issues := c.env.Compile(rule.AsString()); issues != nil && issues.Err() != nil {
		return errs.New(errs.ConfigInvalid, "cap-policy rule does not compile: %v", issues.Err())
	}
	return nil
}

func (c *Policy) Execute(in capabilities.CapInput) (capabilities.CapOutput, error) {
	rule, _ := in.Config.Get("rule")
	ast, issues := c.env.Compile(rule.AsString())
	if issues != nil && issues.Err() != nil {
		return capabilities.CapOutput{}, errs.New(errs.ConfigInvalid, "cap-policy: %v", issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return capabilities.CapOutput{}, errs.New(errs.Internal, "cap-policy: program build failed: %v", err)
	}

	jv, err := view.ToJsonView(view.NewCanonBytes(in.Env))
	if err != nil {
		return capabilities.CapOutput{}, errs.New(errs.Internal, "cap-policy: env is not representable as a JSON view: %v", err)
	}
	inputMap, err := jsonViewToCELInput(jv)
	if err != nil {
		return capabilities.CapOutput{}, err
	}

	out, _, err := prg.Eval(map[string]interface{}{"input": inputMap})
	if err != nil {
		return capabilities.CapOutput{}, errs.New(errs.ConfigInvalid, "cap-policy: rule evaluation failed: %v", err)
	}

	truthy, ok := out.Value().(bool)
	if !ok {
		return capabilities.CapOutput{}, errs.New(errs.ConfigInvalid, "cap-policy: rule must evaluate to a boolean")
	}

	verdictField := "deny"
	if truthy {
		verdictField = "allow"
	}
	vv, ok := in.Config.Get(verdictField)
	verdictText := "DENY"
	if ok && vv.Kind() == canon.KindString {
		verdictText = vv.AsString()
	} else if truthy {
		verdictText = "ALLOW"
	}

	verdict, err := parseVerdict(verdictText)
	if err != nil {
		return capabilities.CapOutput{}, err
	}
	return capabilities.CapOutput{Verdict: verdict, HasVerdict: true}, nil
}

func parseVerdict(s string) (capsule.Verdict, error) {
	switch s {
	case "ALLOW":
		return capsule.VerdictAllow, nil
	case "DENY":
		return capsule.VerdictDeny, nil
	case "REQUIRE":
		return capsule.VerdictRequire, nil
	default:
		return capsule.VerdictNone, errs.New(errs.ConfigInvalid, "cap-policy: unknown verdict text %q", s)
	}
}
