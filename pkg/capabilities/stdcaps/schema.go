package stdcaps

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/view"
)

const intakeConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object"
}`

const policyConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"rule": {"type": "string", "minLength": 1},
		"allow": {"type": "string"},
		"deny": {"type": "string"}
	},
	"required": ["rule"]
}`

const permitConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"tenant": {"type": "string"},
		"required_roles": {"type": "array", "minItems": 1, "items": {"type": "string"}},
		"k": {"type": "integer", "minimum": 1},
		"n": {"type": "integer", "minimum": 1},
		"ttl_seconds": {"type": "integer", "minimum": 0}
	},
	"required": ["k", "n", "required_roles"]
}`

const enrichConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"template_ref": {"type": "string", "minLength": 1},
		"webhook_binding": {"type": "string"},
		"storage_path_binding": {"type": "string"}
	},
	"required": ["template_ref"],
	"anyOf": [
		{"required": ["webhook_binding"]},
		{"required": ["storage_path_binding"]}
	]
}`

const transportConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"receipt_kind": {"type": "string", "minLength": 1},
		"relay_binding": {"type": "string", "minLength": 1}
	},
	"required": ["receipt_kind", "relay_binding"]
}`

const llmConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"prompt_cid": {"type": "string", "minLength": 1},
		"model_binding": {"type": "string"},
		"max_tokens": {"type": "integer", "minimum": 1},
		"inputs": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"required": ["prompt_cid"]
}`

var (
	intakeSchema    = mustCompileConfigSchema("nrf1:stdcaps/cap-intake.schema.json", intakeConfigSchema)
	policySchema    = mustCompileConfigSchema("nrf1:stdcaps/cap-policy.schema.json", policyConfigSchema)
	permitSchema    = mustCompileConfigSchema("nrf1:stdcaps/cap-permit.schema.json", permitConfigSchema)
	enrichSchema    = mustCompileConfigSchema("nrf1:stdcaps/cap-enrich.schema.json", enrichConfigSchema)
	transportSchema = mustCompileConfigSchema("nrf1:stdcaps/cap-transport.schema.json", transportConfigSchema)
	llmSchema       = mustCompileConfigSchema("nrf1:stdcaps/cap-llm.schema.json", llmConfigSchema)
)

func mustCompileConfigSchema(id, schemaJSON string) *jsonschema.Schema {
	s, err := compileConfigSchema(id, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// compileConfigSchema compiles a JSON Schema document for a capability's
// config, in the teacher's jsonschema.NewCompiler/Draft2020/AddResource/
// Compile shape (pkg/interfaces/agui/agui.go). id is a stable resource
// URI, not fetched over the network.
func compileConfigSchema(id, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(id, strings.NewReader(schemaJSON)); err != nil {
		return nil, errs.New(errs.Internal, "stdcaps: %s: invalid schema: %v", id, err)
	}
	return c.Compile(id)
}

// validateConfigSchema checks cfg against a compiled config schema. cfg
// is rendered through its JSON view, the display-only mapping jsonschema
// can actually walk, never through the canon wire encoding.
func validateConfigSchema(schema *jsonschema.Schema, kind string, cfg canon.Value) error {
	jv, err := view.ToJsonView(view.NewCanonBytes(cfg))
	if err != nil {
		return errs.New(errs.ConfigInvalid, "%s config is not representable as JSON: %v", kind, err)
	}
	var generic interface{}
	if err := json.Unmarshal(jv.Raw(), &generic); err != nil {
		return errs.New(errs.ConfigInvalid, "%s config: %v", kind, err)
	}
	if err := schema.Validate(generic); err != nil {
		return errs.New(errs.ConfigInvalid, "%s config failed schema validation: %v", kind, err)
	}
	return nil
}
