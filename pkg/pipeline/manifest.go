// Package pipeline implements the manifest-driven capability runtime of
// spec §4.7: an ordered list of steps, each resolved against a capability
// Registry, executed in turn, with verdict-driven flow control and
// hop-receipt generation.
//
// Grounded on the teacher's pkg/conform/engine.go: an ordered list run
// deterministically against a registered catalog, per-step duration
// recorded via an injectable clock, results accumulated into a single
// report value.
package pipeline

import (
	"gopkg.in/yaml.v3"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Step is one manifest entry: a capability invocation by kind and version
// requirement, with its own config and an optional error policy.
type Step struct {
	StepID     string      `yaml:"step_id"`
	Kind       string      `yaml:"kind"`
	VersionReq string      `yaml:"version_req"`
	Config     interface{} `yaml:"config"`
	OnError    string      `yaml:"on_error,omitempty"` // "halt" (default) | "continue"
}

// Manifest is an ordered list of steps plus a name for logging/resume
// bookkeeping.
type Manifest struct {
	Name     string `yaml:"name"`
	Pipeline []Step `yaml:"pipeline"`
}

// LoadManifest parses a YAML manifest document.
func LoadManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "pipeline: manifest is not valid YAML: %v", err)
	}
	if len(m.Pipeline) == 0 {
		return nil, errs.New(errs.ConfigInvalid, "pipeline: manifest %q has no steps", m.Name)
	}
	seen := make(map[string]bool, len(m.Pipeline))
	for _, s := range m.Pipeline {
		if s.StepID == "" {
			return nil, errs.New(errs.ConfigInvalid, "pipeline: manifest %q has a step with an empty step_id", m.Name)
		}
		if seen[s.StepID] {
			return nil, errs.New(errs.ConfigInvalid, "pipeline: manifest %q has duplicate step_id %q", m.Name, s.StepID)
		}
		seen[s.StepID] = true
		if s.Kind == "" {
			return nil, errs.New(errs.ConfigInvalid, "pipeline: step %q has an empty kind", s.StepID)
		}
	}
	return &m, nil
}

// configValue converts a step's YAML-decoded config (plain Go values from
// gopkg.in/yaml.v3, already map[string]interface{} after normalization)
// into a canon.Value tree for capability validation and execution.
func configValue(raw interface{}) (canon.Value, error) {
	norm := normalizeYAML(raw)
	return fromGo(norm)
}

// normalizeYAML recursively rewrites map[interface{}]interface{} (as
// produced by older yaml decoders and some nested shapes) into
// map[string]interface{} so fromGo's type switch is total.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[toString(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
