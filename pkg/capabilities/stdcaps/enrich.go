package stdcaps

import (
	"fmt"
	"strings"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Enrich is cap-enrich: renders a status HTML fragment from a template
// asset and env fields, then emits it via Webhook and/or WriteStorage. It
// never sets a verdict.
//
// Config shape: {"template_ref": string, "webhook_binding"?: string,
// "storage_path_binding"?: string}. Template substitution is a minimal
// "{{field}}" replacement over env's top-level string fields, matching the
// teacher's framing of status rendering as a display concern rather than
// a full templating engine.
type Enrich struct {
	apiVersion string
}

// NewEnrich constructs a cap-enrich capability.
func NewEnrich(apiVersion string) *Enrich { return &Enrich{apiVersion: apiVersion} }

func (c *Enrich) Kind() string       { return "cap-enrich" }
func (c *Enrich) APIVersion() string { return c.apiVersion }

func (c *Enrich) ValidateConfig(cfg canon.Value) error {
	return validateConfigSchema(enrichSchema, "cap-enrich", cfg)
}

func (c *Enrich) Execute(in capabilities.CapInput) (capabilities.CapOutput, error) {
	ref, _ := in.Config.Get("template_ref")
	tmpl, err := in.Assets.Resolve("template", ref.AsString())
	if err != nil {
		return capabilities.CapOutput{}, errs.New(errs.ConfigInvalid, "cap-enrich: template asset %q not resolvable: %v", ref.AsString(), err)
	}
	rendered := render(string(tmpl), in.Env)

	var effects []capabilities.Effect
	if wb, ok := in.Config.Get("webhook_binding"); ok {
		effects = append(effects, capabilities.Effect{
			Kind:       capabilities.EffectWebhook,
			URLBinding: wb.AsString(),
			Body:       canon.Str(rendered),
		})
	}
	if pb, ok := in.Config.Get("storage_path_binding"); ok {
		effects = append(effects, capabilities.Effect{
			Kind:        capabilities.EffectWriteStorage,
			PathBinding: pb.AsString(),
			Data:        []byte(rendered),
		})
	}
	return capabilities.CapOutput{Effects: effects}, nil
}

func render(tmpl string, env canon.Value) string {
	out := tmpl
	if env.Kind() != canon.KindMap {
		return out
	}
	for _, kv := range env.AsMapEntries() {
		if kv.Value.Kind() != canon.KindString {
			continue
		}
		out = strings.ReplaceAll(out, fmt.Sprintf("{{%s}}", kv.Key), kv.Value.AsString())
	}
	return out
}
