package stdcaps

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Llm is cap-llm: resolves a prompt by CID and emits an InvokeLlm effect
// carrying it. It never sets a verdict.
//
// Config shape: {"prompt_cid": string, "model_binding": string,
// "max_tokens": int, "inputs": map[string]string}. The "inputs" map is
// accepted by the config schema but not applied: the prompt is emitted as
// resolved, with no template substitution.
type Llm struct {
	apiVersion string
}

// NewLlm constructs a cap-llm capability.
func NewLlm(apiVersion string) *Llm { return &Llm{apiVersion: apiVersion} }

func (c *Llm) Kind() string       { return "cap-llm" }
func (c *Llm) APIVersion() string { return c.apiVersion }

func (c *Llm) ValidateConfig(cfg canon.Value) error {
	return validateConfigSchema(llmSchema, "cap-llm", cfg)
}

func (c *Llm) Execute(in capabilities.CapInput) (capabilities.CapOutput, error) {
	cid, _ := in.Config.Get("prompt_cid")
	promptBytes, err := in.Assets.Resolve("prompt", cid.AsString())
	if err != nil {
		return capabilities.CapOutput{}, errs.New(errs.ConfigInvalid, "cap-llm: prompt asset %q not resolvable: %v", cid.AsString(), err)
	}

	maxTokens := 512
	if mt, ok := in.Config.Get("max_tokens"); ok && mt.Kind() == canon.KindInt {
		maxTokens = int(mt.AsInt())
	}
	modelBinding := "env:NRF1_LLM_MODEL"
	if mb, ok := in.Config.Get("model_binding"); ok && mb.Kind() == canon.KindString {
		modelBinding = mb.AsString()
	}

	effect := capabilities.Effect{
		Kind:         capabilities.EffectInvokeLlm,
		Prompt:       string(promptBytes),
		MaxTokens:    maxTokens,
		ModelBinding: modelBinding,
	}
	return capabilities.CapOutput{Effects: []capabilities.Effect{effect}}, nil
}
