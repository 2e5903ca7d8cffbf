package stdcaps

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
)

// Transport is cap-transport: emits an AppendReceipt effect naming the
// configured receipt kind, and a RelayOut effect carrying env to the relay
// binding. It does not build the receipt itself: the effect dispatcher
// builds and signs the hop receipt when it handles AppendReceipt. It never
// sets a verdict.
//
// Config shape: {"receipt_kind": string, "relay_binding": string}.
type Transport struct {
	apiVersion string
}

// NewTransport constructs a cap-transport capability.
func NewTransport(apiVersion string) *Transport { return &Transport{apiVersion: apiVersion} }

func (c *Transport) Kind() string       { return "cap-transport" }
func (c *Transport) APIVersion() string { return c.apiVersion }

func (c *Transport) ValidateConfig(cfg canon.Value) error {
	return validateConfigSchema(transportSchema, "cap-transport", cfg)
}

func (c *Transport) Execute(in capabilities.CapInput) (capabilities.CapOutput, error) {
	kind, _ := in.Config.Get("receipt_kind")
	relay, _ := in.Config.Get("relay_binding")

	effects := []capabilities.Effect{
		{Kind: capabilities.EffectAppendReceipt, ReceiptKind: kind.AsString()},
		{Kind: capabilities.EffectRelayOut, URLBinding: relay.AsString(), Body: in.Env},
	}
	return capabilities.CapOutput{Effects: effects}, nil
}
