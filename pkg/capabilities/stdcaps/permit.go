package stdcaps

import (
	"github.com/google/uuid"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Permit is cap-permit: queues a K-of-N consent ticket and always returns
// REQUIRE, deferring the actual outcome to the permit subsystem
// (pkg/permit) once the ticket transitions to ALLOW or DENY.
//
// Config shape: {"tenant": string, "required_roles": [string],
// "k": int, "n": int, "ttl_seconds": int}.
type Permit struct {
	apiVersion string
}

// NewPermit constructs a cap-permit capability.
func NewPermit(apiVersion string) *Permit { return &Permit{apiVersion: apiVersion} }

func (c *Permit) Kind() string       { return "cap-permit" }
func (c *Permit) APIVersion() string { return c.apiVersion }

func (c *Permit) ValidateConfig(cfg canon.Value) error {
	if err := validateConfigSchema(permitSchema, "cap-permit", cfg); err != nil {
		return err
	}
	// n >= k is a cross-field comparison plain JSON Schema cannot express;
	// it runs only once the shape above passes.
	k, _ := cfg.Get("k")
	n, _ := cfg.Get("n")
	if n.AsInt() < k.AsInt() {
		return errs.New(errs.ConfigInvalid, "cap-permit config requires \"n\" >= \"k\"")
	}
	return nil
}

func (c *Permit) Execute(in capabilities.CapInput) (capabilities.CapOutput, error) {
	k, _ := in.Config.Get("k")
	n, _ := in.Config.Get("n")
	rolesVal, _ := in.Config.Get("required_roles")
	roles := make([]string, 0, len(rolesVal.AsArray()))
	for _, r := range rolesVal.AsArray() {
		roles = append(roles, r.AsString())
	}
	ttl := int64(3600)
	if ttlVal, ok := in.Config.Get("ttl_seconds"); ok && ttlVal.Kind() == canon.KindInt {
		ttl = ttlVal.AsInt()
	}
	tenant := in.Meta.Tenant

	ticketID := uuid.NewString()
	effect := capabilities.Effect{
		Kind:                capabilities.EffectQueueConsentTicket,
		TicketID:            ticketID,
		TicketTenant:        tenant,
		TicketRequiredRoles: roles,
		TicketK:             int(k.AsInt()),
		TicketN:             int(n.AsInt()),
		TicketExpiresAt:     in.Meta.TsNanos + ttl*1_000_000_000,
	}
	return capabilities.CapOutput{
		Verdict:    capsule.VerdictRequire,
		HasVerdict: true,
		Effects:    []capabilities.Effect{effect},
	}, nil
}
