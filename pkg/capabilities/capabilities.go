// Package capabilities defines the pure-function capability contract of
// spec §4.6 (Capability, CapInput/CapOutput, Effect, AssetResolver) and a
// thread-safe Registry keyed by (kind, api_version) with semver-aware
// version-requirement lookup.
//
// Grounded on the teacher's ToolCatalog (pkg/capabilities/types.go) for the
// "catalog of invokable units, looked up by identity" shape and on
// pkg/registry/registry.go's sync.RWMutex-guarded in-memory map for the
// concurrency model (spec §5: "registry is read-only after startup; safely
// shared").
package capabilities

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Cid is a content identifier string, "b3:<hex>".
type Cid = string

// Meta carries per-run metadata threaded into every capability call.
type Meta struct {
	RunID     string
	Tenant    string
	HasTenant bool
	TraceID   string
	HasTrace  bool
	TsNanos   int64
}

// AssetResolver is a read-only, reference-counted cache mapping
// (kind, ref) to content bytes, used by capabilities that need to resolve
// prompt-by-CID or template bodies without performing their own IO.
type AssetResolver interface {
	Resolve(kind, ref string) ([]byte, error)
}

// CapInput is the single argument to Capability.Execute.
type CapInput struct {
	Env          canon.Value
	Config       canon.Value
	Assets       AssetResolver
	PrevReceipts []Cid
	Meta         Meta
}

// Artifact is an opaque, content-addressed output record a capability may
// emit alongside its effects.
type Artifact struct {
	Kind string
	Cid  Cid
}

// EffectKind enumerates the closed Effect sum type of spec §3.4.
type EffectKind int

const (
	EffectWebhook EffectKind = iota
	EffectWriteStorage
	EffectQueueConsentTicket
	EffectCloseConsentTicket
	EffectAppendReceipt
	EffectRelayOut
	EffectInvokeLlm
)

// Effect is a declared side effect a capability wants performed on its
// behalf by the Effect Dispatcher; Execute itself never performs IO.
type Effect struct {
	Kind EffectKind

	// Webhook / RelayOut
	URLBinding  string // literal or "env:<VAR>"
	Body        canon.Value
	HMACBinding string // literal or "env:<VAR>", empty if unsigned

	// WriteStorage
	PathBinding string
	Data        []byte

	// QueueConsentTicket / CloseConsentTicket
	TicketID            string
	TicketTenant        string
	TicketRequiredRoles []string
	TicketK, TicketN    int
	TicketExpiresAt     int64

	// AppendReceipt
	ReceiptKind string

	// InvokeLlm
	Model        string
	Prompt       string
	MaxTokens    int
	ModelBinding string // literal or "env:<VAR>" for model selection
}

// CapOutput is the return value of Capability.Execute.
type CapOutput struct {
	NewEnv     canon.Value
	HasNewEnv  bool
	Verdict    capsule.Verdict
	HasVerdict bool
	Artifacts  []Artifact
	Effects    []Effect
	Metrics    []Metric
}

// Metric is a single (name, value) pair recorded by a capability.
type Metric struct {
	Name  string
	Value int64
}

// Capability is a pure function execute(CapInput) -> CapOutput performing
// no IO; side effects are declared via CapOutput.Effects. Kind/APIVersion
// identify the capability for registry lookup; ValidateConfig is called
// before every Execute so invalid steps fail fast.
type Capability interface {
	Kind() string
	APIVersion() string
	ValidateConfig(cfg canon.Value) error
	Execute(in CapInput) (CapOutput, error)
}

// Registry is a thread-safe catalog of registered capabilities, looked up
// by (kind, version_req) using major-version-compatible semver matching
// ("*" any, "X" exact major, "^X.*" compatible-with-major-X).
type Registry struct {
	mu     sync.RWMutex
	byKind map[string][]Capability // each entry's APIVersion is a valid semver
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string][]Capability)}
}

// Register adds a capability under its own (Kind(), APIVersion()).
func (r *Registry) Register(c Capability) error {
	if _, err := semver.NewVersion(c.APIVersion()); err != nil {
		return errs.New(errs.ConfigInvalid, "capability %q has an invalid api_version %q: %v", c.Kind(), c.APIVersion(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[c.Kind()] = append(r.byKind[c.Kind()], c)
	return nil
}

// Get looks up a capability by kind and a version requirement: "*" (any),
// a bare major version "X", or "^X.*" (major-compatible). Among matches,
// the highest version wins.
func (r *Registry) Get(kind, versionReq string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates, ok := r.byKind[kind]
	if !ok || len(candidates) == 0 {
		return nil, errs.New(errs.ConfigCapNotFound, "no capability registered for kind %q", kind)
	}

	constraint, err := parseVersionReq(versionReq)
	if err != nil {
		return nil, err
	}

	var best Capability
	var bestVer *semver.Version
	for _, c := range candidates {
		v, err := semver.NewVersion(c.APIVersion())
		if err != nil {
			continue
		}
		if constraint != nil && !constraint.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = c, v
		}
	}
	if best == nil {
		return nil, errs.New(errs.ConfigCapNotFound, "no capability version of kind %q satisfies %q", kind, versionReq)
	}
	return best, nil
}

func parseVersionReq(req string) (*semver.Constraints, error) {
	if req == "" || req == "*" {
		return nil, nil
	}
	norm := req
	if len(req) > 0 && req[0] != '^' && req[0] != '~' && req[0] != '>' && req[0] != '<' && req[0] != '=' {
		// A bare major version "X" is shorthand for "^X".
		norm = "^" + req
	}
	c, err := semver.NewConstraint(norm)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "invalid version requirement %q: %v", req, err)
	}
	return c, nil
}

func (m Meta) String() string {
	return fmt.Sprintf("run=%s tenant=%v trace=%v ts=%d", m.RunID, m.Tenant, m.TraceID, m.TsNanos)
}
