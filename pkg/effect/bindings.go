// Package effect implements the Effect Dispatcher of spec §4.8: a
// strategy-pattern router from declarative capabilities.Effect values to
// concrete IO, with binding resolution, idempotency, retry, HMAC signing,
// and an LLM disk cache.
//
// Grounded on the teacher's resilience/store primitives:
// pkg/util/resiliency/client.go (retry+backoff HTTP client),
// pkg/governance/keyring.go (HKDF sub-key derivation),
// pkg/kernel/limiter_redis.go (Redis token bucket), and
// pkg/artifacts/{s3,gcs}_store.go (content-addressed object stores,
// adapted in pkg/effect/storage).
package effect

import (
	"os"
	"strings"

	"github.com/nrf1proto/capsule/pkg/errs"
)

// Bindings resolves an effect's literal-or-"env:<VAR>" fields at dispatch
// time. Resolved values are never logged.
type Bindings struct {
	env map[string]string
}

// NewBindings builds a Bindings resolver from an explicit map, falling
// back to the process environment for any key not present in it — this
// lets tests substitute bindings without touching real env vars.
func NewBindings(overrides map[string]string) *Bindings {
	b := &Bindings{env: make(map[string]string, len(overrides))}
	for k, v := range overrides {
		b.env[k] = v
	}
	return b
}

// Resolve returns the literal value for a non-"env:" binding, or the
// named variable's value for an "env:<VAR>" binding.
func (b *Bindings) Resolve(binding string) (string, error) {
	if binding == "" {
		return "", nil
	}
	rest, ok := strings.CutPrefix(binding, "env:")
	if !ok {
		return binding, nil
	}
	if v, ok := b.env[rest]; ok {
		return v, nil
	}
	if v, ok := os.LookupEnv(rest); ok {
		return v, nil
	}
	return "", errs.New(errs.ConfigInvalid, "effect: binding references unset variable %q", rest)
}
