package effect

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capabilities"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/observability"
	"github.com/nrf1proto/capsule/pkg/pipeline"
	"github.com/nrf1proto/capsule/pkg/receipts"
	"github.com/nrf1proto/capsule/pkg/sealer"
	"github.com/nrf1proto/capsule/pkg/view"
)

// TicketQueue is the narrow surface the dispatcher needs from the permit
// subsystem to queue and close consent tickets; implemented by
// pkg/permit's TicketQueueAdapter.
type TicketQueue interface {
	Queue(ticketID, tenant string, requiredRoles []string, k, n int, expiresAt int64) error
	Close(ticketID string) error
}

// ReceiptSink receives appended hop receipts; implemented by whatever
// persists a capsule's receipt chain (e.g. a capsule store keyed by ID).
type ReceiptSink interface {
	AppendReceipt(capsuleID [32]byte, r *receipts.Receipt) error
}

// StorageWriter is the narrow object-storage surface WriteStorage effects
// need; satisfied by pkg/effect/storage.S3Store and .GCSStore.
type StorageWriter interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// Dispatcher routes declarative Effects to concrete adapters. Any
// unconfigured adapter makes its effect kind a logged dry-run, per
// spec §4.8.
type Dispatcher struct {
	http      *HTTPAdapter
	bindings  *Bindings
	tickets   TicketQueue
	receipts  ReceiptSink
	storage   StorageWriter
	llm       *CachedProvider
	signerKey *sealer.KeyPair
	hmacRoot  []byte
	obs       *observability.Provider

	mu   sync.Mutex
	seen map[[32]byte]bool
}

// Config wires the Dispatcher's optional adapters; any nil field falls
// back to dry-run for the effects it would have served.
type Config struct {
	HTTP      *HTTPAdapter
	Bindings  *Bindings
	Tickets   TicketQueue
	Receipts  ReceiptSink
	Storage   StorageWriter
	Llm       *CachedProvider
	SignerKey *sealer.KeyPair
	HmacRoot  []byte
	Obs       *observability.Provider
}

// New constructs a Dispatcher from a Config.
func New(cfg Config) *Dispatcher {
	bindings := cfg.Bindings
	if bindings == nil {
		bindings = NewBindings(nil)
	}
	return &Dispatcher{
		http:      cfg.HTTP,
		bindings:  bindings,
		tickets:   cfg.Tickets,
		receipts:  cfg.Receipts,
		storage:   cfg.Storage,
		llm:       cfg.Llm,
		signerKey: cfg.SignerKey,
		hmacRoot:  cfg.HmacRoot,
		obs:       cfg.Obs,
		seen:      make(map[[32]byte]bool),
	}
}

var _ pipeline.Dispatcher = (*Dispatcher)(nil)

// Execute implements pipeline.Dispatcher, routing eff to the matching
// adapter by its discriminator-derived run_key for idempotency.
func (d *Dispatcher) Execute(ctx context.Context, eff capabilities.Effect, ec pipeline.ExecCtx) error {
	runKey := RunKey(ec.CapsuleID, ec.StepID, eff)
	if d.markSeen(runKey) {
		d.emit(ctx, "effect.idempotent_skip", ec.StepID, eff.Kind)
		return nil
	}

	switch eff.Kind {
	case capabilities.EffectWebhook:
		return d.dispatchHTTP(ctx, eff, ec, runKey, errs.IoWebhookFailed)
	case capabilities.EffectRelayOut:
		return d.dispatchHTTP(ctx, eff, ec, runKey, errs.IoRelayFailed)
	case capabilities.EffectWriteStorage:
		return d.dispatchStorage(ctx, eff, ec)
	case capabilities.EffectQueueConsentTicket:
		return d.dispatchQueueTicket(eff, ec)
	case capabilities.EffectCloseConsentTicket:
		return d.dispatchCloseTicket(eff, ec)
	case capabilities.EffectAppendReceipt:
		return d.dispatchAppendReceipt(eff, ec)
	case capabilities.EffectInvokeLlm:
		return d.dispatchLlm(ctx, eff, ec)
	default:
		return errs.New(errs.Internal, "effect: unknown effect kind %d", eff.Kind)
	}
}

func (d *Dispatcher) markSeen(key [32]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return true
	}
	d.seen[key] = true
	return false
}

func (d *Dispatcher) emit(ctx context.Context, event, stepID string, kind capabilities.EffectKind) {
	if d.obs != nil {
		d.obs.Emit(ctx, event, "step_id", stepID, "kind", int(kind))
	}
}

func (d *Dispatcher) dispatchHTTP(ctx context.Context, eff capabilities.Effect, ec pipeline.ExecCtx, runKey [32]byte, terminalCode errs.Code) error {
	if d.http == nil {
		d.emit(ctx, "effect.dryrun", ec.StepID, eff.Kind)
		return nil
	}
	url, err := d.bindings.Resolve(eff.URLBinding)
	if err != nil {
		return err
	}
	body, err := bodyBytes(eff.Body)
	if err != nil {
		return err
	}
	hmacSecret := ""
	if eff.HMACBinding != "" && d.hmacRoot != nil {
		secretRef, err := d.bindings.Resolve(eff.HMACBinding)
		if err != nil {
			return err
		}
		sub, err := DeriveSigningSubkey(d.hmacRoot, secretRef)
		if err != nil {
			return err
		}
		hmacSecret = canon.EncodeHex(sub)
	}
	return d.http.Send(ctx, url, body, runKey, hmacSecret, terminalCode)
}

func (d *Dispatcher) dispatchStorage(ctx context.Context, eff capabilities.Effect, ec pipeline.ExecCtx) error {
	if d.storage == nil {
		d.emit(ctx, "effect.dryrun", ec.StepID, eff.Kind)
		return nil
	}
	_, err := d.storage.Store(ctx, eff.Data)
	if err != nil {
		return errs.New(errs.IoStorageFailed, "effect: storage write failed: %v", err)
	}
	return nil
}

func (d *Dispatcher) dispatchQueueTicket(eff capabilities.Effect, ec pipeline.ExecCtx) error {
	if d.tickets == nil {
		d.emit(context.Background(), "effect.dryrun", ec.StepID, eff.Kind)
		return nil
	}
	return d.tickets.Queue(eff.TicketID, eff.TicketTenant, eff.TicketRequiredRoles, eff.TicketK, eff.TicketN, eff.TicketExpiresAt)
}

func (d *Dispatcher) dispatchCloseTicket(eff capabilities.Effect, ec pipeline.ExecCtx) error {
	if d.tickets == nil {
		d.emit(context.Background(), "effect.dryrun", ec.StepID, eff.Kind)
		return nil
	}
	return d.tickets.Close(eff.TicketID)
}

func (d *Dispatcher) dispatchAppendReceipt(eff capabilities.Effect, ec pipeline.ExecCtx) error {
	if d.receipts == nil || d.signerKey == nil {
		d.emit(context.Background(), "effect.dryrun", ec.StepID, eff.Kind)
		return nil
	}
	lastID := receipts.Zero32
	r, err := receipts.AppendHop(ec.CapsuleID, lastID, eff.ReceiptKind, 0, d.signerKey)
	if err != nil {
		return err
	}
	return d.receipts.AppendReceipt(ec.CapsuleID, r)
}

func (d *Dispatcher) dispatchLlm(ctx context.Context, eff capabilities.Effect, ec pipeline.ExecCtx) error {
	if d.llm == nil {
		d.emit(ctx, "effect.dryrun", ec.StepID, eff.Kind)
		return nil
	}
	model, err := d.bindings.Resolve(eff.ModelBinding)
	if err != nil {
		return err
	}
	_, _, err = d.llm.Complete(ctx, model, eff.Prompt, eff.MaxTokens)
	return err
}

// bodyBytes renders an effect's body as RFC 8785 canonical JSON, so the
// bytes actually wired over HTTP and HMAC-signed are stable regardless
// of the Value's internal representation. The dispatcher's own canon
// wire format is for hashing/sealing, not for webhook payloads external
// systems parse as JSON.
func bodyBytes(v canon.Value) ([]byte, error) {
	if v.Kind() == canon.KindNull {
		return nil, nil
	}
	return jcsCanonicalize(v)
}

func jcsCanonicalize(v canon.Value) ([]byte, error) {
	jv, err := view.ToJsonView(view.NewCanonBytes(v))
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(jv.Raw(), &generic); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// RunKey computes blake3(capsule_id || step_id || effect_kind ||
// effect_discriminator), per spec §4.8. The discriminator is the field
// that identifies *what* the effect targets (URL, path, ticket ID, or
// model+prompt digest).
func RunKey(capsuleID [32]byte, stepID string, eff capabilities.Effect) [32]byte {
	buf := make([]byte, 0, 64+len(stepID)+32)
	buf = append(buf, capsuleID[:]...)
	buf = append(buf, stepID...)
	buf = append(buf, byte(eff.Kind))
	buf = append(buf, discriminator(eff)...)
	return canon.HashBytes(buf)
}

func discriminator(eff capabilities.Effect) []byte {
	switch eff.Kind {
	case capabilities.EffectWebhook, capabilities.EffectRelayOut:
		out := []byte(eff.URLBinding)
		// Fold the jcs-canonicalized body into the idempotency material
		// so a retried send with the same body reuses the run key while
		// a changed body (e.g. a different enrichment result) does not.
		if canonical, err := jcsCanonicalize(eff.Body); err == nil {
			out = append(out, canonical...)
		}
		return out
	case capabilities.EffectWriteStorage:
		return []byte(eff.PathBinding)
	case capabilities.EffectQueueConsentTicket, capabilities.EffectCloseConsentTicket:
		return []byte(eff.TicketID)
	case capabilities.EffectAppendReceipt:
		return []byte(eff.ReceiptKind)
	case capabilities.EffectInvokeLlm:
		key := CacheKey(eff.Model, eff.Prompt, eff.MaxTokens)
		return key[:]
	default:
		return nil
	}
}
