package main

import (
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/view"
)

// capsuleDoc is the CLI's flat JSON-over-stdin representation of a
// capsule, thin enough to build or inspect by hand. It is a convenience
// wrapper over capsule.Capsule/capsule.Header/capsule.Envelope, not a
// wire format: hashing and signing always run through pkg/capsule's
// Header/Envelope values, never through this JSON shape.
type capsuleDoc struct {
	Domain   string          `json:"domain,omitempty"`
	ID       string          `json:"id,omitempty"`
	Src      string          `json:"src"`
	Dst      string          `json:"dst,omitempty"`
	Act      string          `json:"act"`
	Scope    string          `json:"scope,omitempty"`
	Nonce    string          `json:"nonce,omitempty"`
	Ts       int64           `json:"ts,omitempty"`
	Exp      int64           `json:"exp,omitempty"`
	Body     json.RawMessage `json:"body"`
	Verdict  string          `json:"verdict"`
	Kid      string          `json:"kid,omitempty"`
	Aud      string          `json:"aud,omitempty"`
	Evidence []string        `json:"evidence,omitempty"`
	HasEvi   bool            `json:"has_evidence,omitempty"`
	Prev     string          `json:"prev,omitempty"`
	Sig      string          `json:"sig,omitempty"`
}

func verdictFromText(s string) (capsule.Verdict, error) {
	switch s {
	case "ALLOW":
		return capsule.VerdictAllow, nil
	case "DENY":
		return capsule.VerdictDeny, nil
	case "REQUIRE":
		return capsule.VerdictRequire, nil
	case "GHOST":
		return capsule.VerdictGhost, nil
	default:
		return capsule.VerdictNone, fmt.Errorf("unknown verdict %q", s)
	}
}

func runCapsuleCmd(sub string, args []string, stdout, stderr io.Writer) int {
	switch sub {
	case "seal":
		return runCapsuleSealCmd(args, stdout, stderr)
	case "verify":
		return runCapsuleVerifyCmd(args, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown capsule subcommand: %s\n", sub)
		return 2
	}
}

func runCapsuleSealCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("capsule seal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyPath := fs.String("key", "", "path to a hex-encoded Ed25519 private key (generated if missing)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 2
	}
	var doc capsuleDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(stderr, "parse capsule document: %v\n", err)
		return 2
	}

	verdict, err := verdictFromText(doc.Verdict)
	if err != nil {
		fmt.Fprintf(stderr, "capsule seal: %v\n", err)
		return 1
	}

	bodyCb, err := view.ToCanonBytes(view.NewJsonView(doc.Body))
	if err != nil {
		fmt.Fprintf(stderr, "capsule seal: body: %v\n", err)
		return 1
	}

	var nonce [16]byte
	if doc.Nonce != "" {
		nonceBytes, err := canon.DecodeHex(doc.Nonce)
		if err != nil {
			fmt.Fprintf(stderr, "capsule seal: nonce: %v\n", err)
			return 1
		}
		copy(nonce[:], nonceBytes)
	} else if _, err := rand.Read(nonce[:]); err != nil {
		fmt.Fprintf(stderr, "capsule seal: %v\n", err)
		return 1
	}
	ts := doc.Ts
	if ts == 0 {
		ts = time.Now().UnixNano()
	}

	hdr := capsule.Header{
		Src:    doc.Src,
		Dst:    doc.Dst,
		Nonce:  nonce,
		Ts:     ts,
		Act:    doc.Act,
		Scope:  doc.Scope,
		Exp:    doc.Exp,
		HasDst: doc.Dst != "",
		HasExp: doc.Exp != 0,
	}
	env := capsule.Envelope{
		Body:        bodyCb.Value(),
		Evidence:    doc.Evidence,
		HasEvidence: doc.HasEvi || verdict == capsule.VerdictAllow || verdict == capsule.VerdictDeny,
	}
	if doc.Prev != "" {
		prevBytes, err := canon.DecodeHex(doc.Prev)
		if err != nil {
			fmt.Fprintf(stderr, "capsule seal: prev: %v\n", err)
			return 1
		}
		copy(env.Links.Prev[:], prevBytes)
		env.Links.HasPrev = true
	}

	if err := capsule.CheckStructuralInvariants(verdict, env); err != nil {
		fmt.Fprintf(stderr, "capsule seal: %v\n", err)
		return 1
	}

	kp, err := loadOrGenerateKey(*keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "capsule seal: key: %v\n", err)
		return 1
	}

	c, err := capsule.Build(hdr, env, kp.Kid, "capsule", doc.Aud, doc.Aud != "", verdict, kp)
	if err != nil {
		fmt.Fprintf(stderr, "capsule seal: %v\n", err)
		return 1
	}

	out, err := capsuleDocFromCapsule(c)
	if err != nil {
		fmt.Fprintf(stderr, "capsule seal: %v\n", err)
		return 1
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "capsule seal: %v\n", err)
		return 1
	}
	stdout.Write(enc)
	fmt.Fprintln(stdout)
	return 0
}

func runCapsuleVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("capsule verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	kidHex := fs.String("kid", "", "hex-encoded Ed25519 public key of the expected signer")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *kidHex == "" {
		fmt.Fprintln(stderr, "capsule verify: -kid is required")
		return 2
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 2
	}
	var doc capsuleDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(stderr, "parse capsule document: %v\n", err)
		return 2
	}

	c, err := capsuleFromDoc(doc)
	if err != nil {
		fmt.Fprintf(stderr, "capsule verify: %v\n", err)
		return 1
	}

	resolve, err := resolverFromKidHex(*kidHex)
	if err != nil {
		fmt.Fprintf(stderr, "capsule verify: %v\n", err)
		return 1
	}

	if err := capsule.VerifySeal(c, resolve, capsule.VerifyOpts{Now: time.Now().UnixNano(), CheckExp: c.Hdr.HasExp}); err != nil {
		fmt.Fprintf(stderr, "capsule verify: seal: %v\n", err)
		return 1
	}
	if err := c.VerifyReceipts(resolve); err != nil {
		fmt.Fprintf(stderr, "capsule verify: receipts: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "OK")
	return 0
}

func capsuleDocFromCapsule(c *capsule.Capsule) (capsuleDoc, error) {
	jv, err := view.ToJsonView(view.NewCanonBytes(c.Env.Body))
	if err != nil {
		return capsuleDoc{}, err
	}
	prev := ""
	if c.Env.Links.HasPrev {
		prev = canon.EncodeHex(c.Env.Links.Prev[:])
	}
	return capsuleDoc{
		Domain:   c.Domain,
		ID:       canon.EncodeHex(c.ID[:]),
		Src:      c.Hdr.Src,
		Dst:      c.Hdr.Dst,
		Act:      c.Hdr.Act,
		Scope:    c.Hdr.Scope,
		Nonce:    canon.EncodeHex(c.Hdr.Nonce[:]),
		Ts:       c.Hdr.Ts,
		Exp:      c.Hdr.Exp,
		Body:     jv.Raw(),
		Verdict:  capsule.VerdictText(c.Verdict),
		Kid:      c.Seal.Kid,
		Aud:      c.Seal.Aud,
		Evidence: c.Env.Evidence,
		HasEvi:   c.Env.HasEvidence,
		Prev:     prev,
		Sig:      canon.EncodeHex(c.Seal.Sig[:]),
	}, nil
}

func capsuleFromDoc(doc capsuleDoc) (*capsule.Capsule, error) {
	verdict, err := verdictFromText(doc.Verdict)
	if err != nil {
		return nil, err
	}
	bodyCb, err := view.ToCanonBytes(view.NewJsonView(doc.Body))
	if err != nil {
		return nil, err
	}
	idBytes, err := canon.DecodeHex(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	sigBytes, err := canon.DecodeHex(doc.Sig)
	if err != nil {
		return nil, fmt.Errorf("sig: %w", err)
	}
	var nonce [16]byte
	if doc.Nonce != "" {
		nonceBytes, err := canon.DecodeHex(doc.Nonce)
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		copy(nonce[:], nonceBytes)
	}
	hdr := capsule.Header{
		Src:    doc.Src,
		Dst:    doc.Dst,
		Nonce:  nonce,
		Ts:     doc.Ts,
		Act:    doc.Act,
		Scope:  doc.Scope,
		Exp:    doc.Exp,
		HasDst: doc.Dst != "",
		HasExp: doc.Exp != 0,
	}
	env := capsule.Envelope{
		Body:        bodyCb.Value(),
		Evidence:    doc.Evidence,
		HasEvidence: doc.HasEvi,
	}
	if doc.Prev != "" {
		prevBytes, err := canon.DecodeHex(doc.Prev)
		if err != nil {
			return nil, fmt.Errorf("prev: %w", err)
		}
		copy(env.Links.Prev[:], prevBytes)
		env.Links.HasPrev = true
	}
	seal := capsule.Seal{Kid: doc.Kid, Scope: "capsule", Aud: doc.Aud, HasAud: doc.Aud != ""}
	copy(seal.Sig[:], sigBytes)

	c := &capsule.Capsule{Domain: doc.Domain, Hdr: hdr, Env: env, Seal: seal, Verdict: verdict}
	copy(c.ID[:], idBytes)
	return c, nil
}
