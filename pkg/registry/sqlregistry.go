package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/receipts"
)

// Dialect selects the SQL placeholder syntax, mirroring pkg/permit/sqlstore.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// SQLRegistry persists capsules behind database/sql, for deployments
// that need the registry to survive a process restart. Each capsule is
// one row: header and links as JSON text, the body as hex of its canonical
// bytes, evidence and seal fields in their own columns, and a JSON array
// of receipt rows, grounded on the teacher's pkg/registry/postgres_registry.go (a single
// *sql.DB driving a content-addressed catalog).
type SQLRegistry struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLRegistry builds a SQLRegistry and runs its migration.
func NewSQLRegistry(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLRegistry, error) {
	r := &SQLRegistry{db: db, dialect: dialect}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLRegistry) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS registry_capsules (
	capsule_id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	verdict INTEGER NOT NULL,
	header_hex TEXT NOT NULL,
	body_hex TEXT NOT NULL,
	links_hex TEXT NOT NULL,
	evidence_json TEXT NOT NULL,
	has_evidence INTEGER NOT NULL,
	seal_kid TEXT NOT NULL,
	seal_aud TEXT NOT NULL,
	has_aud INTEGER NOT NULL,
	seal_sig_hex TEXT NOT NULL,
	receipts_json TEXT NOT NULL
)`)
	if err != nil {
		return errs.New(errs.Internal, "registry: migrate failed: %v", err)
	}
	return nil
}

func (r *SQLRegistry) placeholder(n int) string {
	if r.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// headerDoc/receiptDoc carry the fields capsule.Header/receipts.Receipt
// need to round-trip through a text column, hex-encoding every fixed-size
// byte array.
type headerDoc struct {
	Src    string `json:"src"`
	Dst    string `json:"dst,omitempty"`
	Nonce  string `json:"nonce"`
	Ts     int64  `json:"ts"`
	Act    string `json:"act"`
	Scope  string `json:"scope,omitempty"`
	Exp    int64  `json:"exp,omitempty"`
	HasDst bool   `json:"has_dst,omitempty"`
	HasExp bool   `json:"has_exp,omitempty"`
}

type linksDoc struct {
	Prev    string `json:"prev,omitempty"`
	HasPrev bool   `json:"has_prev,omitempty"`
}

type receiptDoc struct {
	ID   string `json:"id"`
	Of   string `json:"of"`
	Prev string `json:"prev"`
	Kind string `json:"kind"`
	Node string `json:"node"`
	Ts   int64  `json:"ts"`
	Sig  string `json:"sig"`
}

func receiptToDoc(r *receipts.Receipt) receiptDoc {
	return receiptDoc{
		ID:   canon.EncodeHex(r.ID[:]),
		Of:   canon.EncodeHex(r.Of[:]),
		Prev: canon.EncodeHex(r.Prev[:]),
		Kind: r.Kind,
		Node: r.Node,
		Ts:   r.Ts,
		Sig:  canon.EncodeHex(r.Sig[:]),
	}
}

func receiptFromDoc(d receiptDoc) (*receipts.Receipt, error) {
	idBytes, err := canon.DecodeHex(d.ID)
	if err != nil {
		return nil, err
	}
	ofBytes, err := canon.DecodeHex(d.Of)
	if err != nil {
		return nil, err
	}
	prevBytes, err := canon.DecodeHex(d.Prev)
	if err != nil {
		return nil, err
	}
	sigBytes, err := canon.DecodeHex(d.Sig)
	if err != nil {
		return nil, err
	}
	rcpt := &receipts.Receipt{Kind: d.Kind, Node: d.Node, Ts: d.Ts}
	copy(rcpt.ID[:], idBytes)
	copy(rcpt.Of[:], ofBytes)
	copy(rcpt.Prev[:], prevBytes)
	copy(rcpt.Sig[:], sigBytes)
	return rcpt, nil
}

// Put inserts or replaces a capsule row, including its current receipt
// chain.
func (r *SQLRegistry) Put(c *capsule.Capsule) error {
	hdr := headerDoc{
		Src: c.Hdr.Src, Dst: c.Hdr.Dst, Nonce: canon.EncodeHex(c.Hdr.Nonce[:]),
		Ts: c.Hdr.Ts, Act: c.Hdr.Act, Scope: c.Hdr.Scope, Exp: c.Hdr.Exp,
		HasDst: c.Hdr.HasDst, HasExp: c.Hdr.HasExp,
	}
	hdrJSON, _ := json.Marshal(hdr)
	links := linksDoc{HasPrev: c.Env.Links.HasPrev}
	if links.HasPrev {
		links.Prev = canon.EncodeHex(c.Env.Links.Prev[:])
	}
	linksJSON, _ := json.Marshal(links)

	bodyJV, err := bodyToHex(c)
	if err != nil {
		return err
	}
	evidenceJSON, _ := json.Marshal(c.Env.Evidence)
	receiptDocs := make([]receiptDoc, len(c.Receipts))
	for i, rc := range c.Receipts {
		receiptDocs[i] = receiptToDoc(rc)
	}
	receiptsJSON, _ := json.Marshal(receiptDocs)

	query := fmt.Sprintf(`INSERT INTO registry_capsules
		(capsule_id, domain, verdict, header_hex, body_hex, links_hex, evidence_json, has_evidence, seal_kid, seal_aud, has_aud, seal_sig_hex, receipts_json)
		VALUES (%s)
		ON CONFLICT (capsule_id) DO UPDATE SET domain = excluded.domain, verdict = excluded.verdict,
		header_hex = excluded.header_hex, body_hex = excluded.body_hex, links_hex = excluded.links_hex,
		evidence_json = excluded.evidence_json, has_evidence = excluded.has_evidence,
		seal_kid = excluded.seal_kid, seal_aud = excluded.seal_aud, has_aud = excluded.has_aud,
		seal_sig_hex = excluded.seal_sig_hex, receipts_json = excluded.receipts_json`, placeholders(r, 13))
	_, err = r.db.ExecContext(context.Background(), query,
		canon.EncodeHex(c.ID[:]), c.Domain, int(c.Verdict), string(hdrJSON), bodyJV, string(linksJSON),
		string(evidenceJSON), boolToInt(c.Env.HasEvidence), c.Seal.Kid, c.Seal.Aud, boolToInt(c.Seal.HasAud),
		canon.EncodeHex(c.Seal.Sig[:]), string(receiptsJSON))
	if err != nil {
		return errs.New(errs.Internal, "registry: put capsule failed: %v", err)
	}
	return nil
}

// Get loads a capsule by ID.
func (r *SQLRegistry) Get(id [32]byte) (*capsule.Capsule, bool, error) {
	query := fmt.Sprintf(`SELECT domain, verdict, header_hex, body_hex, links_hex, evidence_json, has_evidence, seal_kid, seal_aud, has_aud, seal_sig_hex, receipts_json
		FROM registry_capsules WHERE capsule_id = %s`, r.placeholder(1))
	row := r.db.QueryRowContext(context.Background(), query, canon.EncodeHex(id[:]))
	c, err := scanCapsule(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.Internal, "registry: get capsule failed: %v", err)
	}
	c.ID = id
	return c, true, nil
}

// AppendReceipt loads the capsule, appends a receipt, and rewrites its row.
func (r *SQLRegistry) AppendReceipt(capsuleID [32]byte, rcpt *receipts.Receipt) error {
	c, ok, err := r.Get(capsuleID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.ConfigCapNotFound, "registry: no capsule %x to append a receipt to", capsuleID)
	}
	c.AppendReceipt(rcpt)

	receiptDocs := make([]receiptDoc, len(c.Receipts))
	for i, rc := range c.Receipts {
		receiptDocs[i] = receiptToDoc(rc)
	}
	receiptsJSON, _ := json.Marshal(receiptDocs)

	query := fmt.Sprintf(`UPDATE registry_capsules SET receipts_json = %s WHERE capsule_id = %s`,
		r.placeholder(1), r.placeholder(2))
	_, err = r.db.ExecContext(context.Background(), query, string(receiptsJSON), canon.EncodeHex(capsuleID[:]))
	if err != nil {
		return errs.New(errs.Internal, "registry: append receipt failed: %v", err)
	}
	return nil
}

// List returns every stored capsule. The query has no ORDER BY, so the
// rows come back in whatever order the database returns them, which is
// not necessarily insertion order.
func (r *SQLRegistry) List() ([]*capsule.Capsule, error) {
	query := `SELECT capsule_id, domain, verdict, header_hex, body_hex, links_hex, evidence_json, has_evidence, seal_kid, seal_aud, has_aud, seal_sig_hex, receipts_json
		FROM registry_capsules`
	rows, err := r.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, errs.New(errs.Internal, "registry: list failed: %v", err)
	}
	defer rows.Close()

	var out []*capsule.Capsule
	for rows.Next() {
		var idHex string
		var domain, hdrJSON, bodyHex, linksJSON, evidenceJSON, kid, aud, sigHex, receiptsJSON string
		var verdict, hasEvidence, hasAud int
		if err := rows.Scan(&idHex, &domain, &verdict, &hdrJSON, &bodyHex, &linksJSON, &evidenceJSON, &hasEvidence, &kid, &aud, &hasAud, &sigHex, &receiptsJSON); err != nil {
			return nil, errs.New(errs.Internal, "registry: scan failed: %v", err)
		}
		c, err := capsuleFromRow(domain, verdict, hdrJSON, bodyHex, linksJSON, evidenceJSON, hasEvidence, kid, aud, hasAud, sigHex, receiptsJSON)
		if err != nil {
			return nil, err
		}
		idBytes, err := canon.DecodeHex(idHex)
		if err != nil {
			return nil, err
		}
		copy(c.ID[:], idBytes)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCapsule(row interface{ Scan(dest ...any) error }) (*capsule.Capsule, error) {
	var domain, hdrJSON, bodyHex, linksJSON, evidenceJSON, kid, aud, sigHex, receiptsJSON string
	var verdict, hasEvidence, hasAud int
	if err := row.Scan(&domain, &verdict, &hdrJSON, &bodyHex, &linksJSON, &evidenceJSON, &hasEvidence, &kid, &aud, &hasAud, &sigHex, &receiptsJSON); err != nil {
		return nil, err
	}
	return capsuleFromRow(domain, verdict, hdrJSON, bodyHex, linksJSON, evidenceJSON, hasEvidence, kid, aud, hasAud, sigHex, receiptsJSON)
}

func capsuleFromRow(domain string, verdict int, hdrJSON, bodyHex, linksJSON, evidenceJSON string, hasEvidence int, kid, aud string, hasAud int, sigHex, receiptsJSON string) (*capsule.Capsule, error) {
	var hdr headerDoc
	if err := json.Unmarshal([]byte(hdrJSON), &hdr); err != nil {
		return nil, err
	}
	var links linksDoc
	if err := json.Unmarshal([]byte(linksJSON), &links); err != nil {
		return nil, err
	}
	var evidence []string
	_ = json.Unmarshal([]byte(evidenceJSON), &evidence)

	bodyBytes, err := canon.DecodeHex(bodyHex)
	if err != nil {
		return nil, err
	}
	body, err := canon.Decode(bodyBytes, nil)
	if err != nil {
		return nil, err
	}

	nonceBytes, err := canon.DecodeHex(hdr.Nonce)
	if err != nil {
		return nil, err
	}
	var nonce [16]byte
	copy(nonce[:], nonceBytes)

	env := capsule.Envelope{Body: body, Evidence: evidence, HasEvidence: hasEvidence != 0}
	if links.HasPrev {
		prevBytes, err := canon.DecodeHex(links.Prev)
		if err != nil {
			return nil, err
		}
		copy(env.Links.Prev[:], prevBytes)
		env.Links.HasPrev = true
	}

	sigBytes, err := canon.DecodeHex(sigHex)
	if err != nil {
		return nil, err
	}
	seal := capsule.Seal{Kid: kid, Aud: aud, HasAud: hasAud != 0, Scope: "capsule"}
	copy(seal.Sig[:], sigBytes)

	var receiptDocs []receiptDoc
	_ = json.Unmarshal([]byte(receiptsJSON), &receiptDocs)
	rcpts := make([]*receipts.Receipt, 0, len(receiptDocs))
	for _, rd := range receiptDocs {
		rc, err := receiptFromDoc(rd)
		if err != nil {
			return nil, err
		}
		rcpts = append(rcpts, rc)
	}

	return &capsule.Capsule{
		Domain: domain,
		Hdr: capsule.Header{
			Src: hdr.Src, Dst: hdr.Dst, Nonce: nonce, Ts: hdr.Ts, Act: hdr.Act,
			Scope: hdr.Scope, Exp: hdr.Exp, HasDst: hdr.HasDst, HasExp: hdr.HasExp,
		},
		Env:      env,
		Seal:     seal,
		Receipts: rcpts,
		Verdict:  capsule.Verdict(verdict),
	}, nil
}

func bodyToHex(c *capsule.Capsule) (string, error) {
	return canon.EncodeHex(canon.Encode(c.Env.Body)), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Registry = (*SQLRegistry)(nil)
