// Package sqlstore persists tickets behind database/sql, for deployments
// that need durability beyond pkg/permit.MemStore's process lifetime.
// Grounded on the teacher's pkg/store/receipt_store_sqlite.go (schema +
// migrate-on-open shape) and pkg/budget/postgres_store.go (upsert via
// ON CONFLICT, driven from the same *sql.DB across backends).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/permit"
)

// Dialect selects the SQL placeholder and upsert syntax, since the same
// Store runs over both modernc.org/sqlite and lib/pq.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Store implements permit.Store over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New builds a Store and runs its migration. ctx bounds only the
// migration statement.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS permit_tickets (
	ticket_id TEXT PRIMARY KEY,
	tenant TEXT NOT NULL,
	status TEXT NOT NULL,
	expires_at BIGINT NOT NULL,
	required_roles TEXT NOT NULL,
	k INTEGER NOT NULL,
	n INTEGER NOT NULL,
	approvals TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	closed_at BIGINT,
	resume_after_step INTEGER NOT NULL DEFAULT 0,
	manifest_name TEXT NOT NULL DEFAULT ''
)`)
	if err != nil {
		return errs.New(errs.Internal, "sqlstore: migrate failed: %v", err)
	}
	return nil
}

func (s *Store) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Create inserts a new ticket row.
func (s *Store) Create(t *permit.Ticket) error {
	roles, _ := json.Marshal(t.RequiredRoles)
	approvals, _ := json.Marshal(t.Approvals)
	query := fmt.Sprintf(`INSERT INTO permit_tickets
		(ticket_id, tenant, status, expires_at, required_roles, k, n, approvals, created_at, closed_at, resume_after_step, manifest_name)
		VALUES (%s)`, placeholders(s, 12))
	_, err := s.db.ExecContext(context.Background(), query,
		t.TicketID, t.Tenant, t.Status.String(), t.ExpiresAt, string(roles), t.K, t.N, string(approvals),
		t.CreatedAt, nullableInt64(t.ClosedAt, t.HasClosedAt), t.ResumeAfterStep, t.ManifestName)
	if err != nil {
		return errs.New(errs.Internal, "sqlstore: create ticket %s failed: %v", t.TicketID, err)
	}
	return nil
}

// Get loads a ticket by ID.
func (s *Store) Get(ticketID string) (*permit.Ticket, bool, error) {
	query := fmt.Sprintf(`SELECT ticket_id, tenant, status, expires_at, required_roles, k, n, approvals, created_at, closed_at, resume_after_step, manifest_name
		FROM permit_tickets WHERE ticket_id = %s`, s.placeholder(1))
	row := s.db.QueryRowContext(context.Background(), query, ticketID)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.Internal, "sqlstore: get ticket %s failed: %v", ticketID, err)
	}
	return t, true, nil
}

// Update rewrites the full ticket row.
func (s *Store) Update(t *permit.Ticket) error {
	roles, _ := json.Marshal(t.RequiredRoles)
	approvals, _ := json.Marshal(t.Approvals)
	query := fmt.Sprintf(`UPDATE permit_tickets SET
		tenant = %s, status = %s, expires_at = %s, required_roles = %s, k = %s, n = %s,
		approvals = %s, created_at = %s, closed_at = %s, resume_after_step = %s, manifest_name = %s
		WHERE ticket_id = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6),
		s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10), s.placeholder(11), s.placeholder(12))
	_, err := s.db.ExecContext(context.Background(), query,
		t.Tenant, t.Status.String(), t.ExpiresAt, string(roles), t.K, t.N, string(approvals),
		t.CreatedAt, nullableInt64(t.ClosedAt, t.HasClosedAt), t.ResumeAfterStep, t.ManifestName, t.TicketID)
	if err != nil {
		return errs.New(errs.Internal, "sqlstore: update ticket %s failed: %v", t.TicketID, err)
	}
	return nil
}

// ListPending returns every PENDING ticket for tenant (or all tenants if
// tenant is empty).
func (s *Store) ListPending(tenant string) ([]*permit.Ticket, error) {
	query := `SELECT ticket_id, tenant, status, expires_at, required_roles, k, n, approvals, created_at, closed_at, resume_after_step, manifest_name
		FROM permit_tickets WHERE status = 'PENDING'`
	args := []any{}
	if tenant != "" {
		query += fmt.Sprintf(" AND tenant = %s", s.placeholder(1))
		args = append(args, tenant)
	}
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, errs.New(errs.Internal, "sqlstore: list pending failed: %v", err)
	}
	defer rows.Close()

	var out []*permit.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errs.New(errs.Internal, "sqlstore: scan pending ticket failed: %v", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*permit.Ticket, error) {
	var (
		ticketID, tenant, status, rolesJSON, approvalsJSON, manifestName string
		expiresAt, createdAt                                             int64
		k, n, resumeAfterStep                                            int
		closedAt                                                         sql.NullInt64
	)
	if err := row.Scan(&ticketID, &tenant, &status, &expiresAt, &rolesJSON, &k, &n, &approvalsJSON, &createdAt, &closedAt, &resumeAfterStep, &manifestName); err != nil {
		return nil, err
	}
	var roles, approvals []string
	_ = json.Unmarshal([]byte(rolesJSON), &roles)
	_ = json.Unmarshal([]byte(approvalsJSON), &approvals)

	return &permit.Ticket{
		TicketID:        ticketID,
		Tenant:          tenant,
		Status:          statusFromString(status),
		ExpiresAt:       expiresAt,
		RequiredRoles:   roles,
		K:               k,
		N:               n,
		Approvals:       approvals,
		CreatedAt:       createdAt,
		ClosedAt:        closedAt.Int64,
		HasClosedAt:     closedAt.Valid,
		ResumeAfterStep: resumeAfterStep,
		ManifestName:    manifestName,
	}, nil
}

func statusFromString(s string) permit.Status {
	switch strings.ToUpper(s) {
	case "ALLOW":
		return permit.StatusAllow
	case "DENY":
		return permit.StatusDeny
	case "EXPIRED":
		return permit.StatusExpired
	default:
		return permit.StatusPending
	}
}

func nullableInt64(v int64, has bool) any {
	if !has {
		return nil
	}
	return v
}

func placeholders(s *Store, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = s.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

var _ permit.Store = (*Store)(nil)
