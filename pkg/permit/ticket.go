// Package permit implements the K-of-N consent tickets and the
// signed Execution Permit token of spec §4.9/§4.9.1: durable approval
// records that gate a pipeline REQUIRE verdict, and a narrower
// signed, time-bounded authorization an executor checks before acting.
//
// Grounded on the teacher's pkg/api/approve_handler.go for the
// pending-queue/status-transition shape, generalized from a single
// Ed25519-signed approval to K-of-N role-gated quorum.
package permit

import (
	"github.com/nrf1proto/capsule/pkg/errs"
)

// Status is the closed set of ticket states.
type Status int

const (
	StatusPending Status = iota
	StatusAllow
	StatusDeny
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusAllow:
		return "ALLOW"
	case StatusDeny:
		return "DENY"
	case StatusExpired:
		return "EXPIRED"
	default:
		return ""
	}
}

// Ticket is a durable K-of-N consent record.
type Ticket struct {
	TicketID      string
	Tenant        string
	Status        Status
	ExpiresAt     int64
	RequiredRoles []string
	K             int
	N             int
	Approvals     []string // roles that have approved, in approval order
	CreatedAt     int64
	ClosedAt      int64
	HasClosedAt   bool

	// ResumeAfterStep and the frozen pipeline state let the resume
	// watcher re-drive a pipeline once this ticket closes ALLOW.
	ResumeAfterStep int
	ManifestName    string
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func (t *Ticket) close(status Status, now int64) {
	t.Status = status
	t.ClosedAt = now
	t.HasClosedAt = true
}

// Approve records an approval from role at time now. It mutates t in
// place and returns an error if the approval is rejected.
func (t *Ticket) Approve(role string, now int64) error {
	if t.Status != StatusPending {
		return errs.New(errs.PermitRejected, "ticket %s already closed (%s)", t.TicketID, t.Status)
	}
	if now > t.ExpiresAt {
		t.close(StatusExpired, now)
		return errs.New(errs.PermitExpired, "ticket %s expired at %d (now %d)", t.TicketID, t.ExpiresAt, now)
	}
	if !hasRole(t.RequiredRoles, role) {
		return errs.New(errs.PermitInvalidRole, "role %q is not among the required roles for ticket %s", role, t.TicketID)
	}
	if hasRole(t.Approvals, role) {
		return errs.New(errs.PermitRejected, "role %q has already approved ticket %s", role, t.TicketID)
	}
	t.Approvals = append(t.Approvals, role)
	if len(t.Approvals) >= t.K {
		t.close(StatusAllow, now)
	}
	return nil
}

// Deny closes the ticket as DENY if role is valid and the ticket is
// still pending.
func (t *Ticket) Deny(role string, now int64) error {
	if t.Status != StatusPending {
		return errs.New(errs.PermitRejected, "ticket %s already closed (%s)", t.TicketID, t.Status)
	}
	if now > t.ExpiresAt {
		t.close(StatusExpired, now)
		return errs.New(errs.PermitExpired, "ticket %s expired at %d (now %d)", t.TicketID, t.ExpiresAt, now)
	}
	if !hasRole(t.RequiredRoles, role) {
		return errs.New(errs.PermitInvalidRole, "role %q is not among the required roles for ticket %s", role, t.TicketID)
	}
	t.close(StatusDeny, now)
	return nil
}

// ExpireIfStale closes t as EXPIRED if it is still PENDING and past
// its expiry at now. Returns true if it closed the ticket.
func (t *Ticket) ExpireIfStale(now int64) bool {
	if t.Status == StatusPending && now > t.ExpiresAt {
		t.close(StatusExpired, now)
		return true
	}
	return false
}

// Cancel force-closes a still-pending ticket as DENY, bypassing the
// role check Deny applies. Used when a caller outside the quorum
// (e.g. a pipeline-level cancellation) needs to withdraw a ticket.
func (t *Ticket) Cancel(now int64) error {
	if t.Status != StatusPending {
		return errs.New(errs.PermitRejected, "ticket %s already closed (%s)", t.TicketID, t.Status)
	}
	t.close(StatusDeny, now)
	return nil
}
